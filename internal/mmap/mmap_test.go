// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestHandle(t *testing.T) {
	t.Run("nil-handle", func(t *testing.T) {
		var h *Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.Uint32s(nil, 0)
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid uint32s error: %+v", err)
		}

		err = h.Close()
		if !errors.Is(err, os.ErrInvalid) {
			t.Fatalf("invalid close error: %+v", err)
		}
	})
	t.Run("nil-data", func(t *testing.T) {
		var h Handle

		_, err := h.ReadAt(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid read-at error: %+v", err)
		}

		_, err = h.Uint32s(nil, 0)
		if !errors.Is(err, errClosed) {
			t.Fatalf("invalid uint32s error: %+v", err)
		}

		err = h.Close()
		if err != nil {
			t.Fatalf("error closing nil-data handle: %+v", err)
		}
	})
}

func TestOpen(t *testing.T) {
	tmp, err := os.MkdirTemp("", "odmr-mmap-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	fname := filepath.Join(tmp, "data.raw")
	err = os.WriteFile(fname, []byte{
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x10,
		0xff, 0xff, 0xff, 0xff,
		0xaa, // trailing partial word
	}, 0644)
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}

	h, err := Open(fname)
	if err != nil {
		t.Fatalf("could not map file: %+v", err)
	}
	defer h.Close()

	if got, want := h.Len(), 13; got != want {
		t.Fatalf("invalid len: got=%d, want=%d", got, want)
	}
	if got, want := h.At(4), byte(2); got != want {
		t.Fatalf("invalid value: got=%d, want=%d", got, want)
	}
	if got, want := h.NumUint32s(), 3; got != want {
		t.Fatalf("invalid number of words: got=%d, want=%d", got, want)
	}

	dst := make([]uint32, 2)
	n, err := h.Uint32s(dst, 0)
	if err != nil {
		t.Fatalf("could not decode words: %+v", err)
	}
	if got, want := dst[:n], []uint32{0x1, 0x10000002}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid words: got=%#x, want=%#x", got, want)
	}

	n, err = h.Uint32s(dst, 2)
	if err != nil {
		t.Fatalf("could not decode words: %+v", err)
	}
	if got, want := dst[:n], []uint32{0xffffffff}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid words: got=%#x, want=%#x", got, want)
	}

	_, err = h.Uint32s(dst, 3)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error: got=%v, want=%v", err, io.EOF)
	}

	_, err = h.Uint32s(dst, 4)
	if err == nil {
		t.Fatalf("expected an error for an out of range index")
	}

	_, err = h.ReadAt(nil, -1)
	if got, want := err.Error(), "mmap: invalid ReadAt offset -1"; got != want {
		t.Fatalf("invalid error: %+v", err)
	}

	p := make([]byte, 4)
	n, err = h.ReadAt(p, 11)
	if !errors.Is(err, io.EOF) || n != 2 {
		t.Fatalf("invalid short read: n=%d, err=%v", n, err)
	}

	err = h.Close()
	if err != nil {
		t.Fatalf("could not close handle: %+v", err)
	}
	err = h.Close()
	if err != nil {
		t.Fatalf("could not close handle twice: %+v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	tmp, err := os.MkdirTemp("", "odmr-mmap-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	_, err = Open(filepath.Join(tmp, "not-there.raw"))
	if err == nil {
		t.Fatalf("expected an error opening a missing file")
	}

	empty := filepath.Join(tmp, "empty.raw")
	err = os.WriteFile(empty, nil, 0644)
	if err != nil {
		t.Fatalf("could not create file: %+v", err)
	}
	_, err = Open(empty)
	if err == nil {
		t.Fatalf("expected an error opening an empty file")
	}
}
