// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides read-only memory mapping of raw record dumps.
package mmap // import "github.com/go-lpc/odmr/internal/mmap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

type Handle struct {
	data []byte
}

// Open maps the named file read-only.
func Open(fname string) (*Handle, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mmap: could not stat %q: %w", fname, err)
	}

	size := fi.Size()
	switch {
	case size == 0:
		return nil, fmt.Errorf("mmap: empty file %q", fname)
	case size < 0 || size != int64(int(size)):
		return nil, fmt.Errorf("mmap: invalid size %d for %q", size, fname)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q: %w", fname, err)
	}

	h := &Handle{data: data}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the underlying memory-mapped file.
func (h *Handle) Len() int {
	return len(h.data)
}

// At returns the byte at index i.
func (h *Handle) At(i int) byte {
	return h.data[i]
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// NumUint32s returns the number of complete little-endian 32-bit words
// held by the mapping.
func (h *Handle) NumUint32s() int {
	return len(h.data) / 4
}

// Uint32s decodes little-endian 32-bit words starting at word index i
// into dst. It returns the number of decoded words.
func (h *Handle) Uint32s(dst []uint32, i int) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}
	if h.data == nil {
		return 0, errClosed
	}
	nw := h.NumUint32s()
	if i < 0 || i > nw {
		return 0, fmt.Errorf("mmap: invalid word index %d", i)
	}
	if i == nw {
		return 0, io.EOF
	}

	n := len(dst)
	if rem := nw - i; n > rem {
		n = rem
	}
	buf := h.data[4*i:]
	for j := 0; j < n; j++ {
		dst[j] = binary.LittleEndian.Uint32(buf[4*j:])
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
