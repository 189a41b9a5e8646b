// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tttr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const recSize = 4

// Reader reads raw records from a FIFO dump: a header-less sequence of
// little-endian 32-bit words.
type Reader struct {
	r   io.Reader
	buf []byte
	err error
}

// NewReader returns a reader of raw records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, 4096*recSize),
	}
}

// Read reads up to len(dst) records into dst.
// Read returns io.EOF once the underlying stream is exhausted, and
// io.ErrUnexpectedEOF if the stream ends within a record.
func (rr *Reader) Read(dst []uint32) (int, error) {
	if rr.err != nil {
		return 0, rr.err
	}

	n := 0
	for n < len(dst) {
		want := len(dst) - n
		if max := len(rr.buf) / recSize; want > max {
			want = max
		}
		nb, err := io.ReadFull(rr.r, rr.buf[:want*recSize])
		nr := nb / recSize
		for i := 0; i < nr; i++ {
			dst[n+i] = binary.LittleEndian.Uint32(rr.buf[i*recSize:])
		}
		n += nr
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.ErrUnexpectedEOF) && nb%recSize == 0:
			rr.err = io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			rr.err = fmt.Errorf("tttr: truncated record: %w", io.ErrUnexpectedEOF)
		default:
			rr.err = err
		}
		break
	}

	if n > 0 && errors.Is(rr.err, io.EOF) {
		return n, nil
	}
	if n == 0 && rr.err != nil {
		return 0, rr.err
	}
	return n, nil
}

// ReadAll reads all the remaining records.
func (rr *Reader) ReadAll() ([]uint32, error) {
	var (
		out []uint32
		buf = make([]uint32, 4096)
	)
	for {
		n, err := rr.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
}

// Writer writes raw records in the FIFO dump format.
type Writer struct {
	w   io.Writer
	buf []byte
	err error
}

// NewWriter returns a writer of raw records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write writes all records in recs.
func (ww *Writer) Write(recs []uint32) error {
	if ww.err != nil {
		return ww.err
	}
	if n := len(recs) * recSize; cap(ww.buf) < n {
		ww.buf = make([]byte, n)
	}
	buf := ww.buf[:len(recs)*recSize]
	for i, v := range recs {
		binary.LittleEndian.PutUint32(buf[i*recSize:], v)
	}
	_, ww.err = ww.w.Write(buf)
	if ww.err != nil {
		ww.err = fmt.Errorf("tttr: could not write records: %w", ww.err)
	}
	return ww.err
}
