// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fakedev

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-lpc/odmr/acq"
	"github.com/go-lpc/odmr/internal/mmap"
	"github.com/go-lpc/odmr/tttr"
)

// Replay is a hardware channel replaying the sweeps of a raw record dump.
//
// The dump is split into sweeps after each closing sync marker. Sweeps
// are served in order, cycling back to the first one once the dump is
// exhausted.
type Replay struct {
	name string
	h    *mmap.Handle

	mu      sync.Mutex
	segs    [][2]int // [beg, end) word indices of each sweep
	seg     int      // next sweep to serve
	pos     int      // read position in the current sweep
	end     int      // end of the current sweep
	running bool
}

// NewReplay maps the named raw dump file.
func NewReplay(name, fname string) (*Replay, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("fakedev: could not open replay file: %w", err)
	}

	segs, err := segments(h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("fakedev: could not index replay file %q: %w", fname, err)
	}

	return &Replay{
		name: name,
		h:    h,
		segs: segs,
	}, nil
}

// segments splits the dump after each closing sync marker.
// Trailing records past the last closing sync marker are dropped.
// A dump without any complete sweep is served as a single sweep.
func segments(h *mmap.Handle) ([][2]int, error) {
	var (
		segs [][2]int
		beg  int
		open bool
		n    = h.NumUint32s()
		buf  = make([]uint32, 4096)
	)
	for i := 0; i < n; {
		m, err := h.Uint32s(buf, i)
		if err != nil {
			return nil, err
		}
		for j, v := range buf[:m] {
			if tttr.Record(v).Channel() != tttr.ChanSync {
				continue
			}
			open = !open
			if !open {
				end := i + j + 1
				segs = append(segs, [2]int{beg, end})
				beg = end
			}
		}
		i += m
	}
	if len(segs) == 0 {
		segs = append(segs, [2]int{0, n})
	}
	return segs, nil
}

func (rp *Replay) Name() string { return rp.name }

// Close unmaps the dump file.
func (rp *Replay) Close() error {
	return rp.h.Close()
}

// Sweeps returns the number of sweeps found in the dump.
func (rp *Replay) Sweeps() int {
	return len(rp.segs)
}

func (rp *Replay) Configure(ctx context.Context, lay tttr.Layout) error {
	err := lay.Validate()
	if err != nil {
		return fmt.Errorf("fakedev: could not configure replay %q: %w", rp.name, err)
	}
	return nil
}

func (rp *Replay) StartSweep(ctx context.Context, d time.Duration) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	seg := rp.segs[rp.seg]
	rp.seg = (rp.seg + 1) % len(rp.segs)
	rp.pos = seg[0]
	rp.end = seg[1]
	rp.running = true
	return nil
}

func (rp *Replay) ReadEvents(ctx context.Context, dst []uint32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	if !rp.running {
		return 0, nil
	}

	if rem := rp.end - rp.pos; len(dst) > rem {
		dst = dst[:rem]
	}
	n := 0
	if len(dst) > 0 {
		var err error
		n, err = rp.h.Uint32s(dst, rp.pos)
		if err != nil {
			return 0, fmt.Errorf("fakedev: could not read replay records: %w", err)
		}
	}
	rp.pos += n
	if rp.pos >= rp.end {
		rp.running = false
	}
	return n, nil
}

func (rp *Replay) StopSweep(ctx context.Context) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.running = false
	return nil
}

func (rp *Replay) Status(ctx context.Context) (acq.Status, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.running {
		return acq.Busy, nil
	}
	return acq.Idle, nil
}

var _ acq.Hardware = (*Replay)(nil)
