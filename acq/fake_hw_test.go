// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-lpc/odmr/tttr"
)

// fakeHW is a scripted hardware channel.
// Each started sweep serves the buffers returned by sweep(i), one per
// ReadEvents call, after which the channel goes idle.
type fakeHW struct {
	name string

	mu      sync.Mutex
	lay     tttr.Layout
	starts  int
	stops   int
	running bool
	bufs    [][]uint32

	sweep func(i int) [][]uint32

	errConfigure error
	errStart     error
	faultAt      int  // sweep index at which the status reports a fault (-1: never)
	hangAt       int  // sweep index at which reads block until the deadline (-1: never)
	stallAt      int  // sweep index at which the channel stays busy with no data (-1: never)
	delay        time.Duration
	reads        chan struct{} // notified on each ReadEvents call, if not nil
	stopping     chan struct{} // notified on each StopSweep call, if not nil
	stopGate     chan struct{} // StopSweep blocks until closed, if not nil
}

func newFakeHW(name string, sweep func(i int) [][]uint32) *fakeHW {
	return &fakeHW{
		name:    name,
		sweep:   sweep,
		faultAt: -1,
		hangAt:  -1,
		stallAt: -1,
	}
}

func (hw *fakeHW) Name() string { return hw.name }

func (hw *fakeHW) Configure(ctx context.Context, lay tttr.Layout) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if hw.errConfigure != nil {
		return hw.errConfigure
	}
	hw.lay = lay
	return nil
}

func (hw *fakeHW) StartSweep(ctx context.Context, d time.Duration) error {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	if hw.errStart != nil {
		return hw.errStart
	}
	hw.bufs = hw.sweep(hw.starts)
	hw.starts++
	hw.running = true
	return nil
}

func (hw *fakeHW) ReadEvents(ctx context.Context, dst []uint32) (int, error) {
	if hw.reads != nil {
		select {
		case hw.reads <- struct{}{}:
		default:
		}
	}

	hw.mu.Lock()
	hang := hw.starts-1 == hw.hangAt
	delay := hw.delay
	hw.mu.Unlock()

	if hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	hw.mu.Lock()
	defer hw.mu.Unlock()
	if len(hw.bufs) == 0 {
		if hw.starts-1 != hw.stallAt {
			hw.running = false
		}
		return 0, nil
	}
	buf := hw.bufs[0]
	if len(buf) > len(dst) {
		return 0, fmt.Errorf("fake: buffer too small (%d > %d)", len(buf), len(dst))
	}
	hw.bufs = hw.bufs[1:]
	return copy(dst, buf), nil
}

func (hw *fakeHW) StopSweep(ctx context.Context) error {
	if hw.stopping != nil {
		select {
		case hw.stopping <- struct{}{}:
		default:
		}
	}
	if hw.stopGate != nil {
		<-hw.stopGate
	}

	hw.mu.Lock()
	defer hw.mu.Unlock()
	hw.stops++
	hw.running = false
	hw.bufs = nil
	return nil
}

func (hw *fakeHW) Status(ctx context.Context) (Status, error) {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	switch {
	case hw.starts-1 == hw.faultAt:
		return Fault, nil
	case hw.running:
		return Busy, nil
	default:
		return Idle, nil
	}
}

func (hw *fakeHW) numStops() int {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.stops
}

func (hw *fakeHW) numStarts() int {
	hw.mu.Lock()
	defer hw.mu.Unlock()
	return hw.starts
}

// t2Sweep returns a complete T2 sweep: sync open at tag 0, one photon
// per provided tag and a closing sync at the closing tag.
func t2Sweep(close uint32, tags ...uint32) []uint32 {
	recs := []uint32{uint32(tttr.NewT2(tttr.ChanSync, 0))}
	for _, tag := range tags {
		recs = append(recs, uint32(tttr.NewT2(tttr.ChanSignal, tag)))
	}
	recs = append(recs, uint32(tttr.NewT2(tttr.ChanSync, close)))
	return recs
}

var _ Hardware = (*fakeHW)(nil)
