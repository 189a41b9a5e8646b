// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedev provides simulated instruments: TTTR hardware channels,
// pulse sequencer, oscilloscope and microwave source.
package fakedev // import "github.com/go-lpc/odmr/internal/fakedev"

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-lpc/odmr/acq"
	"github.com/go-lpc/odmr/tttr"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sim describes the sweeps generated by a simulated channel.
type Sim struct {
	RecordLength int64   // sweep duration, in ps
	Offset       int64   // time of the opening sync marker, in ps
	Photons      int     // number of photons drawn per sweep
	Lifetime     float64 // photon decay constant, in ps
	Marker       bool    // emit an external marker in the middle of each sweep
	FaultAt      int     // sweep index at which the channel reports a fault (-1: never)
	Seed         uint64
}

// Channel is a simulated TTTR hardware channel.
//
// Each sweep holds an opening sync marker, photons with exponentially
// distributed arrival times, the overflow records implied by the record
// layout and a closing sync marker after the record length.
type Channel struct {
	name string
	sim  Sim
	msg  *log.Logger

	mu      sync.Mutex
	rnd     distuv.Exponential
	lay     tttr.Layout
	cfg     bool
	sweeps  int
	pending []uint32
	running bool
	fault   bool
}

// NewChannel creates a simulated channel.
func NewChannel(name string, sim Sim, msg *log.Logger) *Channel {
	if msg == nil {
		msg = log.New(os.Stdout, "fakedev: ", 0)
	}
	if sim.Lifetime <= 0 {
		sim.Lifetime = float64(sim.RecordLength) / 10
	}
	return &Channel{
		name: name,
		sim:  sim,
		msg:  msg,
		rnd: distuv.Exponential{
			Rate: 1 / sim.Lifetime,
			Src:  rand.NewSource(sim.Seed),
		},
	}
}

func (ch *Channel) Name() string { return ch.name }

// Sweeps returns the number of sweeps started on the channel.
func (ch *Channel) Sweeps() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.sweeps
}

func (ch *Channel) Configure(ctx context.Context, lay tttr.Layout) error {
	err := lay.Validate()
	if err != nil {
		return fmt.Errorf("fakedev: could not configure channel %q: %w", ch.name, err)
	}
	if lay.Mode == tttr.T3 && lay.SyncPeriod/lay.Resolution > 0xfff {
		return fmt.Errorf("fakedev: sync period %d ps does not fit in dtime field (res=%d ps)",
			lay.SyncPeriod, lay.Resolution,
		)
	}
	if ch.sim.RecordLength <= 0 {
		return fmt.Errorf("fakedev: invalid record length %d", ch.sim.RecordLength)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.lay = lay
	ch.cfg = true
	return nil
}

func (ch *Channel) StartSweep(ctx context.Context, d time.Duration) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.cfg {
		return fmt.Errorf("fakedev: channel %q not configured", ch.name)
	}

	idx := ch.sweeps
	ch.sweeps++
	ch.pending = Encode(ch.lay, ch.hits())
	ch.running = true
	if idx == ch.sim.FaultAt {
		ch.msg.Printf("channel %q: sweep %d: injecting device fault", ch.name, idx)
		ch.fault = true
	}
	return nil
}

func (ch *Channel) hits() []Hit {
	var (
		beg  = ch.sim.Offset
		end  = beg + ch.sim.RecordLength
		hits = make([]Hit, 0, ch.sim.Photons+3)
	)
	hits = append(hits, Hit{Channel: tttr.ChanSync, Time: beg})
	for i := 0; i < ch.sim.Photons; i++ {
		t := beg + int64(ch.rnd.Rand())
		if t >= end {
			continue
		}
		hits = append(hits, Hit{Channel: tttr.ChanSignal, Time: t})
	}
	if ch.sim.Marker {
		hits = append(hits, Hit{Channel: tttr.ChanSpecial, Time: beg + ch.sim.RecordLength/2, Markers: 0x1})
	}
	hits = append(hits, Hit{Channel: tttr.ChanSync, Time: end})

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Time < hits[j].Time
	})
	return hits
}

func (ch *Channel) ReadEvents(ctx context.Context, dst []uint32) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	n := copy(dst, ch.pending)
	ch.pending = ch.pending[n:]
	if len(ch.pending) == 0 {
		ch.running = false
	}
	return n, nil
}

func (ch *Channel) StopSweep(ctx context.Context) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.pending = nil
	ch.running = false
	return nil
}

func (ch *Channel) Status(ctx context.Context) (acq.Status, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	switch {
	case ch.fault:
		return acq.Fault, nil
	case ch.running:
		return acq.Busy, nil
	default:
		return acq.Idle, nil
	}
}

// Hit is a detector hit to be encoded into records.
type Hit struct {
	Channel uint8
	Time    int64 // uncorrected time since the start of the sweep, in ps
	Markers uint8 // external marker bits (special channel only)
}

// Encode encodes time-ordered hits into records of the provided layout,
// inserting overflow records whenever the time-tag counter wraps around.
func Encode(lay tttr.Layout, hits []Hit) []uint32 {
	var (
		recs  = make([]uint32, 0, len(hits))
		wraps int64
	)
	for _, hit := range hits {
		var (
			rec  tttr.Record
			wrap int64
		)
		switch lay.Mode {
		case tttr.T3:
			nsync := hit.Time / lay.SyncPeriod
			dtime := (hit.Time % lay.SyncPeriod) / lay.Resolution
			if dtime > 0xfff {
				dtime = 0xfff
			}
			wrap = nsync / tttr.WrapT3
			n16 := uint16(nsync % tttr.WrapT3)
			switch hit.Channel {
			case tttr.ChanSpecial:
				rec = tttr.NewT3(hit.Channel, uint16(hit.Markers&0xf), n16)
			default:
				rec = tttr.NewT3(hit.Channel, uint16(dtime), n16)
			}
		default:
			tick := hit.Time / lay.Resolution
			wrap = tick / tttr.WrapT2
			tag := uint32(tick % tttr.WrapT2)
			if hit.Channel == tttr.ChanSpecial {
				tag = tag&^0xf | uint32(hit.Markers&0xf)
			}
			rec = tttr.NewT2(hit.Channel, tag)
		}

		for ; wraps < wrap; wraps++ {
			recs = append(recs, uint32(overflow(lay)))
		}
		recs = append(recs, uint32(rec))
	}
	return recs
}

func overflow(lay tttr.Layout) tttr.Record {
	switch lay.Mode {
	case tttr.T3:
		return tttr.NewT3(tttr.ChanSpecial, 0, 0)
	default:
		return tttr.NewT2(tttr.ChanSpecial, 0)
	}
}

var _ acq.Hardware = (*Channel)(nil)
