// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fakedev

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/go-lpc/odmr/pulse"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sequencer is a simulated pulse sequencer.
type Sequencer struct {
	mu      sync.Mutex
	kind    string
	v       float64
	loaded  bool
	streams int
}

func (seq *Sequencer) SetPulseProgram(ctx context.Context, kind string, v float64) error {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	seq.kind = kind
	seq.v = v
	seq.loaded = true
	return nil
}

func (seq *Sequencer) StartStream(ctx context.Context, n int) error {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if !seq.loaded {
		return fmt.Errorf("fakedev: no pulse program loaded")
	}
	if n <= 0 {
		return fmt.Errorf("fakedev: invalid number of repetitions %d", n)
	}
	seq.streams++
	return nil
}

// Program returns the loaded pulse program.
func (seq *Sequencer) Program() (kind string, v float64) {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.kind, seq.v
}

// Streams returns the number of streams started.
func (seq *Sequencer) Streams() int {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.streams
}

// Scope is a simulated oscilloscope recording the photoluminescence
// pulse produced by the program loaded in a Sequencer.
//
// The pulse has Gaussian edges. Its leading part, of duration Signal,
// is dimmed by a contrast depending on the program kind and variable.
// The remainder of the pulse is the undimmed reference level.
// Scopes not created with NewScope are noiseless.
type Scope struct {
	Seq *Sequencer

	Samples  int     // number of samples per trace
	Dt       float64 // sample interval, in s
	Width    float64 // pulse duration, in s
	Rise     float64 // edge width, in s
	Signal   float64 // duration of the dimmed leading part, in s
	Contrast float64 // maximal relative dimming
	Period   float64 // characteristic time of the program kind, in s
	Noise    float64 // standard deviation of the additive noise

	mu  sync.Mutex
	rnd distuv.Normal
}

// NewScope returns a scope with 1000 samples per trace over 200us and a
// 100us pulse, driven by seq.
func NewScope(seq *Sequencer, seed uint64) *Scope {
	sc := &Scope{
		Seq:      seq,
		Samples:  1000,
		Dt:       200e-9,
		Width:    100e-6,
		Rise:     1e-6,
		Signal:   10e-6,
		Contrast: 0.3,
		Period:   20e-6,
		Noise:    0.005,
	}
	sc.rnd = distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)}
	return sc
}

// Dimming returns the relative dimming of the signal window for the
// program kind and variable v.
func (sc *Scope) Dimming(kind string, v float64) float64 {
	switch kind {
	case pulse.KindT1:
		return sc.Contrast * math.Exp(-v/sc.Period)
	case "Rabi":
		s := math.Sin(0.5 * math.Pi * v / sc.Period)
		return sc.Contrast * s * s
	default:
		c := math.Cos(math.Pi * v / sc.Period)
		return sc.Contrast * c * c
	}
}

func (sc *Scope) Trace(ctx context.Context, channel int) (pulse.Trace, error) {
	if err := ctx.Err(); err != nil {
		return pulse.Trace{}, err
	}
	if sc.Samples < 5 || !(sc.Dt > 0) {
		return pulse.Trace{}, fmt.Errorf("fakedev: invalid scope settings (samples=%d, dt=%g)", sc.Samples, sc.Dt)
	}
	kind, v := sc.Seq.Program()
	var (
		n    = sc.Samples
		tr   = pulse.Trace{Time: make([]float64, n), Amplitude: make([]float64, n)}
		beg  = 0.5 * (float64(n)*sc.Dt - sc.Width)
		end  = beg + sc.Width
		dim  = sc.Dimming(kind, v)
		edge = distuv.Normal{Mu: 0, Sigma: sc.Rise}
	)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	for i := range tr.Time {
		t := float64(i) * sc.Dt
		amp := edge.CDF(t-beg) - edge.CDF(t-end)
		if t >= beg && t < beg+sc.Signal {
			amp *= 1 - dim
		}
		tr.Time[i] = t
		tr.Amplitude[i] = amp + sc.Noise*sc.rnd.Rand()
	}
	return tr, nil
}

// Microwave is a simulated microwave source.
type Microwave struct {
	mu    sync.Mutex
	freq  float64
	power float64
	on    bool
}

func (mw *Microwave) SetFrequency(ctx context.Context, hz float64) error {
	if !(hz > 0) {
		return fmt.Errorf("fakedev: invalid microwave frequency %g Hz", hz)
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.freq = hz
	return nil
}

func (mw *Microwave) SetPower(ctx context.Context, dbm float64) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.power = dbm
	return nil
}

func (mw *Microwave) On(ctx context.Context) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.on = true
	return nil
}

// Off switches the source off. Switching off an idle source is not an
// error.
func (mw *Microwave) Off(ctx context.Context) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.on = false
	return nil
}

// State returns the settings of the source and whether it is emitting.
func (mw *Microwave) State() (freq, power float64, on bool) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.freq, mw.power, mw.on
}

var (
	_ pulse.Sequencer       = (*Sequencer)(nil)
	_ pulse.Scope           = (*Scope)(nil)
	_ pulse.MicrowaveSource = (*Microwave)(nil)
)
