// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Sequencer programs and triggers pulse sequences.
type Sequencer interface {
	// SetPulseProgram loads the pulse program of the given kind,
	// parametrized by the scan variable v.
	SetPulseProgram(ctx context.Context, kind string, v float64) error

	// StartStream plays the loaded program n times.
	StartStream(ctx context.Context, n int) error
}

// Scope acquires pulse traces.
type Scope interface {
	Trace(ctx context.Context, channel int) (Trace, error)
}

// MicrowaveSource drives the microwave excitation.
type MicrowaveSource interface {
	SetFrequency(ctx context.Context, hz float64) error
	SetPower(ctx context.Context, dbm float64) error
	On(ctx context.Context) error
	Off(ctx context.Context) error
}

// KindT1 is the relaxation measurement, run without microwave excitation.
const KindT1 = "T1"

// Scan describes a pulsed measurement scan.
type Scan struct {
	Kind    string  `yaml:"kind"`    // pulse program kind (T1, Rabi, Ramsey, ...)
	Start   float64 `yaml:"start"`   // first value of the scan variable
	Stop    float64 `yaml:"stop"`    // last value of the scan variable
	Points  int     `yaml:"points"`  // number of scan points
	Log     bool    `yaml:"log"`     // logarithmic spacing of the scan points
	Repeats int     `yaml:"repeats"` // number of sequence repetitions per point
	Channel int     `yaml:"channel"` // scope channel

	Frequency float64 `yaml:"frequency"` // microwave frequency, in Hz
	Power     float64 `yaml:"power"`     // microwave power, in dBm

	Params Params `yaml:"params"`
}

// Validate checks the scan parameters.
func (sc Scan) Validate() error {
	switch {
	case sc.Kind == "":
		return fmt.Errorf("pulse: missing scan kind")
	case sc.Points <= 0:
		return fmt.Errorf("pulse: invalid number of points %d", sc.Points)
	case sc.Repeats <= 0:
		return fmt.Errorf("pulse: invalid number of repeats %d", sc.Repeats)
	case sc.Log && (sc.Start <= 0 || sc.Stop <= 0):
		return fmt.Errorf("pulse: invalid logarithmic range [%g, %g]", sc.Start, sc.Stop)
	case sc.Params.Signal < 0 || sc.Params.Reference < 0:
		return fmt.Errorf("pulse: invalid window durations (signal=%g, reference=%g)",
			sc.Params.Signal, sc.Params.Reference,
		)
	}
	return nil
}

// Values returns the values of the scan variable.
func (sc Scan) Values() []float64 {
	if sc.Points == 1 {
		return []float64{sc.Start}
	}
	vs := make([]float64, sc.Points)
	if sc.Log {
		return floats.LogSpan(vs, sc.Start, sc.Stop)
	}
	return floats.Span(vs, sc.Start, sc.Stop)
}

// Point is one point of a measurement curve.
type Point struct {
	Value  float64 // scan variable
	Result Result
}

// Curve is the outcome of a scan, in scan order.
type Curve struct {
	Kind   string
	Points []Point
}

// Values returns the scan variable of each point.
func (c Curve) Values() []float64 {
	o := make([]float64, len(c.Points))
	for i, p := range c.Points {
		o[i] = p.Value
	}
	return o
}

// Ratios returns the ratio of each point.
// Degenerate points have a NaN ratio.
func (c Curve) Ratios() []float64 {
	o := make([]float64, len(c.Points))
	for i, p := range c.Points {
		o[i] = p.Result.Ratio
	}
	return o
}

type config struct {
	msg      *log.Logger
	nworkers int
}

// Option configures a scan run.
type Option func(*config)

// WithLogger sets the logger of the scan.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithConcurrency sets the maximum number of traces analyzed concurrently.
func WithConcurrency(n int) Option {
	return func(cfg *config) {
		cfg.nworkers = n
	}
}

// Run performs the scan: for each value of the scan variable, it loads
// the pulse program, plays it and acquires a trace.
// Traces are acquired sequentially and analyzed concurrently.
//
// The microwave source is switched on for all kinds but T1, and
// switched off when Run returns.
func Run(ctx context.Context, seq Sequencer, scope Scope, mw MicrowaveSource, scan Scan, opts ...Option) (curve Curve, err error) {
	cfg := config{
		msg:      log.New(os.Stdout, "pulse: ", 0),
		nworkers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.nworkers <= 0 {
		cfg.nworkers = 1
	}

	err = scan.Validate()
	if err != nil {
		return curve, err
	}

	if scan.Kind != KindT1 {
		err = switchOn(ctx, mw, scan)
		if err != nil {
			return curve, err
		}
		cfg.msg.Printf("microwave on (freq=%g Hz, power=%g dBm)", scan.Frequency, scan.Power)
		defer func() {
			e := mw.Off(context.Background())
			if e != nil {
				cfg.msg.Printf("could not switch microwave off: %+v", e)
				if err == nil {
					err = fmt.Errorf("pulse: could not switch microwave off: %w", e)
				}
				return
			}
			cfg.msg.Printf("microwave off")
		}()
	}

	var (
		vs     = scan.Values()
		pts    = make([]Point, len(vs))
		grp, g = errgroup.WithContext(ctx)
	)
	grp.SetLimit(cfg.nworkers)

	acquire := func(i int, v float64) (Trace, error) {
		err := seq.SetPulseProgram(g, scan.Kind, v)
		if err != nil {
			return Trace{}, fmt.Errorf("pulse: could not set pulse program (point=%d, v=%g): %w", i, v, err)
		}
		err = seq.StartStream(g, scan.Repeats)
		if err != nil {
			return Trace{}, fmt.Errorf("pulse: could not start stream (point=%d, v=%g): %w", i, v, err)
		}
		tr, err := scope.Trace(g, scan.Channel)
		if err != nil {
			return Trace{}, fmt.Errorf("pulse: could not acquire trace (point=%d, v=%g): %w", i, v, err)
		}
		return tr, nil
	}

loop:
	for i, v := range vs {
		if g.Err() != nil {
			break loop
		}
		tr, err := acquire(i, v)
		if err != nil {
			grp.Go(func() error { return err })
			break loop
		}

		i, v := i, v
		grp.Go(func() error {
			res, err := Extract(tr, scan.Params)
			if err != nil {
				return fmt.Errorf("pulse: could not analyze trace (point=%d, v=%g): %w", i, v, err)
			}
			if res.Flags&EdgeNotFound != 0 {
				cfg.msg.Printf("point %d (v=%g): pulse edge not found (left=%d, right=%d)", i, v, res.Left, res.Right)
			}
			if !res.Valid() {
				cfg.msg.Printf("point %d (v=%g): degenerate reference window", i, v)
			}
			pts[i] = Point{Value: v, Result: res}
			return nil
		})
	}

	err = grp.Wait()
	if err != nil {
		return curve, err
	}
	if err = ctx.Err(); err != nil {
		return curve, fmt.Errorf("pulse: scan interrupted: %w", err)
	}

	curve.Kind = scan.Kind
	curve.Points = pts
	return curve, nil
}

func switchOn(ctx context.Context, mw MicrowaveSource, scan Scan) error {
	err := mw.SetFrequency(ctx, scan.Frequency)
	if err != nil {
		return fmt.Errorf("pulse: could not set microwave frequency: %w", err)
	}
	err = mw.SetPower(ctx, scan.Power)
	if err != nil {
		return fmt.Errorf("pulse: could not set microwave power: %w", err)
	}
	err = mw.On(ctx)
	if err != nil {
		return fmt.Errorf("pulse: could not switch microwave on: %w", err)
	}
	return nil
}
