// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pulse extracts signal and reference windows from sampled pulse
// traces and runs pulsed measurement scans.
//
// A trace is first normalized: the baseline (minimum amplitude) is
// subtracted and the result is divided by the mean amplitude around the
// peak. The rising and falling threshold crossings of the normalized
// trace delimit a signal window, starting at the rising edge, and a
// reference window, ending at the falling edge. The ratio of their
// trapezoidal integrals is the measured quantity.
package pulse // import "github.com/go-lpc/odmr/pulse"

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultPeakWindow is the default number of samples around the peak
	// used to normalize a trace.
	DefaultPeakWindow = 100

	// epsilon is the degenerate reference integral, in units of
	// amplitude × samples.
	epsilon = 1e-12
)

// ErrInvalidTrace is returned for traces that can not be analyzed.
var ErrInvalidTrace = errors.New("pulse: invalid trace")

// Trace is a uniformly sampled pulse waveform.
type Trace struct {
	Time      []float64 // sampling times, in s
	Amplitude []float64
}

// Len returns the number of samples of the trace.
func (tr Trace) Len() int { return len(tr.Amplitude) }

func (tr Trace) validate() error {
	switch {
	case len(tr.Amplitude) != len(tr.Time):
		return fmt.Errorf("%w: time/amplitude length mismatch (%d != %d)",
			ErrInvalidTrace, len(tr.Time), len(tr.Amplitude),
		)
	case len(tr.Time) < 5:
		return fmt.Errorf("%w: not enough samples (n=%d)", ErrInvalidTrace, len(tr.Time))
	case !(tr.Time[4]-tr.Time[3] > 0):
		return fmt.Errorf("%w: invalid sample interval (dt=%g)", ErrInvalidTrace, tr.Time[4]-tr.Time[3])
	case !sort.Float64sAreSorted(tr.Time):
		return fmt.Errorf("%w: sampling times not sorted", ErrInvalidTrace)
	}
	return nil
}

// Params configures the window extraction.
type Params struct {
	Threshold  float64 `yaml:"threshold"`   // threshold on the normalized amplitude
	Signal     float64 `yaml:"signal"`      // signal window duration, in s
	Reference  float64 `yaml:"reference"`   // reference window duration, in s
	PeakWindow int     `yaml:"peak-window"` // number of samples averaged around the peak
}

// Flags describes the anomalies met while extracting a trace.
type Flags uint8

const (
	EdgeNotFound     Flags = 1 << iota // a threshold crossing was not found
	DegenerateWindow                   // the reference integral vanishes
)

func (f Flags) String() string {
	if f == 0 {
		return "ok"
	}
	var o []string
	if f&EdgeNotFound != 0 {
		o = append(o, "edge-not-found")
	}
	if f&DegenerateWindow != 0 {
		o = append(o, "degenerate-window")
	}
	return strings.Join(o, "|")
}

// Result is the outcome of a window extraction.
type Result struct {
	Left  int // index of the rising threshold crossing
	Right int // index of the falling threshold crossing

	SignalSamples    int // number of samples of the signal window
	ReferenceSamples int // number of samples of the reference window

	Signal    float64 // integral over the signal window
	Reference float64 // integral over the reference window
	Ratio     float64 // Signal/Reference, NaN when the window is degenerate

	Flags Flags
}

// Valid reports whether the ratio is defined.
func (res Result) Valid() bool {
	return res.Flags&DegenerateWindow == 0
}

// Normalize returns a copy of amp with its minimum subtracted, divided by
// the absolute mean over win samples centered on the peak.
// A vanishing mean leaves the baseline-subtracted trace as is.
func Normalize(amp []float64, win int) []float64 {
	if len(amp) == 0 {
		return nil
	}
	if win <= 0 {
		win = DefaultPeakWindow
	}

	out := make([]float64, len(amp))
	copy(out, amp)
	floats.AddConst(-floats.Min(out), out)

	var (
		peak = floats.MaxIdx(out)
		beg  = peak - win/2
		end  = beg + win
	)
	if beg < 0 {
		beg = 0
	}
	if end > len(out) {
		end = len(out)
	}

	mean := math.Abs(stat.Mean(out[beg:end], nil))
	if mean == 0 {
		return out
	}
	floats.Scale(1/mean, out)
	return out
}

// ThresholdLeft returns the first index, scanning forward, at which amp
// reaches the threshold.
// If there is none, ThresholdLeft returns 0 and false.
func ThresholdLeft(amp []float64, threshold float64) (int, bool) {
	for i, v := range amp {
		if v >= threshold {
			return i, true
		}
	}
	return 0, false
}

// ThresholdRight returns the first index, scanning backward from the end,
// at which amp reaches the threshold.
// If there is none, ThresholdRight returns the last index and false.
func ThresholdRight(amp []float64, threshold float64) (int, bool) {
	for i := len(amp) - 1; i >= 0; i-- {
		if amp[i] >= threshold {
			return i, true
		}
	}
	return len(amp) - 1, false
}

// Extract normalizes the trace and integrates its signal and reference
// windows.
//
// The signal window spans [Left, Left+SignalSamples) and the reference
// window spans [Right-ReferenceSamples, Right), both clipped to the trace.
func Extract(tr Trace, p Params) (Result, error) {
	var res Result

	err := tr.validate()
	if err != nil {
		return res, err
	}
	if p.Signal < 0 || p.Reference < 0 {
		return res, fmt.Errorf("pulse: invalid window durations (signal=%g, reference=%g)",
			p.Signal, p.Reference,
		)
	}

	amp := Normalize(tr.Amplitude, p.PeakWindow)

	left, okL := ThresholdLeft(amp, p.Threshold)
	right, okR := ThresholdRight(amp, p.Threshold)
	if !okL || !okR {
		res.Flags |= EdgeNotFound
	}

	dt := tr.Time[4] - tr.Time[3]
	res.Left = left
	res.Right = right
	res.SignalSamples = int(math.Floor(p.Signal / dt))
	res.ReferenceSamples = int(math.Floor(p.Reference / dt))

	res.Signal = trapz(tr.Time, amp, left, left+res.SignalSamples)
	res.Reference = trapz(tr.Time, amp, right-res.ReferenceSamples, right)

	if math.Abs(res.Reference) <= epsilon*dt {
		res.Flags |= DegenerateWindow
		res.Ratio = math.NaN()
		return res, nil
	}
	res.Ratio = res.Signal / res.Reference
	return res, nil
}

// trapz integrates f over x in [beg, end), clipped to the slice bounds.
func trapz(x, f []float64, beg, end int) float64 {
	if beg < 0 {
		beg = 0
	}
	if end > len(f) {
		end = len(f)
	}
	if end-beg < 2 {
		return 0
	}
	return integrate.Trapezoidal(x[beg:end], f[beg:end])
}
