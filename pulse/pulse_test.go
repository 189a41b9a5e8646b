// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulse

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/floats/scalar"
)

// square returns a trace sampled at t=0,1,...,n-1 with amplitude
// lvl in [beg, end) and 0 elsewhere.
func square(n, beg, end int, lvl float64) Trace {
	tr := Trace{
		Time:      make([]float64, n),
		Amplitude: make([]float64, n),
	}
	for i := range tr.Time {
		tr.Time[i] = float64(i)
		if beg <= i && i < end {
			tr.Amplitude[i] = lvl
		}
	}
	return tr
}

func TestThreshold(t *testing.T) {
	for _, tc := range []struct {
		name  string
		amp   []float64
		thr   float64
		left  int
		right int
		ok    bool
	}{
		{
			name:  "rise-fall",
			amp:   []float64{0, 0, 1, 2, 3, 2, 1, 0, 0},
			thr:   1.5,
			left:  3,
			right: 5,
			ok:    true,
		},
		{
			name:  "at-threshold",
			amp:   []float64{0, 1, 1, 1, 0},
			thr:   1,
			left:  1,
			right: 3,
			ok:    true,
		},
		{
			name:  "plateau-to-end",
			amp:   []float64{0, 0, 2, 2, 2},
			thr:   1,
			left:  2,
			right: 4,
			ok:    true,
		},
		{
			name:  "not-found",
			amp:   []float64{0, 1, 2, 1, 0},
			thr:   10,
			left:  0,
			right: 4,
			ok:    false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			left, ok := ThresholdLeft(tc.amp, tc.thr)
			if left != tc.left || ok != tc.ok {
				t.Fatalf("invalid left edge: got=(%d, %v), want=(%d, %v)", left, ok, tc.left, tc.ok)
			}
			right, ok := ThresholdRight(tc.amp, tc.thr)
			if right != tc.right || ok != tc.ok {
				t.Fatalf("invalid right edge: got=(%d, %v), want=(%d, %v)", right, ok, tc.right, tc.ok)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	for _, tc := range []struct {
		name string
		amp  []float64
		win  int
		want []float64
	}{
		{
			name: "peak",
			amp:  []float64{1, 1, 3, 5, 3, 1, 1},
			win:  1,
			want: []float64{0, 0, 0.5, 1, 0.5, 0, 0},
		},
		{
			name: "centered-window",
			amp:  []float64{0, 0, 1, 3, 1, 0, 0},
			win:  3,
			want: []float64{0, 0, 0.6, 1.8, 0.6, 0, 0},
		},
		{
			name: "negative-baseline",
			amp:  []float64{-2, -2, 0, -2},
			win:  1,
			want: []float64{0, 0, 1, 0},
		},
		{
			name: "flat",
			amp:  []float64{3, 3, 3},
			win:  2,
			want: []float64{0, 0, 0},
		},
		{
			name: "empty",
			amp:  nil,
			win:  2,
			want: nil,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			orig := append([]float64(nil), tc.amp...)
			got := Normalize(tc.amp, tc.win)
			if len(got) != len(tc.want) {
				t.Fatalf("invalid length: got=%d, want=%d", len(got), len(tc.want))
			}
			for i := range got {
				if !scalar.EqualWithinAbs(got[i], tc.want[i], 1e-12) {
					t.Fatalf("invalid normalized trace:\ngot= %v\nwant=%v", got, tc.want)
				}
			}
			if !reflect.DeepEqual(tc.amp, orig) {
				t.Fatalf("input modified: got=%v, want=%v", tc.amp, orig)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tr := square(20, 5, 15, 3)

	for _, tc := range []struct {
		name string
		p    Params
		want Result
	}{
		{
			name: "nominal",
			p:    Params{Threshold: 1, Signal: 4, Reference: 3},
			want: Result{
				Left: 5, Right: 14,
				SignalSamples: 4, ReferenceSamples: 3,
				Signal: 6, Reference: 4, Ratio: 1.5,
			},
		},
		{
			name: "clipped-signal",
			p:    Params{Threshold: 1, Signal: 100, Reference: 3},
			want: Result{
				Left: 5, Right: 14,
				SignalSamples: 100, ReferenceSamples: 3,
				Signal: 19, Reference: 4, Ratio: 4.75,
			},
		},
		{
			name: "peak-window",
			p:    Params{Threshold: 1, Signal: 4, Reference: 3, PeakWindow: 4},
			want: Result{
				Left: 5, Right: 14,
				SignalSamples: 4, ReferenceSamples: 3,
				Signal: 6, Reference: 4, Ratio: 1.5,
			},
		},
		{
			name: "edge-not-found",
			p:    Params{Threshold: 10, Signal: 4, Reference: 3},
			want: Result{
				Left: 0, Right: 19,
				SignalSamples: 4, ReferenceSamples: 3,
				Signal: 0, Reference: 0, Ratio: math.NaN(),
				Flags: EdgeNotFound | DegenerateWindow,
			},
		},
		{
			name: "empty-reference",
			p:    Params{Threshold: 1, Signal: 4, Reference: 0},
			want: Result{
				Left: 5, Right: 14,
				SignalSamples: 4, ReferenceSamples: 0,
				Signal: 6, Reference: 0, Ratio: math.NaN(),
				Flags: DegenerateWindow,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Extract(tr, tc.p)
			if err != nil {
				t.Fatalf("could not extract windows: %+v", err)
			}
			if got.Left != tc.want.Left || got.Right != tc.want.Right {
				t.Fatalf("invalid edges: got=(%d, %d), want=(%d, %d)", got.Left, got.Right, tc.want.Left, tc.want.Right)
			}
			if got.SignalSamples != tc.want.SignalSamples || got.ReferenceSamples != tc.want.ReferenceSamples {
				t.Fatalf("invalid samples: got=(%d, %d), want=(%d, %d)",
					got.SignalSamples, got.ReferenceSamples,
					tc.want.SignalSamples, tc.want.ReferenceSamples,
				)
			}
			if !scalar.EqualWithinAbs(got.Signal, tc.want.Signal, 1e-12) {
				t.Fatalf("invalid signal: got=%v, want=%v", got.Signal, tc.want.Signal)
			}
			if !scalar.EqualWithinAbs(got.Reference, tc.want.Reference, 1e-12) {
				t.Fatalf("invalid reference: got=%v, want=%v", got.Reference, tc.want.Reference)
			}
			if got.Flags != tc.want.Flags {
				t.Fatalf("invalid flags: got=%v, want=%v", got.Flags, tc.want.Flags)
			}
			switch {
			case math.IsNaN(tc.want.Ratio):
				if !math.IsNaN(got.Ratio) || got.Valid() {
					t.Fatalf("ratio should be withheld: got=%v (valid=%v)", got.Ratio, got.Valid())
				}
			default:
				if !scalar.EqualWithinAbs(got.Ratio, tc.want.Ratio, 1e-12) || !got.Valid() {
					t.Fatalf("invalid ratio: got=%v, want=%v", got.Ratio, tc.want.Ratio)
				}
			}
		})
	}
}

func TestExtractSampleInterval(t *testing.T) {
	// the same square pulse sampled every 2^-44 s (~57 fs): integrals
	// over time are tiny but the reference window is not degenerate.
	tr := square(20, 5, 15, 3)
	dt := math.Ldexp(1, -44)
	for i := range tr.Time {
		tr.Time[i] *= dt
	}
	res, err := Extract(tr, Params{Threshold: 1, Signal: 4 * dt, Reference: 3 * dt})
	if err != nil {
		t.Fatalf("could not extract windows: %+v", err)
	}
	if !res.Valid() {
		t.Fatalf("unexpected degenerate window: %+v", res)
	}
	if got, want := res.Reference, 4*dt; got != want {
		t.Fatalf("invalid reference: got=%v, want=%v", got, want)
	}
	if got, want := res.Ratio, 1.5; !scalar.EqualWithinAbs(got, want, 1e-12) {
		t.Fatalf("invalid ratio: got=%v, want=%v", got, want)
	}
}

func TestExtractDegenerate(t *testing.T) {
	// single spike: the reference window preceding the falling edge is
	// all zeros.
	tr := square(20, 10, 11, 1)
	res, err := Extract(tr, Params{Threshold: 1, Signal: 4, Reference: 3})
	if err != nil {
		t.Fatalf("could not extract windows: %+v", err)
	}
	if res.Left != 10 || res.Right != 10 {
		t.Fatalf("invalid edges: got=(%d, %d), want=(10, 10)", res.Left, res.Right)
	}
	if res.Valid() {
		t.Fatalf("expected a degenerate window")
	}
	if got, want := res.Flags, DegenerateWindow; got != want {
		t.Fatalf("invalid flags: got=%v, want=%v", got, want)
	}
	if !math.IsNaN(res.Ratio) {
		t.Fatalf("invalid ratio: got=%v, want=NaN", res.Ratio)
	}
	// spike normalized to 20 (mean over the whole trace is 1/20).
	if got, want := res.Signal, 10.0; !scalar.EqualWithinAbsOrRel(got, want, 1e-9, 1e-9) {
		t.Fatalf("invalid signal: got=%v, want=%v", got, want)
	}
}

func TestExtractInvalid(t *testing.T) {
	for _, tc := range []struct {
		name  string
		tr    Trace
		p     Params
		trace bool
	}{
		{
			name:  "mismatch",
			tr:    Trace{Time: make([]float64, 6), Amplitude: make([]float64, 5)},
			trace: true,
		},
		{
			name:  "short",
			tr:    square(4, 1, 2, 1),
			trace: true,
		},
		{
			name: "zero-interval",
			tr: Trace{
				Time:      []float64{0, 1, 2, 3, 3, 4},
				Amplitude: []float64{0, 1, 2, 1, 0, 0},
			},
			trace: true,
		},
		{
			name: "unsorted",
			tr: Trace{
				Time:      []float64{0, 1, 2, 3, 4, 1},
				Amplitude: []float64{0, 1, 2, 1, 0, 0},
			},
			trace: true,
		},
		{
			name:  "negative-window",
			tr:    square(10, 2, 5, 1),
			p:     Params{Threshold: 0.5, Signal: -1, Reference: 1},
			trace: false,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Extract(tc.tr, tc.p)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := errors.Is(err, ErrInvalidTrace), tc.trace; got != want {
				t.Fatalf("invalid error kind: got=%v, want=%v (err=%v)", got, want, err)
			}
		})
	}
}

func TestFlagsString(t *testing.T) {
	for _, tc := range []struct {
		f    Flags
		want string
	}{
		{0, "ok"},
		{EdgeNotFound, "edge-not-found"},
		{DegenerateWindow, "degenerate-window"},
		{EdgeNotFound | DegenerateWindow, "edge-not-found|degenerate-window"},
	} {
		if got := tc.f.String(); got != tc.want {
			t.Fatalf("invalid flags string: got=%q, want=%q", got, tc.want)
		}
	}
}
