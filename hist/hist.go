// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hist accumulates decoded photon events into a time histogram,
// sweep after sweep.
package hist // import "github.com/go-lpc/odmr/hist"

import (
	"fmt"
	"sort"

	"github.com/go-lpc/odmr/tttr"
	"go-hep.org/x/hep/hbook"
)

// Margin is the number of bins kept past the finish timestamp of a
// sweep when clipping its counts.
const Margin = 5

// Edges returns the bin edges k*binWidth, k=0..ceil(recordLength/binWidth),
// in ps.
func Edges(binWidth, recordLength int64) ([]int64, error) {
	if binWidth <= 0 {
		return nil, fmt.Errorf("hist: invalid bin width %d", binWidth)
	}
	if recordLength <= 0 {
		return nil, fmt.Errorf("hist: invalid record length %d", recordLength)
	}
	n := (recordLength + binWidth - 1) / binWidth
	edges := make([]int64, n+1)
	for i := range edges {
		edges[i] = int64(i) * binWidth
	}
	return edges, nil
}

// Snapshot is a copy of the cumulative histogram.
type Snapshot struct {
	Edges    []int64  // bin edges, in ps
	Counts   []uint64 // cumulative counts, len(Edges)-1
	Sweeps   int      // number of finalized sweeps
	Degraded bool     // whether the last sweep was finalized without finish timestamp

	DegradedSweeps int // number of sweeps finalized without finish timestamp
}

// Accumulator bins the signal events of a sweep and merges them into a
// cumulative histogram.
//
// The bin edges are fixed at creation time.
// Accumulator is not safe for concurrent use.
type Accumulator struct {
	edges  []int64
	fedges []float64
	counts []uint64

	open bool
	buf  []int64 // timestamps of the current sweep

	sweeps   int
	degraded bool
	ndegrade int
}

// New returns an accumulator with edges derived from binWidth and
// recordLength (see Edges).
func New(binWidth, recordLength int64) (*Accumulator, error) {
	edges, err := Edges(binWidth, recordLength)
	if err != nil {
		return nil, err
	}
	return NewFromEdges(edges)
}

// NewFromEdges returns an accumulator with the provided bin edges.
func NewFromEdges(edges []int64) (*Accumulator, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("hist: not enough bin edges (n=%d)", len(edges))
	}
	fedges := make([]float64, len(edges))
	for i, v := range edges {
		if i > 0 && v <= edges[i-1] {
			return nil, fmt.Errorf("hist: bin edges not strictly increasing at index %d", i)
		}
		fedges[i] = float64(v)
	}

	acc := &Accumulator{
		edges:  append([]int64(nil), edges...),
		fedges: fedges,
		counts: make([]uint64, len(edges)-1),
	}
	return acc, nil
}

// Len returns the number of bins.
func (acc *Accumulator) Len() int { return len(acc.counts) }

// Reset zeroes the cumulative histogram and drops the current sweep.
func (acc *Accumulator) Reset() {
	for i := range acc.counts {
		acc.counts[i] = 0
	}
	acc.open = false
	acc.buf = acc.buf[:0]
	acc.sweeps = 0
	acc.degraded = false
	acc.ndegrade = 0
}

// ResetSweep clears the per-sweep buffer and opens a new sweep.
// The cumulative histogram is left untouched.
func (acc *Accumulator) ResetSweep() {
	acc.buf = acc.buf[:0]
	acc.open = true
}

// Discard drops the current sweep without finalizing it.
func (acc *Accumulator) Discard() {
	acc.buf = acc.buf[:0]
	acc.open = false
}

// Open reports whether a sweep is being accumulated.
func (acc *Accumulator) Open() bool { return acc.open }

// Ingest records the timestamp of signal events while a sweep is open.
// Other events are ignored.
func (acc *Accumulator) Ingest(evt tttr.Event) {
	if !acc.open {
		return
	}
	switch evt.Kind {
	case tttr.SignalStart, tttr.SignalStop:
		acc.buf = append(acc.buf, evt.Time)
	}
}

// FinalizeSweep bins the current sweep, clips it to the valid range
// implied by the finish timestamp, adds it to the cumulative histogram
// and closes the sweep.
//
// When ok is false, the sweep has no finish timestamp: no clipping is
// applied and the sweep is flagged as degraded.
func (acc *Accumulator) FinalizeSweep(finish int64, ok bool) Snapshot {
	h := hbook.NewH1DFromEdges(acc.fedges)
	for _, v := range acc.buf {
		h.Fill(float64(v), 1)
	}

	n := len(acc.counts)
	if ok {
		n = acc.valid(finish)
	}
	for i := 0; i < n; i++ {
		acc.counts[i] += uint64(h.Binning.Bins[i].Entries())
	}

	acc.sweeps++
	acc.degraded = !ok
	if !ok {
		acc.ndegrade++
	}
	acc.open = false
	acc.buf = acc.buf[:0]

	return acc.Snapshot()
}

// valid returns the number of leading bins covered by [0, finish),
// extended by Margin bins and capped by the number of bins.
func (acc *Accumulator) valid(finish int64) int {
	n := sort.Search(len(acc.edges), func(i int) bool {
		return acc.edges[i] >= finish
	})
	n += Margin
	if n > len(acc.counts) {
		n = len(acc.counts)
	}
	return n
}

// Snapshot returns a copy of the cumulative histogram.
func (acc *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		Edges:          append([]int64(nil), acc.edges...),
		Counts:         append([]uint64(nil), acc.counts...),
		Sweeps:         acc.sweeps,
		Degraded:       acc.degraded,
		DegradedSweeps: acc.ndegrade,
	}
}

// H1D returns the cumulative histogram as a 1-dim hbook histogram,
// with edges in ps.
func (acc *Accumulator) H1D() *hbook.H1D {
	return acc.Snapshot().H1D()
}

// H1D returns the snapshot as a 1-dim hbook histogram, with edges in ps.
func (snap Snapshot) H1D() *hbook.H1D {
	edges := make([]float64, len(snap.Edges))
	for i, v := range snap.Edges {
		edges[i] = float64(v)
	}
	h := hbook.NewH1DFromEdges(edges)
	for i, n := range snap.Counts {
		if n == 0 {
			continue
		}
		x := 0.5 * (edges[i] + edges[i+1])
		h.Fill(x, float64(n))
	}
	return h
}
