// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	latMin    = 1          // 1us
	latMax    = 60_000_000 // 60s, in us
	latSigFig = 3
)

// ReadStats summarizes the latency of FIFO reads of a session.
type ReadStats struct {
	Reads   int64 // number of FIFO reads
	Records int64 // number of records read
	Full    int64 // number of reads that filled the whole buffer

	P50  time.Duration
	P99  time.Duration
	Max  time.Duration
	Mean time.Duration
}

func (st ReadStats) String() string {
	return fmt.Sprintf(
		"reads=%d records=%d full=%d latency: mean=%v p50=%v p99=%v max=%v",
		st.Reads, st.Records, st.Full, st.Mean, st.P50, st.P99, st.Max,
	)
}

type readStats struct {
	mu      sync.Mutex
	lat     *hdrhistogram.Histogram
	records int64
	full    int64
}

func newReadStats() *readStats {
	return &readStats{
		lat: hdrhistogram.New(latMin, latMax, latSigFig),
	}
}

func (rs *readStats) reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.lat.Reset()
	rs.records = 0
	rs.full = 0
}

func (rs *readStats) record(dt time.Duration, n int, full bool) {
	us := dt.Microseconds()
	switch {
	case us < latMin:
		us = latMin
	case us > latMax:
		us = latMax
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	_ = rs.lat.RecordValue(us)
	rs.records += int64(n)
	if full {
		rs.full++
	}
}

func (rs *readStats) stats() ReadStats {
	rs.mu.Lock()
	lat := hdrhistogram.Import(rs.lat.Export())
	st := ReadStats{
		Records: rs.records,
		Full:    rs.full,
	}
	rs.mu.Unlock()

	st.Reads = lat.TotalCount()
	if st.Reads == 0 {
		return st
	}
	st.P50 = time.Duration(lat.ValueAtQuantile(50)) * time.Microsecond
	st.P99 = time.Duration(lat.ValueAtQuantile(99)) * time.Microsecond
	st.Max = time.Duration(lat.Max()) * time.Microsecond
	st.Mean = time.Duration(lat.Mean()) * time.Microsecond
	return st
}
