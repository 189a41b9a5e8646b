// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tttr

import (
	"io"
)

// OverflowState holds the cumulative overflow correction of a sweep.
type OverflowState struct {
	Offset int64 // in ps
}

// Reset clears the overflow correction. It must be called at sweep start.
func (ofl *OverflowState) Reset() { ofl.Offset = 0 }

// Add accounts for one overflow of wrap ps.
func (ofl *OverflowState) Add(wrap int64) { ofl.Offset += wrap }

// SweepContext tracks the sync toggling of a sweep.
type SweepContext struct {
	Index    int   // sweep index
	Open     bool  // whether a sync marker opened the sweep
	Finished bool  // whether a sync marker closed the sweep
	Anchor   int64 // corrected timestamp of the opening sync marker, in ps
	Finish   int64 // finish timestamp relative to Anchor, in ps
}

// Reset prepares the context for the sweep with the given index.
func (sc *SweepContext) Reset(index int) {
	*sc = SweepContext{Index: index}
}

// Complete reports whether the sweep was closed by a sync marker.
func (sc *SweepContext) Complete() bool { return sc.Finished }

// Decoder classifies a buffer of raw records into events.
//
// Decoder is a single-pass iterator over its buffer: the overflow
// state and the sweep context are threaded through and updated as
// records are decoded.
type Decoder struct {
	lay   Layout
	recs  []uint32
	pos   int
	ofl   *OverflowState
	sweep *SweepContext
}

// NewDecoder returns a decoder over recs, using the provided layout,
// overflow state and sweep context.
func NewDecoder(lay Layout, recs []uint32, ofl *OverflowState, sweep *SweepContext) *Decoder {
	return &Decoder{
		lay:   lay,
		recs:  recs,
		ofl:   ofl,
		sweep: sweep,
	}
}

// Decode decodes the next event into evt.
// Decode returns io.EOF when the buffer is exhausted.
func (dec *Decoder) Decode(evt *Event) error {
	for dec.pos < len(dec.recs) {
		rec := Record(dec.recs[dec.pos])
		dec.pos++
		if dec.decode(rec, evt) {
			return nil
		}
	}
	return io.EOF
}

func (dec *Decoder) decode(rec Record, evt *Event) bool {
	ch := rec.Channel()
	*evt = Event{Channel: ch}

	switch ch {
	case ChanSync:
		ts := dec.lay.Timestamp(rec) + dec.ofl.Offset
		evt.Kind = SyncMarker
		switch {
		case !dec.sweep.Open:
			dec.sweep.Open = true
			dec.sweep.Anchor = ts
			evt.Edge = Open
		default:
			dec.sweep.Open = false
			dec.sweep.Finished = true
			dec.sweep.Finish = ts - dec.sweep.Anchor
			evt.Edge = Close
			evt.Time = dec.sweep.Finish
		}
		return true

	case ChanSignal:
		if !dec.sweep.Open {
			return false
		}
		evt.Kind = SignalStart
		if dec.lay.Mode == T3 {
			evt.Kind = SignalStop
		}
		evt.Time = dec.lay.Timestamp(rec) + dec.ofl.Offset - dec.sweep.Anchor
		return true

	case ChanSpecial:
		if dec.lay.Overflow(rec) {
			dec.ofl.Add(dec.lay.Wraparound)
			evt.Kind = Overflow
			evt.Time = dec.ofl.Offset
			return true
		}
		evt.Kind = ExternalMarker
		evt.Markers = dec.lay.Markers(rec)
		evt.Time = dec.ofl.Offset
		switch dec.lay.Mode {
		case T3:
			// dtime holds the marker bits.
			evt.Time += int64(rec.NSync()) * dec.lay.SyncPeriod
		default:
			evt.Time += dec.lay.Timestamp(rec)
		}
		return true

	default:
		evt.Kind = Unclassified
		evt.Time = dec.lay.Timestamp(rec) + dec.ofl.Offset
		return true
	}
}
