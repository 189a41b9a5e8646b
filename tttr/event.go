// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tttr

import "fmt"

// Kind classifies a decoded record.
type Kind uint8

const (
	Unclassified Kind = iota
	SignalStart
	SignalStop
	SyncMarker
	Overflow
	ExternalMarker
)

func (k Kind) String() string {
	switch k {
	case Unclassified:
		return "unclassified"
	case SignalStart:
		return "signal-start"
	case SignalStop:
		return "signal-stop"
	case SyncMarker:
		return "sync"
	case Overflow:
		return "overflow"
	case ExternalMarker:
		return "marker"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Edge tells whether a sync marker opened or closed a sweep.
type Edge uint8

const (
	NoEdge Edge = iota
	Open
	Close
)

// Event is a decoded TTTR record.
//
// Time is a corrected timestamp in ps:
//   - signal events: relative to the sync anchor of the open sweep,
//   - closing sync markers: the sweep finish timestamp,
//   - opening sync markers: zero,
//   - overflows: the cumulative overflow offset after this record,
//   - external markers and unclassified records: absolute.
type Event struct {
	Kind    Kind
	Time    int64
	Channel uint8
	Markers uint8 // external marker bitmask
	Edge    Edge  // sync markers only
}

func (evt Event) String() string {
	switch evt.Kind {
	case SyncMarker:
		edge := "open"
		if evt.Edge == Close {
			edge = "close"
		}
		return fmt.Sprintf("%-12s t=%d ps (%s)", evt.Kind, evt.Time, edge)
	case ExternalMarker:
		return fmt.Sprintf("%-12s t=%d ps markers=0b%04b", evt.Kind, evt.Time, evt.Markers)
	case Unclassified:
		return fmt.Sprintf("%-12s t=%d ps chan=%d", evt.Kind, evt.Time, evt.Channel)
	default:
		return fmt.Sprintf("%-12s t=%d ps", evt.Kind, evt.Time)
	}
}

// Stats counts decoded events per kind.
type Stats struct {
	Events [ExternalMarker + 1]int
	Sweeps int // number of closed sweeps
}

// Add accounts for evt.
func (st *Stats) Add(evt Event) {
	if int(evt.Kind) < len(st.Events) {
		st.Events[evt.Kind]++
	}
	if evt.Kind == SyncMarker && evt.Edge == Close {
		st.Sweeps++
	}
}
