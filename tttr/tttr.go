// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tttr decodes time-tagged time-resolved (TTTR) records as
// produced by the FIFO of a photon-timing instrument.
//
// A record is a 32-bit word:
//
//	T2: [ channel:4 | time-tag:28 ]
//	T3: [ channel:4 | dtime:12 | nsync:16 ]
//
// Channel 0 is the sync channel, channel 1 the signal channel and
// channel 15 marks special records (overflows and external markers).
// Channels 2 to 14 are reserved.
package tttr // import "github.com/go-lpc/odmr/tttr"

import (
	"errors"
	"fmt"
)

// Mode is the acquisition mode of the instrument.
type Mode uint8

const (
	T2 Mode = 2 // single 28-bit time-tag field
	T3 Mode = 3 // 12-bit dtime and 16-bit sync counter fields
)

func (m Mode) String() string {
	switch m {
	case T2:
		return "T2"
	case T3:
		return "T3"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode parses a mode name ("t2" or "t3", case insensitive).
func ParseMode(s string) (Mode, error) {
	switch s {
	case "t2", "T2", "2":
		return T2, nil
	case "t3", "T3", "3":
		return T3, nil
	}
	return 0, fmt.Errorf("tttr: invalid mode %q", s)
}

const (
	ChanSync    = 0x0
	ChanSignal  = 0x1
	ChanSpecial = 0xf

	// WrapT2 is the number of time-tag ticks between two T2 overflows.
	WrapT2 = 210698240
	// WrapT3 is the number of sync periods between two T3 overflows.
	WrapT3 = 65536
)

const (
	chanShift = 28
	chanMask  = 0xf

	t2TagMask = 0x0fffffff

	t3DTimeShift = 16
	t3DTimeMask  = 0xfff
	t3NSyncMask  = 0xffff

	markerMask = 0xf
)

// Record is a raw 32-bit TTTR record.
type Record uint32

// Channel returns the channel (or marker) code stored in the 4 MSBs.
func (r Record) Channel() uint8 { return uint8(r>>chanShift) & chanMask }

// TimeTag returns the 28-bit time-tag of a T2 record.
func (r Record) TimeTag() uint32 { return uint32(r) & t2TagMask }

// DTime returns the 12-bit start-stop time of a T3 record.
func (r Record) DTime() uint16 { return uint16(r>>t3DTimeShift) & t3DTimeMask }

// NSync returns the 16-bit sync counter of a T3 record.
func (r Record) NSync() uint16 { return uint16(r) & t3NSyncMask }

// NewT2 packs a T2 record.
func NewT2(ch uint8, tag uint32) Record {
	return Record(uint32(ch&chanMask)<<chanShift | tag&t2TagMask)
}

// NewT3 packs a T3 record.
func NewT3(ch uint8, dtime, nsync uint16) Record {
	return Record(
		uint32(ch&chanMask)<<chanShift |
			uint32(dtime&t3DTimeMask)<<t3DTimeShift |
			uint32(nsync),
	)
}

var (
	ErrInvalidLayout = errors.New("tttr: invalid layout")
)

// Layout describes how records of a given mode are turned into
// picosecond timestamps.
type Layout struct {
	Mode       Mode
	Resolution int64 // time-tag (T2) or dtime (T3) resolution, in ps
	Wraparound int64 // timestamp increment of one overflow, in ps
	SyncPeriod int64 // sync period in ps (T3 only)
}

// T2Layout returns the layout of T2 records with the given resolution.
func T2Layout(res int64) Layout {
	return Layout{
		Mode:       T2,
		Resolution: res,
		Wraparound: WrapT2 * res,
	}
}

// T3Layout returns the layout of T3 records with the given dtime
// resolution and sync period.
func T3Layout(res, sync int64) Layout {
	return Layout{
		Mode:       T3,
		Resolution: res,
		Wraparound: WrapT3 * sync,
		SyncPeriod: sync,
	}
}

// Validate checks the layout is usable for decoding.
func (l Layout) Validate() error {
	switch l.Mode {
	case T2:
	case T3:
		if l.SyncPeriod <= 0 {
			return fmt.Errorf("%w: T3 mode requires a positive sync period (got=%d)", ErrInvalidLayout, l.SyncPeriod)
		}
	default:
		return fmt.Errorf("%w: unknown mode %v", ErrInvalidLayout, l.Mode)
	}
	if l.Resolution <= 0 {
		return fmt.Errorf("%w: non-positive resolution %d", ErrInvalidLayout, l.Resolution)
	}
	if l.Wraparound <= 0 {
		return fmt.Errorf("%w: non-positive wraparound %d", ErrInvalidLayout, l.Wraparound)
	}
	return nil
}

// Timestamp returns the uncorrected timestamp of r, in ps.
func (l Layout) Timestamp(r Record) int64 {
	switch l.Mode {
	case T3:
		return int64(r.NSync())*l.SyncPeriod + int64(r.DTime())*l.Resolution
	default:
		return int64(r.TimeTag()) * l.Resolution
	}
}

// Overflow reports whether the special record r is an overflow record.
func (l Layout) Overflow(r Record) bool {
	switch l.Mode {
	case T3:
		return r.DTime() == 0
	default:
		return r.TimeTag()&markerMask == 0
	}
}

// Markers returns the external marker bits of the special record r.
func (l Layout) Markers(r Record) uint8 {
	switch l.Mode {
	case T3:
		return uint8(r.DTime() & markerMask)
	default:
		return uint8(r.TimeTag() & markerMask)
	}
}
