// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"fmt"

	"github.com/go-lpc/odmr/acq"
	"github.com/go-lpc/odmr/pulse"
	"github.com/go-lpc/odmr/tttr"
)

// AcqPreset is a stored acquisition configuration.
// Durations are expressed in ps.
type AcqPreset struct {
	Name         string `json:"name"`
	Mode         string `json:"mode"` // t2 or t3
	Resolution   int64  `json:"resolution"`
	SyncPeriod   int64  `json:"sync_period"` // T3 only
	BinWidth     int64  `json:"bin_width"`
	RecordLength int64  `json:"record_length"`
	Gates        int    `json:"gates"`
	MaxSweeps    int    `json:"max_sweeps"`
}

// Config returns the acquisition session configuration of the preset.
func (p AcqPreset) Config() acq.Config {
	return acq.Config{
		BinWidth:     p.BinWidth,
		RecordLength: p.RecordLength,
		Gates:        p.Gates,
		MaxSweeps:    p.MaxSweeps,
	}
}

// Layout returns the record layout of the preset.
func (p AcqPreset) Layout() (tttr.Layout, error) {
	mode, err := tttr.ParseMode(p.Mode)
	if err != nil {
		return tttr.Layout{}, fmt.Errorf("conddb: invalid preset %q: %w", p.Name, err)
	}

	var lay tttr.Layout
	switch mode {
	case tttr.T2:
		lay = tttr.T2Layout(p.Resolution)
	case tttr.T3:
		lay = tttr.T3Layout(p.Resolution, p.SyncPeriod)
	}

	err = lay.Validate()
	if err != nil {
		return lay, fmt.Errorf("conddb: invalid preset %q: %w", p.Name, err)
	}
	return lay, nil
}

// PulsePreset is a stored pulse scan configuration.
type PulsePreset struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Start   float64 `json:"start"`
	Stop    float64 `json:"stop"`
	Points  int     `json:"points"`
	Log     bool    `json:"log"`
	Repeats int     `json:"repeats"`
	Channel int     `json:"channel"`

	Frequency float64 `json:"frequency"`
	Power     float64 `json:"power"`

	Threshold  float64 `json:"threshold"`
	Signal     float64 `json:"signal_window"`
	Reference  float64 `json:"reference_window"`
	PeakWindow int     `json:"peak_window"`
}

// Scan returns the measurement scan described by the preset.
func (p PulsePreset) Scan() pulse.Scan {
	return pulse.Scan{
		Kind:      p.Kind,
		Start:     p.Start,
		Stop:      p.Stop,
		Points:    p.Points,
		Log:       p.Log,
		Repeats:   p.Repeats,
		Channel:   p.Channel,
		Frequency: p.Frequency,
		Power:     p.Power,
		Params: pulse.Params{
			Threshold:  p.Threshold,
			Signal:     p.Signal,
			Reference:  p.Reference,
			PeakWindow: p.PeakWindow,
		},
	}
}
