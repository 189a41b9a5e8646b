// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq drives repeated sweep acquisitions from a TTTR hardware
// channel into a cumulative time histogram.
package acq // import "github.com/go-lpc/odmr/acq"

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/odmr/tttr"
)

// State is the state of an acquisition controller.
type State uint8

const (
	Unconfigured State = iota
	Configured
	Running
	Paused
	Stopped
	Error
)

func (st State) String() string {
	switch st {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", uint8(st))
	}
}

// Status is the status reported by a hardware channel.
type Status uint8

const (
	Idle Status = iota // no sweep in progress
	Busy               // sweep in progress
	Fault              // device error
)

func (st Status) String() string {
	switch st {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Fault:
		return "fault"
	default:
		return fmt.Sprintf("Status(%d)", uint8(st))
	}
}

// Hardware is a TTTR hardware channel.
type Hardware interface {
	// Name identifies the channel. Only one controller may hold a
	// channel with a given name.
	Name() string

	// Configure sets the record layout of the channel.
	Configure(ctx context.Context, lay tttr.Layout) error

	// StartSweep starts one acquisition sweep of duration d.
	StartSweep(ctx context.Context, d time.Duration) error

	// ReadEvents reads at most len(dst) raw records from the FIFO.
	// ReadEvents must honor the context deadline.
	ReadEvents(ctx context.Context, dst []uint32) (int, error)

	// StopSweep halts the current sweep. Stopping an idle channel is
	// not an error.
	StopSweep(ctx context.Context) error

	// Status returns the status of the channel.
	Status(ctx context.Context) (Status, error)
}

var (
	ErrHardwareTimeout = errors.New("acq: hardware timeout")
	ErrHardwareBusy    = errors.New("acq: hardware channel already claimed")
	ErrInvalidState    = errors.New("acq: invalid state")
)

// ConfigError describes an invalid acquisition configuration.
type ConfigError struct {
	Param string
	Value int64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("acq: invalid configuration: %s=%d", e.Param, e.Value)
}

// Config is the configuration of an acquisition session.
// Durations are expressed in ps.
type Config struct {
	BinWidth     int64 `yaml:"bin-width"`     // histogram bin width
	RecordLength int64 `yaml:"record-length"` // duration of one sweep
	Gates        int   `yaml:"gates"`         // number of gates (0: ungated)
	MaxSweeps    int   `yaml:"max-sweeps"`    // number of sweeps to acquire
}

// Validate checks the configuration parameters.
func (cfg Config) Validate() error {
	switch {
	case cfg.BinWidth <= 0:
		return &ConfigError{Param: "bin-width", Value: cfg.BinWidth}
	case cfg.RecordLength <= 0:
		return &ConfigError{Param: "record-length", Value: cfg.RecordLength}
	case cfg.Gates < 0:
		return &ConfigError{Param: "gates", Value: int64(cfg.Gates)}
	case cfg.MaxSweeps <= 0:
		return &ConfigError{Param: "max-sweeps", Value: int64(cfg.MaxSweeps)}
	}
	return nil
}

// sweepDuration returns the hardware acquisition time of one sweep.
func (cfg Config) sweepDuration() time.Duration {
	d := time.Duration(cfg.RecordLength/1000) * time.Nanosecond
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
