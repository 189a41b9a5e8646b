// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"log"
	"os"
	"time"

	"github.com/go-lpc/odmr/hist"
	"github.com/go-lpc/odmr/tttr"
)

const (
	// MaxRecords is the default maximum number of records per FIFO read.
	MaxRecords = 131072

	defaultReadTimeout  = 1 * time.Second
	defaultPollInterval = 1 * time.Millisecond
	defaultStopTimeout  = 10 * time.Second
	defaultQueue        = 16
)

type config struct {
	msg    *log.Logger
	layout tttr.Layout

	maxRecords   int
	readTimeout  time.Duration
	stopTimeout  time.Duration
	pollInterval time.Duration
	queue        int

	hook func(snap hist.Snapshot)
}

func newConfig() config {
	return config{
		msg:          log.New(os.Stdout, "acq: ", 0),
		layout:       tttr.T2Layout(4),
		maxRecords:   MaxRecords,
		readTimeout:  defaultReadTimeout,
		stopTimeout:  defaultStopTimeout,
		pollInterval: defaultPollInterval,
		queue:        defaultQueue,
	}
}

// Option configures a Controller.
type Option func(*config)

// WithLogger sets the logger of the controller.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithLayout sets the record layout of the hardware channel.
func WithLayout(lay tttr.Layout) Option {
	return func(cfg *config) {
		cfg.layout = lay
	}
}

// WithMaxRecords sets the maximum number of records requested per FIFO read.
func WithMaxRecords(n int) Option {
	return func(cfg *config) {
		cfg.maxRecords = n
	}
}

// WithReadTimeout sets the timeout of a single FIFO read.
func WithReadTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.readTimeout = timeout
	}
}

// WithPollInterval sets the delay between two polls of a busy
// hardware channel with an empty FIFO.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.pollInterval = d
		}
	}
}

// WithStopTimeout sets how long Pause and Stop wait for the
// acquisition loop to exit.
func WithStopTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.stopTimeout = timeout
	}
}

// WithSweepHook registers a function called with the cumulative
// histogram after each finalized sweep.
// The hook is run from the analysis goroutine and must not call back
// into the controller lifecycle methods.
func WithSweepHook(f func(snap hist.Snapshot)) Option {
	return func(cfg *config) {
		cfg.hook = f
	}
}
