// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-lpc/odmr/hist"
	"github.com/go-lpc/odmr/tttr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Controller drives sweep acquisitions on a hardware channel.
//
// Each sweep is read from the hardware by a reader goroutine and handed,
// in order, to an analysis goroutine that decodes the records and
// accumulates them into the session histogram.
type Controller struct {
	hw  Hardware
	cfg config
	msg *log.Logger

	ctl sync.Mutex // serializes lifecycle operations

	mu      sync.Mutex // guards the session
	state   State
	acfg    Config
	session uuid.UUID
	sweeps  int
	acc     *hist.Accumulator
	ofl     tttr.OverflowState
	sweep   tttr.SweepContext
	err     error
	claimed bool
	loop    *loop

	stats *readStats
}

// New creates a new controller for the provided hardware channel.
func New(hw Hardware, opts ...Option) *Controller {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRecords <= 0 {
		cfg.maxRecords = MaxRecords
	}
	if cfg.queue <= 0 {
		cfg.queue = defaultQueue
	}

	return &Controller{
		hw:    hw,
		cfg:   cfg,
		msg:   cfg.msg,
		state: Unconfigured,
		stats: newReadStats(),
	}
}

// State returns the current state of the controller.
func (ctl *Controller) State() State {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.state
}

// Sweeps returns the number of sweeps finalized during the session.
func (ctl *Controller) Sweeps() int {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.sweeps
}

// Session returns the identifier of the current session.
func (ctl *Controller) Session() uuid.UUID {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.session
}

// Config returns the configuration of the current session.
func (ctl *Controller) Config() Config {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.acfg
}

// Err returns the diagnostic of a controller in the Error state.
func (ctl *Controller) Err() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.err
}

// Snapshot returns a copy of the cumulative histogram.
func (ctl *Controller) Snapshot() hist.Snapshot {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.acc == nil {
		return hist.Snapshot{}
	}
	return ctl.acc.Snapshot()
}

// ReadStats returns the FIFO read statistics of the current session.
func (ctl *Controller) ReadStats() ReadStats {
	return ctl.stats.stats()
}

// Configure sets up a new acquisition session.
// Configure is only valid from the Unconfigured and Stopped states.
func (ctl *Controller) Configure(cfg Config) error {
	ctl.ctl.Lock()
	defer ctl.ctl.Unlock()

	err := cfg.Validate()
	if err != nil {
		return err
	}

	ctl.mu.Lock()
	state := ctl.state
	ctl.mu.Unlock()

	switch state {
	case Unconfigured, Stopped:
	default:
		return fmt.Errorf("%w: could not configure from state %v", ErrInvalidState, state)
	}

	err = ctl.cfg.layout.Validate()
	if err != nil {
		return fmt.Errorf("acq: could not configure layout: %w", err)
	}

	acc, err := hist.New(cfg.BinWidth, cfg.RecordLength)
	if err != nil {
		return fmt.Errorf("acq: could not create histogram: %w", err)
	}

	name := ctl.hw.Name()
	err = claim(name, ctl)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			release(name, ctl)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), ctl.cfg.readTimeout)
	defer cancel()
	err = ctl.hw.Configure(ctx, ctl.cfg.layout)
	if err != nil {
		return fmt.Errorf("acq: could not configure hardware %q: %w", name, err)
	}

	ctl.stats.reset()

	ctl.mu.Lock()
	ctl.state = Configured
	ctl.acfg = cfg
	ctl.session = uuid.New()
	ctl.sweeps = 0
	ctl.acc = acc
	ctl.ofl.Reset()
	ctl.sweep.Reset(0)
	ctl.err = nil
	ctl.claimed = true
	ctl.mu.Unlock()

	ctl.msg.Printf(
		"session %v: configured (channel=%q, mode=%v, bin=%d ps, record=%d ps, gates=%d, sweeps=%d)",
		ctl.session, name, ctl.cfg.layout.Mode,
		cfg.BinWidth, cfg.RecordLength, cfg.Gates, cfg.MaxSweeps,
	)

	return nil
}

// Start launches the acquisition loop.
// Start is valid from the Configured and Paused states.
func (ctl *Controller) Start() error {
	ctl.ctl.Lock()
	defer ctl.ctl.Unlock()

	return ctl.start(Configured, Paused)
}

// Continue resumes a paused acquisition.
func (ctl *Controller) Continue() error {
	ctl.ctl.Lock()
	defer ctl.ctl.Unlock()

	return ctl.start(Paused)
}

func (ctl *Controller) start(from ...State) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	ok := false
	for _, st := range from {
		if ctl.state == st {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: could not start from state %v", ErrInvalidState, ctl.state)
	}

	if ctl.sweeps >= ctl.acfg.MaxSweeps {
		return fmt.Errorf("%w: sweep budget exhausted (sweeps=%d)", ErrInvalidState, ctl.sweeps)
	}

	lp := newLoop()
	ctl.loop = lp
	ctl.state = Running
	go ctl.run(lp, ctl.acfg)

	ctl.msg.Printf("session %v: running (sweeps=%d/%d)", ctl.session, ctl.sweeps, ctl.acfg.MaxSweeps)
	return nil
}

// Pause halts a running acquisition.
// The sweep being acquired is discarded.
func (ctl *Controller) Pause() error {
	ctl.ctl.Lock()
	defer ctl.ctl.Unlock()

	ctl.mu.Lock()
	if ctl.state != Running {
		state := ctl.state
		ctl.mu.Unlock()
		return fmt.Errorf("%w: could not pause from state %v", ErrInvalidState, state)
	}
	lp := ctl.loop
	ctl.mu.Unlock()

	err := ctl.halt(lp)
	if err != nil {
		return err
	}

	ctl.mu.Lock()
	state := ctl.state
	ctl.mu.Unlock()
	if state == Stopped {
		// all sweeps acquired: the channel was already released.
		return fmt.Errorf("%w: could not pause from state %v", ErrInvalidState, state)
	}

	err = ctl.stopSweep()

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	switch ctl.state {
	case Running:
		ctl.state = Paused
		ctl.acc.Discard()
		ctl.msg.Printf("session %v: paused (sweeps=%d/%d)", ctl.session, ctl.sweeps, ctl.acfg.MaxSweeps)
	case Error:
		return fmt.Errorf("acq: error during acquisition: %w", ctl.err)
	}

	if err != nil {
		return fmt.Errorf("acq: could not pause hardware: %w", err)
	}
	return nil
}

// Stop halts any acquisition, releases the hardware channel and resets
// the sweep counter and the transient sweep buffers.
// The cumulative histogram is kept until the next Configure.
// Stop is valid from any state and may be called multiple times.
func (ctl *Controller) Stop() error {
	ctl.ctl.Lock()
	defer ctl.ctl.Unlock()

	ctl.mu.Lock()
	lp := ctl.loop
	ctl.mu.Unlock()

	if lp != nil {
		err := ctl.halt(lp)
		if err != nil {
			return err
		}
	}

	ctl.mu.Lock()
	claimed := ctl.claimed
	ctl.mu.Unlock()

	var err error
	if claimed {
		err = ctl.stopSweep()
		release(ctl.hw.Name(), ctl)
	}

	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.state != Stopped {
		ctl.msg.Printf("session %v: stopped (state=%v, sweeps=%d)", ctl.session, ctl.state, ctl.sweeps)
	}
	ctl.state = Stopped
	ctl.loop = nil
	ctl.claimed = false
	ctl.sweeps = 0
	ctl.ofl.Reset()
	ctl.sweep.Reset(0)
	if ctl.acc != nil {
		ctl.acc.Discard()
	}

	if err != nil {
		return fmt.Errorf("acq: could not stop hardware: %w", err)
	}
	return nil
}

// Wait blocks until the acquisition loop exits or the context is done.
func (ctl *Controller) Wait(ctx context.Context) error {
	ctl.mu.Lock()
	lp := ctl.loop
	ctl.mu.Unlock()

	if lp == nil {
		return nil
	}

	select {
	case <-lp.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ctl *Controller) halt(lp *loop) error {
	lp.stop()

	timeout := ctl.cfg.stopTimeout
	tck := time.NewTimer(timeout)
	defer tck.Stop()

	select {
	case <-lp.done:
		return nil
	case <-tck.C:
		return fmt.Errorf("acq: could not stop acquisition loop (timeout=%v)", timeout)
	}
}

func (ctl *Controller) stopSweep() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctl.cfg.readTimeout)
	defer cancel()
	return ctl.hw.StopSweep(ctx)
}

type loop struct {
	once sync.Once
	quit chan struct{} // closed to request the loop to exit
	done chan struct{} // closed once the loop exited
}

func newLoop() *loop {
	return &loop{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (lp *loop) stop() {
	lp.once.Do(func() { close(lp.quit) })
}

func (lp *loop) quitting() bool {
	select {
	case <-lp.quit:
		return true
	default:
		return false
	}
}

type msgKind uint8

const (
	msgBegin msgKind = iota // hardware sweep started
	msgData                 // raw records
	msgEnd                  // hardware sweep ended
)

type message struct {
	kind msgKind
	recs []uint32
}

func (ctl *Controller) run(lp *loop, cfg Config) {
	defer close(lp.done)

	var (
		grp   errgroup.Group
		queue = make(chan message, ctl.cfg.queue)
		rearm = make(chan bool, 1)
	)

	grp.Go(func() error {
		defer close(queue)
		return ctl.reader(lp, cfg, queue, rearm)
	})
	grp.Go(func() error {
		return ctl.analyzer(lp, cfg, queue, rearm)
	})

	err := grp.Wait()

	ctl.mu.Lock()
	var (
		session = ctl.session
		sweeps  = ctl.sweeps
		done    = sweeps >= cfg.MaxSweeps
	)
	if err != nil {
		ctl.state = Error
		ctl.err = err
		ctl.msg.Printf("session %v: %+v", session, err)
	}
	ctl.mu.Unlock()

	if err != nil || !done {
		return
	}

	// the hardware is stopped and released while the state is still
	// Running: a caller observing Stopped may claim the channel again.
	ctl.msg.Printf("session %v: all %d sweeps acquired", session, sweeps)
	err = ctl.stopSweep()
	if err != nil {
		ctl.msg.Printf("session %v: could not stop hardware: %+v", session, err)
	}
	release(ctl.hw.Name(), ctl)

	ctl.mu.Lock()
	ctl.claimed = false
	ctl.state = Stopped
	ctl.mu.Unlock()
}

// reader acquires hardware sweeps and sends their records down the queue.
func (ctl *Controller) reader(lp *loop, cfg Config, queue chan<- message, rearm <-chan bool) error {
	send := func(m message) bool {
		select {
		case queue <- m:
			return true
		case <-lp.quit:
			return false
		}
	}

	poll := time.NewTicker(ctl.cfg.pollInterval)
	defer poll.Stop()

	buf := make([]uint32, ctl.cfg.maxRecords)
	for {
		if lp.quitting() {
			return nil
		}

		err := ctl.startSweep(cfg.sweepDuration())
		if err != nil {
			return err
		}
		if !send(message{kind: msgBegin}) {
			return nil
		}

	sweep:
		for {
			if lp.quitting() {
				return nil
			}

			n, err := ctl.read(buf)
			if err != nil {
				return err
			}
			if n > 0 {
				if !send(message{kind: msgData, recs: buf[:n]}) {
					return nil
				}
				// buf[:n] is owned by the analyzer now.
				buf = make([]uint32, ctl.cfg.maxRecords)
				continue
			}

			status, err := ctl.status()
			if err != nil {
				return err
			}
			switch status {
			case Idle:
				break sweep
			case Fault:
				return fmt.Errorf("acq: hardware %q reported a fault", ctl.hw.Name())
			}

			// busy with an empty FIFO.
			select {
			case <-poll.C:
			case <-lp.quit:
				return nil
			}
		}

		if !send(message{kind: msgEnd}) {
			return nil
		}

		select {
		case more := <-rearm:
			if !more {
				return nil
			}
		case <-lp.quit:
			return nil
		}
	}
}

func (ctl *Controller) startSweep(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), ctl.cfg.readTimeout)
	defer cancel()

	err := ctl.hw.StartSweep(ctx, d)
	if err != nil {
		return fmt.Errorf("acq: could not start sweep: %w", ctl.timeout(err))
	}
	return nil
}

func (ctl *Controller) read(buf []uint32) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctl.cfg.readTimeout)
	defer cancel()

	beg := time.Now()
	n, err := ctl.hw.ReadEvents(ctx, buf)
	ctl.stats.record(time.Since(beg), n, n == len(buf))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("acq: could not read FIFO: %w", ctl.timeout(err))
	}
	if n == len(buf) {
		ctl.msg.Printf("FIFO read filled the whole buffer (n=%d): possible overrun", n)
	}
	return n, nil
}

func (ctl *Controller) status() (Status, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctl.cfg.readTimeout)
	defer cancel()

	st, err := ctl.hw.Status(ctx)
	if err != nil {
		return Fault, fmt.Errorf("acq: could not get hardware status: %w", ctl.timeout(err))
	}
	return st, nil
}

func (ctl *Controller) timeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w (timeout=%v): %v", ErrHardwareTimeout, ctl.cfg.readTimeout, err)
	}
	return err
}

// analyzer decodes the records of each sweep and accumulates them.
// At most one sweep is finalized per hardware sweep.
func (ctl *Controller) analyzer(lp *loop, cfg Config, queue <-chan message, rearm chan<- bool) error {
	var (
		lay  = ctl.cfg.layout
		done bool // current hardware sweep already finalized
		evt  tttr.Event
	)

	for m := range queue {
		switch m.kind {
		case msgBegin:
			ctl.mu.Lock()
			ctl.ofl.Reset()
			ctl.sweep.Reset(ctl.sweeps)
			ctl.acc.ResetSweep()
			ctl.mu.Unlock()
			done = false

		case msgData:
			if done {
				continue
			}
			var snap *hist.Snapshot
			ctl.mu.Lock()
			dec := tttr.NewDecoder(lay, m.recs, &ctl.ofl, &ctl.sweep)
			for {
				err := dec.Decode(&evt)
				if err != nil {
					break // io.EOF
				}
				ctl.acc.Ingest(evt)
				if evt.Kind == tttr.SyncMarker && evt.Edge == tttr.Close {
					s := ctl.finalize(evt.Time, true)
					snap = &s
					done = true
					break
				}
			}
			ctl.mu.Unlock()
			if snap != nil {
				ctl.notify(*snap)
			}

		case msgEnd:
			if !done {
				ctl.mu.Lock()
				ctl.msg.Printf(
					"session %v: sweep %d ended without closing sync marker (incomplete sweep)",
					ctl.session, ctl.sweep.Index,
				)
				snap := ctl.finalize(0, false)
				ctl.mu.Unlock()
				ctl.notify(snap)
				done = true
			}

			ctl.mu.Lock()
			more := ctl.sweeps < cfg.MaxSweeps
			ctl.mu.Unlock()
			rearm <- more && !lp.quitting()
		}
	}

	return nil
}

// finalize closes the current sweep. ctl.mu must be held.
func (ctl *Controller) finalize(finish int64, ok bool) hist.Snapshot {
	snap := ctl.acc.FinalizeSweep(finish, ok)
	ctl.sweeps++
	return snap
}

func (ctl *Controller) notify(snap hist.Snapshot) {
	if ctl.cfg.hook == nil {
		return
	}
	ctl.cfg.hook(snap)
}
