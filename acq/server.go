// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"bytes"
	"fmt"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/odmr/hist"
)

// Server exposes an acquisition controller as a TDAQ process.
//
// The /config command carries the bin width (u64, ps), the record
// length (u64, ps), the number of gates (u32) and the number of sweeps
// (u32). The /hist output publishes the cumulative histogram after each
// finalized sweep.
type Server struct {
	ctl   *Controller
	hists chan []byte
}

// NewServer creates a TDAQ server driving the provided hardware channel.
func NewServer(hw Hardware, opts ...Option) *Server {
	srv := &Server{
		hists: make(chan []byte, 64),
	}
	opts = append(opts, WithSweepHook(srv.publish))
	srv.ctl = New(hw, opts...)
	return srv
}

// Controller returns the underlying acquisition controller.
func (srv *Server) Controller() *Controller { return srv.ctl }

func (srv *Server) publish(snap hist.Snapshot) {
	buf, err := EncodeSnapshot(snap)
	if err != nil {
		srv.ctl.msg.Printf("could not encode histogram: %+v", err)
		return
	}
	select {
	case srv.hists <- buf:
	default:
		srv.ctl.msg.Printf("histogram queue full: dropping sweep %d", snap.Sweeps)
	}
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
	cfg := Config{
		BinWidth:     int64(dec.ReadU64()),
		RecordLength: int64(dec.ReadU64()),
		Gates:        int(dec.ReadU32()),
		MaxSweeps:    int(dec.ReadU32()),
	}
	if err := dec.Err(); err != nil {
		ctx.Msg.Errorf("could not decode /config payload: %+v", err)
		return fmt.Errorf("could not decode /config payload: %w", err)
	}

	err := srv.ctl.Configure(cfg)
	if err != nil {
		ctx.Msg.Errorf("could not configure acquisition: %+v", err)
		return fmt.Errorf("could not configure acquisition: %w", err)
	}
	ctx.Msg.Infof("session %v: configured", srv.ctl.Session())
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.ctl.Stop()
	if err != nil {
		ctx.Msg.Errorf("could not reset acquisition: %+v", err)
		return fmt.Errorf("could not reset acquisition: %w", err)
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := srv.ctl.Start()
	if err != nil {
		ctx.Msg.Errorf("could not start acquisition: %+v", err)
		return fmt.Errorf("could not start acquisition: %w", err)
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command... -> sweeps=%d", srv.ctl.Sweeps())
	if srv.ctl.State() != Running {
		return nil
	}
	err := srv.ctl.Pause()
	if err != nil && srv.ctl.State() == Stopped {
		// the last sweep completed concurrently.
		err = nil
	}
	if err != nil {
		ctx.Msg.Errorf("could not pause acquisition: %+v", err)
		return fmt.Errorf("could not pause acquisition: %w", err)
	}
	ctx.Msg.Infof("%v", srv.ctl.ReadStats())
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.ctl.Stop()
	if err != nil {
		ctx.Msg.Errorf("could not stop acquisition: %+v", err)
		return fmt.Errorf("could not stop acquisition: %w", err)
	}
	return nil
}

// OnHist publishes the next histogram snapshot.
func (srv *Server) OnHist(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
	case buf := <-srv.hists:
		dst.Body = buf
	}
	return nil
}

// Run blocks until the TDAQ run is over.
func (srv *Server) Run(ctx tdaq.Context) error {
	<-ctx.Ctx.Done()
	return nil
}

// EncodeSnapshot encodes a histogram snapshot into a TDAQ payload.
func EncodeSnapshot(snap hist.Snapshot) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(uint64(snap.Sweeps))
	enc.WriteU64(uint64(snap.DegradedSweeps))
	enc.WriteBool(snap.Degraded)
	enc.WriteU64(uint64(len(snap.Edges)))
	for _, v := range snap.Edges {
		enc.WriteI64(v)
	}
	for _, v := range snap.Counts {
		enc.WriteU64(v)
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("acq: could not encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot decodes a histogram snapshot from a TDAQ payload.
func DecodeSnapshot(p []byte) (hist.Snapshot, error) {
	var (
		snap hist.Snapshot
		dec  = tdaq.NewDecoder(bytes.NewReader(p))
	)
	snap.Sweeps = int(dec.ReadU64())
	snap.DegradedSweeps = int(dec.ReadU64())
	snap.Degraded = dec.ReadBool()
	nedges := dec.ReadU64()
	if err := dec.Err(); err != nil {
		return snap, fmt.Errorf("acq: could not decode snapshot header: %w", err)
	}
	// each edge but the last one comes with a count: 16 bytes per edge.
	if nedges < 2 || nedges > uint64(len(p)/16+1) {
		return snap, fmt.Errorf("acq: invalid number of bin edges (n=%d)", nedges)
	}
	n := int(nedges)
	snap.Edges = make([]int64, n)
	for i := range snap.Edges {
		snap.Edges[i] = dec.ReadI64()
	}
	snap.Counts = make([]uint64, n-1)
	for i := range snap.Counts {
		snap.Counts[i] = dec.ReadU64()
	}
	if err := dec.Err(); err != nil {
		return snap, fmt.Errorf("acq: could not decode snapshot: %w", err)
	}
	return snap, nil
}
