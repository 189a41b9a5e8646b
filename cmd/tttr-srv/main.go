// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tttr-srv starts a TDAQ server driving a TTTR acquisition channel.
//
// The channel is either simulated or replays a raw record dump (-replay).
// Operators are alerted by mail when the acquisition enters the error state.
package main // import "github.com/go-lpc/odmr/cmd/tttr-srv"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/odmr/acq"
	"github.com/go-lpc/odmr/internal/alert"
	"github.com/go-lpc/odmr/internal/fakedev"
	"github.com/go-lpc/odmr/tttr"
)

func main() {
	var (
		mode    = flag.String("mode", "t2", "record mode (t2|t3)")
		res     = flag.Int64("res", 4, "time-tag (T2) or dtime (T3) resolution, in ps")
		sync    = flag.Int64("sync", 12500, "sync period (T3 only), in ps")
		replay  = flag.String("replay", "", "raw record dump to replay")
		rl      = flag.Int64("sim-rl", 2_000_000_000, "simulated sweep duration, in ps")
		photons = flag.Int("sim-photons", 500, "simulated number of photons per sweep")
		seed    = flag.Uint64("sim-seed", 1234, "simulation seed")
		freq    = flag.Duration("alert-freq", 5*time.Second, "acquisition state probing interval")
	)

	cmd := flags.New()

	name := "tttr-srv"
	if len(cmd.Args) > 0 {
		name = cmd.Args[0]
	}

	msg := log.New(os.Stdout, name+": ", 0)

	lay, err := layout(*mode, *res, *sync)
	if err != nil {
		msg.Fatalf("invalid record layout: %+v", err)
	}

	var hw acq.Hardware
	switch *replay {
	case "":
		hw = fakedev.NewChannel(name, fakedev.Sim{
			RecordLength: *rl,
			Photons:      *photons,
			Marker:       true,
			FaultAt:      -1,
			Seed:         *seed,
		}, msg)
	default:
		rp, err := fakedev.NewReplay(name, *replay)
		if err != nil {
			msg.Fatalf("could not open replay: %+v", err)
		}
		defer rp.Close()
		hw = rp
	}

	dev := acq.NewServer(hw, acq.WithLogger(msg), acq.WithLayout(lay))
	mon := alert.FromEnv("[" + name + "]")

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/hist", dev.OnHist)

	srv.RunHandle(func(ctx tdaq.Context) error {
		go watch(ctx.Ctx, dev.Controller(), mon, msg, *freq)
		return dev.Run(ctx)
	})

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func layout(mode string, res, sync int64) (tttr.Layout, error) {
	m, err := tttr.ParseMode(mode)
	if err != nil {
		return tttr.Layout{}, err
	}
	lay := tttr.T2Layout(res)
	if m == tttr.T3 {
		lay = tttr.T3Layout(res, sync)
	}
	return lay, lay.Validate()
}

type notifier interface {
	Send(subject, body string) error
}

// watch probes the controller state and notifies operators each time
// the acquisition enters the error state.
func watch(ctx context.Context, ctl *acq.Controller, n notifier, msg *log.Logger, freq time.Duration) {
	tck := time.NewTicker(freq)
	defer tck.Stop()

	alerted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-tck.C:
			if ctl.State() != acq.Error {
				alerted = false
				continue
			}
			if alerted {
				continue
			}
			alerted = true
			err := n.Send(
				"acquisition error",
				fmt.Sprintf("session: %v\nsweeps:  %d\nerror:   %+v\n",
					ctl.Session(), ctl.Sweeps(), ctl.Err(),
				),
			)
			if err != nil {
				msg.Printf("could not send alert: %+v", err)
			}
		}
	}
}
