// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command odmr-acq runs a standalone sweep acquisition and writes the
// resulting time histogram in the YODA format.
//
// The acquisition is described by a YAML configuration file or by a
// preset stored in the condition database.
//
// Usage: odmr-acq [OPTIONS]
//
// Example:
//
//	$> odmr-acq -cfg ./testdata/lifetime.yaml -o lifetime.yoda
//	$> odmr-acq -db odmr -preset lifetime-t2 -replay ./run-0001.raw -o out.yoda
package main // import "github.com/go-lpc/odmr/cmd/odmr-acq"

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/odmr"
	"github.com/go-lpc/odmr/acq"
	"github.com/go-lpc/odmr/conddb"
	"github.com/go-lpc/odmr/hist"
	"github.com/go-lpc/odmr/internal/alert"
	"github.com/go-lpc/odmr/internal/fakedev"
	"github.com/go-lpc/odmr/tttr"
	"github.com/sbinet/pmon"
	"go-hep.org/x/hep/hbook/yodacnv"
	"gopkg.in/yaml.v3"
)

func main() {
	log.SetPrefix("odmr-acq: ")
	log.SetFlags(0)

	var (
		cfgName = flag.String("cfg", "", "path to a YAML acquisition configuration")
		dbName  = flag.String("db", "", "name of the condition database")
		preset  = flag.String("preset", "", "name of the acquisition preset (default: last preset)")
		replay  = flag.String("replay", "", "raw record dump to replay")
		oname   = flag.String("o", "out.yoda", "path to the output YODA file")
		doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
		freq    = flag.Duration("freq", 1*time.Second, "pmon frequency")
		doAlert = flag.Bool("alert", false, "send a mail alert on acquisition error")
	)

	flag.Parse()

	if v, _ := odmr.Version(); v != "" {
		log.Printf("odmr %s", v)
	}

	var (
		cfg Config
		db  *conddb.DB
		err error
	)

	switch {
	case *dbName != "":
		db, err = conddb.Open(*dbName)
		if err != nil {
			log.Fatalf("could not open condition db: %+v", err)
		}
		defer db.Close()

		cfg, err = fromDB(db, *preset)
		if err != nil {
			log.Fatalf("could not load acquisition preset: %+v", err)
		}
	case *cfgName != "":
		cfg, err = loadConfig(*cfgName)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
	default:
		flag.Usage()
		log.Fatalf("missing acquisition configuration (-cfg or -db)")
	}

	if *replay != "" {
		cfg.Replay = *replay
	}
	if cfg.Output == "" {
		cfg.Output = *oname
	}

	if *doMon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			log.Fatalf("could not start monitoring: %+v", err)
		}
		f, err := os.Create(cfg.Output + "-pmon.log")
		if err != nil {
			log.Fatalf("could not create pmon log file: %+v", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = *freq

		go func() {
			err := p.Run()
			if err != nil {
				log.Printf("could not run monitoring: %+v", err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring: %+v", err)
			}
		}()
	}

	env := environ{msg: log.Default()}
	if db != nil {
		env.runs = db
	}
	if *doAlert {
		env.alert = alert.FromEnv("[odmr-acq]")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err = run(ctx, cfg, env)
	if err != nil {
		log.Fatalf("could not run acquisition: %+v", err)
	}
}

// Config is the configuration of a standalone acquisition.
type Config struct {
	Preset     string     `yaml:"preset"`      // name recorded in the run log
	Mode       string     `yaml:"mode"`        // t2 or t3
	Resolution int64      `yaml:"resolution"`  // in ps
	SyncPeriod int64      `yaml:"sync-period"` // in ps, T3 only
	Acq        acq.Config `yaml:"acq"`
	Sim        Sim        `yaml:"sim"`
	Replay     string     `yaml:"replay"` // raw record dump to replay instead of simulating
	Output     string     `yaml:"output"` // output YODA file
}

// Sim describes the simulated channel.
type Sim struct {
	Photons  int     `yaml:"photons"`
	Lifetime float64 `yaml:"lifetime"` // in ps
	Seed     uint64  `yaml:"seed"`
}

func loadConfig(fname string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(fname)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	err = dec.Decode(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("could not decode config file %q: %w", fname, err)
	}
	return cfg, nil
}

type presetDB interface {
	LastAcqPreset(ctx context.Context) (conddb.AcqPreset, error)
	AcqPresetByName(ctx context.Context, name string) (conddb.AcqPreset, error)
}

func fromDB(db presetDB, name string) (Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		p   conddb.AcqPreset
		err error
	)
	switch name {
	case "":
		p, err = db.LastAcqPreset(ctx)
	default:
		p, err = db.AcqPresetByName(ctx, name)
	}
	if err != nil {
		return Config{}, err
	}

	return Config{
		Preset:     p.Name,
		Mode:       p.Mode,
		Resolution: p.Resolution,
		SyncPeriod: p.SyncPeriod,
		Acq:        p.Config(),
		Sim:        Sim{Photons: 500, Seed: 1234},
	}, nil
}

func (cfg Config) layout() (tttr.Layout, error) {
	return conddb.AcqPreset{
		Name:       cfg.Preset,
		Mode:       cfg.Mode,
		Resolution: cfg.Resolution,
		SyncPeriod: cfg.SyncPeriod,
	}.Layout()
}

type runLogger interface {
	InsertRun(ctx context.Context, run conddb.RunLog) error
}

type notifier interface {
	Send(subject, body string) error
}

// environ holds the optional collaborators of an acquisition.
type environ struct {
	msg   *log.Logger
	runs  runLogger
	alert notifier
}

func run(ctx context.Context, cfg Config, env environ) error {
	msg := env.msg
	if msg == nil {
		msg = log.New(io.Discard, "", 0)
	}

	lay, err := cfg.layout()
	if err != nil {
		return fmt.Errorf("invalid record layout: %w", err)
	}

	var hw acq.Hardware
	switch cfg.Replay {
	case "":
		hw = fakedev.NewChannel("odmr-acq", fakedev.Sim{
			RecordLength: cfg.Acq.RecordLength,
			Photons:      cfg.Sim.Photons,
			Lifetime:     cfg.Sim.Lifetime,
			FaultAt:      -1,
			Seed:         cfg.Sim.Seed,
		}, msg)
	default:
		rp, err := fakedev.NewReplay("odmr-acq", cfg.Replay)
		if err != nil {
			return fmt.Errorf("could not open replay: %w", err)
		}
		defer rp.Close()
		msg.Printf("replaying %d sweeps from %q", rp.Sweeps(), cfg.Replay)
		hw = rp
	}

	var (
		step = cfg.Acq.MaxSweeps / 10
		ctl  = acq.New(hw,
			acq.WithLogger(msg),
			acq.WithLayout(lay),
			acq.WithSweepHook(func(snap hist.Snapshot) {
				if step > 0 && snap.Sweeps%step == 0 {
					msg.Printf("sweep %d/%d...", snap.Sweeps, cfg.Acq.MaxSweeps)
				}
			}),
		)
	)

	err = ctl.Configure(cfg.Acq)
	if err != nil {
		return fmt.Errorf("could not configure acquisition: %w", err)
	}

	beg := time.Now()
	err = ctl.Start()
	if err != nil {
		return fmt.Errorf("could not start acquisition: %w", err)
	}
	msg.Printf("session %v: started (%v, sweeps=%d)", ctl.Session(), lay.Mode, cfg.Acq.MaxSweeps)

	err = ctl.Wait(ctx)
	if err != nil {
		msg.Printf("session %v: interrupted: %+v", ctl.Session(), err)
		e := ctl.Stop()
		if e != nil {
			msg.Printf("session %v: could not stop acquisition: %+v", ctl.Session(), e)
		}
	}
	end := time.Now()

	var (
		state = ctl.State()
		snap  = ctl.Snapshot()
	)
	msg.Printf("session %v: %v after %d sweeps (degraded=%d) in %v",
		ctl.Session(), state, snap.Sweeps, snap.DegradedSweeps, end.Sub(beg),
	)
	msg.Printf("session %v: %v", ctl.Session(), ctl.ReadStats())

	if state == acq.Error && env.alert != nil {
		e := env.alert.Send(
			"acquisition error",
			fmt.Sprintf("session: %v\npreset:  %s\nsweeps:  %d\nerror:   %+v\n",
				ctl.Session(), cfg.Preset, snap.Sweeps, ctl.Err(),
			),
		)
		if e != nil {
			msg.Printf("could not send alert: %+v", e)
		}
	}

	err = writeYODA(cfg.Output, cfg.Preset, ctl)
	if err != nil {
		return err
	}

	if env.runs != nil {
		e := env.runs.InsertRun(context.Background(), conddb.RunLog{
			ID:       ctl.Session(),
			Preset:   cfg.Preset,
			Sweeps:   snap.Sweeps,
			Degraded: snap.DegradedSweeps,
			Start:    beg,
			Stop:     end,
			Status:   state.String(),
		})
		if e != nil {
			return fmt.Errorf("could not log run: %w", e)
		}
	}

	if state == acq.Error {
		return fmt.Errorf("acquisition failed: %w", ctl.Err())
	}
	return nil
}

func writeYODA(oname, preset string, ctl *acq.Controller) error {
	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}
	defer f.Close()

	name := preset
	if name == "" {
		name = "sweeps"
	}

	h := ctl.Snapshot().H1D()
	h.Annotation()["name"] = "/odmr/" + name
	h.Annotation()["session"] = ctl.Session().String()

	err = yodacnv.Write(f, h)
	if err != nil {
		return fmt.Errorf("could not write histogram to YODA file: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	return nil
}
