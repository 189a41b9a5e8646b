// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pulse-scan runs a pulsed measurement scan with simulated
// instruments and prints the resulting ratio curve.
//
// Usage: pulse-scan [OPTIONS]
//
// Example:
//
//	$> pulse-scan -cfg ./testdata/t1.yaml
//	# kind=T1 points=3
//	0 0.2833 ok
//	5e-05 0.3961 ok
//	0.0001 0.4027 ok
package main // import "github.com/go-lpc/odmr/cmd/pulse-scan"

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/go-lpc/odmr"
	"github.com/go-lpc/odmr/conddb"
	"github.com/go-lpc/odmr/internal/fakedev"
	"github.com/go-lpc/odmr/pulse"
	"gopkg.in/yaml.v3"
)

func main() {
	log.SetPrefix("pulse-scan: ")
	log.SetFlags(0)

	var (
		cfgName = flag.String("cfg", "", "path to a YAML scan configuration")
		dbName  = flag.String("db", "", "name of the condition database")
		preset  = flag.String("preset", "", "name of the pulse scan preset")
		seed    = flag.Uint64("seed", 1234, "simulation seed")
		noise   = flag.Float64("noise", 0.005, "simulated trace noise")
		nproc   = flag.Int("j", runtime.NumCPU(), "number of concurrent trace analyses")
	)

	flag.Parse()

	if v, _ := odmr.Version(); v != "" {
		log.Printf("odmr %s", v)
	}

	var (
		scan pulse.Scan
		err  error
	)
	switch {
	case *dbName != "":
		if *preset == "" {
			log.Fatalf("missing pulse scan preset name")
		}
		db, err := conddb.Open(*dbName)
		if err != nil {
			log.Fatalf("could not open condition db: %+v", err)
		}
		defer db.Close()

		scan, err = fromDB(db, *preset)
		if err != nil {
			log.Fatalf("could not load pulse scan preset: %+v", err)
		}
	case *cfgName != "":
		scan, err = loadScan(*cfgName)
		if err != nil {
			log.Fatalf("could not load scan configuration: %+v", err)
		}
	default:
		flag.Usage()
		log.Fatalf("missing scan configuration (-cfg or -db)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err = run(ctx, os.Stdout, scan, instr{seed: *seed, noise: *noise, nproc: *nproc}, log.Default())
	if err != nil {
		log.Fatalf("could not run scan: %+v", err)
	}
}

func loadScan(fname string) (pulse.Scan, error) {
	var scan pulse.Scan
	raw, err := os.ReadFile(fname)
	if err != nil {
		return scan, fmt.Errorf("could not read scan file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	err = dec.Decode(&scan)
	if err != nil {
		return scan, fmt.Errorf("could not decode scan file %q: %w", fname, err)
	}
	return scan, nil
}

type presetDB interface {
	PulsePresetByName(ctx context.Context, name string) (conddb.PulsePreset, error)
}

func fromDB(db presetDB, name string) (pulse.Scan, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := db.PulsePresetByName(ctx, name)
	if err != nil {
		return pulse.Scan{}, err
	}
	return p.Scan(), nil
}

// instr describes the simulated instruments.
type instr struct {
	seed  uint64
	noise float64
	nproc int
}

func run(ctx context.Context, w io.Writer, scan pulse.Scan, in instr, msg *log.Logger) error {
	if msg == nil {
		msg = log.New(io.Discard, "", 0)
	}

	var (
		seq   = new(fakedev.Sequencer)
		mw    = new(fakedev.Microwave)
		scope = fakedev.NewScope(seq, in.seed)
	)
	scope.Noise = in.noise

	beg := time.Now()
	curve, err := pulse.Run(ctx, seq, scope, mw, scan,
		pulse.WithLogger(msg),
		pulse.WithConcurrency(in.nproc),
	)
	if err != nil {
		return err
	}
	msg.Printf("scan %s: %d points in %v", curve.Kind, len(curve.Points), time.Since(beg))

	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	fmt.Fprintf(wbuf, "# kind=%s points=%d\n", curve.Kind, len(curve.Points))
	for _, p := range curve.Points {
		fmt.Fprintf(wbuf, "%g %.4g %v\n", p.Value, p.Result.Ratio, p.Result.Flags)
	}

	return wbuf.Flush()
}
