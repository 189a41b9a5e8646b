// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command odmr-sql inspects the acquisition presets, the pulse scan
// presets and the run log stored in the ODMR condition database.
package main // import "github.com/go-lpc/odmr/cmd/odmr-sql"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/odmr/conddb"
	_ "github.com/go-sql-driver/mysql"
)

const (
	dbname = "odmr"
)

func main() {
	log.SetPrefix("odmr-sql: ")
	log.SetFlags(0)

	var (
		name = flag.String("db", dbname, "name of the condition database")
		runs = flag.Int("runs", 10, "maximum number of logged runs to display")
	)

	flag.Parse()

	db, err := conddb.Open(*name)
	if err != nil {
		log.Fatalf("could not open ODMR db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *runs)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

type condDB interface {
	LastAcqPreset(ctx context.Context) (conddb.AcqPreset, error)
	AcqPresets(ctx context.Context) ([]conddb.AcqPreset, error)
	PulsePresets(ctx context.Context) ([]conddb.PulsePreset, error)
	Runs(ctx context.Context) ([]conddb.RunLog, error)
}

func doQuery(w io.Writer, db condDB, nruns int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last, err := db.LastAcqPreset(ctx)
	if err != nil {
		return fmt.Errorf("could not get last acquisition preset: %w", err)
	}
	fmt.Fprintf(w, "last acq-preset: %q\n", last.Name)

	acqs, err := db.AcqPresets(ctx)
	if err != nil {
		return fmt.Errorf("could not get acquisition presets: %w", err)
	}
	fmt.Fprintf(w, "acq-presets: %d\n", len(acqs))
	for i, p := range acqs {
		fmt.Fprintf(w, "row[%d]: name=%q mode=%s res=%d ps sync=%d ps bin=%d ps rl=%d ps gates=%d sweeps=%d\n",
			i, p.Name, p.Mode, p.Resolution, p.SyncPeriod,
			p.BinWidth, p.RecordLength, p.Gates, p.MaxSweeps,
		)
	}

	pulses, err := db.PulsePresets(ctx)
	if err != nil {
		return fmt.Errorf("could not get pulse presets: %w", err)
	}
	fmt.Fprintf(w, "pulse-presets: %d\n", len(pulses))
	for i, p := range pulses {
		fmt.Fprintf(w, "row[%d]: name=%q kind=%s range=[%g, %g] points=%d log=%v repeats=%d\n",
			i, p.Name, p.Kind, p.Start, p.Stop, p.Points, p.Log, p.Repeats,
		)
	}

	runs, err := db.Runs(ctx)
	if err != nil {
		return fmt.Errorf("could not get run log: %w", err)
	}
	fmt.Fprintf(w, "runs: %d\n", len(runs))
	if nruns >= 0 && len(runs) > nruns {
		runs = runs[:nruns]
	}
	for i, run := range runs {
		fmt.Fprintf(w, "row[%d]: id=%v preset=%q sweeps=%d degraded=%d start=%s dur=%v status=%s\n",
			i, run.ID, run.Preset, run.Sweeps, run.Degraded,
			run.Start.UTC().Format(time.RFC3339), run.Stop.Sub(run.Start), run.Status,
		)
	}

	return nil
}
