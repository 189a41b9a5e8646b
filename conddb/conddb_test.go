// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"database/sql/driver"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/odmr/acq"
	"github.com/go-lpc/odmr/internal/fakedb"
	"github.com/go-lpc/odmr/pulse"
	"github.com/go-lpc/odmr/tttr"
	"github.com/google/uuid"
)

func init() {
	drvName = "fakedb"
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open conddb: %+v", err)
	}
	return db
}

func TestOpen(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if got, want := db.Name(), "fakedb"; got != want {
		t.Fatalf("invalid db name: got=%q, want=%q", got, want)
	}
}

func TestDSN(t *testing.T) {
	got := dsn("odmr")
	want := "username:s3cr3t@tcp(localhost)/odmr?parseTime=true"
	if got != want {
		t.Fatalf("invalid dsn: got=%q, want=%q", got, want)
	}
}

var acqPresetNames = []string{
	"name", "mode", "resolution", "sync_period",
	"bin_width", "record_length", "gates", "max_sweeps",
}

func acqPresetRow(p AcqPreset) []driver.Value {
	return []driver.Value{
		p.Name, p.Mode, p.Resolution, p.SyncPeriod,
		p.BinWidth, p.RecordLength, int64(p.Gates), int64(p.MaxSweeps),
	}
}

func TestAcqPresets(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	want := []AcqPreset{
		{
			Name: "lifetime-t2", Mode: "t2", Resolution: 4,
			BinWidth: 100, RecordLength: 100000, Gates: 0, MaxSweeps: 1000,
		},
		{
			Name: "lifetime-t3", Mode: "t3", Resolution: 25, SyncPeriod: 12500,
			BinWidth: 25, RecordLength: 12500, Gates: 2, MaxSweeps: 50,
		},
	}

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  acqPresetNames,
		Values: [][]driver.Value{acqPresetRow(want[0]), acqPresetRow(want[1])},
	}, func(ctx context.Context) error {
		got, err := db.AcqPresets(ctx)
		if err != nil {
			t.Fatalf("could not retrieve acquisition presets: %+v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid presets:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  acqPresetNames,
		Values: [][]driver.Value{acqPresetRow(want[1])},
	}, func(ctx context.Context) error {
		got, err := db.LastAcqPreset(ctx)
		if err != nil {
			t.Fatalf("could not retrieve last acquisition preset: %+v", err)
		}
		if !reflect.DeepEqual(got, want[1]) {
			t.Fatalf("invalid preset:\ngot= %#v\nwant=%#v", got, want[1])
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  acqPresetNames,
		Values: [][]driver.Value{acqPresetRow(want[0])},
	}, func(ctx context.Context) error {
		got, err := db.AcqPresetByName(ctx, "lifetime-t2")
		if err != nil {
			t.Fatalf("could not retrieve acquisition preset: %+v", err)
		}
		if !reflect.DeepEqual(got, want[0]) {
			t.Fatalf("invalid preset:\ngot= %#v\nwant=%#v", got, want[0])
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: acqPresetNames,
	}, func(ctx context.Context) error {
		_, err := db.AcqPresetByName(ctx, "missing")
		if err == nil {
			t.Fatalf("expected an error for a missing preset")
		}
		return nil
	})
}

func TestAcqPresetConfig(t *testing.T) {
	for _, tc := range []struct {
		name   string
		preset AcqPreset
		layout tttr.Layout
		err    bool
	}{
		{
			name:   "t2",
			preset: AcqPreset{Name: "t2", Mode: "t2", Resolution: 4},
			layout: tttr.T2Layout(4),
		},
		{
			name:   "t3",
			preset: AcqPreset{Name: "t3", Mode: "T3", Resolution: 25, SyncPeriod: 12500},
			layout: tttr.T3Layout(25, 12500),
		},
		{
			name:   "t3-no-sync",
			preset: AcqPreset{Name: "t3", Mode: "t3", Resolution: 25},
			err:    true,
		},
		{
			name:   "bad-mode",
			preset: AcqPreset{Name: "t4", Mode: "t4", Resolution: 25},
			err:    true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lay, err := tc.preset.Layout()
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not build layout: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error")
			case err != nil:
				return
			}
			if got, want := lay, tc.layout; got != want {
				t.Fatalf("invalid layout: got=%+v, want=%+v", got, want)
			}
		})
	}

	p := AcqPreset{BinWidth: 10, RecordLength: 100, Gates: 1, MaxSweeps: 3}
	want := acq.Config{BinWidth: 10, RecordLength: 100, Gates: 1, MaxSweeps: 3}
	if got := p.Config(); got != want {
		t.Fatalf("invalid config: got=%+v, want=%+v", got, want)
	}
}

func TestPulsePresets(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	want := []PulsePreset{
		{
			Name: "t1", Kind: "T1", Start: 1e-6, Stop: 1e-3, Points: 40, Log: true,
			Repeats: 25, Channel: 1, Threshold: 0.5, Signal: 1e-6, Reference: 1e-6,
		},
		{
			Name: "rabi", Kind: "Rabi", Start: 0, Stop: 1e-6, Points: 20,
			Repeats: 25, Channel: 1, Frequency: 2.87e9, Power: -10,
			Threshold: 0.5, Signal: 3e-7, Reference: 1e-6, PeakWindow: 50,
		},
	}

	row := func(p PulsePreset) []driver.Value {
		return []driver.Value{
			p.Name, p.Kind, p.Start, p.Stop, int64(p.Points), p.Log,
			int64(p.Repeats), int64(p.Channel), p.Frequency, p.Power,
			p.Threshold, p.Signal, p.Reference, int64(p.PeakWindow),
		}
	}
	names := strings.Split(strings.ReplaceAll(pulsePresetCols, " ", ""), ",")

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  names,
		Values: [][]driver.Value{row(want[0]), row(want[1])},
	}, func(ctx context.Context) error {
		got, err := db.PulsePresets(ctx)
		if err != nil {
			t.Fatalf("could not retrieve pulse presets: %+v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid presets:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  names,
		Values: [][]driver.Value{row(want[1])},
	}, func(ctx context.Context) error {
		got, err := db.PulsePresetByName(ctx, "rabi")
		if err != nil {
			t.Fatalf("could not retrieve pulse preset: %+v", err)
		}
		if !reflect.DeepEqual(got, want[1]) {
			t.Fatalf("invalid preset:\ngot= %#v\nwant=%#v", got, want[1])
		}

		scan := got.Scan()
		if err := scan.Validate(); err != nil {
			t.Fatalf("invalid scan: %+v", err)
		}
		if got, want := scan.Params, (pulse.Params{Threshold: 0.5, Signal: 3e-7, Reference: 1e-6, PeakWindow: 50}); got != want {
			t.Fatalf("invalid scan params: got=%+v, want=%+v", got, want)
		}
		return nil
	})
}

func TestRunLog(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	var (
		beg = time.Date(2020, 6, 1, 10, 0, 0, 0, time.UTC)
		end = beg.Add(5 * time.Minute)
		run = RunLog{
			ID:       uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
			Preset:   "lifetime-t2",
			Sweeps:   1000,
			Degraded: 2,
			Start:    beg,
			Stop:     end,
			Status:   "stopped",
		}
	)

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.InsertRun(ctx, run)
		if err != nil {
			t.Fatalf("could not insert run: %+v", err)
		}

		execs := fakedb.Execs()
		if got, want := len(execs), 1; got != want {
			t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
		}
		if !strings.HasPrefix(execs[0].Query, "INSERT INTO runs") {
			t.Fatalf("invalid statement: %q", execs[0].Query)
		}
		want := []driver.Value{
			run.ID.String(), "lifetime-t2", int64(1000), int64(2), beg, end, "stopped",
		}
		if got := execs[0].Args; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid statement arguments:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"id", "preset", "sweeps", "degraded", "start", "stop", "status"},
		Values: [][]driver.Value{
			{run.ID.String(), run.Preset, int64(run.Sweeps), int64(run.Degraded), beg, end, run.Status},
		},
	}, func(ctx context.Context) error {
		runs, err := db.Runs(ctx)
		if err != nil {
			t.Fatalf("could not retrieve runs: %+v", err)
		}
		if got, want := runs, []RunLog{run}; !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid runs:\ngot= %#v\nwant=%#v", got, want)
		}
		return nil
	})
}

func TestQueryContext(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	const query = "SELECT name FROM acq_presets"

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  []string{"name"},
		Values: [][]driver.Value{{"lifetime-t2"}},
	}, func(ctx context.Context) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			t.Fatalf("could not execute query %q: %+v", query, err)
		}
		defer rows.Close()

		var name string
		for rows.Next() {
			err = rows.Scan(&name)
			if err != nil {
				t.Fatalf("could not scan name: %+v", err)
			}
		}

		if err := rows.Err(); err != nil {
			t.Fatalf("could not scan name: %+v", err)
		}

		if got, want := name, "lifetime-t2"; got != want {
			t.Fatalf("invalid preset name: got=%q, want=%q", got, want)
		}
		return nil
	})
}
