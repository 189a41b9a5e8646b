// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and configuration
// database of the ODMR setup: acquisition presets, pulse scan presets and
// the log of acquisition runs.
package conddb // import "github.com/go-lpc/odmr/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"

	timeout = 5 * time.Second
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve conditions data
// and configuration data from the ODMR database.
type DB struct {
	db   *sql.DB
	name string // name of the ODMR database
}

// Open opens a connection to the ODMR database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

// Name returns the name of the database.
func (db *DB) Name() string { return db.name }

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

const (
	acqPresetCols = "name, mode, resolution, sync_period, bin_width, record_length, gates, max_sweeps"

	pulsePresetCols = "name, kind, start, stop, points, log, repeats, channel, " +
		"frequency, power, threshold, signal_window, reference_window, peak_window"
)

// LastAcqPreset returns the most recently created acquisition preset.
func (db *DB) LastAcqPreset(ctx context.Context) (AcqPreset, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT "+acqPresetCols+" FROM acq_presets ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return AcqPreset{}, fmt.Errorf("conddb: could not query last acquisition preset: %w", err)
	}
	defer rows.Close()

	ps, err := scanAcqPresets(ctx, rows)
	if err != nil {
		return AcqPreset{}, err
	}
	if len(ps) == 0 {
		return AcqPreset{}, fmt.Errorf("conddb: no acquisition preset in %q db", db.name)
	}
	return ps[0], nil
}

// AcqPresetByName returns the acquisition preset with the provided name.
func (db *DB) AcqPresetByName(ctx context.Context, name string) (AcqPreset, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT "+acqPresetCols+" FROM acq_presets WHERE name=? ORDER BY datetime DESC LIMIT 1",
		name,
	)
	if err != nil {
		return AcqPreset{}, fmt.Errorf("conddb: could not query acquisition preset %q: %w", name, err)
	}
	defer rows.Close()

	ps, err := scanAcqPresets(ctx, rows)
	if err != nil {
		return AcqPreset{}, err
	}
	if len(ps) == 0 {
		return AcqPreset{}, fmt.Errorf("conddb: no acquisition preset %q", name)
	}
	return ps[0], nil
}

// AcqPresets returns all the acquisition presets.
func (db *DB) AcqPresets(ctx context.Context) ([]AcqPreset, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, "SELECT "+acqPresetCols+" FROM acq_presets")
	if err != nil {
		return nil, fmt.Errorf("conddb: could not run acquisition presets query: %w", err)
	}
	defer rows.Close()

	return scanAcqPresets(ctx, rows)
}

func scanAcqPresets(ctx context.Context, rows *sql.Rows) ([]AcqPreset, error) {
	var ps []AcqPreset
	for rows.Next() {
		var p AcqPreset
		err := rows.Scan(
			&p.Name, &p.Mode, &p.Resolution, &p.SyncPeriod,
			&p.BinWidth, &p.RecordLength, &p.Gates, &p.MaxSweeps,
		)
		if err != nil {
			return ps, fmt.Errorf("conddb: could not scan row %d for acquisition preset: %w", len(ps), err)
		}
		ps = append(ps, p)
	}

	if err := rows.Err(); err != nil {
		return ps, fmt.Errorf("conddb: could not scan db for acquisition presets: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return ps, fmt.Errorf("conddb: context error while retrieving acquisition presets: %w", err)
	}

	return ps, nil
}

// PulsePresets returns all the pulse scan presets.
func (db *DB) PulsePresets(ctx context.Context) ([]PulsePreset, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, "SELECT "+pulsePresetCols+" FROM pulse_presets")
	if err != nil {
		return nil, fmt.Errorf("conddb: could not run pulse presets query: %w", err)
	}
	defer rows.Close()

	return scanPulsePresets(ctx, rows)
}

// PulsePresetByName returns the pulse scan preset with the provided name.
func (db *DB) PulsePresetByName(ctx context.Context, name string) (PulsePreset, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT "+pulsePresetCols+" FROM pulse_presets WHERE name=? LIMIT 1",
		name,
	)
	if err != nil {
		return PulsePreset{}, fmt.Errorf("conddb: could not query pulse preset %q: %w", name, err)
	}
	defer rows.Close()

	ps, err := scanPulsePresets(ctx, rows)
	if err != nil {
		return PulsePreset{}, err
	}
	if len(ps) == 0 {
		return PulsePreset{}, fmt.Errorf("conddb: no pulse preset %q", name)
	}
	return ps[0], nil
}

func scanPulsePresets(ctx context.Context, rows *sql.Rows) ([]PulsePreset, error) {
	var ps []PulsePreset
	for rows.Next() {
		var p PulsePreset
		err := rows.Scan(
			&p.Name, &p.Kind, &p.Start, &p.Stop, &p.Points, &p.Log,
			&p.Repeats, &p.Channel, &p.Frequency, &p.Power,
			&p.Threshold, &p.Signal, &p.Reference, &p.PeakWindow,
		)
		if err != nil {
			return ps, fmt.Errorf("conddb: could not scan row %d for pulse preset: %w", len(ps), err)
		}
		ps = append(ps, p)
	}

	if err := rows.Err(); err != nil {
		return ps, fmt.Errorf("conddb: could not scan db for pulse presets: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return ps, fmt.Errorf("conddb: context error while retrieving pulse presets: %w", err)
	}

	return ps, nil
}
