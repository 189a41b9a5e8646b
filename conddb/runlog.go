// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunLog describes a completed acquisition session.
type RunLog struct {
	ID       uuid.UUID `json:"id"` // session identifier
	Preset   string    `json:"preset"`
	Sweeps   int       `json:"sweeps"`
	Degraded int       `json:"degraded"` // number of sweeps without closing sync marker
	Start    time.Time `json:"start"`
	Stop     time.Time `json:"stop"`
	Status   string    `json:"status"` // final state of the controller
}

// InsertRun records a run in the run log.
func (db *DB) InsertRun(ctx context.Context, run RunLog) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO runs (id, preset, sweeps, degraded, start, stop, status) VALUES (?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Preset, run.Sweeps, run.Degraded,
		run.Start.UTC(), run.Stop.UTC(), run.Status,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not insert run %v: %w", run.ID, err)
	}

	return nil
}

// Runs returns the logged runs, most recent first.
func (db *DB) Runs(ctx context.Context) ([]RunLog, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(
		ctx,
		"SELECT id, preset, sweeps, degraded, start, stop, status FROM runs ORDER BY start DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not run runs query: %w", err)
	}
	defer rows.Close()

	var runs []RunLog
	for rows.Next() {
		var run RunLog
		err = rows.Scan(
			&run.ID, &run.Preset, &run.Sweeps, &run.Degraded,
			&run.Start, &run.Stop, &run.Status,
		)
		if err != nil {
			return runs, fmt.Errorf("conddb: could not scan row %d for runs: %w", len(runs), err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("conddb: could not scan db for runs: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return runs, fmt.Errorf("conddb: context error while retrieving runs: %w", err)
	}

	return runs, nil
}
