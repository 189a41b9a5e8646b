// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/go-lpc/odmr/conddb"
	"github.com/go-lpc/odmr/pulse"
)

func TestRun(t *testing.T) {
	tmp, err := os.MkdirTemp("", "odmr-pulse-scan-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	fname := filepath.Join(tmp, "t1.yaml")
	err = os.WriteFile(fname, []byte(`kind: T1
start: 0
stop: 100e-6
points: 3
repeats: 10
channel: 1
params:
  threshold: 0.5
  signal: 8e-6
  reference: 20e-6
`), 0644)
	if err != nil {
		t.Fatalf("could not write scan file: %+v", err)
	}

	scan, err := loadScan(fname)
	if err != nil {
		t.Fatalf("could not load scan: %+v", err)
	}
	want := pulse.Scan{
		Kind: pulse.KindT1, Start: 0, Stop: 100e-6, Points: 3,
		Repeats: 10, Channel: 1,
		Params: pulse.Params{Threshold: 0.5, Signal: 8e-6, Reference: 20e-6},
	}
	if !reflect.DeepEqual(scan, want) {
		t.Fatalf("invalid scan:\ngot= %+v\nwant=%+v", scan, want)
	}

	out := new(strings.Builder)
	err = run(context.Background(), out, scan, instr{seed: 42, noise: 0, nproc: 2}, nil)
	if err != nil {
		t.Fatalf("could not run scan: %+v", err)
	}

	var (
		sc    = bufio.NewScanner(strings.NewReader(out.String()))
		lines []string
	)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if got, want := lines[0], "# kind=T1 points=3"; got != want {
		t.Fatalf("invalid header: got=%q, want=%q", got, want)
	}
	if got, want := len(lines), 4; got != want {
		t.Fatalf("invalid number of lines: got=%d, want=%d\n%s", got, want, out)
	}

	prev := 0.0
	for i, line := range lines[1:] {
		toks := strings.Fields(line)
		if len(toks) != 3 {
			t.Fatalf("line %d: invalid format %q", i, line)
		}
		if got, want := toks[2], "ok"; got != want {
			t.Fatalf("line %d: invalid flags: got=%q, want=%q", i, got, want)
		}
		ratio, err := strconv.ParseFloat(toks[1], 64)
		if err != nil {
			t.Fatalf("line %d: could not parse ratio: %+v", i, err)
		}
		if !(ratio > prev) {
			t.Fatalf("line %d: ratio not increasing (%g <= %g)", i, ratio, prev)
		}
		prev = ratio
	}
}

func TestRunInvalid(t *testing.T) {
	err := run(context.Background(), new(strings.Builder), pulse.Scan{Kind: "Rabi"}, instr{nproc: 1}, nil)
	if err == nil {
		t.Fatalf("expected an error for an invalid scan")
	}
}

type presets map[string]conddb.PulsePreset

func (db presets) PulsePresetByName(ctx context.Context, name string) (conddb.PulsePreset, error) {
	p, ok := db[name]
	if !ok {
		return p, fmt.Errorf("no preset %q", name)
	}
	return p, nil
}

func TestFromDB(t *testing.T) {
	rabi := conddb.PulsePreset{
		Name: "rabi", Kind: "Rabi", Start: 0, Stop: 1e-6, Points: 20,
		Repeats: 25, Channel: 1, Frequency: 2.87e9, Power: -10,
		Threshold: 0.5, Signal: 3e-7, Reference: 1e-6, PeakWindow: 50,
	}
	db := presets{rabi.Name: rabi}

	scan, err := fromDB(db, "rabi")
	if err != nil {
		t.Fatalf("could not load preset: %+v", err)
	}
	if got, want := scan, rabi.Scan(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid scan:\ngot= %+v\nwant=%+v", got, want)
	}

	_, err = fromDB(db, "ramsey")
	if err == nil {
		t.Fatalf("expected an error")
	}
}
