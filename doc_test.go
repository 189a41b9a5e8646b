// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package odmr

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		vers string
		sum  string
	}{
		{
			name: "nil",
		},
		{
			name: "no-dep",
			info: &debug.BuildInfo{},
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{Path: "golang.org/x/sync", Version: "v0.1.0"},
					{Path: "github.com/go-lpc/odmr", Version: "v0.3.0", Sum: "h1:xyz"},
				},
			},
			vers: "v0.3.0",
			sum:  "h1:xyz",
		},
		{
			name: "replace-version",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: "github.com/go-lpc/odmr", Version: "v0.3.0",
						Replace: &debug.Module{Version: "v0.3.1", Sum: "h1:abc"},
					},
				},
			},
			vers: "v0.3.1",
			sum:  "h1:abc",
		},
		{
			name: "replace-local",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: "github.com/go-lpc/odmr", Version: "v0.3.0",
						Replace: &debug.Module{Path: "../odmr"},
					},
				},
			},
			vers: "../odmr",
		},
		{
			name: "replace-path-version",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: "github.com/go-lpc/odmr", Version: "v0.3.0",
						Replace: &debug.Module{Path: "example.org/odmr", Version: "v1.0.0"},
					},
				},
			},
			vers: "example.org/odmr v1.0.0",
		},
		{
			name: "replace-empty",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: "github.com/go-lpc/odmr", Version: "v0.3.0",
						Replace: &debug.Module{},
					},
				},
			},
			vers: "v0.3.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.info)
			if got, want := vers, tc.vers; got != want {
				t.Fatalf("invalid version: got=%q, want=%q", got, want)
			}
			if got, want := sum, tc.sum; got != want {
				t.Fatalf("invalid checksum: got=%q, want=%q", got, want)
			}
		})
	}
}
