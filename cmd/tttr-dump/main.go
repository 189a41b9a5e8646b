// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// tttr-dump decodes and displays raw TTTR record dumps.
//
// Usage: tttr-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> tttr-dump -mode=t2 -res=4 ./testdata/run-0001.raw
//	=== file ./testdata/run-0001.raw (T2, res=4 ps) ===
//	sweep     0: finish= 2000000000 ps signals=   482 overflows=  2 markers=  1
//	sweep     1: finish= 2000000000 ps signals=   476 overflows=  2 markers=  1
//	[...]
//	records:          9984
//	sweeps:             10
//	signal-start:     4801
//	overflow:           20
//	marker:             10
package main // import "github.com/go-lpc/odmr/cmd/tttr-dump"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/odmr/internal/mmap"
	"github.com/go-lpc/odmr/tttr"
)

func main() {
	log.SetPrefix("tttr-dump: ")
	log.SetFlags(0)

	err := xmain(os.Stdout, os.Args[1:])
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func xmain(w io.Writer, args []string) error {
	var (
		fset    = flag.NewFlagSet("tttr-dump", flag.ContinueOnError)
		mode    = fset.String("mode", "t2", "record mode (t2|t3)")
		res     = fset.Int64("res", 4, "time-tag (T2) or dtime (T3) resolution, in ps")
		sync    = fset.Int64("sync", 12500, "sync period (T3 only), in ps")
		verbose = fset.Bool("v", false, "display every decoded event")
	)

	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), `tttr-dump decodes and displays raw TTTR record dumps.

Usage: tttr-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> tttr-dump -mode=t2 -res=4 ./testdata/run-0001.raw
 === file ./testdata/run-0001.raw (T2, res=4 ps) ===
 sweep     0: finish= 2000000000 ps signals=   482 overflows=  2 markers=  1
 sweep     1: finish= 2000000000 ps signals=   476 overflows=  2 markers=  1
 [...]

Options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		return err
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return fmt.Errorf("missing path to input TTTR file")
	}

	lay, err := layout(*mode, *res, *sync)
	if err != nil {
		return err
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, lay, *verbose)
		if err != nil {
			return fmt.Errorf("could not dump file %q: %w", fname, err)
		}
	}
	return nil
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
	err = lay.Validate()
	if err != nil {
		return tttr.Layout{}, err
	}
	return lay, nil
}

type sweepStats struct {
	signals   int
	overflows int
	markers   int
}

func process(w io.Writer, fname string, lay tttr.Layout, verbose bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	h, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer h.Close()

	fmt.Fprintf(wbuf, "=== file %s (%v, res=%d ps) ===\n", fname, lay.Mode, lay.Resolution)

	var (
		n     = h.NumUint32s()
		buf   = make([]uint32, 4096)
		ofl   tttr.OverflowState
		sweep tttr.SweepContext
		st    tttr.Stats
		cur   sweepStats
	)

	for i := 0; i < n; {
		m, err := h.Uint32s(buf, i)
		if err != nil {
			return fmt.Errorf("could not read records: %w", err)
		}
		i += m

		dec := tttr.NewDecoder(lay, buf[:m], &ofl, &sweep)
	loop:
		for {
			var evt tttr.Event
			err := dec.Decode(&evt)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break loop
				}
				return fmt.Errorf("could not decode records: %w", err)
			}
			st.Add(evt)
			if verbose {
				fmt.Fprintf(wbuf, "  %v\n", evt)
			}

			switch evt.Kind {
			case tttr.SignalStart, tttr.SignalStop:
				cur.signals++
			case tttr.Overflow:
				cur.overflows++
			case tttr.ExternalMarker:
				cur.markers++
			case tttr.SyncMarker:
				if evt.Edge != tttr.Close {
					continue
				}
				fmt.Fprintf(wbuf, "sweep % 5d: finish=% 11d ps signals=% 6d overflows=% 3d markers=% 3d\n",
					sweep.Index, sweep.Finish, cur.signals, cur.overflows, cur.markers,
				)
				// hardware counters restart with each sweep.
				cur = sweepStats{}
				ofl.Reset()
				sweep.Reset(sweep.Index + 1)
			}
		}
	}

	if sweep.Open {
		fmt.Fprintf(wbuf, "sweep % 5d: incomplete (signals=%d overflows=%d markers=%d)\n",
			sweep.Index, cur.signals, cur.overflows, cur.markers,
		)
	}

	fmt.Fprintf(wbuf, "records:      % 8d\n", n)
	fmt.Fprintf(wbuf, "sweeps:       % 8d\n", st.Sweeps)
	for _, kind := range []tttr.Kind{
		tttr.SignalStart, tttr.SignalStop,
		tttr.Overflow, tttr.ExternalMarker,
		tttr.Unclassified,
	} {
		if st.Events[kind] == 0 {
			continue
		}
		fmt.Fprintf(wbuf, "%-13s % 8d\n", kind.String()+":", st.Events[kind])
	}

	return nil
}
