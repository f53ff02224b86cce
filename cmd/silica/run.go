// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/inconshreveable/log15"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/silica-hdl/go-silica/bench"
	"github.com/silica-hdl/go-silica/sim"
	"github.com/silica-hdl/go-silica/trace"
)

var (
	cyclesFlag = cli.Uint64Flag{
		Name:  "cycles",
		Usage: "Number of clock cycles to run (0 = until interrupted)",
	}
	traceFlag = cli.StringFlag{
		Name:  "trace",
		Usage: "Write a VCD waveform of the run to the given file",
	}
	snappyFlag = cli.BoolFlag{
		Name:  "snappy",
		Usage: "Frame the waveform through snappy compression",
	}
	benchFlag = cli.StringFlag{
		Name:  "bench",
		Usage: "JavaScript testbench to drive the design instead of free-running",
	}
)

var runCommand = cli.Command{
	Action:    runSim,
	Name:      "run",
	Usage:     "Run a design for a number of clock cycles",
	ArgsUsage: "<design.json>",
	Category:  "SIMULATOR COMMANDS",
	Flags:     []cli.Flag{cyclesFlag, traceFlag, snappyFlag, benchFlag},
	Description: `
Loads a flattened design, attaches the configured evaluation engine and toggles
every clock for the requested number of cycles. With --cycles 0 (the default)
the run continues until interrupted with ^C. With --bench the given JavaScript
testbench drives the design instead and --cycles is ignored.

A value-change dump of every cycle can be written with --trace; --snappy frames
the dump through snappy compression.`,
}

// progressInterval is how often a long run reports cycle throughput.
const progressInterval = 8 * time.Second

func runSim(ctx *cli.Context) error {
	s, cfg := makeSimulator(ctx)
	attachBackend(s)

	// Flags override the Trace section of the config file.
	if ctx.IsSet(traceFlag.Name) {
		cfg.Trace.File = ctx.String(traceFlag.Name)
	}
	if ctx.IsSet(snappyFlag.Name) {
		cfg.Trace.Snappy = ctx.Bool(snappyFlag.Name)
	}
	var rec *trace.Recorder
	if cfg.Trace.File != "" {
		f, err := os.Create(cfg.Trace.File)
		if err != nil {
			return err
		}
		defer f.Close()
		if cfg.Trace.Snappy {
			rec = trace.NewSnappy(f, s)
		} else {
			rec = trace.New(f, s)
		}
		s.SetHooks(sim.Hooks{Capture: rec.Capture})
		log.Info("Recording waveform", "file", cfg.Trace.File, "snappy", cfg.Trace.Snappy)
	}

	if script := ctx.String(benchFlag.Name); script != "" {
		if err := bench.RunFile(s, script); err != nil {
			if rec != nil {
				rec.Close() // keep the partial waveform for inspection
			}
			return err
		}
		return closeTrace(rec, cfg)
	}

	budget := ctx.Uint64(cyclesFlag.Name)
	if budget == 0 {
		budget = math.MaxUint64
	}
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		start  = time.Now()
		report = start
		total  uint64
	)
	for total < budget {
		n := budget - total
		if n > 1<<22 {
			n = 1 << 22
		}
		done, err := s.Run(runCtx, n)
		total += done
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Warn("Run interrupted", "cycles", total)
				break
			}
			return err
		}
		if time.Since(report) > progressInterval {
			elapsed := time.Since(start)
			log.Info("Simulation progress", "cycles", total,
				"rate", cycleRate(total, elapsed), "elapsed", elapsed.Round(time.Millisecond))
			report = time.Now()
		}
	}
	elapsed := time.Since(start)
	log.Info("Simulation complete", "cycles", total,
		"rate", cycleRate(total, elapsed), "elapsed", elapsed.Round(time.Millisecond))

	return closeTrace(rec, cfg)
}

func closeTrace(rec *trace.Recorder, cfg silicaConfig) error {
	if rec == nil {
		return nil
	}
	if err := rec.Close(); err != nil {
		return err
	}
	log.Info("Waveform written", "file", cfg.Trace.File)
	return nil
}

// cycleRate renders cycles over elapsed as a human readable throughput.
func cycleRate(cycles uint64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	r := float64(cycles) / elapsed.Seconds()
	switch {
	case r >= 1e6:
		return fmt.Sprintf("%.2fMHz", r/1e6)
	case r >= 1e3:
		return fmt.Sprintf("%.2fkHz", r/1e3)
	default:
		return fmt.Sprintf("%.0fHz", r)
	}
}
