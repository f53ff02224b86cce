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
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/olekukonko/tablewriter"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/silica-hdl/go-silica/sim/native"
)

var compileCommand = cli.Command{
	Action:    compile,
	Name:      "compile",
	Usage:     "Compile a design into the AOT module cache",
	ArgsUsage: "<design.json>",
	Category:  "SIMULATOR COMMANDS",
	Description: `
Generates native evaluation code for a design, builds it with the host Go
toolchain and stores the module in the cache. Later runs with --backend aot
load the module instead of rebuilding it.`,
}

var cacheKeepFlag = cli.DurationFlag{
	Name:  "keep",
	Usage: "Retention window for cached modules",
	Value: 30 * 24 * time.Hour,
}

var cacheCommand = cli.Command{
	Name:     "cache",
	Usage:    "Manage the AOT module cache",
	Category: "SIMULATOR COMMANDS",
	Subcommands: []cli.Command{
		{
			Action:    cacheList,
			Name:      "ls",
			Usage:     "List cached modules",
			ArgsUsage: " ",
		},
		{
			Action:    cachePrune,
			Name:      "prune",
			Usage:     "Delete cached modules not used recently",
			ArgsUsage: " ",
			Flags:     []cli.Flag{cacheKeepFlag},
		},
	},
}

func compile(ctx *cli.Context) error {
	s, cfg := makeSimulator(ctx)

	start := time.Now()
	path, err := native.Precompile(s, cfg.Sim.CacheDir)
	if err != nil {
		fatalf("compile failed: %v", err)
	}
	log.Info("Module compiled", "elapsed", time.Since(start).Round(time.Millisecond))
	fmt.Println(path)
	return nil
}

func cacheList(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	entries, err := native.CacheEntries(cfg.Sim.CacheDir)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Design", "Go", "Built", "Last Used", "Size"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, m := range entries {
		key := m.Key
		if len(key) > 8 {
			key = key[:8]
		}
		table.Append([]string{
			key, m.Design, m.GoVersion,
			m.BuiltAt.Format("2006-01-02 15:04"),
			m.LastUsed.Format("2006-01-02 15:04"),
			strconv.FormatInt(m.Size, 10),
		})
	}
	table.Render()
	return nil
}

func cachePrune(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	keep := ctx.Duration(cacheKeepFlag.Name)
	n, err := native.PruneCache(cfg.Sim.CacheDir, keep)
	if err != nil {
		return err
	}
	log.Info("Cache pruned", "removed", n, "keep", keep)
	return nil
}
