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
	cli "gopkg.in/urfave/cli.v1"

	"github.com/silica-hdl/go-silica/bench"
)

var benchCommand = cli.Command{
	Action:    runBench,
	Name:      "bench",
	Usage:     "Run a JavaScript testbench against a design",
	ArgsUsage: "<design.json> <script.js>",
	Category:  "SIMULATOR COMMANDS",
	Description: `
Loads a design, attaches the configured evaluation engine and executes a
JavaScript testbench against it. The script drives the design through poke,
tick and run, and asserts on its outputs with expect. A failing expectation
aborts the script and the command exits nonzero.`,
}

func runBench(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		fatalf("usage: bench <design.json> <script.js>")
	}
	s, _ := makeSimulator(ctx)
	attachBackend(s)

	if err := bench.RunFile(s, ctx.Args().Get(1)); err != nil {
		fatalf("%v", err)
	}
	return nil
}
