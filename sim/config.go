// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

package sim

// Config collects the tunables of a Simulator. Start from Defaults; the
// zero value disables fixed-point iteration entirely.
type Config struct {
	// Backend selects the evaluation engine: "interp" forces the portable
	// interpreter, "jit" in-process machine code, "aot" a compiled plugin,
	// and "auto" the fastest engine available on this platform. Selection
	// happens in the layer that wires a native backend in; the Simulator
	// itself always starts on the interpreter.
	Backend string

	// MaxSettlePasses bounds fixed-point iteration when combinational
	// logic is cyclic. Exhausting the bound is counted, not fatal.
	MaxSettlePasses int

	// CacheDir is where compiled native modules are kept between runs.
	// Empty selects a per-user default location.
	CacheDir string

	// LenientClocks loads designs whose process clocks are not reachable
	// from any clock input. Such domains are kept but never commit; each
	// one is logged when the design loads.
	LenientClocks bool
}

// Defaults contains the default simulator settings.
var Defaults = Config{
	Backend:         "auto",
	MaxSettlePasses: 10,
}
