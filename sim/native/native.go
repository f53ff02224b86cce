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

// Package native compiles flat programs to machine code.
//
// Two engines live here. The JIT assembles branch-free x86-64 straight into
// an executable mapping and calls it through a func-value thunk: zero build
// dependencies, sub-millisecond compiles, amd64 only. The AOT path generates
// a plain Go source rendition of the program, shells out to the Go compiler
// for a plugin, and loads it with plugin.Open; slower to build but portable
// across architectures, and its artifacts persist in an on-disk cache keyed
// by design content.
//
// Both engines reproduce the interpreter's semantics exactly, including the
// defined edge cases. Backends bind to a Simulator's live buffers; the
// Simulator keeps ordering, edges and commits to itself.
package native

import (
	"errors"

	log "github.com/inconshreveable/log15"
	"github.com/rcrowley/go-metrics"

	"github.com/silica-hdl/go-silica/sim"
)

// Backend errors.
var (
	ErrUnsupported = errors.New("native: backend not supported on this platform")
	ErrBadModule   = errors.New("native: compiled module does not match design")
	ErrNoCompiler  = errors.New("native: go compiler not found")
)

var (
	jitCompileTimer = metrics.NewRegisteredTimer("native/jit/compile", nil)
	aotCompileTimer = metrics.NewRegisteredTimer("native/aot/compile", nil)
	cacheHitMeter   = metrics.NewRegisteredMeter("native/cache/hit", nil)
	cacheMissMeter  = metrics.NewRegisteredMeter("native/cache/miss", nil)
)

// Attach selects an engine per the simulator's configured Backend mode,
// compiles the program and installs the result. It returns the name of the
// engine that ended up active.
//
// Modes: "interp" leaves the interpreter; "jit" and "aot" demand that
// engine and fail if it cannot be built; "auto" (and "") takes the JIT
// when the platform has one and otherwise stays on the interpreter, never
// spawning a compiler behind the caller's back.
func Attach(s *sim.Simulator) (string, error) {
	cfg := s.Config()
	switch cfg.Backend {
	case "interp":
		return s.BackendName(), nil
	case "jit":
		b, err := newJIT(s)
		if err != nil {
			return "", err
		}
		s.UseBackend(b)
		return b.Name(), nil
	case "aot":
		b, err := newAOT(s, cfg.CacheDir)
		if err != nil {
			return "", err
		}
		s.UseBackend(b)
		return b.Name(), nil
	case "auto", "":
		b, err := newJIT(s)
		if err != nil {
			if !errors.Is(err, ErrUnsupported) {
				log.Warn("jit compile failed, staying on interpreter", "err", err)
			}
			return s.BackendName(), nil
		}
		s.UseBackend(b)
		return b.Name(), nil
	default:
		return "", errors.New("native: unknown backend mode " + cfg.Backend)
	}
}
