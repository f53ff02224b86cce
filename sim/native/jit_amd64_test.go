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

//go:build amd64 && (linux || darwin)

package native

import (
	"math/rand"
	"testing"

	"github.com/silica-hdl/go-silica/bir"
	"github.com/silica-hdl/go-silica/sim"
)

func jitSim(t *testing.T, d *bir.Design) *sim.Simulator {
	t.Helper()
	cfg := sim.Defaults
	cfg.Backend = "jit"
	s, err := sim.Load(d, &cfg)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	name, err := Attach(s)
	if err != nil {
		t.Fatalf("Attach returned unexpected error: %v", err)
	}
	if name != "jit" {
		t.Fatalf("Attach selected %q; want jit", name)
	}
	return s
}

func mustPoke(t *testing.T, s *sim.Simulator, name string, v uint64) {
	t.Helper()
	if err := s.Poke(name, v); err != nil {
		t.Fatalf("Poke(%s): %v", name, err)
	}
}

func mustPeek(t *testing.T, s *sim.Simulator, name string) uint64 {
	t.Helper()
	v, err := s.Peek(name)
	if err != nil {
		t.Fatalf("Peek(%s): %v", name, err)
	}
	return v
}

func compareStates(t *testing.T, cycle int, ref, jit *sim.Simulator) {
	t.Helper()
	rs, js := ref.Signals(), jit.Signals()
	for i := range rs {
		if rs[i] != js[i] {
			name := ref.Program().Layout.Signals[i].Name
			t.Fatalf("cycle %d: signal %s: jit has %#x; interp has %#x",
				cycle, name, js[i], rs[i])
		}
	}
}

// TestJITMatchesInterpreter drives the interpreter and the JIT with the same
// random stimulus and demands bit-identical state after every cycle.
func TestJITMatchesInterpreter(t *testing.T) {
	d := aluDesign()
	ref, err := sim.Load(d, nil)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	jit := jitSim(t, d)

	image := []uint64{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa}
	if err := ref.InitMem("rom", image); err != nil {
		t.Fatalf("InitMem: %v", err)
	}
	if err := jit.InitMem("rom", image); err != nil {
		t.Fatalf("InitMem: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for cycle := 0; cycle < 200; cycle++ {
		a := rng.Uint64() & 0xffff
		b := rng.Uint64() & 0xffff
		if cycle%7 == 0 {
			b = 0 // exercise the zero divisor path
		}
		for _, s := range []*sim.Simulator{ref, jit} {
			mustPoke(t, s, "a", a)
			mustPoke(t, s, "b", b)
			s.Tick()
		}
		compareStates(t, cycle, ref, jit)
	}
}

// TestJITEdgeCases probes the defined semantics directly on the JIT.
func TestJITEdgeCases(t *testing.T) {
	s := jitSim(t, aluDesign())

	mustPoke(t, s, "a", 0x1234)
	mustPoke(t, s, "b", 0)
	s.Evaluate()
	if got := mustPeek(t, s, "quo"); got != 0 {
		t.Errorf("quo with zero divisor = %#x; want 0", got)
	}
	if got := mustPeek(t, s, "rem"); got != 0 {
		t.Errorf("rem with zero divisor = %#x; want 0", got)
	}

	mustPoke(t, s, "b", 64)
	s.Evaluate()
	if got := mustPeek(t, s, "lsh"); got != 0 {
		t.Errorf("shift by 64 = %#x; want 0", got)
	}
	if got := mustPeek(t, s, "rsh"); got != 0 {
		t.Errorf("right shift by 64 = %#x; want 0", got)
	}
	mustPoke(t, s, "b", 4)
	s.Evaluate()
	if got := mustPeek(t, s, "lsh"); got != 0x2340 {
		t.Errorf("shift by 4 = %#x; want 0x2340", got)
	}

	// nib = a[15:12] = 0xf, past the 10-word depth of rom
	mustPoke(t, s, "a", 0xf000)
	s.Evaluate()
	if got := mustPeek(t, s, "rd"); got != 0 {
		t.Errorf("out of range read = %#x; want 0", got)
	}
}

// TestJITRegisterCommit checks that sequential state moves only on the
// simulator's clock edge, same as under the interpreter.
func TestJITRegisterCommit(t *testing.T) {
	s := jitSim(t, aluDesign())

	mustPoke(t, s, "a", 0x10)
	mustPoke(t, s, "b", 0x01)
	s.Evaluate()
	if got := mustPeek(t, s, "acc"); got != 0 {
		t.Fatalf("acc moved without an edge: %#x", got)
	}
	s.Tick()
	if got := mustPeek(t, s, "acc"); got != 0x11 {
		t.Fatalf("acc after edge = %#x; want 0x11", got)
	}
	s.Reset()
	if got := mustPeek(t, s, "acc"); got != 0 {
		t.Fatalf("acc after reset = %#x; want 0", got)
	}
}

// TestAutoPicksJIT pins the auto policy on platforms that have the JIT.
func TestAutoPicksJIT(t *testing.T) {
	s, err := sim.Load(aluDesign(), nil)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	name, err := Attach(s)
	if err != nil {
		t.Fatalf("Attach returned unexpected error: %v", err)
	}
	if name != "jit" {
		t.Fatalf("auto selected %q; want jit", name)
	}
	if s.BackendName() != "jit" {
		t.Fatalf("BackendName = %q; want jit", s.BackendName())
	}
}
