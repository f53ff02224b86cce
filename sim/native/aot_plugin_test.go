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

//go:build linux || darwin

package native

import (
	"math/rand"
	"os/exec"
	"testing"

	"github.com/silica-hdl/go-silica/bridge"
	"github.com/silica-hdl/go-silica/sim"
)

// TestAOTEndToEnd builds the design as a plugin, loads it and checks it
// against the interpreter. The build shells out to the host toolchain, so
// the test steps aside when that cannot work.
func TestAOTEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("aot build shells out to the Go toolchain")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not in PATH")
	}

	dir := t.TempDir()
	d := aluDesign()
	cfg := sim.Defaults
	cfg.Backend = "aot"
	cfg.CacheDir = dir

	aot, err := sim.Load(d, &cfg)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	name, err := Attach(aot)
	if err != nil {
		t.Skipf("aot unavailable here: %v", err)
	}
	if name != "aot" {
		t.Fatalf("Attach selected %q; want aot", name)
	}

	ref, err := sim.Load(d, nil)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for cycle := 0; cycle < 50; cycle++ {
		a := rng.Uint64() & 0xffff
		b := rng.Uint64() & 0xffff
		for _, s := range []*sim.Simulator{ref, aot} {
			if err := s.Poke("a", a); err != nil {
				t.Fatalf("Poke(a): %v", err)
			}
			if err := s.Poke("b", b); err != nil {
				t.Fatalf("Poke(b): %v", err)
			}
			s.Tick()
		}
		rs, as := ref.Signals(), aot.Signals()
		for i := range rs {
			if rs[i] != as[i] {
				t.Fatalf("cycle %d: signal %s: aot has %#x; interp has %#x",
					cycle, ref.Program().Layout.Signals[i].Name, as[i], rs[i])
			}
		}
	}

	entries, err := CacheEntries(dir)
	if err != nil {
		t.Fatalf("CacheEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Design != "alu" {
		t.Fatalf("cache entries = %+v; want one alu module", entries)
	}

	// A second attach must reuse the cached artifact.
	second, err := sim.Load(d, &cfg)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	if name, err := Attach(second); err != nil || name != "aot" {
		t.Fatalf("cached attach = %q, %v; want aot, nil", name, err)
	}
}

// TestFusedRunMatchesHooks drives the same design once through hook-based
// bridges on the interpreter and once through a fused module, comparing every
// signal and the RAM contents after each cycle.
func TestFusedRunMatchesHooks(t *testing.T) {
	if testing.Short() {
		t.Skip("aot build shells out to the Go toolchain")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not in PATH")
	}

	d := memCellDesign()
	ramPorts := bridge.RAMPorts{RAddr: "raddr", RData: "rdata", WE: "we", WAddr: "waddr", WData: "wdata"}
	romPorts := bridge.ROMPorts{Addr: "caddr", Data: "cdata"}
	romImg := make([]byte, 16)
	for i := range romImg {
		romImg[i] = byte(0xA0 + i)
	}
	ramImg := []uint64{0x11, 0x22, 0x33, 0x44, 0x55}

	ref, err := sim.Load(d, nil)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	refRAM, err := bridge.NewRAM(ref, 16, ramPorts)
	if err != nil {
		t.Fatalf("NewRAM: %v", err)
	}
	refROM, err := bridge.NewROM(ref, romImg, romPorts)
	if err != nil {
		t.Fatalf("NewROM: %v", err)
	}
	bridge.NewBus(refRAM, refROM).Bind(ref)

	cfg := sim.Defaults
	cfg.CacheDir = t.TempDir()
	fused, err := sim.Load(d, &cfg)
	if err != nil {
		t.Fatalf("Load returned unexpected error: %v", err)
	}
	fusedRAM, err := bridge.NewRAM(fused, 16, ramPorts)
	if err != nil {
		t.Fatalf("NewRAM: %v", err)
	}
	fusedROM, err := bridge.NewROM(fused, romImg, romPorts)
	if err != nil {
		t.Fatalf("NewROM: %v", err)
	}
	run, err := FuseRun(fused, []*bridge.RAM{fusedRAM}, []*bridge.ROM{fusedROM})
	if err != nil {
		t.Skipf("fused aot unavailable here: %v", err)
	}

	for _, r := range []*bridge.RAM{refRAM, fusedRAM} {
		if err := r.Load(ramImg); err != nil {
			t.Fatalf("Load image: %v", err)
		}
	}

	poke := func(name string, v uint64) {
		t.Helper()
		for _, s := range []*sim.Simulator{ref, fused} {
			if err := s.Poke(name, v); err != nil {
				t.Fatalf("Poke(%s): %v", name, err)
			}
		}
	}
	compare := func(cycle int) {
		t.Helper()
		rs, fs := ref.Signals(), fused.Signals()
		for i := range rs {
			if rs[i] != fs[i] {
				t.Fatalf("cycle %d: signal %s: fused has %#x; hooks have %#x",
					cycle, ref.Program().Layout.Signals[i].Name, fs[i], rs[i])
			}
		}
		rw, fw := refRAM.Words(), fusedRAM.Words()
		for i := range rw {
			if rw[i] != fw[i] {
				t.Fatalf("cycle %d: ram word %d: fused has %#x; hooks have %#x",
					cycle, i, fw[i], rw[i])
			}
		}
	}

	rng := rand.New(rand.NewSource(11))
	for cycle := 0; cycle < 32; cycle++ {
		poke("raddr", rng.Uint64()&0xf)
		poke("caddr", rng.Uint64()&0xf)
		poke("we", rng.Uint64()&1)
		poke("waddr", rng.Uint64()&0xf)
		poke("wdata", rng.Uint64()&0xff)
		ref.Tick()
		run(1)
		compare(cycle)
	}

	// Directed write, then read the word back through both paths.
	poke("we", 1)
	poke("waddr", 3)
	poke("wdata", 0x5A)
	ref.Tick()
	run(1)
	if refRAM.Words()[3] != 0x5A || fusedRAM.Words()[3] != 0x5A {
		t.Fatalf("word 3 after write: hooks %#x, fused %#x; want 0x5a",
			refRAM.Words()[3], fusedRAM.Words()[3])
	}
	poke("we", 0)
	poke("raddr", 3)
	ref.Tick()
	run(1)
	compare(33)
	got, err := fused.Peek("rdata")
	if err != nil {
		t.Fatalf("Peek(rdata): %v", err)
	}
	if got != 0x5A {
		t.Fatalf("fused read data = %#x; want 0x5a", got)
	}
}
