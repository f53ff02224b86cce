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

package native

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/silica-hdl/go-silica/bir"
	"github.com/silica-hdl/go-silica/bridge"
	"github.com/silica-hdl/go-silica/flatten"
)

// aluDesign exercises every opcode the flattener emits, including the paths
// for zero divisors, oversized shift counts and out-of-range memory reads.
func aluDesign() *bir.Design {
	a := &bir.Sig{Name: "a"}
	b := &bir.Sig{Name: "b"}
	bin := func(op bir.BinaryOp) bir.Expr { return &bir.Binary{Op: op, X: a, Y: b} }
	un := func(op bir.UnaryOp) bir.Expr { return &bir.Unary{Op: op, X: a} }

	return &bir.Design{
		Name: "alu",
		Ports: []bir.Port{
			{Name: "clk", Width: 1, Dir: bir.In, Clock: true},
			{Name: "a", Width: 16, Dir: bir.In},
			{Name: "b", Width: 16, Dir: bir.In},
			{Name: "q", Width: 16, Dir: bir.Out},
		},
		Nets: []bir.Net{
			{Name: "sum", Width: 16}, {Name: "dif", Width: 16},
			{Name: "prod", Width: 16}, {Name: "quo", Width: 16},
			{Name: "rem", Width: 16}, {Name: "con", Width: 16},
			{Name: "dis", Width: 16}, {Name: "xr", Width: 16},
			{Name: "inv", Width: 16}, {Name: "lsh", Width: 16},
			{Name: "rsh", Width: 16},
			{Name: "eq", Width: 1}, {Name: "ne", Width: 1},
			{Name: "lt", Width: 1}, {Name: "le", Width: 1},
			{Name: "gt", Width: 1}, {Name: "ge", Width: 1},
			{Name: "lnz", Width: 1}, {Name: "ra", Width: 1},
			{Name: "ro", Width: 1}, {Name: "rx", Width: 1},
			{Name: "pick", Width: 16}, {Name: "nib", Width: 4},
			{Name: "pair", Width: 8}, {Name: "ext", Width: 16},
			{Name: "shrink", Width: 4}, {Name: "rd", Width: 8},
			{Name: "deep", Width: 16},
		},
		Registers: []bir.Register{{Name: "acc", Width: 16}},
		Memories:  []bir.Memory{{Name: "rom", Width: 8, Depth: 10}},
		Assigns: []bir.Assign{
			{Target: "sum", Expr: bin(bir.Add)},
			{Target: "dif", Expr: bin(bir.Sub)},
			{Target: "prod", Expr: bin(bir.Mul)},
			{Target: "quo", Expr: bin(bir.Div)},
			{Target: "rem", Expr: bin(bir.Mod)},
			{Target: "con", Expr: bin(bir.And)},
			{Target: "dis", Expr: bin(bir.Or)},
			{Target: "xr", Expr: bin(bir.Xor)},
			{Target: "inv", Expr: un(bir.Not)},
			{Target: "lsh", Expr: bin(bir.Shl)},
			{Target: "rsh", Expr: bin(bir.Shr)},
			{Target: "eq", Expr: bin(bir.Eq)},
			{Target: "ne", Expr: bin(bir.Ne)},
			{Target: "lt", Expr: bin(bir.Lt)},
			{Target: "le", Expr: bin(bir.Le)},
			{Target: "gt", Expr: bin(bir.Gt)},
			{Target: "ge", Expr: bin(bir.Ge)},
			{Target: "lnz", Expr: un(bir.LogicNot)},
			{Target: "ra", Expr: un(bir.RedAnd)},
			{Target: "ro", Expr: un(bir.RedOr)},
			{Target: "rx", Expr: un(bir.RedXor)},
			{Target: "pick", Expr: &bir.Mux{
				Cond: &bir.Sig{Name: "lt"},
				Then: &bir.Sig{Name: "sum"},
				Else: &bir.Sig{Name: "dif"},
			}},
			{Target: "nib", Expr: &bir.Slice{X: a, Offset: 12, Width: 4}},
			{Target: "pair", Expr: &bir.Concat{Parts: []bir.Expr{
				&bir.Slice{X: a, Offset: 8, Width: 4},
				&bir.Slice{X: b, Offset: 0, Width: 4},
			}}},
			{Target: "ext", Expr: &bir.Resize{X: &bir.Sig{Name: "nib"}, Width: 16}},
			{Target: "shrink", Expr: &bir.Resize{X: a, Width: 4}},
			{Target: "rd", Expr: &bir.MemRead{Mem: "rom", Addr: &bir.Sig{Name: "nib"}}},
			{Target: "deep", Expr: &bir.Binary{Op: bir.Add,
				X: &bir.Binary{Op: bir.Or, X: bin(bir.And), Y: bin(bir.Xor)},
				Y: &bir.Binary{Op: bir.And, X: bin(bir.Or), Y: bin(bir.Sub)},
			}},
			{Target: "q", Expr: &bir.Mux{
				Cond: &bir.Sig{Name: "eq"},
				Then: &bir.Sig{Name: "acc"},
				Else: &bir.Sig{Name: "pick"},
			}},
		},
		Processes: []bir.Process{{
			Clock: "clk",
			Assigns: []bir.SeqAssign{
				{Target: "acc", Expr: &bir.Sig{Name: "sum"}},
			},
		}},
	}
}

func mustFlatten(t *testing.T, d *bir.Design) *flatten.Program {
	t.Helper()
	p, err := flatten.Flatten(d)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	return p
}

func TestSourceSymbols(t *testing.T) {
	src, err := Source(mustFlatten(t, aluDesign()))
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	for _, want := range []string{
		"package main",
		"func Evaluate(sig, tmp, next []uint64, mems [][]uint64) {",
		"func Sample(sig, tmp, next []uint64, mems [][]uint64) {",
		"func DesignHash() string",
		"divq(", "modq(", "shlq(", "shrq(",
		"parity(", "muxq(", "memrd(mems[0],",
		"next[",
	} {
		if !strings.Contains(string(src), want) {
			t.Errorf("generated source misses %q", want)
		}
	}
	if strings.Contains(string(src), "import (") {
		t.Errorf("generated source should import math/bits alone")
	}
}

func TestSourceDeterministic(t *testing.T) {
	p := mustFlatten(t, aluDesign())
	first, err := Source(p)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	second, err := Source(p)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("source generation is not deterministic")
	}
}

// memCellDesign latches the xor of a RAM data port and a ROM data port, so
// a fused module has both an injection and a write mirror to inline.
func memCellDesign() *bir.Design {
	return &bir.Design{
		Name: "memcell",
		Ports: []bir.Port{
			{Name: "clk", Width: 1, Dir: bir.In, Clock: true},
			{Name: "raddr", Width: 4, Dir: bir.In},
			{Name: "rdata", Width: 8, Dir: bir.In},
			{Name: "we", Width: 1, Dir: bir.In},
			{Name: "waddr", Width: 4, Dir: bir.In},
			{Name: "wdata", Width: 8, Dir: bir.In},
			{Name: "caddr", Width: 4, Dir: bir.In},
			{Name: "cdata", Width: 8, Dir: bir.In},
			{Name: "q", Width: 8, Dir: bir.Out},
		},
		Registers: []bir.Register{{Name: "latched", Width: 8}},
		Assigns: []bir.Assign{
			{Target: "q", Expr: &bir.Sig{Name: "latched"}},
		},
		Processes: []bir.Process{{
			Clock: "clk",
			Assigns: []bir.SeqAssign{{Target: "latched", Expr: &bir.Binary{
				Op: bir.Xor,
				X:  &bir.Sig{Name: "rdata"},
				Y:  &bir.Sig{Name: "cdata"},
			}}},
		}},
	}
}

func TestFuseSource(t *testing.T) {
	p := mustFlatten(t, memCellDesign())
	slot := func(name string) uint32 {
		t.Helper()
		s, ok := p.Layout.IndexOf(name)
		if !ok {
			t.Fatalf("signal %q not in layout", name)
		}
		return s
	}
	ram := bridge.RAMBinding{
		RAddr: slot("raddr"), RData: slot("rdata"),
		Writable: true, WE: slot("we"), WAddr: slot("waddr"), WData: slot("wdata"),
		DataMask: 0xFF, Words: make([]uint64, 16),
	}
	rom := bridge.ROMBinding{
		Addr: slot("caddr"), Data: slot("cdata"),
		Stride: 1, DataMask: 0xFF, Bytes: make([]byte, 16),
	}
	src, err := FuseSource(p, 10, []bridge.RAMBinding{ram}, []bridge.ROMBinding{rom})
	if err != nil {
		t.Fatalf("fuse source: %v", err)
	}
	for _, want := range []string{
		"func RunCycles(n uint64, sig, tmp, next, prev []uint64, mems, rams [][]uint64, roms [][]byte) {",
		"func romrd(",
		fmt.Sprintf("sig[%d] = memrd(rams[0], sig[%d]) & 0xff", slot("rdata"), slot("raddr")),
		fmt.Sprintf("sig[%d] = romrd(roms[0], sig[%d], 1) & 0xff", slot("cdata"), slot("caddr")),
		fmt.Sprintf("if sig[%d] != 0 {", slot("we")),
		fmt.Sprintf("rams[0][a] = sig[%d]", slot("wdata")),
		"Sample(sig, tmp, next, mems)",
	} {
		if !strings.Contains(string(src), want) {
			t.Errorf("fused source misses %q", want)
		}
	}

	plain, err := Source(p)
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if strings.Contains(string(plain), "RunCycles") {
		t.Errorf("plain source should not carry the fused entry point")
	}
}

func TestFuseSourceCyclicSettle(t *testing.T) {
	d := &bir.Design{
		Name:  "feedback",
		Ports: []bir.Port{{Name: "a", Width: 1, Dir: bir.In}},
		Nets:  []bir.Net{{Name: "p", Width: 1}, {Name: "q", Width: 1}},
		Assigns: []bir.Assign{
			{Target: "p", Expr: &bir.Binary{Op: bir.Or, X: &bir.Sig{Name: "q"}, Y: &bir.Sig{Name: "a"}}},
			{Target: "q", Expr: &bir.Sig{Name: "p"}},
		},
	}
	src, err := FuseSource(mustFlatten(t, d), 10, nil, nil)
	if err != nil {
		t.Fatalf("fuse source: %v", err)
	}
	// One bounded settle loop per settle point: falling, rising, post-commit.
	if got := strings.Count(string(src), "for pass := 0; pass < 10; pass++ {"); got != 3 {
		t.Errorf("cyclic fused source has %d bounded settle loops; want 3", got)
	}
}

func TestHashDesign(t *testing.T) {
	d := aluDesign()
	h1, err := HashDesign(d)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, _ := HashDesign(d)
	if h1 != h2 {
		t.Fatalf("hash not stable: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("hash length = %d; want 64 hex chars", len(h1))
	}
	d.Nets[0].Width = 8
	if h3, _ := HashDesign(d); h3 == h1 {
		t.Fatalf("hash ignores design changes")
	}
}

func TestContentKey(t *testing.T) {
	if contentKey("aa") == contentKey("bb") {
		t.Fatalf("content key ignores the design hash")
	}
	if contentKey("aa") != contentKey("aa") {
		t.Fatalf("content key not stable")
	}
}

func TestCacheEnsure(t *testing.T) {
	c, err := openCache(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()

	builds := 0
	build := func(dst string) error {
		builds++
		return os.WriteFile(dst, []byte("module"), 0600)
	}
	info := ModuleInfo{Design: "alu", Hash: "deadbeef", GoVersion: runtime.Version()}

	key := contentKey("deadbeef")
	path, err := c.ensure(key, info, build)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if builds != 1 {
		t.Fatalf("builds = %d after first ensure; want 1", builds)
	}
	again, err := c.ensure(key, info, build)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if builds != 1 {
		t.Fatalf("builds = %d after second ensure; want 1", builds)
	}
	if again != path {
		t.Fatalf("ensure path changed: %s vs %s", again, path)
	}

	entries, err := c.entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Design != "alu" || entries[0].Size != 6 {
		t.Fatalf("entries = %+v; want one alu record of 6 bytes", entries)
	}
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := openCache(dir)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	info := ModuleInfo{Design: "alu", Hash: "cafe"}
	if _, err := c.ensure(contentKey("cafe"), info, func(dst string) error {
		return os.WriteFile(dst, []byte("x"), 0600)
	}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c, err = openCache(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	if _, err := c.ensure(contentKey("cafe"), info, func(string) error {
		t.Fatal("rebuild after reopen")
		return nil
	}); err != nil {
		t.Fatalf("ensure after reopen: %v", err)
	}
}

func TestCachePrune(t *testing.T) {
	c, err := openCache(t.TempDir())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer c.Close()
	build := func(dst string) error { return os.WriteFile(dst, []byte("x"), 0600) }
	if _, err := c.ensure("k1", ModuleInfo{Design: "one"}, build); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := c.ensure("k2", ModuleInfo{Design: "two"}, build); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if n, err := c.prune(time.Hour); err != nil || n != 0 {
		t.Fatalf("prune(1h) = %d, %v; want 0, nil", n, err)
	}
	if n, err := c.prune(0); err != nil || n != 2 {
		t.Fatalf("prune(0) = %d, %v; want 2, nil", n, err)
	}
	entries, err := c.entries()
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries after prune = %d; want 0", len(entries))
	}
}
