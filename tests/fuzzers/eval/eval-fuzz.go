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

// Package eval fuzzes the evaluation engines against each other: the same
// generated design is run on the portable interpreter and on the native
// JIT, and every architectural signal is compared after every step.
package eval

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	fuzz "github.com/google/gofuzz"

	"github.com/silica-hdl/go-silica/bir"
	"github.com/silica-hdl/go-silica/sim"
	"github.com/silica-hdl/go-silica/sim/native"
)

// gen draws a small, always well-formed design from the fuzzer's byte
// stream. Expressions reference only already declared signals, so the
// combinational logic is acyclic by construction.
type gen struct {
	fz   *fuzz.Fuzzer
	refs []string
}

func (g *gen) u8() uint8    { var v uint8; g.fz.Fuzz(&v); return v }
func (g *gen) u64() uint64  { var v uint64; g.fz.Fuzz(&v); return v }
func (g *gen) width() int   { return 1 + int(g.u8()%64) }
func (g *gen) pick() string { return g.refs[int(g.u8())%len(g.refs)] }

var unaryOps = []bir.UnaryOp{bir.Not, bir.LogicNot, bir.RedAnd, bir.RedOr, bir.RedXor}

var binaryOps = []bir.BinaryOp{
	bir.Add, bir.Sub, bir.Mul, bir.Div, bir.Mod,
	bir.And, bir.Or, bir.Xor, bir.Shl, bir.Shr,
	bir.Eq, bir.Ne, bir.Lt, bir.Le, bir.Gt, bir.Ge,
}

func (g *gen) expr(depth int, mem string) bir.Expr {
	kind := g.u8()
	if depth <= 0 || kind < 64 {
		if kind&1 == 0 {
			w := g.width()
			return &bir.Const{Value: g.u64() & bir.Mask(w), Width: w}
		}
		return &bir.Sig{Name: g.pick()}
	}
	switch kind % 6 {
	case 0:
		return &bir.Unary{Op: unaryOps[int(g.u8())%len(unaryOps)], X: g.expr(depth-1, mem)}
	case 1:
		return &bir.Binary{
			Op: binaryOps[int(g.u8())%len(binaryOps)],
			X:  g.expr(depth-1, mem),
			Y:  g.expr(depth-1, mem),
		}
	case 2:
		return &bir.Mux{Cond: g.expr(depth-1, mem), Then: g.expr(depth-1, mem), Else: g.expr(depth-1, mem)}
	case 3:
		// Resize the operand so the slice always stays in bounds.
		off := int(g.u8() % 8)
		w := 1 + int(g.u8()%8)
		return &bir.Slice{
			X:      &bir.Resize{X: g.expr(depth-1, mem), Width: off + w},
			Offset: off,
			Width:  w,
		}
	case 4:
		parts := make([]bir.Expr, 0, 3)
		n := 2 + int(g.u8()%2)
		for i := 0; i < n; i++ {
			parts = append(parts, &bir.Resize{X: g.expr(depth-1, mem), Width: 1 + int(g.u8()%16)})
		}
		return &bir.Concat{Parts: parts}
	default:
		if mem != "" && g.u8()%2 == 0 {
			return &bir.MemRead{Mem: mem, Addr: g.expr(depth-1, mem)}
		}
		return &bir.Resize{X: g.expr(depth-1, mem), Width: g.width()}
	}
}

func (g *gen) design() *bir.Design {
	d := &bir.Design{Name: "fuzz"}
	d.Ports = append(d.Ports, bir.Port{Name: "clk", Width: 1, Dir: bir.In, Clock: true})
	g.refs = append(g.refs, "clk")

	nIn := 1 + int(g.u8()%3)
	for i := 0; i < nIn; i++ {
		name := fmt.Sprintf("in%d", i)
		d.Ports = append(d.Ports, bir.Port{Name: name, Width: g.width(), Dir: bir.In})
		g.refs = append(g.refs, name)
	}
	nReg := int(g.u8() % 3)
	for i := 0; i < nReg; i++ {
		name := fmt.Sprintf("r%d", i)
		w := g.width()
		d.Registers = append(d.Registers, bir.Register{Name: name, Width: w, Init: g.u64() & bir.Mask(w)})
		g.refs = append(g.refs, name)
	}
	mem := ""
	if g.u8()%2 == 0 {
		d.Memories = append(d.Memories, bir.Memory{Name: "m0", Width: g.width(), Depth: 1 + int(g.u8()%16)})
		mem = "m0"
	}
	nNet := 1 + int(g.u8()%4)
	for i := 0; i < nNet; i++ {
		name := fmt.Sprintf("n%d", i)
		d.Nets = append(d.Nets, bir.Net{Name: name, Width: g.width()})
		d.Assigns = append(d.Assigns, bir.Assign{Target: name, Expr: g.expr(3, mem)})
		g.refs = append(g.refs, name)
	}
	d.Ports = append(d.Ports, bir.Port{Name: "out", Width: g.width(), Dir: bir.Out})
	d.Assigns = append(d.Assigns, bir.Assign{Target: "out", Expr: g.expr(3, mem)})

	if nReg > 0 {
		proc := bir.Process{Clock: "clk"}
		for i := 0; i < nReg; i++ {
			proc.Assigns = append(proc.Assigns, bir.SeqAssign{
				Target: fmt.Sprintf("r%d", i),
				Expr:   g.expr(3, mem),
			})
		}
		d.Processes = append(d.Processes, proc)
	}
	return d
}

// Fuzz is the fuzzing entry point. It returns 1 when the input produced a
// valid design that both engines executed, 0 otherwise. A divergence
// between the engines panics with the offending design.
func Fuzz(data []byte) int {
	if len(data) < 16 {
		return 0
	}
	g := &gen{fz: fuzz.NewFromGoFuzz(data)}
	d := g.design()

	icfg := sim.Defaults
	icfg.Backend = "interp"
	ref, err := sim.Load(d, &icfg)
	if err != nil {
		return 0
	}
	jcfg := sim.Defaults
	jcfg.Backend = "jit"
	jit, err := sim.Load(d, &jcfg)
	if err != nil {
		return 0
	}
	if _, err := native.Attach(jit); err != nil {
		// No native engine on this platform, nothing to compare.
		return 0
	}

	if len(d.Memories) > 0 {
		m := d.Memories[0]
		words := make([]uint64, m.Depth)
		for i := range words {
			words[i] = g.u64() & bir.Mask(m.Width)
		}
		ref.InitMem(m.Name, words)
		jit.InitMem(m.Name, words)
	}

	for step := 0; step < 4; step++ {
		for _, p := range d.Ports {
			if p.Dir != bir.In || p.Clock {
				continue
			}
			v := g.u64()
			ref.Poke(p.Name, v)
			jit.Poke(p.Name, v)
		}
		ref.Evaluate()
		jit.Evaluate()
		compare(d, ref, jit, step, "evaluate")

		ref.Tick()
		jit.Tick()
		compare(d, ref, jit, step, "tick")
	}
	return 1
}

func compare(d *bir.Design, ref, jit *sim.Simulator, step int, phase string) {
	rs, js := ref.Signals(), jit.Signals()
	for i, sig := range ref.Program().Layout.Signals {
		if rs[i] != js[i] {
			panic(fmt.Sprintf("%s step %d: signal %s: interp %#x, jit %#x\n%s",
				phase, step, sig.Name, rs[i], js[i], spew.Sdump(d)))
		}
	}
}
