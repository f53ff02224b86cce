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

import (
	"math/bits"

	"github.com/silica-hdl/go-silica/flatten"
)

// interpreter is the portable evaluation engine: a direct switch dispatch
// over the flat op list. It is the reference semantics every native backend
// must reproduce bit for bit, including the defined edge cases (zero
// divisors, oversized shift counts, out-of-range memory reads).
type interpreter struct {
	s *Simulator
}

func (it *interpreter) Name() string { return "interp" }

func (it *interpreter) Evaluate() {
	it.run(it.s.prog.Comb)
}

func (it *interpreter) Sample() {
	for i := range it.s.prog.Domains {
		dom := &it.s.prog.Domains[i]
		for j := range dom.Regs {
			it.run(dom.Regs[j].Ops)
		}
	}
}

func (it *interpreter) run(ops []flatten.Op) {
	s := it.s
	for i := range ops {
		op := &ops[i]
		a := s.load(op.A)
		var v uint64
		switch op.Code {
		case flatten.OpCopy:
			v = a
		case flatten.OpAdd:
			v = a + s.load(op.B)
		case flatten.OpSub:
			v = a - s.load(op.B)
		case flatten.OpMul:
			v = a * s.load(op.B)
		case flatten.OpDiv:
			if b := s.load(op.B); b != 0 {
				v = a / b
			}
		case flatten.OpMod:
			if b := s.load(op.B); b != 0 {
				v = a % b
			}
		case flatten.OpAnd:
			v = a & s.load(op.B)
		case flatten.OpOr:
			v = a | s.load(op.B)
		case flatten.OpXor:
			v = a ^ s.load(op.B)
		case flatten.OpNot:
			v = ^a
		case flatten.OpShl:
			if b := s.load(op.B); b < 64 {
				v = a << b
			}
		case flatten.OpShr:
			if b := s.load(op.B); b < 64 {
				v = a >> b
			}
		case flatten.OpEq:
			if a == s.load(op.B) {
				v = 1
			}
		case flatten.OpNe:
			if a != s.load(op.B) {
				v = 1
			}
		case flatten.OpLt:
			if a < s.load(op.B) {
				v = 1
			}
		case flatten.OpLe:
			if a <= s.load(op.B) {
				v = 1
			}
		case flatten.OpGt:
			if a > s.load(op.B) {
				v = 1
			}
		case flatten.OpGe:
			if a >= s.load(op.B) {
				v = 1
			}
		case flatten.OpRedXor:
			v = uint64(bits.OnesCount64(a) & 1)
		case flatten.OpMux:
			if s.load(op.C) != 0 {
				v = a
			} else {
				v = s.load(op.B)
			}
		case flatten.OpSlice:
			v = a >> op.Shift
		case flatten.OpConcat:
			v = s.load(op.Dst)<<op.Shift | a
		case flatten.OpMemRead:
			mem := s.mems[op.Mem]
			if a < uint64(len(mem)) {
				v = mem[a]
			}
		}
		s.store(op.Dst, v&op.Mask)
	}
}

func (s *Simulator) load(r flatten.Ref) uint64 {
	switch r.Kind {
	case flatten.RefSignal:
		return s.signals[r.Index]
	case flatten.RefTemp:
		return s.temps[r.Index]
	case flatten.RefNext:
		return s.next[r.Index]
	default:
		return s.prog.Consts[r.Index]
	}
}

func (s *Simulator) store(r flatten.Ref, v uint64) {
	switch r.Kind {
	case flatten.RefSignal:
		s.signals[r.Index] = v
	case flatten.RefTemp:
		s.temps[r.Index] = v
	case flatten.RefNext:
		s.next[r.Index] = v
	}
}
