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
	"time"
	"unsafe"

	log "github.com/inconshreveable/log15"
	"golang.org/x/sys/unix"

	"github.com/silica-hdl/go-silica/flatten"
	"github.com/silica-hdl/go-silica/sim"
)

// Register roles inside generated code. R12/R13/R15 hold the buffer bases
// for the whole function; RAX carries results; RCX doubles as the shift
// count register; RDX is the mux condition and the DIV high word; R8-R11
// are guards and scratch. R14 (goroutine) and RBP/RSP are never touched,
// and nothing here calls or jumps, so no prologue is needed.
//
// All generated code is branch-free: the defined edge cases (zero divisor,
// oversized shift, out-of-range memory read) compile to SETcc/CMOVcc
// sequences, which keeps the encoder label-less and the timing flat.
//
// Buffer and memory base addresses are baked into the code as 64-bit
// immediates. That is sound because every baked array is pointer-free
// ([]uint64), the Go heap does not move allocations, and the backend keeps
// references to all of them for as long as it lives.

// jitBackend runs machine code assembled in-process.
type jitBackend struct {
	s    *sim.Simulator
	code []byte // executable mapping

	eval   func()
	sample func()
	cells  []*uintptr // closure words the func values point through

	// pins for every array whose address is baked into code
	signals, temps, next []uint64
	mems                 [][]uint64
}

// newJIT compiles the simulator's program to x86-64 and returns the backend.
func newJIT(s *sim.Simulator) (sim.Backend, error) {
	start := time.Now()
	p := s.Program()
	signals, temps, next, mems := s.Buffers()

	c := &opCompiler{
		asm:      &assembler{},
		consts:   p.Consts,
		mems:     mems,
		sigBase:  uintptr(unsafe.Pointer(&signals[0])),
		tmpBase:  uintptr(unsafe.Pointer(&temps[0])),
		nextBase: uintptr(unsafe.Pointer(&next[0])),
	}

	evalOff := 0
	c.compile(p.Comb)
	sampleOff := len(c.asm.code)
	var seq [][]flatten.Op
	for i := range p.Domains {
		for j := range p.Domains[i].Regs {
			seq = append(seq, p.Domains[i].Regs[j].Ops)
		}
	}
	c.compile(seq...)

	code, err := mapExec(c.asm.code)
	if err != nil {
		return nil, err
	}
	b := &jitBackend{
		s:       s,
		code:    code,
		signals: signals,
		temps:   temps,
		next:    next,
		mems:    mems,
	}
	var cell *uintptr
	b.eval, cell = entry(code, evalOff)
	b.cells = append(b.cells, cell)
	b.sample, cell = entry(code, sampleOff)
	b.cells = append(b.cells, cell)

	jitCompileTimer.UpdateSince(start)
	log.Debug("jit compiled", "design", p.Design.Name, "bytes", len(code),
		"elapsed", time.Since(start))
	return b, nil
}

func (b *jitBackend) Name() string { return "jit" }

func (b *jitBackend) Evaluate() { b.eval() }

func (b *jitBackend) Sample() { b.sample() }

// Close unmaps the generated code. The backend must not be used afterwards.
func (b *jitBackend) Close() error {
	if b.code == nil {
		return nil
	}
	err := unix.Munmap(b.code)
	b.code, b.eval, b.sample = nil, nil, nil
	return err
}

// mapExec copies code into a fresh anonymous mapping and seals it
// read-execute.
func mapExec(src []byte) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, len(src), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	copy(mem, src)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return mem, nil
}

// entry builds a callable func() entering the mapping at off. A Go func
// value is a pointer to a word holding the code address, so a one-word cell
// aimed into the mapping is a complete closure. The cell must stay alive as
// long as the func value does.
func entry(code []byte, off int) (func(), *uintptr) {
	cell := new(uintptr)
	*cell = uintptr(unsafe.Pointer(&code[off]))
	fn := *(*func())(unsafe.Pointer(&cell))
	return fn, cell
}

// ---- Op compilation ---------------------------------------------------------

type opCompiler struct {
	asm    *assembler
	consts []uint64
	mems   [][]uint64

	sigBase  uintptr
	tmpBase  uintptr
	nextBase uintptr
}

// compile emits one function: base setup, the op blocks in order, RET.
func (c *opCompiler) compile(blocks ...[]flatten.Op) {
	c.asm.movImm(r12, uint64(c.sigBase))
	c.asm.movImm(r13, uint64(c.tmpBase))
	c.asm.movImm(r15, uint64(c.nextBase))
	for _, ops := range blocks {
		for i := range ops {
			c.op(&ops[i])
		}
	}
	c.asm.ret()
}

// loadRef brings a reference's value into dst. Constants are baked as
// immediates; everything else is one load off a base register.
func (c *opCompiler) loadRef(dst gpr, r flatten.Ref) {
	switch r.Kind {
	case flatten.RefSignal:
		c.asm.load(dst, r12, int32(r.Index)*8)
	case flatten.RefTemp:
		c.asm.load(dst, r13, int32(r.Index)*8)
	case flatten.RefNext:
		c.asm.load(dst, r15, int32(r.Index)*8)
	default:
		c.asm.movImm(dst, c.consts[r.Index])
	}
}

// storeDst writes RAX to the destination slot.
func (c *opCompiler) storeDst(r flatten.Ref) {
	switch r.Kind {
	case flatten.RefSignal:
		c.asm.store(r12, int32(r.Index)*8, rax)
	case flatten.RefTemp:
		c.asm.store(r13, int32(r.Index)*8, rax)
	case flatten.RefNext:
		c.asm.store(r15, int32(r.Index)*8, rax)
	}
}

var compareCC = map[flatten.Opcode]byte{
	flatten.OpEq: ccE,
	flatten.OpNe: ccNE,
	flatten.OpLt: ccB,
	flatten.OpLe: ccBE,
	flatten.OpGt: ccA,
	flatten.OpGe: ccAE,
}

// op emits one flat instruction: operands into RAX/RCX (and RDX), the
// operation, the baked mask, the store.
func (c *opCompiler) op(op *flatten.Op) {
	a := c.asm
	switch op.Code {
	case flatten.OpCopy:
		c.loadRef(rax, op.A)

	case flatten.OpAdd, flatten.OpSub, flatten.OpAnd, flatten.OpOr, flatten.OpXor:
		c.loadRef(rax, op.A)
		c.loadRef(rcx, op.B)
		switch op.Code {
		case flatten.OpAdd:
			a.alu(opAdd, rax, rcx)
		case flatten.OpSub:
			a.alu(opSub, rax, rcx)
		case flatten.OpAnd:
			a.alu(opAnd, rax, rcx)
		case flatten.OpOr:
			a.alu(opOr, rax, rcx)
		case flatten.OpXor:
			a.alu(opXor, rax, rcx)
		}

	case flatten.OpMul:
		c.loadRef(rax, op.A)
		c.loadRef(rcx, op.B)
		a.imul(rax, rcx)

	case flatten.OpDiv, flatten.OpMod:
		// A zero divisor is swapped for 1 so DIV cannot fault, and the
		// result is then forced to zero off the remembered flag.
		c.loadRef(rax, op.A)
		c.loadRef(rcx, op.B)
		a.movImm(r10, 1)
		a.test(rcx, rcx)
		a.setcc(ccE, r8)
		a.cmov(ccE, rcx, r10)
		a.zero(rdx)
		a.divReg(rcx)
		if op.Code == flatten.OpMod {
			a.movReg(rax, rdx)
		}
		a.zero(r10)
		a.testByte(r8)
		a.cmov(ccNE, rax, r10)

	case flatten.OpNot:
		c.loadRef(rax, op.A)
		a.notReg(rax)

	case flatten.OpShl, flatten.OpShr:
		// Hardware semantics: counts of 64 and up produce zero, where the
		// bare instruction would wrap the count mod 64.
		c.loadRef(rax, op.A)
		c.loadRef(rcx, op.B)
		reg := byte(4)
		if op.Code == flatten.OpShr {
			reg = 5
		}
		a.shiftCL(reg, rax)
		a.zero(r11)
		a.movImm(r10, 64)
		a.alu(opCmp, rcx, r10)
		a.cmov(ccAE, rax, r11)

	case flatten.OpEq, flatten.OpNe, flatten.OpLt, flatten.OpLe, flatten.OpGt, flatten.OpGe:
		c.loadRef(rax, op.A)
		c.loadRef(rcx, op.B)
		a.alu(opCmp, rax, rcx)
		a.setcc(compareCC[op.Code], r10)
		a.movzxByte(rax, r10)

	case flatten.OpRedXor:
		c.loadRef(rax, op.A)
		for sh := uint8(32); sh >= 1; sh >>= 1 {
			a.movReg(r10, rax)
			a.shiftImm(5, r10, sh)
			a.alu(opXor, rax, r10)
		}
		// the 1-bit result mask below finishes the parity

	case flatten.OpMux:
		c.loadRef(rax, op.A)
		c.loadRef(rcx, op.B)
		c.loadRef(rdx, op.C)
		a.test(rdx, rdx)
		a.cmov(ccE, rax, rcx)

	case flatten.OpSlice:
		c.loadRef(rax, op.A)
		if op.Shift > 0 {
			a.shiftImm(5, rax, op.Shift)
		}

	case flatten.OpConcat:
		c.loadRef(rax, op.Dst)
		if op.Shift > 0 {
			a.shiftImm(4, rax, op.Shift)
		}
		c.loadRef(rcx, op.A)
		a.alu(opOr, rax, rcx)

	case flatten.OpMemRead:
		// Clamp the address to zero when out of range, load, then zero the
		// loaded word off the remembered flag.
		mem := c.mems[op.Mem]
		c.loadRef(rcx, op.A)
		a.movImm(r10, uint64(uintptr(unsafe.Pointer(&mem[0]))))
		a.movImm(r11, uint64(len(mem)))
		a.zero(r9)
		a.alu(opCmp, rcx, r11)
		a.setcc(ccAE, r8)
		a.cmov(ccAE, rcx, r9)
		a.loadScaled(rax, r10, rcx)
		a.testByte(r8)
		a.cmov(ccNE, rax, r9)
	}

	if op.Mask != ^uint64(0) {
		a.movImm(r9, op.Mask)
		a.alu(opAnd, rax, r9)
	}
	c.storeDst(op.Dst)
}
