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

// A minimal x86-64 encoder for the JIT. It covers exactly the straight-line
// subset the op compiler emits: register moves, loads and stores through a
// base register, ALU ops, shifts, SETcc/CMOVcc and RET. No jumps exist on
// purpose; conditional behavior is compiled to conditional moves so code
// never needs labels or patching.

// gpr is an x86-64 general purpose register number, including the REX
// extension bit.
type gpr uint8

const (
	rax gpr = 0
	rcx gpr = 1
	rdx gpr = 2
	rbx gpr = 3
	rsp gpr = 4
	rbp gpr = 5
	rsi gpr = 6
	rdi gpr = 7
	r8  gpr = 8
	r9  gpr = 9
	r10 gpr = 10
	r11 gpr = 11
	r12 gpr = 12
	r13 gpr = 13
	r14 gpr = 14 // goroutine pointer in the Go ABI; never touched
	r15 gpr = 15
)

// Condition code nibbles shared by SETcc (0F 9x) and CMOVcc (0F 4x).
const (
	ccB  = 0x2 // below (unsigned <)
	ccAE = 0x3 // above or equal (unsigned >=)
	ccE  = 0x4 // equal
	ccNE = 0x5 // not equal
	ccBE = 0x6 // below or equal (unsigned <=)
	ccA  = 0x7 // above (unsigned >)
)

// assembler accumulates machine code.
type assembler struct {
	code []byte
}

func (a *assembler) emit(bs ...byte) {
	a.code = append(a.code, bs...)
}

func (a *assembler) emit32(v uint32) {
	a.emit(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *assembler) emit64(v uint64) {
	a.emit32(uint32(v))
	a.emit32(uint32(v >> 32))
}

// rex builds a REX prefix. w selects 64-bit operands; r, x and b carry the
// high bits of the ModRM reg, SIB index and ModRM rm/SIB base fields.
func rex(w bool, r, x, b gpr) byte {
	p := byte(0x40)
	if w {
		p |= 0x08
	}
	p |= byte(r>>3) << 2
	p |= byte(x>>3) << 1
	p |= byte(b >> 3)
	return p
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// movImm loads a 64-bit immediate: MOV dst, imm64.
func (a *assembler) movImm(dst gpr, v uint64) {
	a.emit(rex(true, 0, 0, dst), 0xB8|byte(dst&7))
	a.emit64(v)
}

// movReg copies a register: MOV dst, src.
func (a *assembler) movReg(dst, src gpr) {
	a.emit(rex(true, src, 0, dst), 0x89, modrm(3, byte(src), byte(dst)))
}

// load reads a 64-bit word: MOV dst, [base+disp]. The SIB no-index form is
// always used so every base register encodes uniformly.
func (a *assembler) load(dst, base gpr, disp int32) {
	a.emit(rex(true, dst, 0, base), 0x8B, modrm(2, byte(dst), 4), 0x20|byte(base&7))
	a.emit32(uint32(disp))
}

// store writes a 64-bit word: MOV [base+disp], src.
func (a *assembler) store(base gpr, disp int32, src gpr) {
	a.emit(rex(true, src, 0, base), 0x89, modrm(2, byte(src), 4), 0x20|byte(base&7))
	a.emit32(uint32(disp))
}

// loadScaled reads MOV dst, [base + index*8]. Bases whose low bits collide
// with the RBP encoding take the disp8 form.
func (a *assembler) loadScaled(dst, base, index gpr) {
	sib := byte(3)<<6 | byte(index&7)<<3 | byte(base&7)
	if base&7 == 5 {
		a.emit(rex(true, dst, index, base), 0x8B, modrm(1, byte(dst), 4), sib, 0x00)
		return
	}
	a.emit(rex(true, dst, index, base), 0x8B, modrm(0, byte(dst), 4), sib)
}

// ALU opcode bytes, MR form (dst = dst OP src).
const (
	opAdd = 0x01
	opOr  = 0x09
	opAnd = 0x21
	opSub = 0x29
	opXor = 0x31
	opCmp = 0x39
)

// alu emits one of the MR-form ALU ops on two registers.
func (a *assembler) alu(opcode byte, dst, src gpr) {
	a.emit(rex(true, src, 0, dst), opcode, modrm(3, byte(src), byte(dst)))
}

// imul multiplies: IMUL dst, src (truncating 64-bit, matching Go).
func (a *assembler) imul(dst, src gpr) {
	a.emit(rex(true, dst, 0, src), 0x0F, 0xAF, modrm(3, byte(dst), byte(src)))
}

// notReg complements: NOT r.
func (a *assembler) notReg(r gpr) {
	a.emit(rex(true, 0, 0, r), 0xF7, modrm(3, 2, byte(r)))
}

// divReg divides RDX:RAX by r: DIV r. Quotient lands in RAX, remainder in
// RDX. The caller zeroes RDX and guards the zero divisor.
func (a *assembler) divReg(r gpr) {
	a.emit(rex(true, 0, 0, r), 0xF7, modrm(3, 6, byte(r)))
}

// shiftCL shifts r by CL: reg 4 selects SHL, 5 SHR.
func (a *assembler) shiftCL(reg byte, r gpr) {
	a.emit(rex(true, 0, 0, r), 0xD3, modrm(3, reg, byte(r)))
}

// shiftImm shifts r by a constant: reg 4 selects SHL, 5 SHR.
func (a *assembler) shiftImm(reg byte, r gpr, n uint8) {
	a.emit(rex(true, 0, 0, r), 0xC1, modrm(3, reg, byte(r)), n)
}

// test ands two registers for flags only: TEST a, b.
func (a *assembler) test(x, y gpr) {
	a.emit(rex(true, y, 0, x), 0x85, modrm(3, byte(y), byte(x)))
}

// testByte tests the low byte of r against itself.
func (a *assembler) testByte(r gpr) {
	a.emit(rex(false, r, 0, r), 0x84, modrm(3, byte(r), byte(r)))
}

// setcc materializes a condition into the low byte of r.
func (a *assembler) setcc(cc byte, r gpr) {
	a.emit(rex(false, 0, 0, r), 0x0F, 0x90|cc, modrm(3, 0, byte(r)))
}

// movzxByte zero-extends the low byte of src into dst.
func (a *assembler) movzxByte(dst, src gpr) {
	a.emit(rex(true, dst, 0, src), 0x0F, 0xB6, modrm(3, byte(dst), byte(src)))
}

// cmov conditionally moves src into dst.
func (a *assembler) cmov(cc byte, dst, src gpr) {
	a.emit(rex(true, dst, 0, src), 0x0F, 0x40|cc, modrm(3, byte(dst), byte(src)))
}

// zero clears a register with a 32-bit XOR, which zero-extends.
func (a *assembler) zero(r gpr) {
	a.emit(rex(false, r, 0, r), 0x31, modrm(3, byte(r), byte(r)))
}

// ret returns to the caller.
func (a *assembler) ret() {
	a.emit(0xC3)
}
