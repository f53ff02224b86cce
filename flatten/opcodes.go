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

// Package flatten lowers a validated behavioral design into a linear list of
// flat three-address operations over a dense table of 64-bit slots.
//
// Expression trees disappear here: every node becomes one Op reading slot
// references and writing one destination, with the node's width mask baked
// into the instruction. Combinational assignments are topologically ordered
// so a single pass settles acyclic logic; clocked processes are grouped into
// per-clock domains whose next values land in a separate sample buffer.
package flatten

import "fmt"

// Opcode is the operation code of one flat instruction.
type Opcode uint8

const (
	// ---- Moves -------------------------------------------------------------

	// OpCopy writes A masked to the result width. It implements plain
	// assignment, resize and truncation.
	OpCopy Opcode = iota

	// ---- Arithmetic (unsigned, wrapping within the result mask) ------------

	// OpAdd computes (A + B) & mask.
	OpAdd
	// OpSub computes (A - B) & mask, wrapping two's complement style.
	OpSub
	// OpMul computes (A * B) & mask.
	OpMul
	// OpDiv computes A / B; a zero divisor yields zero.
	OpDiv
	// OpMod computes A % B; a zero divisor yields zero.
	OpMod

	// ---- Bitwise -----------------------------------------------------------

	// OpAnd computes A & B.
	OpAnd
	// OpOr computes A | B.
	OpOr
	// OpXor computes A ^ B.
	OpXor
	// OpNot computes ^A within the result mask.
	OpNot
	// OpShl computes A << B; counts of 64 or more yield zero.
	OpShl
	// OpShr computes A >> B logically; counts of 64 or more yield zero.
	OpShr

	// ---- Comparison (result is 0 or 1) -------------------------------------

	// OpEq yields 1 when A == B. Reductions and logical negation lower to
	// this with a pooled constant operand.
	OpEq
	// OpNe yields 1 when A != B.
	OpNe
	// OpLt yields 1 when A < B, unsigned.
	OpLt
	// OpLe yields 1 when A <= B, unsigned.
	OpLe
	// OpGt yields 1 when A > B, unsigned.
	OpGt
	// OpGe yields 1 when A >= B, unsigned.
	OpGe
	// OpRedXor yields the bit parity of A.
	OpRedXor

	// ---- Structural --------------------------------------------------------

	// OpMux selects A when C is nonzero, B otherwise.
	OpMux
	// OpSlice computes (A >> Shift) & mask, extracting a bit field.
	OpSlice
	// OpConcat computes ((Dst << Shift) | A) & mask, folding one more part
	// into an accumulating concatenation. It is the only opcode that reads
	// its own destination.
	OpConcat

	// ---- Memory ------------------------------------------------------------

	// OpMemRead loads memory Mem at address A; out-of-range addresses read
	// as zero.
	OpMemRead

	// opcodeCount must remain the last constant; it gives the total number
	// of defined opcodes and is used for table bounds checks.
	opcodeCount
)

// opcodeInfo groups the mnemonic and source operand count for an opcode.
type opcodeInfo struct {
	name     string
	operands int
}

// opcodeTable maps every defined Opcode to its mnemonic and the number of
// source references it reads (the destination is not counted).
var opcodeTable = [opcodeCount]opcodeInfo{
	OpCopy:    {"COPY", 1},
	OpAdd:     {"ADD", 2},
	OpSub:     {"SUB", 2},
	OpMul:     {"MUL", 2},
	OpDiv:     {"DIV", 2},
	OpMod:     {"MOD", 2},
	OpAnd:     {"AND", 2},
	OpOr:      {"OR", 2},
	OpXor:     {"XOR", 2},
	OpNot:     {"NOT", 1},
	OpShl:     {"SHL", 2},
	OpShr:     {"SHR", 2},
	OpEq:      {"EQ", 2},
	OpNe:      {"NE", 2},
	OpLt:      {"LT", 2},
	OpLe:      {"LE", 2},
	OpGt:      {"GT", 2},
	OpGe:      {"GE", 2},
	OpRedXor:  {"RED_XOR", 1},
	OpMux:     {"MUX", 3},
	OpSlice:   {"SLICE", 1},
	OpConcat:  {"CONCAT", 1},
	OpMemRead: {"MEM_READ", 1},
}

// String returns the mnemonic name of the opcode, suitable for program dumps
// and debug messages.
func (op Opcode) String() string {
	if int(op) >= len(opcodeTable) {
		return "UNKNOWN"
	}
	return opcodeTable[op].name
}

// Operands returns the number of source references the opcode reads.
func (op Opcode) Operands() int {
	if int(op) >= len(opcodeTable) {
		return 0
	}
	return opcodeTable[op].operands
}

// RefKind selects which backing array a Ref indexes.
type RefKind uint8

const (
	// RefSignal indexes the dense signal table.
	RefSignal RefKind = iota
	// RefTemp indexes the per-evaluation scratch buffer.
	RefTemp
	// RefNext indexes the sampled next-value buffer of clocked registers.
	RefNext
	// RefConst indexes the program's constant pool.
	RefConst
)

var refKindPrefix = [...]string{RefSignal: "s", RefTemp: "t", RefNext: "n", RefConst: "c"}

// Ref addresses one 64-bit slot in a backing array chosen by Kind.
type Ref struct {
	Kind  RefKind
	Index uint32
}

func (r Ref) String() string {
	if int(r.Kind) >= len(refKindPrefix) {
		return fmt.Sprintf("?%d", r.Index)
	}
	return fmt.Sprintf("%s%d", refKindPrefix[r.Kind], r.Index)
}

// Op is one flat instruction. Dst receives the opcode's result masked with
// Mask; Shift carries the bit offset for OpSlice and the incoming part width
// for OpConcat; Mem selects the memory array for OpMemRead.
type Op struct {
	Code  Opcode
	Shift uint8
	Mem   uint16
	Dst   Ref
	A     Ref
	B     Ref
	C     Ref
	Mask  uint64
}

func (o Op) String() string {
	switch o.Code.Operands() {
	case 1:
		if o.Code == OpSlice || o.Code == OpConcat {
			return fmt.Sprintf("%s = %s %s #%d & %#x", o.Dst, o.Code, o.A, o.Shift, o.Mask)
		}
		if o.Code == OpMemRead {
			return fmt.Sprintf("%s = %s m%d[%s] & %#x", o.Dst, o.Code, o.Mem, o.A, o.Mask)
		}
		return fmt.Sprintf("%s = %s %s & %#x", o.Dst, o.Code, o.A, o.Mask)
	case 3:
		return fmt.Sprintf("%s = %s %s ? %s : %s & %#x", o.Dst, o.Code, o.C, o.A, o.B, o.Mask)
	default:
		return fmt.Sprintf("%s = %s %s, %s & %#x", o.Dst, o.Code, o.A, o.B, o.Mask)
	}
}
