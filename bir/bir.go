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

// Package bir defines the behavior-level intermediate representation consumed
// by the Silica engine.
//
// A Design is a flat netlist: named ports, nets and registers (the signals),
// optional word-addressed memories, combinational assignments and clocked
// processes. Expressions are pure trees over signals and literals. All values
// are unsigned and between 1 and 64 bits wide; hierarchy, typing and
// elaboration are frontend concerns and never reach this layer.
package bir

import "fmt"

// Signal width limits. Wider state must be split by the frontend.
const (
	MinWidth = 1
	MaxWidth = 64
)

// Mask returns the bit mask covering the low width bits.
func Mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(width) - 1
}

// Direction tells whether a port is driven by the environment or the design.
type Direction uint8

const (
	// In ports are driven by the harness via Poke or a bridge.
	In Direction = iota
	// Out ports are driven by the design and observed via Peek.
	Out
)

func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Port is a boundary signal of the design. A port with Clock set is a
// physical clock root: Tick toggles it and edge-triggered processes must be
// reachable from one.
type Port struct {
	Name  string
	Width int
	Dir   Direction
	Clock bool
}

// Net is an internal combinational signal. Its value is recomputed from its
// single driver on every evaluation; an undriven net reads as zero.
type Net struct {
	Name  string
	Width int
}

// Register is a clocked state element. It powers up holding Init and changes
// only when the rising edge of its process clock commits a new value.
type Register struct {
	Name  string
	Width int
	Init  uint64
}

// Memory is a word-addressed state array. Reads are combinational through
// MemRead expressions; writes arrive from outside the design, through a
// bridge or the Simulator API.
type Memory struct {
	Name  string
	Width int
	Depth int
}

// Assign drives a net or output port with a combinational expression.
type Assign struct {
	Target string
	Expr   Expr
}

// SeqAssign is one register update within a clocked process.
type SeqAssign struct {
	Target string
	Expr   Expr
}

// Process is a block of register updates sharing a clock. On each rising
// edge of Clock, every Expr is sampled against pre-edge state and then all
// targets commit together. Name is diagnostic metadata and may be empty;
// processes with the same clock behave as one.
type Process struct {
	Name    string
	Clock   string
	Assigns []SeqAssign
}

// Design is a complete behavioral netlist.
type Design struct {
	Name      string
	Ports     []Port
	Nets      []Net
	Registers []Register
	Memories  []Memory
	Assigns   []Assign
	Processes []Process
}

// SignalWidth returns the declared width of the named port, net or register.
func (d *Design) SignalWidth(name string) (int, bool) {
	for i := range d.Ports {
		if d.Ports[i].Name == name {
			return d.Ports[i].Width, true
		}
	}
	for i := range d.Nets {
		if d.Nets[i].Name == name {
			return d.Nets[i].Width, true
		}
	}
	for i := range d.Registers {
		if d.Registers[i].Name == name {
			return d.Registers[i].Width, true
		}
	}
	return 0, false
}

// MemoryByName returns the named memory declaration.
func (d *Design) MemoryByName(name string) (*Memory, bool) {
	for i := range d.Memories {
		if d.Memories[i].Name == name {
			return &d.Memories[i], true
		}
	}
	return nil, false
}

// ---- Expressions ------------------------------------------------------------

// Expr is a node of a combinational expression tree. The set of
// implementations is closed: exactly the types in this package satisfy it.
type Expr interface {
	exprNode()
}

// Const is an unsigned literal carrying an explicit width.
type Const struct {
	Value uint64
	Width int
}

// Sig reads the current value of a named signal.
type Sig struct {
	Name string
}

// Unary applies a single-operand operator.
type Unary struct {
	Op UnaryOp
	X  Expr
}

// Binary applies a two-operand operator.
type Binary struct {
	Op   BinaryOp
	X, Y Expr
}

// Mux selects Then when Cond is nonzero, Else otherwise.
type Mux struct {
	Cond Expr
	Then Expr
	Else Expr
}

// Slice extracts Width bits of X starting at bit Offset (bit 0 is the LSB).
type Slice struct {
	X      Expr
	Offset int
	Width  int
}

// Concat joins parts into one wider value. Parts[0] lands in the most
// significant position, matching source-level {a, b} notation.
type Concat struct {
	Parts []Expr
}

// Resize zero-extends or truncates X to exactly Width bits.
type Resize struct {
	X     Expr
	Width int
}

// MemRead reads one word of a memory at a combinationally computed address.
// Out-of-range addresses read as zero.
type MemRead struct {
	Mem  string
	Addr Expr
}

func (*Const) exprNode()   {}
func (*Sig) exprNode()     {}
func (*Unary) exprNode()   {}
func (*Binary) exprNode()  {}
func (*Mux) exprNode()     {}
func (*Slice) exprNode()   {}
func (*Concat) exprNode()  {}
func (*Resize) exprNode()  {}
func (*MemRead) exprNode() {}

// ---- Operators --------------------------------------------------------------

// UnaryOp identifies a single-operand operator.
type UnaryOp uint8

const (
	// Not is bitwise complement within the operand width.
	Not UnaryOp = iota
	// LogicNot yields 1 when the operand is zero.
	LogicNot
	// RedAnd yields 1 when every operand bit is set.
	RedAnd
	// RedOr yields 1 when any operand bit is set.
	RedOr
	// RedXor yields the operand's bit parity.
	RedXor

	unaryOpCount
)

var unaryNames = [unaryOpCount]string{
	Not:      "not",
	LogicNot: "lognot",
	RedAnd:   "redand",
	RedOr:    "redor",
	RedXor:   "redxor",
}

func (op UnaryOp) String() string {
	if op >= unaryOpCount {
		return fmt.Sprintf("unaryop(%d)", uint8(op))
	}
	return unaryNames[op]
}

// Valid reports whether op is a defined unary operator.
func (op UnaryOp) Valid() bool { return op < unaryOpCount }

// ResultWidth returns the width of the operator's result given its operand
// width. Reductions and logical negation collapse to a single bit.
func (op UnaryOp) ResultWidth(operand int) int {
	if op == Not {
		return operand
	}
	return 1
}

// BinaryOp identifies a two-operand operator. All arithmetic is unsigned and
// truncates to the result width.
type BinaryOp uint8

const (
	Add BinaryOp = iota
	Sub
	Mul
	// Div is unsigned division; a zero divisor yields zero.
	Div
	// Mod is unsigned remainder; a zero divisor yields zero.
	Mod
	And
	Or
	Xor
	// Shl shifts left; counts of 64 or more yield zero.
	Shl
	// Shr shifts right logically; counts of 64 or more yield zero.
	Shr
	Eq
	Ne
	// Lt through Ge compare unsigned values and yield a single bit.
	Lt
	Le
	Gt
	Ge

	binaryOpCount
)

var binaryNames = [binaryOpCount]string{
	Add: "add",
	Sub: "sub",
	Mul: "mul",
	Div: "div",
	Mod: "mod",
	And: "and",
	Or:  "or",
	Xor: "xor",
	Shl: "shl",
	Shr: "shr",
	Eq:  "eq",
	Ne:  "ne",
	Lt:  "lt",
	Le:  "le",
	Gt:  "gt",
	Ge:  "ge",
}

func (op BinaryOp) String() string {
	if op >= binaryOpCount {
		return fmt.Sprintf("binaryop(%d)", uint8(op))
	}
	return binaryNames[op]
}

// Valid reports whether op is a defined binary operator.
func (op BinaryOp) Valid() bool { return op < binaryOpCount }

// IsCompare reports whether op yields a single-bit truth value.
func (op BinaryOp) IsCompare() bool { return op >= Eq && op <= Ge }

// IsShift reports whether op is a shift, whose result width follows the
// left operand alone.
func (op BinaryOp) IsShift() bool { return op == Shl || op == Shr }

// ResultWidth returns the inferred width of the operator's result given its
// operand widths.
func (op BinaryOp) ResultWidth(x, y int) int {
	switch {
	case op.IsCompare():
		return 1
	case op.IsShift():
		return x
	case x >= y:
		return x
	default:
		return y
	}
}

// ExprWidth computes the inferred width of e in bits. It fails on references
// to signals or memories the design does not declare; structural checks
// beyond that are Validate's job.
func (d *Design) ExprWidth(e Expr) (int, error) {
	switch n := e.(type) {
	case *Const:
		return n.Width, nil
	case *Sig:
		w, ok := d.SignalWidth(n.Name)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, n.Name)
		}
		return w, nil
	case *Unary:
		w, err := d.ExprWidth(n.X)
		if err != nil {
			return 0, err
		}
		return n.Op.ResultWidth(w), nil
	case *Binary:
		x, err := d.ExprWidth(n.X)
		if err != nil {
			return 0, err
		}
		y, err := d.ExprWidth(n.Y)
		if err != nil {
			return 0, err
		}
		return n.Op.ResultWidth(x, y), nil
	case *Mux:
		x, err := d.ExprWidth(n.Then)
		if err != nil {
			return 0, err
		}
		y, err := d.ExprWidth(n.Else)
		if err != nil {
			return 0, err
		}
		if x >= y {
			return x, nil
		}
		return y, nil
	case *Slice:
		return n.Width, nil
	case *Concat:
		total := 0
		for _, p := range n.Parts {
			w, err := d.ExprWidth(p)
			if err != nil {
				return 0, err
			}
			total += w
		}
		return total, nil
	case *Resize:
		return n.Width, nil
	case *MemRead:
		m, ok := d.MemoryByName(n.Mem)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownMemory, n.Mem)
		}
		return m.Width, nil
	default:
		return 0, fmt.Errorf("bir: unknown expression node %T", e)
	}
}
