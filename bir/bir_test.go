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

package bir

import (
	"errors"
	"testing"
)

// accDesign builds an 8-bit enabled accumulator with a small ROM, touching
// every declaration class.
func accDesign() *Design {
	return &Design{
		Name: "acc8",
		Ports: []Port{
			{Name: "clk", Width: 1, Dir: In, Clock: true},
			{Name: "en", Width: 1, Dir: In},
			{Name: "d", Width: 8, Dir: In},
			{Name: "q", Width: 8, Dir: Out},
		},
		Nets:      []Net{{Name: "sum", Width: 8}},
		Registers: []Register{{Name: "acc", Width: 8}},
		Memories:  []Memory{{Name: "rom", Width: 8, Depth: 16}},
		Assigns: []Assign{
			{Target: "sum", Expr: &Binary{Op: Add, X: &Sig{Name: "acc"}, Y: &Sig{Name: "d"}}},
			{Target: "q", Expr: &Sig{Name: "acc"}},
		},
		Processes: []Process{{
			Clock: "clk",
			Assigns: []SeqAssign{{
				Target: "acc",
				Expr:   &Mux{Cond: &Sig{Name: "en"}, Then: &Sig{Name: "sum"}, Else: &Sig{Name: "acc"}},
			}},
		}},
	}
}

func TestMask(t *testing.T) {
	cases := []struct {
		width int
		want  uint64
	}{
		{1, 0x1},
		{4, 0xF},
		{8, 0xFF},
		{16, 0xFFFF},
		{63, 0x7FFFFFFFFFFFFFFF},
		{64, 0xFFFFFFFFFFFFFFFF},
	}
	for _, tc := range cases {
		if got := Mask(tc.width); got != tc.want {
			t.Errorf("Mask(%d) = %#x; want %#x", tc.width, got, tc.want)
		}
	}
}

func TestOperatorNames(t *testing.T) {
	binCases := []struct {
		op   BinaryOp
		want string
	}{
		{Add, "add"}, {Sub, "sub"}, {Mul, "mul"}, {Div, "div"}, {Mod, "mod"},
		{And, "and"}, {Or, "or"}, {Xor, "xor"}, {Shl, "shl"}, {Shr, "shr"},
		{Eq, "eq"}, {Ne, "ne"}, {Lt, "lt"}, {Le, "le"}, {Gt, "gt"}, {Ge, "ge"},
	}
	for _, tc := range binCases {
		if got := tc.op.String(); got != tc.want {
			t.Errorf("BinaryOp(%d).String() = %q; want %q", tc.op, got, tc.want)
		}
	}
	unCases := []struct {
		op   UnaryOp
		want string
	}{
		{Not, "not"}, {LogicNot, "lognot"}, {RedAnd, "redand"}, {RedOr, "redor"}, {RedXor, "redxor"},
	}
	for _, tc := range unCases {
		if got := tc.op.String(); got != tc.want {
			t.Errorf("UnaryOp(%d).String() = %q; want %q", tc.op, got, tc.want)
		}
	}
	if BinaryOp(200).Valid() {
		t.Error("BinaryOp(200).Valid() = true; want false")
	}
	if UnaryOp(200).Valid() {
		t.Error("UnaryOp(200).Valid() = true; want false")
	}
}

func TestResultWidth(t *testing.T) {
	cases := []struct {
		op   BinaryOp
		x, y int
		want int
	}{
		{Add, 8, 4, 8},   // widest operand wins
		{Mul, 3, 16, 16}, //
		{Shl, 8, 32, 8},  // shifts follow the left operand
		{Shr, 12, 3, 12}, //
		{Eq, 8, 8, 1},    // compares collapse to one bit
		{Lt, 64, 1, 1},   //
	}
	for _, tc := range cases {
		if got := tc.op.ResultWidth(tc.x, tc.y); got != tc.want {
			t.Errorf("%s.ResultWidth(%d, %d) = %d; want %d", tc.op, tc.x, tc.y, got, tc.want)
		}
	}
	if got := Not.ResultWidth(8); got != 8 {
		t.Errorf("not.ResultWidth(8) = %d; want 8", got)
	}
	for _, op := range []UnaryOp{LogicNot, RedAnd, RedOr, RedXor} {
		if got := op.ResultWidth(8); got != 1 {
			t.Errorf("%s.ResultWidth(8) = %d; want 1", op, got)
		}
	}
}

func TestExprWidth(t *testing.T) {
	d := accDesign()
	cases := []struct {
		name string
		expr Expr
		want int
	}{
		{"sig", &Sig{Name: "d"}, 8},
		{"const", &Const{Value: 3, Width: 4}, 4},
		{"add", &Binary{Op: Add, X: &Sig{Name: "d"}, Y: &Sig{Name: "en"}}, 8},
		{"compare", &Binary{Op: Ge, X: &Sig{Name: "d"}, Y: &Sig{Name: "acc"}}, 1},
		{"mux", &Mux{Cond: &Sig{Name: "en"}, Then: &Sig{Name: "d"}, Else: &Const{Value: 0, Width: 4}}, 8},
		{"slice", &Slice{X: &Sig{Name: "d"}, Offset: 4, Width: 4}, 4},
		{"concat", &Concat{Parts: []Expr{&Sig{Name: "d"}, &Sig{Name: "en"}}}, 9},
		{"resize", &Resize{X: &Sig{Name: "en"}, Width: 16}, 16},
		{"memread", &MemRead{Mem: "rom", Addr: &Sig{Name: "d"}}, 8},
		{"reduction", &Unary{Op: RedXor, X: &Sig{Name: "d"}}, 1},
	}
	for _, tc := range cases {
		got, err := d.ExprWidth(tc.expr)
		if err != nil {
			t.Fatalf("%s: ExprWidth returned error: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: width = %d; want %d", tc.name, got, tc.want)
		}
	}
	if _, err := d.ExprWidth(&Sig{Name: "ghost"}); !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("unknown signal: err = %v; want ErrUnknownSignal", err)
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := accDesign().Validate(); err != nil {
		t.Fatalf("Validate returned error for well-formed design: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(d *Design)
		want   error
	}{
		{
			"empty design",
			func(d *Design) { d.Ports, d.Nets, d.Registers, d.Processes, d.Assigns, d.Memories = nil, nil, nil, nil, nil, nil },
			ErrEmptyDesign,
		},
		{
			"duplicate name",
			func(d *Design) { d.Nets = append(d.Nets, Net{Name: "acc", Width: 4}) },
			ErrDuplicateName,
		},
		{
			"memory shadowing a net",
			func(d *Design) { d.Memories = append(d.Memories, Memory{Name: "sum", Width: 8, Depth: 4}) },
			ErrDuplicateName,
		},
		{
			"zero width port",
			func(d *Design) { d.Ports[2].Width = 0 },
			ErrBadWidth,
		},
		{
			"overwide net",
			func(d *Design) { d.Nets[0].Width = 65 },
			ErrBadWidth,
		},
		{
			"zero depth memory",
			func(d *Design) { d.Memories[0].Depth = 0 },
			ErrBadDepth,
		},
		{
			"init overflow",
			func(d *Design) { d.Registers[0].Init = 0x100 },
			ErrBadInit,
		},
		{
			"literal overflow",
			func(d *Design) { d.Assigns[1].Expr = &Const{Value: 16, Width: 4} },
			ErrBadConst,
		},
		{
			"undeclared signal",
			func(d *Design) { d.Assigns[0].Expr = &Sig{Name: "ghost"} },
			ErrUnknownSignal,
		},
		{
			"undeclared memory",
			func(d *Design) { d.Assigns[1].Expr = &MemRead{Mem: "ghost", Addr: &Sig{Name: "d"}} },
			ErrUnknownMemory,
		},
		{
			"assign to input",
			func(d *Design) { d.Assigns[0].Target = "d" },
			ErrBadAssignTarget,
		},
		{
			"assign to register",
			func(d *Design) { d.Assigns[0].Target = "acc" },
			ErrBadAssignTarget,
		},
		{
			"assign to memory",
			func(d *Design) { d.Assigns[0].Target = "rom" },
			ErrBadAssignTarget,
		},
		{
			"two drivers on one net",
			func(d *Design) {
				d.Assigns = append(d.Assigns, Assign{Target: "sum", Expr: &Sig{Name: "d"}})
			},
			ErrMultipleDrivers,
		},
		{
			"register written by two processes",
			func(d *Design) {
				d.Processes = append(d.Processes, Process{
					Clock:   "clk",
					Assigns: []SeqAssign{{Target: "acc", Expr: &Sig{Name: "d"}}},
				})
			},
			ErrMultipleDrivers,
		},
		{
			"wide clock",
			func(d *Design) { d.Processes[0].Clock = "d" },
			ErrBadClock,
		},
		{
			"undeclared clock",
			func(d *Design) { d.Processes[0].Clock = "ghost" },
			ErrBadClock,
		},
		{
			"process writes a net",
			func(d *Design) { d.Processes[0].Assigns[0].Target = "sum" },
			ErrBadProcessTarget,
		},
		{
			"slice past operand",
			func(d *Design) { d.Assigns[1].Expr = &Slice{X: &Sig{Name: "d"}, Offset: 5, Width: 4} },
			ErrBadSlice,
		},
		{
			"empty concat",
			func(d *Design) { d.Assigns[1].Expr = &Concat{} },
			ErrEmptyConcat,
		},
		{
			"overwide concat",
			func(d *Design) {
				parts := make([]Expr, 9)
				for i := range parts {
					parts[i] = &Sig{Name: "d"}
				}
				d.Assigns[1].Expr = &Concat{Parts: parts}
			},
			ErrConcatTooWide,
		},
		{
			"invalid binary operator",
			func(d *Design) { d.Assigns[1].Expr = &Binary{Op: BinaryOp(99), X: &Sig{Name: "d"}, Y: &Sig{Name: "d"}} },
			ErrBadOperator,
		},
	}
	for _, tc := range cases {
		d := accDesign()
		tc.mutate(d)
		err := d.Validate()
		if err == nil {
			t.Errorf("%s: Validate accepted a malformed design", tc.name)
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v; want %v", tc.name, err, tc.want)
		}
	}
}
