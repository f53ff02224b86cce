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

package flatten

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/silica-hdl/go-silica/bir"
)

// Flattening errors.
var (
	ErrClockUnreachable = errors.New("flatten: process clock not reachable from any clock input")
)

// SignalKind classifies a slot of the dense signal table.
type SignalKind uint8

const (
	KindInput SignalKind = iota
	KindOutput
	KindNet
	KindRegister
)

var kindNames = [...]string{
	KindInput:    "input",
	KindOutput:   "output",
	KindNet:      "net",
	KindRegister: "register",
}

func (k SignalKind) String() string {
	if int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Signal is one slot of the table layout.
type Signal struct {
	Name  string
	Width int
	Kind  SignalKind
	Mask  uint64
}

// Layout assigns every port, net and register a stable slot in declaration
// order: ports first, then nets, then registers. Slot numbers are the only
// signal identity the runtime layers ever see.
type Layout struct {
	Signals []Signal
	index   map[string]uint32
}

// IndexOf returns the slot of the named signal.
func (l *Layout) IndexOf(name string) (uint32, bool) {
	slot, ok := l.index[name]
	return slot, ok
}

// MemInfo describes one memory array instance.
type MemInfo struct {
	Name  string
	Width int
	Depth int
	Mask  uint64
}

// RegNext binds a register slot to the ops computing its sampled next value.
// The final op of Ops writes Ref{RefNext, Slot}.
type RegNext struct {
	Target uint32
	Slot   uint32
	Ops    []Op
}

// Domain groups the registers clocked by one signal. Edges are detected on
// the Clock slot: a commit fires when its previous value was zero and its
// settled value is nonzero.
type Domain struct {
	Clock uint32
	Regs  []RegNext
}

// Program is the executable form of a design: scheduled combinational ops,
// per-domain sequential programs and the layout they index.
type Program struct {
	Design  *bir.Design
	Layout  Layout
	Mems    []MemInfo
	Consts  []uint64
	Init    []uint64 // power-up value per signal slot
	Comb    []Op
	Domains []Domain

	NumTemps int
	NumNext  int

	// Clocks lists the slots of the physical clock inputs, the ports Tick
	// toggles. Cyclic is set when combinational dependencies form a loop,
	// forcing evaluation to iterate to a fixed point.
	Clocks []uint32
	Cyclic bool

	// Unbound lists domain clocks that no clock input reaches. Only a
	// lenient lowering produces them; their domains never edge.
	Unbound []uint32
}

// Flatten validates a design and lowers it into a Program.
func Flatten(d *bir.Design) (*Program, error) {
	return lower(d, false)
}

// FlattenLenient lowers like Flatten but accepts designs whose process
// clocks cannot be reached from any clock input. The offending clock slots
// are listed in Program.Unbound; their domains never edge under Tick.
func FlattenLenient(d *bir.Design) (*Program, error) {
	return lower(d, true)
}

func lower(d *bir.Design, lenient bool) (*Program, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	lw := newLowerer(d)
	p := &Program{Design: d, Layout: lw.layout, Mems: lw.mems}

	// Combinational assigns lower to one block each; blocks are then
	// scheduled so drivers run before readers wherever the graph allows.
	blocks := make([]block, len(d.Assigns))
	for i := range d.Assigns {
		blocks[i] = lw.lowerAssign(&d.Assigns[i])
	}
	p.Comb, p.Cyclic = schedule(blocks, &lw.layout)

	// Clocked processes group into one domain per distinct clock slot.
	domainOf := make(map[uint32]int)
	for pi := range d.Processes {
		proc := &d.Processes[pi]
		clock, _ := lw.layout.IndexOf(proc.Clock)
		di, ok := domainOf[clock]
		if !ok {
			di = len(p.Domains)
			domainOf[clock] = di
			p.Domains = append(p.Domains, Domain{Clock: clock})
		}
		for ai := range proc.Assigns {
			p.Domains[di].Regs = append(p.Domains[di].Regs, lw.lowerSeqAssign(&proc.Assigns[ai]))
		}
	}
	p.NumNext = int(lw.nextSlots)

	if err := p.resolveClocks(blocks, lenient); err != nil {
		return nil, err
	}

	p.Consts = lw.consts
	p.NumTemps = lw.maxTemps
	p.Init = make([]uint64, len(p.Layout.Signals))
	for i := range d.Registers {
		slot, _ := p.Layout.IndexOf(d.Registers[i].Name)
		p.Init[slot] = d.Registers[i].Init
	}
	return p, nil
}

// resolveClocks collects the physical clock roots and checks that every
// domain clock is one of them or combinationally derived from one. A clock
// that only a register drives, or that floats entirely, cannot be advanced
// by Tick and is rejected here rather than silently never edging. Lenient
// mode records such clocks in Unbound instead of failing.
func (p *Program) resolveClocks(blocks []block, lenient bool) error {
	roots := make(map[uint32]bool)
	for i := range p.Design.Ports {
		port := &p.Design.Ports[i]
		if port.Dir != bir.In {
			continue
		}
		slot, _ := p.Layout.IndexOf(port.Name)
		if port.Clock {
			roots[slot] = true
		}
	}
	// A process clocked directly by an unflagged input still gets a root;
	// the flag only matters for derived clock trees.
	for _, dom := range p.Domains {
		if p.Layout.Signals[dom.Clock].Kind == KindInput {
			roots[dom.Clock] = true
		}
	}

	// Propagate derivedness through the assign graph to a fixed point:
	// a driven signal is clock-derived when any signal it reads is.
	derived := make(map[uint32]bool, len(roots))
	for slot := range roots {
		derived[slot] = true
	}
	for changed := true; changed; {
		changed = false
		for i := range blocks {
			if derived[blocks[i].target] {
				continue
			}
			for _, r := range blocks[i].reads {
				if derived[r] {
					derived[blocks[i].target] = true
					changed = true
					break
				}
			}
		}
	}
	for _, dom := range p.Domains {
		if derived[dom.Clock] {
			continue
		}
		if !lenient {
			return fmt.Errorf("%w: %q", ErrClockUnreachable, p.Layout.Signals[dom.Clock].Name)
		}
		p.Unbound = append(p.Unbound, dom.Clock)
	}

	p.Clocks = make([]uint32, 0, len(roots))
	for slot := range roots {
		p.Clocks = append(p.Clocks, slot)
	}
	sort.Slice(p.Clocks, func(i, j int) bool { return p.Clocks[i] < p.Clocks[j] })
	return nil
}

// Disassemble writes a readable dump of the flat program.
func (p *Program) Disassemble(w io.Writer) {
	fmt.Fprintf(w, "; %s: %d signals, %d temps, %d comb ops, %d domains\n",
		p.Design.Name, len(p.Layout.Signals), p.NumTemps, len(p.Comb), len(p.Domains))
	for i := range p.Comb {
		fmt.Fprintf(w, "%4d  %s\n", i, p.Comb[i])
	}
	for _, dom := range p.Domains {
		fmt.Fprintf(w, "domain @%s:\n", p.Layout.Signals[dom.Clock].Name)
		for _, reg := range dom.Regs {
			fmt.Fprintf(w, "  %s <= n%d:\n", p.Layout.Signals[reg.Target].Name, reg.Slot)
			for i := range reg.Ops {
				fmt.Fprintf(w, "  %4d  %s\n", i, reg.Ops[i])
			}
		}
	}
}

// ---- Lowering ---------------------------------------------------------------

// block is one lowered combinational assignment: the ops computing it and
// the signal slots its expression reads, for scheduling.
type block struct {
	target uint32
	ops    []Op
	reads  []uint32
}

// lowerer carries the state threaded through expression lowering: the slot
// layout, the constant pool and the scratch slot high-water mark.
type lowerer struct {
	design   *bir.Design
	layout   Layout
	mems     []MemInfo
	memIdx   map[string]uint16
	consts   []uint64
	constIdx map[uint64]uint32

	ops      []Op
	reads    map[uint32]struct{}
	nextTemp int
	maxTemps int

	nextSlots uint32
}

func newLowerer(d *bir.Design) *lowerer {
	lw := &lowerer{
		design:   d,
		memIdx:   make(map[string]uint16, len(d.Memories)),
		constIdx: make(map[uint64]uint32),
	}
	lw.layout.index = make(map[string]uint32, len(d.Ports)+len(d.Nets)+len(d.Registers))
	add := func(name string, width int, kind SignalKind) {
		lw.layout.index[name] = uint32(len(lw.layout.Signals))
		lw.layout.Signals = append(lw.layout.Signals, Signal{
			Name:  name,
			Width: width,
			Kind:  kind,
			Mask:  bir.Mask(width),
		})
	}
	for i := range d.Ports {
		kind := KindInput
		if d.Ports[i].Dir == bir.Out {
			kind = KindOutput
		}
		add(d.Ports[i].Name, d.Ports[i].Width, kind)
	}
	for i := range d.Nets {
		add(d.Nets[i].Name, d.Nets[i].Width, KindNet)
	}
	for i := range d.Registers {
		add(d.Registers[i].Name, d.Registers[i].Width, KindRegister)
	}
	for i := range d.Memories {
		m := &d.Memories[i]
		lw.memIdx[m.Name] = uint16(len(lw.mems))
		lw.mems = append(lw.mems, MemInfo{Name: m.Name, Width: m.Width, Depth: m.Depth, Mask: bir.Mask(m.Width)})
	}
	return lw
}

// lowerAssign lowers one combinational assignment into a block ending with a
// copy into the target slot. The final copy applies the target's own mask,
// which is what resizes a mismatched expression on assignment.
func (lw *lowerer) lowerAssign(a *bir.Assign) block {
	lw.begin()
	src, _ := lw.lowerExpr(a.Expr)
	slot, _ := lw.layout.IndexOf(a.Target)
	lw.emit(Op{
		Code: OpCopy,
		Dst:  Ref{Kind: RefSignal, Index: slot},
		A:    src,
		Mask: lw.layout.Signals[slot].Mask,
	})
	return block{target: slot, ops: lw.take(), reads: lw.takeReads()}
}

// lowerSeqAssign lowers one register update. The result lands in a fresh
// next-value slot; nothing here touches the register itself.
func (lw *lowerer) lowerSeqAssign(sa *bir.SeqAssign) RegNext {
	lw.begin()
	src, _ := lw.lowerExpr(sa.Expr)
	target, _ := lw.layout.IndexOf(sa.Target)
	slot := lw.nextSlots
	lw.nextSlots++
	lw.emit(Op{
		Code: OpCopy,
		Dst:  Ref{Kind: RefNext, Index: slot},
		A:    src,
		Mask: lw.layout.Signals[target].Mask,
	})
	lw.takeReads()
	return RegNext{Target: target, Slot: slot, Ops: lw.take()}
}

func (lw *lowerer) begin() {
	lw.ops = nil
	lw.reads = make(map[uint32]struct{})
	lw.nextTemp = 0
}

func (lw *lowerer) take() []Op {
	if lw.nextTemp > lw.maxTemps {
		lw.maxTemps = lw.nextTemp
	}
	ops := lw.ops
	lw.ops = nil
	return ops
}

func (lw *lowerer) takeReads() []uint32 {
	reads := make([]uint32, 0, len(lw.reads))
	for slot := range lw.reads {
		reads = append(reads, slot)
	}
	sort.Slice(reads, func(i, j int) bool { return reads[i] < reads[j] })
	lw.reads = nil
	return reads
}

func (lw *lowerer) emit(op Op) {
	lw.ops = append(lw.ops, op)
}

func (lw *lowerer) temp() Ref {
	r := Ref{Kind: RefTemp, Index: uint32(lw.nextTemp)}
	lw.nextTemp++
	return r
}

// constRef pools v and returns a constant reference to it.
func (lw *lowerer) constRef(v uint64) Ref {
	idx, ok := lw.constIdx[v]
	if !ok {
		idx = uint32(len(lw.consts))
		lw.consts = append(lw.consts, v)
		lw.constIdx[v] = idx
	}
	return Ref{Kind: RefConst, Index: idx}
}

var binaryOpcodes = [...]Opcode{
	bir.Add: OpAdd,
	bir.Sub: OpSub,
	bir.Mul: OpMul,
	bir.Div: OpDiv,
	bir.Mod: OpMod,
	bir.And: OpAnd,
	bir.Or:  OpOr,
	bir.Xor: OpXor,
	bir.Shl: OpShl,
	bir.Shr: OpShr,
	bir.Eq:  OpEq,
	bir.Ne:  OpNe,
	bir.Lt:  OpLt,
	bir.Le:  OpLe,
	bir.Gt:  OpGt,
	bir.Ge:  OpGe,
}

// lowerExpr emits the ops computing e and returns the reference holding its
// value plus the value's width. Signals and pooled constants pass through
// without a copy; every computing node lands in a fresh temp.
func (lw *lowerer) lowerExpr(e bir.Expr) (Ref, int) {
	switch n := e.(type) {
	case *bir.Const:
		return lw.constRef(n.Value), n.Width

	case *bir.Sig:
		slot, _ := lw.layout.IndexOf(n.Name)
		lw.reads[slot] = struct{}{}
		return Ref{Kind: RefSignal, Index: slot}, lw.layout.Signals[slot].Width

	case *bir.Unary:
		a, w := lw.lowerExpr(n.X)
		dst := lw.temp()
		switch n.Op {
		case bir.Not:
			lw.emit(Op{Code: OpNot, Dst: dst, A: a, Mask: bir.Mask(w)})
			return dst, w
		case bir.LogicNot:
			lw.emit(Op{Code: OpEq, Dst: dst, A: a, B: lw.constRef(0), Mask: 1})
		case bir.RedAnd:
			lw.emit(Op{Code: OpEq, Dst: dst, A: a, B: lw.constRef(bir.Mask(w)), Mask: 1})
		case bir.RedOr:
			lw.emit(Op{Code: OpNe, Dst: dst, A: a, B: lw.constRef(0), Mask: 1})
		case bir.RedXor:
			lw.emit(Op{Code: OpRedXor, Dst: dst, A: a, Mask: 1})
		}
		return dst, 1

	case *bir.Binary:
		a, wx := lw.lowerExpr(n.X)
		b, wy := lw.lowerExpr(n.Y)
		w := n.Op.ResultWidth(wx, wy)
		dst := lw.temp()
		lw.emit(Op{Code: binaryOpcodes[n.Op], Dst: dst, A: a, B: b, Mask: bir.Mask(w)})
		return dst, w

	case *bir.Mux:
		cond, _ := lw.lowerExpr(n.Cond)
		a, wx := lw.lowerExpr(n.Then)
		b, wy := lw.lowerExpr(n.Else)
		w := wx
		if wy > w {
			w = wy
		}
		dst := lw.temp()
		lw.emit(Op{Code: OpMux, Dst: dst, A: a, B: b, C: cond, Mask: bir.Mask(w)})
		return dst, w

	case *bir.Slice:
		a, _ := lw.lowerExpr(n.X)
		dst := lw.temp()
		lw.emit(Op{Code: OpSlice, Dst: dst, A: a, Shift: uint8(n.Offset), Mask: bir.Mask(n.Width)})
		return dst, n.Width

	case *bir.Concat:
		// Parts lower first so the accumulator never clobbers an operand;
		// then each part folds in from most significant down.
		refs := make([]Ref, len(n.Parts))
		widths := make([]int, len(n.Parts))
		for i, part := range n.Parts {
			refs[i], widths[i] = lw.lowerExpr(part)
		}
		dst := lw.temp()
		total := widths[0]
		lw.emit(Op{Code: OpCopy, Dst: dst, A: refs[0], Mask: bir.Mask(total)})
		for i := 1; i < len(refs); i++ {
			total += widths[i]
			lw.emit(Op{Code: OpConcat, Dst: dst, A: refs[i], Shift: uint8(widths[i]), Mask: bir.Mask(total)})
		}
		return dst, total

	case *bir.Resize:
		a, _ := lw.lowerExpr(n.X)
		dst := lw.temp()
		lw.emit(Op{Code: OpCopy, Dst: dst, A: a, Mask: bir.Mask(n.Width)})
		return dst, n.Width

	case *bir.MemRead:
		addr, _ := lw.lowerExpr(n.Addr)
		mi := lw.memIdx[n.Mem]
		dst := lw.temp()
		lw.emit(Op{Code: OpMemRead, Dst: dst, A: addr, Mem: mi, Mask: lw.mems[mi].Mask})
		return dst, lw.mems[mi].Width
	}
	return Ref{}, 0
}

// ---- Scheduling -------------------------------------------------------------

// schedule orders blocks so every driver runs before its readers, using
// Kahn's algorithm seeded and drained in declaration order so the result is
// deterministic. Blocks left on a dependency cycle are appended in
// declaration order and the cyclic flag is raised; evaluation then iterates
// the whole program to a fixed point instead of trusting one pass.
func schedule(blocks []block, layout *Layout) ([]Op, bool) {
	n := len(blocks)
	driverOf := make(map[uint32]int, n)
	for i := range blocks {
		driverOf[blocks[i].target] = i
	}

	cyclic := false
	edges := make([][]int, n)
	indeg := make([]int, n)
	for i := range blocks {
		for _, read := range blocks[i].reads {
			j, ok := driverOf[read]
			if !ok {
				continue // state or input: no ordering constraint
			}
			if j == i {
				cyclic = true // self-feedback
				continue
			}
			edges[j] = append(edges[j], i)
			indeg[i]++
		}
	}

	order := make([]int, 0, n)
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, j := range edges[i] {
			indeg[j]--
			if indeg[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	if len(order) < n {
		cyclic = true
		scheduled := make([]bool, n)
		for _, i := range order {
			scheduled[i] = true
		}
		for i := 0; i < n; i++ {
			if !scheduled[i] {
				order = append(order, i)
			}
		}
	}

	var ops []Op
	for _, i := range order {
		ops = append(ops, blocks[i].ops...)
	}
	return ops, cyclic
}
