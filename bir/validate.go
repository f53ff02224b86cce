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
	"fmt"
)

// Validation errors. Errors returned by Validate wrap one of these, so
// callers can test the failure class with errors.Is.
var (
	ErrEmptyDesign      = errors.New("bir: design declares no signals")
	ErrDuplicateName    = errors.New("bir: duplicate declaration name")
	ErrBadWidth         = errors.New("bir: width outside 1..64")
	ErrBadDepth         = errors.New("bir: memory depth must be positive")
	ErrBadInit          = errors.New("bir: register init does not fit its width")
	ErrBadConst         = errors.New("bir: literal does not fit its width")
	ErrUnknownSignal    = errors.New("bir: reference to undeclared signal")
	ErrUnknownMemory    = errors.New("bir: reference to undeclared memory")
	ErrBadOperator      = errors.New("bir: undefined operator")
	ErrBadSlice         = errors.New("bir: slice outside its operand")
	ErrEmptyConcat      = errors.New("bir: concatenation has no parts")
	ErrConcatTooWide    = errors.New("bir: concatenation wider than 64 bits")
	ErrBadAssignTarget  = errors.New("bir: combinational target must be a net or output port")
	ErrBadProcessTarget = errors.New("bir: clocked target must be a register")
	ErrBadClock         = errors.New("bir: process clock must be a declared 1-bit signal")
	ErrMultipleDrivers  = errors.New("bir: signal driven more than once")
)

// signal classes used during validation.
type sigClass uint8

const (
	classInput sigClass = iota
	classOutput
	classNet
	classRegister
)

// Validate checks the design's structural well-formedness: unique names,
// legal widths, resolvable references, single drivers and legal assignment
// targets. A design that passes Validate can always be flattened.
func (d *Design) Validate() error {
	if len(d.Ports)+len(d.Nets)+len(d.Registers) == 0 {
		return ErrEmptyDesign
	}
	classes := make(map[string]sigClass, len(d.Ports)+len(d.Nets)+len(d.Registers))
	declare := func(name string, c sigClass) error {
		if _, dup := classes[name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		classes[name] = c
		return nil
	}
	for i := range d.Ports {
		p := &d.Ports[i]
		c := classInput
		if p.Dir == Out {
			c = classOutput
		}
		if err := declare(p.Name, c); err != nil {
			return err
		}
		if p.Width < MinWidth || p.Width > MaxWidth {
			return fmt.Errorf("%w: port %q is %d bits", ErrBadWidth, p.Name, p.Width)
		}
	}
	for i := range d.Nets {
		n := &d.Nets[i]
		if err := declare(n.Name, classNet); err != nil {
			return err
		}
		if n.Width < MinWidth || n.Width > MaxWidth {
			return fmt.Errorf("%w: net %q is %d bits", ErrBadWidth, n.Name, n.Width)
		}
	}
	for i := range d.Registers {
		r := &d.Registers[i]
		if err := declare(r.Name, classRegister); err != nil {
			return err
		}
		if r.Width < MinWidth || r.Width > MaxWidth {
			return fmt.Errorf("%w: register %q is %d bits", ErrBadWidth, r.Name, r.Width)
		}
		if r.Init&^Mask(r.Width) != 0 {
			return fmt.Errorf("%w: %q init %#x", ErrBadInit, r.Name, r.Init)
		}
	}
	for i := range d.Memories {
		m := &d.Memories[i]
		// Memories share the namespace so a MemRead can never shadow a signal.
		if err := declare(m.Name, classNet); err != nil {
			return err
		}
		if m.Width < MinWidth || m.Width > MaxWidth {
			return fmt.Errorf("%w: memory %q is %d bits", ErrBadWidth, m.Name, m.Width)
		}
		if m.Depth <= 0 {
			return fmt.Errorf("%w: %q depth %d", ErrBadDepth, m.Name, m.Depth)
		}
	}
	// Memories were declared as classNet for uniqueness only; repair the map
	// so target checks below reject them.
	for i := range d.Memories {
		delete(classes, d.Memories[i].Name)
	}

	driven := make(map[string]bool, len(d.Assigns))
	for i := range d.Assigns {
		a := &d.Assigns[i]
		c, ok := classes[a.Target]
		if !ok || (c != classNet && c != classOutput) {
			return fmt.Errorf("%w: %q", ErrBadAssignTarget, a.Target)
		}
		if driven[a.Target] {
			return fmt.Errorf("%w: %q", ErrMultipleDrivers, a.Target)
		}
		driven[a.Target] = true
		if err := d.validateExpr(a.Expr); err != nil {
			return fmt.Errorf("assign to %q: %w", a.Target, err)
		}
	}
	for pi := range d.Processes {
		p := &d.Processes[pi]
		if w, ok := d.SignalWidth(p.Clock); !ok || w != 1 {
			return fmt.Errorf("%w: %q", ErrBadClock, p.Clock)
		}
		for ai := range p.Assigns {
			sa := &p.Assigns[ai]
			if classes[sa.Target] != classRegister {
				return fmt.Errorf("%w: %q", ErrBadProcessTarget, sa.Target)
			}
			if driven[sa.Target] {
				return fmt.Errorf("%w: %q", ErrMultipleDrivers, sa.Target)
			}
			driven[sa.Target] = true
			if err := d.validateExpr(sa.Expr); err != nil {
				return fmt.Errorf("process on %q, register %q: %w", p.Clock, sa.Target, err)
			}
		}
	}
	return nil
}

// validateExpr walks e bottom-up, checking references, operators and
// structural width rules.
func (d *Design) validateExpr(e Expr) error {
	_, err := d.checkExpr(e)
	return err
}

func (d *Design) checkExpr(e Expr) (int, error) {
	switch n := e.(type) {
	case *Const:
		if n.Width < MinWidth || n.Width > MaxWidth {
			return 0, fmt.Errorf("%w: literal %#x is %d bits", ErrBadWidth, n.Value, n.Width)
		}
		if n.Value&^Mask(n.Width) != 0 {
			return 0, fmt.Errorf("%w: %#x in %d bits", ErrBadConst, n.Value, n.Width)
		}
		return n.Width, nil
	case *Sig:
		w, ok := d.SignalWidth(n.Name)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, n.Name)
		}
		return w, nil
	case *Unary:
		if !n.Op.Valid() {
			return 0, fmt.Errorf("%w: %s", ErrBadOperator, n.Op)
		}
		w, err := d.checkExpr(n.X)
		if err != nil {
			return 0, err
		}
		return n.Op.ResultWidth(w), nil
	case *Binary:
		if !n.Op.Valid() {
			return 0, fmt.Errorf("%w: %s", ErrBadOperator, n.Op)
		}
		x, err := d.checkExpr(n.X)
		if err != nil {
			return 0, err
		}
		y, err := d.checkExpr(n.Y)
		if err != nil {
			return 0, err
		}
		return n.Op.ResultWidth(x, y), nil
	case *Mux:
		if _, err := d.checkExpr(n.Cond); err != nil {
			return 0, err
		}
		x, err := d.checkExpr(n.Then)
		if err != nil {
			return 0, err
		}
		y, err := d.checkExpr(n.Else)
		if err != nil {
			return 0, err
		}
		if x >= y {
			return x, nil
		}
		return y, nil
	case *Slice:
		w, err := d.checkExpr(n.X)
		if err != nil {
			return 0, err
		}
		if n.Width < MinWidth || n.Width > MaxWidth {
			return 0, fmt.Errorf("%w: slice of %d bits", ErrBadWidth, n.Width)
		}
		if n.Offset < 0 || n.Offset+n.Width > w {
			return 0, fmt.Errorf("%w: [%d+:%d] of %d-bit operand", ErrBadSlice, n.Offset, n.Width, w)
		}
		return n.Width, nil
	case *Concat:
		if len(n.Parts) == 0 {
			return 0, ErrEmptyConcat
		}
		total := 0
		for _, p := range n.Parts {
			w, err := d.checkExpr(p)
			if err != nil {
				return 0, err
			}
			total += w
		}
		if total > MaxWidth {
			return 0, fmt.Errorf("%w: %d bits", ErrConcatTooWide, total)
		}
		return total, nil
	case *Resize:
		if _, err := d.checkExpr(n.X); err != nil {
			return 0, err
		}
		if n.Width < MinWidth || n.Width > MaxWidth {
			return 0, fmt.Errorf("%w: resize to %d bits", ErrBadWidth, n.Width)
		}
		return n.Width, nil
	case *MemRead:
		m, ok := d.MemoryByName(n.Mem)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownMemory, n.Mem)
		}
		if _, err := d.checkExpr(n.Addr); err != nil {
			return 0, err
		}
		return m.Width, nil
	default:
		return 0, fmt.Errorf("bir: unknown expression node %T", e)
	}
}
