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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// JSON decode errors.
var (
	ErrBadUint     = errors.New("bir: malformed unsigned integer")
	ErrBadExprKind = errors.New("bir: unknown expression kind")
	ErrBadDir      = errors.New("bir: port direction must be \"in\" or \"out\"")
	ErrUnclocked   = errors.New("bir: process is not clocked")
)

// Uint64 marshals as a 0x-prefixed hex string and unmarshals from hex
// strings or plain decimal numbers, so frontends can emit either form.
type Uint64 uint64

// MarshalJSON implements json.Marshaler.
func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + strconv.FormatUint(uint64(u), 16) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Uint64) UnmarshalJSON(input []byte) error {
	s := string(input)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadUint, input)
	}
	*u = Uint64(v)
	return nil
}

// The wire form of a design. Field order here fixes the canonical encoding
// that content hashes are computed over.
type designJSON struct {
	Name      string         `json:"name"`
	Ports     []portJSON     `json:"ports,omitempty"`
	Nets      []netJSON      `json:"nets,omitempty"`
	Registers []registerJSON `json:"registers,omitempty"`
	Memories  []memoryJSON   `json:"memories,omitempty"`
	Assigns   []assignJSON   `json:"assigns,omitempty"`
	Processes []processJSON  `json:"processes,omitempty"`
}

type portJSON struct {
	Name  string `json:"name"`
	Width int    `json:"width"`
	Dir   string `json:"dir"`
	Clock bool   `json:"clock,omitempty"`
}

type netJSON struct {
	Name  string `json:"name"`
	Width int    `json:"width"`
}

type registerJSON struct {
	Name  string `json:"name"`
	Width int    `json:"width"`
	Init  Uint64 `json:"init,omitempty"`
}

type memoryJSON struct {
	Name  string `json:"name"`
	Width int    `json:"width"`
	Depth int    `json:"depth"`
}

type assignJSON struct {
	Target string    `json:"target"`
	Expr   *exprJSON `json:"expr"`
}

type processJSON struct {
	Name    string       `json:"name,omitempty"`
	Clock   string       `json:"clock"`
	Clocked *bool        `json:"clocked,omitempty"`
	Assigns []assignJSON `json:"assigns"`
}

// exprJSON is the flat union every expression node encodes to, discriminated
// by Kind. Unused fields are omitted.
type exprJSON struct {
	Kind   string      `json:"kind"`
	Value  Uint64      `json:"value,omitempty"`
	Width  int         `json:"width,omitempty"`
	Name   string      `json:"name,omitempty"`
	Op     string      `json:"op,omitempty"`
	X      *exprJSON   `json:"x,omitempty"`
	Y      *exprJSON   `json:"y,omitempty"`
	Cond   *exprJSON   `json:"cond,omitempty"`
	Then   *exprJSON   `json:"then,omitempty"`
	Else   *exprJSON   `json:"else,omitempty"`
	Offset int         `json:"offset,omitempty"`
	Parts  []*exprJSON `json:"parts,omitempty"`
	Mem    string      `json:"mem,omitempty"`
	Addr   *exprJSON   `json:"addr,omitempty"`
}

var (
	unaryOpByName  = make(map[string]UnaryOp, unaryOpCount)
	binaryOpByName = make(map[string]BinaryOp, binaryOpCount)
)

func init() {
	for op := UnaryOp(0); op < unaryOpCount; op++ {
		unaryOpByName[op.String()] = op
	}
	for op := BinaryOp(0); op < binaryOpCount; op++ {
		binaryOpByName[op.String()] = op
	}
}

// DecodeJSON parses a design from its JSON encoding and validates it.
func DecodeJSON(r io.Reader) (*Design, error) {
	var d Design
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("bir: invalid design JSON: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// EncodeJSON writes the canonical JSON encoding of d. The output is
// deterministic for a given design, making it safe to hash.
func EncodeJSON(w io.Writer, d *Design) error {
	return json.NewEncoder(w).Encode(d)
}

// MarshalJSON implements json.Marshaler.
func (d *Design) MarshalJSON() ([]byte, error) {
	enc := designJSON{Name: d.Name}
	for _, p := range d.Ports {
		enc.Ports = append(enc.Ports, portJSON{Name: p.Name, Width: p.Width, Dir: p.Dir.String(), Clock: p.Clock})
	}
	for _, n := range d.Nets {
		enc.Nets = append(enc.Nets, netJSON{Name: n.Name, Width: n.Width})
	}
	for _, r := range d.Registers {
		enc.Registers = append(enc.Registers, registerJSON{Name: r.Name, Width: r.Width, Init: Uint64(r.Init)})
	}
	for _, m := range d.Memories {
		enc.Memories = append(enc.Memories, memoryJSON{Name: m.Name, Width: m.Width, Depth: m.Depth})
	}
	for _, a := range d.Assigns {
		enc.Assigns = append(enc.Assigns, assignJSON{Target: a.Target, Expr: exprToJSON(a.Expr)})
	}
	for _, p := range d.Processes {
		pj := processJSON{Name: p.Name, Clock: p.Clock}
		for _, sa := range p.Assigns {
			pj.Assigns = append(pj.Assigns, assignJSON{Target: sa.Target, Expr: exprToJSON(sa.Expr)})
		}
		enc.Processes = append(enc.Processes, pj)
	}
	return json.Marshal(&enc)
}

// UnmarshalJSON implements json.Unmarshaler. It checks only what is needed
// to build the tree; call Validate for full structural checks.
func (d *Design) UnmarshalJSON(input []byte) error {
	var dec designJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	out := Design{Name: dec.Name}
	for _, p := range dec.Ports {
		var dir Direction
		switch p.Dir {
		case "in":
			dir = In
		case "out":
			dir = Out
		default:
			return fmt.Errorf("%w: %q", ErrBadDir, p.Dir)
		}
		out.Ports = append(out.Ports, Port{Name: p.Name, Width: p.Width, Dir: dir, Clock: p.Clock})
	}
	for _, n := range dec.Nets {
		out.Nets = append(out.Nets, Net{Name: n.Name, Width: n.Width})
	}
	for _, r := range dec.Registers {
		out.Registers = append(out.Registers, Register{Name: r.Name, Width: r.Width, Init: uint64(r.Init)})
	}
	for _, m := range dec.Memories {
		out.Memories = append(out.Memories, Memory{Name: m.Name, Width: m.Width, Depth: m.Depth})
	}
	for _, a := range dec.Assigns {
		e, err := exprFromJSON(a.Expr)
		if err != nil {
			return err
		}
		out.Assigns = append(out.Assigns, Assign{Target: a.Target, Expr: e})
	}
	for _, p := range dec.Processes {
		// Front ends may mark processes combinational; those belong in
		// assigns and have no meaning here.
		if p.Clocked != nil && !*p.Clocked {
			return fmt.Errorf("%w: %q", ErrUnclocked, p.Name)
		}
		proc := Process{Name: p.Name, Clock: p.Clock}
		for _, sa := range p.Assigns {
			e, err := exprFromJSON(sa.Expr)
			if err != nil {
				return err
			}
			proc.Assigns = append(proc.Assigns, SeqAssign{Target: sa.Target, Expr: e})
		}
		out.Processes = append(out.Processes, proc)
	}
	*d = out
	return nil
}

func exprToJSON(e Expr) *exprJSON {
	switch n := e.(type) {
	case *Const:
		return &exprJSON{Kind: "const", Value: Uint64(n.Value), Width: n.Width}
	case *Sig:
		return &exprJSON{Kind: "sig", Name: n.Name}
	case *Unary:
		return &exprJSON{Kind: "unary", Op: n.Op.String(), X: exprToJSON(n.X)}
	case *Binary:
		return &exprJSON{Kind: "binary", Op: n.Op.String(), X: exprToJSON(n.X), Y: exprToJSON(n.Y)}
	case *Mux:
		return &exprJSON{Kind: "mux", Cond: exprToJSON(n.Cond), Then: exprToJSON(n.Then), Else: exprToJSON(n.Else)}
	case *Slice:
		return &exprJSON{Kind: "slice", X: exprToJSON(n.X), Offset: n.Offset, Width: n.Width}
	case *Concat:
		parts := make([]*exprJSON, len(n.Parts))
		for i, p := range n.Parts {
			parts[i] = exprToJSON(p)
		}
		return &exprJSON{Kind: "concat", Parts: parts}
	case *Resize:
		return &exprJSON{Kind: "resize", X: exprToJSON(n.X), Width: n.Width}
	case *MemRead:
		return &exprJSON{Kind: "memread", Mem: n.Mem, Addr: exprToJSON(n.Addr)}
	default:
		return nil
	}
}

func exprFromJSON(j *exprJSON) (Expr, error) {
	if j == nil {
		return nil, fmt.Errorf("%w: missing expression", ErrBadExprKind)
	}
	switch j.Kind {
	case "const":
		return &Const{Value: uint64(j.Value), Width: j.Width}, nil
	case "sig":
		return &Sig{Name: j.Name}, nil
	case "unary":
		op, ok := unaryOpByName[j.Op]
		if !ok {
			return nil, fmt.Errorf("%w: unary %q", ErrBadOperator, j.Op)
		}
		x, err := exprFromJSON(j.X)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: op, X: x}, nil
	case "binary":
		op, ok := binaryOpByName[j.Op]
		if !ok {
			return nil, fmt.Errorf("%w: binary %q", ErrBadOperator, j.Op)
		}
		x, err := exprFromJSON(j.X)
		if err != nil {
			return nil, err
		}
		y, err := exprFromJSON(j.Y)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: op, X: x, Y: y}, nil
	case "mux":
		cond, err := exprFromJSON(j.Cond)
		if err != nil {
			return nil, err
		}
		then, err := exprFromJSON(j.Then)
		if err != nil {
			return nil, err
		}
		els, err := exprFromJSON(j.Else)
		if err != nil {
			return nil, err
		}
		return &Mux{Cond: cond, Then: then, Else: els}, nil
	case "slice":
		x, err := exprFromJSON(j.X)
		if err != nil {
			return nil, err
		}
		return &Slice{X: x, Offset: j.Offset, Width: j.Width}, nil
	case "concat":
		parts := make([]Expr, len(j.Parts))
		for i, pj := range j.Parts {
			p, err := exprFromJSON(pj)
			if err != nil {
				return nil, err
			}
			parts[i] = p
		}
		return &Concat{Parts: parts}, nil
	case "resize":
		x, err := exprFromJSON(j.X)
		if err != nil {
			return nil, err
		}
		return &Resize{X: x, Width: j.Width}, nil
	case "memread":
		addr, err := exprFromJSON(j.Addr)
		if err != nil {
			return nil, err
		}
		return &MemRead{Mem: j.Mem, Addr: addr}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadExprKind, j.Kind)
	}
}
