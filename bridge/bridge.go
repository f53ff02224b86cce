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

// Package bridge connects simulated designs to externally owned memory and
// devices.
//
// A bridge follows the per-cycle protocol the simulator's hooks expose:
// after combinational logic settles on the low half-cycle it may read decode
// signals and inject data onto input ports (PreEdge), and after registers
// commit it may read write-enable, address and data signals to mirror a
// synchronous write into its own storage (PostCommit). Injecting after the
// edge instead of before it is the classic off-by-one-cycle bug; the hook
// placement makes the right order the only order available.
package bridge

import (
	"errors"
	"fmt"

	"github.com/silica-hdl/go-silica/flatten"
	"github.com/silica-hdl/go-silica/sim"
)

var (
	ErrUnknownPort = errors.New("bridge: unknown signal")
	ErrNotInput    = errors.New("bridge: injection target is not an input port")
	ErrBadImage    = errors.New("bridge: image does not fit memory")
)

// Bridge is the contract a hardware extension implements. Both methods run
// once per simulated cycle, synchronously with the simulator's tick.
type Bridge interface {
	PreEdge(s *sim.Simulator)
	PostCommit(s *sim.Simulator)
}

// Pin is a resolved handle onto one signal slot, bound once so the
// per-cycle paths never pay for a name lookup.
type Pin struct {
	sig  []uint64
	slot uint32
	mask uint64
}

// BindPin resolves a signal by name for reading.
func BindPin(s *sim.Simulator, name string) (Pin, error) {
	slot, ok := s.Program().Layout.IndexOf(name)
	if !ok {
		return Pin{}, fmt.Errorf("%w: %q", ErrUnknownPort, name)
	}
	signals, _, _, _ := s.Buffers()
	return Pin{
		sig:  signals,
		slot: slot,
		mask: s.Program().Layout.Signals[slot].Mask,
	}, nil
}

// BindInput resolves an input port for injection. Non-inputs are rejected:
// a bridge driving a net or register would fight the design itself.
func BindInput(s *sim.Simulator, name string) (Pin, error) {
	p, err := BindPin(s, name)
	if err != nil {
		return Pin{}, err
	}
	if s.Program().Layout.Signals[p.slot].Kind != flatten.KindInput {
		return Pin{}, fmt.Errorf("%w: %q", ErrNotInput, name)
	}
	return p, nil
}

// Get reads the signal's current value.
func (p Pin) Get() uint64 { return p.sig[p.slot] }

// Set drives the signal, masked to its width.
func (p Pin) Set(v uint64) { p.sig[p.slot] = v & p.mask }

// Mask returns the width mask of the bound signal.
func (p Pin) Mask() uint64 { return p.mask }

// Bus fans the simulator's hooks out to an ordered set of bridges.
type Bus struct {
	bridges []Bridge
}

func NewBus(bridges ...Bridge) *Bus {
	return &Bus{bridges: bridges}
}

// Add appends a bridge. Bridges run in the order they were added.
func (b *Bus) Add(br Bridge) {
	b.bridges = append(b.bridges, br)
}

// Hooks returns hook functions dispatching to every bridge. The Capture
// hook is left empty so callers can compose a trace recorder alongside.
func (b *Bus) Hooks() sim.Hooks {
	return sim.Hooks{
		PreEdge: func(s *sim.Simulator) {
			for _, br := range b.bridges {
				br.PreEdge(s)
			}
		},
		PostCommit: func(s *sim.Simulator) {
			for _, br := range b.bridges {
				br.PostCommit(s)
			}
		},
	}
}

// Bind installs the bus on the simulator, replacing its hooks.
func (b *Bus) Bind(s *sim.Simulator) {
	s.SetHooks(b.Hooks())
}
