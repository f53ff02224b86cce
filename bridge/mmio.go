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

package bridge

import (
	"github.com/silica-hdl/go-silica/sim"
)

// MMIOPorts names the bus signals a device decoder watches. RE and WE are
// strobes: handlers only fire on cycles where the design asserts them, which
// keeps clear-on-read and FIFO-pop side effects honest.
type MMIOPorts struct {
	Addr  string
	RE    string // read strobe; empty means read every cycle
	RData string // input port receiving device read data
	WE    string // write strobe
	WData string
}

// region is one mapped device range with its callbacks.
type region struct {
	start, end uint64 // inclusive
	onRead     func(addr uint64) uint64
	onWrite    func(addr uint64, value uint64)
}

// MMIO decodes an address bus into registered device regions. Reads inject
// the handler's value onto the data input before the edge; writes dispatch
// the committed data after it. Unmapped reads inject zero.
type MMIO struct {
	regions []region

	addr  Pin
	rdata Pin

	hasRE bool
	re    Pin

	writable bool
	we       Pin
	wdata    Pin
}

// NewMMIO binds a device decoder to the named signals.
func NewMMIO(s *sim.Simulator, ports MMIOPorts) (*MMIO, error) {
	m := &MMIO{}
	var err error
	if m.addr, err = BindPin(s, ports.Addr); err != nil {
		return nil, err
	}
	if m.rdata, err = BindInput(s, ports.RData); err != nil {
		return nil, err
	}
	if ports.RE != "" {
		m.hasRE = true
		if m.re, err = BindPin(s, ports.RE); err != nil {
			return nil, err
		}
	}
	if ports.WE != "" {
		m.writable = true
		if m.we, err = BindPin(s, ports.WE); err != nil {
			return nil, err
		}
		if m.wdata, err = BindPin(s, ports.WData); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Map registers handlers for the inclusive address range [start, end].
// Either callback may be nil. Later registrations win on overlap; a device
// count small enough for a linear scan is assumed.
func (m *MMIO) Map(start, end uint64, onRead func(addr uint64) uint64, onWrite func(addr uint64, value uint64)) {
	m.regions = append([]region{{start: start, end: end, onRead: onRead, onWrite: onWrite}}, m.regions...)
}

func (m *MMIO) find(addr uint64) *region {
	for i := range m.regions {
		if addr >= m.regions[i].start && addr <= m.regions[i].end {
			return &m.regions[i]
		}
	}
	return nil
}

func (m *MMIO) PreEdge(s *sim.Simulator) {
	if m.hasRE && m.re.Get() == 0 {
		return
	}
	addr := m.addr.Get()
	var v uint64
	if r := m.find(addr); r != nil && r.onRead != nil {
		v = r.onRead(addr)
	}
	m.rdata.Set(v)
}

func (m *MMIO) PostCommit(s *sim.Simulator) {
	if !m.writable || m.we.Get() == 0 {
		return
	}
	addr := m.addr.Get()
	if r := m.find(addr); r != nil && r.onWrite != nil {
		r.onWrite(addr, m.wdata.Get())
	}
}
