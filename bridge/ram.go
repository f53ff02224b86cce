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
	"github.com/rcrowley/go-metrics"

	"github.com/silica-hdl/go-silica/sim"
)

var (
	ramReadMeter  = metrics.NewRegisteredMeter("bridge/ram/reads", nil)
	ramWriteMeter = metrics.NewRegisteredMeter("bridge/ram/writes", nil)
)

// RAMPorts names the design signals a RAM bridge watches. WE, WAddr and
// WData may all be empty for a read-only attachment.
type RAMPorts struct {
	RAddr string // read address, sampled before the edge
	RData string // input port receiving injected read data
	WE    string // write enable, sampled after commit
	WAddr string // write address
	WData string // write data
}

// RAM owns a word array outside the design and mirrors it as a synchronous
// memory: the word under the read address is injected onto the data input
// before every rising edge, and a committed write enable stores write data
// after the edge. Out-of-range reads inject zero; out-of-range writes are
// dropped.
type RAM struct {
	words []uint64

	raddr Pin
	rdata Pin

	writable         bool
	we, waddr, wdata Pin
}

// NewRAM binds a RAM of depth words to the named signals.
func NewRAM(s *sim.Simulator, depth int, ports RAMPorts) (*RAM, error) {
	r := &RAM{words: make([]uint64, depth)}
	var err error
	if r.raddr, err = BindPin(s, ports.RAddr); err != nil {
		return nil, err
	}
	if r.rdata, err = BindInput(s, ports.RData); err != nil {
		return nil, err
	}
	if ports.WE != "" {
		r.writable = true
		if r.we, err = BindPin(s, ports.WE); err != nil {
			return nil, err
		}
		if r.waddr, err = BindPin(s, ports.WAddr); err != nil {
			return nil, err
		}
		if r.wdata, err = BindPin(s, ports.WData); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Words exposes the backing array. The caller may preload or inspect it at
// any point between cycles.
func (r *RAM) Words() []uint64 { return r.words }

// RAMBinding is the resolved wiring of a RAM bridge: slot numbers instead
// of names, the injection mask and the backing store. Native runners fold
// it into generated cycle loops.
type RAMBinding struct {
	RAddr, RData     uint32
	Writable         bool
	WE, WAddr, WData uint32
	DataMask         uint64
	Words            []uint64
}

// Binding reports the RAM's resolved wiring.
func (r *RAM) Binding() RAMBinding {
	b := RAMBinding{
		RAddr:    r.raddr.slot,
		RData:    r.rdata.slot,
		DataMask: r.rdata.mask,
		Words:    r.words,
	}
	if r.writable {
		b.Writable = true
		b.WE, b.WAddr, b.WData = r.we.slot, r.waddr.slot, r.wdata.slot
	}
	return b
}

// Load copies an image into the backing array starting at word 0.
func (r *RAM) Load(image []uint64) error {
	if len(image) > len(r.words) {
		return ErrBadImage
	}
	copy(r.words, image)
	return nil
}

func (r *RAM) PreEdge(s *sim.Simulator) {
	addr := r.raddr.Get()
	var v uint64
	if addr < uint64(len(r.words)) {
		v = r.words[addr]
	}
	r.rdata.Set(v)
	ramReadMeter.Mark(1)
}

func (r *RAM) PostCommit(s *sim.Simulator) {
	if !r.writable || r.we.Get() == 0 {
		return
	}
	addr := r.waddr.Get()
	if addr >= uint64(len(r.words)) {
		return
	}
	r.words[addr] = r.wdata.Get()
	ramWriteMeter.Mark(1)
}
