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
	"math/bits"
	"os"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/silica-hdl/go-silica/sim"
)

// ROMPorts names the address input and the data input a ROM drives.
type ROMPorts struct {
	Addr string
	Data string
}

// ROM injects words from an immutable byte image. Words are little-endian
// at a stride of ceil(width/8) bytes, width taken from the bound data port.
// Image files attach through a read-only memory mapping, so a multi-megabyte
// cartridge or firmware blob costs no load time and no heap.
type ROM struct {
	data   []byte
	stride int

	mapped mmap.MMap
	f      *os.File

	addr  Pin
	rdata Pin
}

// NewROM binds a ROM over an in-memory image.
func NewROM(s *sim.Simulator, image []byte, ports ROMPorts) (*ROM, error) {
	r := &ROM{data: image}
	var err error
	if r.addr, err = BindPin(s, ports.Addr); err != nil {
		return nil, err
	}
	if r.rdata, err = BindInput(s, ports.Data); err != nil {
		return nil, err
	}
	r.stride = (bits.Len64(r.rdata.Mask()) + 7) / 8
	return r, nil
}

// OpenROM maps the file at path read-only and binds a ROM over it. Close
// releases the mapping.
func OpenROM(s *sim.Simulator, path string, ports ROMPorts) (*ROM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := NewROM(s, m, ports)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}
	r.mapped = m
	r.f = f
	return r, nil
}

// Words reports how many full words the image holds.
func (r *ROM) Words() int { return len(r.data) / r.stride }

// ROMBinding is the resolved wiring of a ROM bridge, the read-only
// counterpart of RAMBinding over a little-endian byte image.
type ROMBinding struct {
	Addr, Data uint32
	Stride     int
	DataMask   uint64
	Bytes      []byte
}

// Binding reports the ROM's resolved wiring.
func (r *ROM) Binding() ROMBinding {
	return ROMBinding{
		Addr:     r.addr.slot,
		Data:     r.rdata.slot,
		Stride:   r.stride,
		DataMask: r.rdata.mask,
		Bytes:    r.data,
	}
}

func (r *ROM) word(addr uint64) uint64 {
	// Compare against the word count before multiplying, so a wide
	// address port cannot wrap the byte offset.
	if addr >= uint64(len(r.data)/r.stride) {
		return 0
	}
	off := addr * uint64(r.stride)
	var v uint64
	for i := r.stride - 1; i >= 0; i-- {
		v = v<<8 | uint64(r.data[off+uint64(i)])
	}
	return v
}

func (r *ROM) PreEdge(s *sim.Simulator) {
	r.rdata.Set(r.word(r.addr.Get()))
}

func (r *ROM) PostCommit(s *sim.Simulator) {}

// Close releases the file mapping, if any. The ROM must not be used after.
func (r *ROM) Close() error {
	var err error
	if r.mapped != nil {
		err = r.mapped.Unmap()
		r.mapped = nil
		r.data = nil
	}
	if r.f != nil {
		if cerr := r.f.Close(); err == nil {
			err = cerr
		}
		r.f = nil
	}
	return err
}
