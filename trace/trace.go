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

// Package trace records simulations as VCD waveforms.
//
// The recorder plugs into the simulator's Capture hook and writes one
// timestep per tick, emitting only the signals that changed. Output can be
// framed through snappy, which brings the typically repetitive waveform
// text down by an order of magnitude while staying streamable.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang/snappy"

	"github.com/silica-hdl/go-silica/params"
	"github.com/silica-hdl/go-silica/sim"
)

// Recorder streams value changes in VCD form. Write errors are sticky: the
// first one stops all further output and is reported by Close.
type Recorder struct {
	bw   *bufio.Writer
	snap *snappy.Writer

	ids  []string
	last []uint64
	err  error
}

// New starts a recorder on w, writing the header and the design's current
// state as the time-zero dump. Wire its Capture method into sim.Hooks.
func New(w io.Writer, s *sim.Simulator) *Recorder {
	return newRecorder(bufio.NewWriter(w), nil, s)
}

// NewSnappy is New with a snappy framing layer between recorder and w.
func NewSnappy(w io.Writer, s *sim.Simulator) *Recorder {
	sw := snappy.NewBufferedWriter(w)
	return newRecorder(bufio.NewWriter(sw), sw, s)
}

func newRecorder(bw *bufio.Writer, snap *snappy.Writer, s *sim.Simulator) *Recorder {
	layout := s.Program().Layout
	signals, _, _, _ := s.Buffers()

	r := &Recorder{
		bw:   bw,
		snap: snap,
		ids:  make([]string, len(layout.Signals)),
		last: make([]uint64, len(signals)),
	}
	copy(r.last, signals)

	r.printf("$date %s $end\n", time.Now().Format(time.ANSIC))
	r.printf("$version Silica %s $end\n", params.VersionWithMeta)
	r.printf("$timescale 1ns $end\n")
	r.printf("$scope module %s $end\n", s.Program().Design.Name)
	for i := range layout.Signals {
		r.ids[i] = idCode(i)
		r.printf("$var wire %d %s %s $end\n", layout.Signals[i].Width, r.ids[i], layout.Signals[i].Name)
	}
	r.printf("$upscope $end\n")
	r.printf("$enddefinitions $end\n")
	r.printf("$dumpvars\n")
	for i, v := range r.last {
		r.change(i, v, layout.Signals[i].Width)
	}
	r.printf("$end\n")
	return r
}

// Capture emits the changes of one completed cycle. The timestep line is
// suppressed entirely when nothing changed.
func (r *Recorder) Capture(cycle uint64, s *sim.Simulator) {
	if r.err != nil {
		return
	}
	layout := s.Program().Layout
	signals, _, _, _ := s.Buffers()
	wroteStamp := false
	for i, v := range signals {
		if v == r.last[i] {
			continue
		}
		if !wroteStamp {
			r.printf("#%d\n", cycle)
			wroteStamp = true
		}
		r.change(i, v, layout.Signals[i].Width)
		r.last[i] = v
	}
}

// Err reports the first write error, if any.
func (r *Recorder) Err() error { return r.err }

// Close flushes buffered output and the compression frame.
func (r *Recorder) Close() error {
	if ferr := r.bw.Flush(); r.err == nil {
		r.err = ferr
	}
	if r.snap != nil {
		if cerr := r.snap.Close(); r.err == nil {
			r.err = cerr
		}
	}
	return r.err
}

func (r *Recorder) change(i int, v uint64, width int) {
	if width == 1 {
		r.printf("%d%s\n", v, r.ids[i])
	} else {
		r.printf("b%s %s\n", strconv.FormatUint(v, 2), r.ids[i])
	}
}

func (r *Recorder) printf(format string, args ...interface{}) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.bw, format, args...)
}

// idCode assigns the compact printable identifiers VCD uses, counting
// through '!'..'~' and growing a character every 94 codes.
func idCode(n int) string {
	var b []byte
	for {
		b = append(b, byte('!'+n%94))
		n = n/94 - 1
		if n < 0 {
			break
		}
	}
	return string(b)
}
