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

// Package sim drives flattened designs through time.
//
// A Simulator owns the dense signal table and advances it cycle by cycle:
// Evaluate settles combinational logic, Tick runs one full clock cycle with
// two-phase register commit, Run batches many. The evaluation engine behind
// those verbs is swappable: the portable interpreter in this package is
// always available, native backends attach over the same buffers.
//
// A Simulator is not safe for concurrent use.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/rcrowley/go-metrics"

	"github.com/silica-hdl/go-silica/bir"
	"github.com/silica-hdl/go-silica/flatten"
)

// API errors.
var (
	ErrUnknownSignal = errors.New("sim: no such signal")
	ErrUnknownMemory = errors.New("sim: no such memory")
	ErrNotInput      = errors.New("sim: only input ports can be poked")
	ErrNotClock      = errors.New("sim: not a clock input")
	ErrBadAddress    = errors.New("sim: memory address out of range")
	ErrBadImage      = errors.New("sim: image does not fit memory")
)

var (
	cycleMeter    = metrics.NewRegisteredMeter("sim/cycles", nil)
	settleMeter   = metrics.NewRegisteredMeter("sim/settle/passes", nil)
	unstableMeter = metrics.NewRegisteredMeter("sim/settle/unstable", nil)
	loadTimer     = metrics.NewRegisteredTimer("sim/load", nil)
)

// Backend is an evaluation engine bound to a Simulator's buffers. Evaluate
// runs the combinational program once; Sample computes every register's next
// value into the sample buffer without touching the registers. Commit stays
// in the Simulator so that edge semantics exist in exactly one place.
type Backend interface {
	Name() string
	Evaluate()
	Sample()
}

// Hooks observe and steer the cycle loop at its stable points. PreEdge runs
// after the falling half-cycle settles, before clocks rise: the window where
// external logic reads addresses and injects data. PostCommit runs after
// registers commit and the table re-settles: the window where external logic
// harvests write requests. Capture runs last, once per cycle.
type Hooks struct {
	PreEdge    func(*Simulator)
	PostCommit func(*Simulator)
	Capture    func(cycle uint64, s *Simulator)
}

// Simulator holds the complete runtime state of one design.
type Simulator struct {
	prog   *flatten.Program
	config Config

	signals []uint64
	temps   []uint64
	next    []uint64
	prevs   []uint64 // pre-edge clock level per domain
	shadow  []uint64 // settle comparison scratch
	mems    [][]uint64
	images  map[int][]uint64 // power-on contents by memory index

	backend  Backend
	hooks    Hooks
	cycles   uint64
	unstable uint64

	log log.Logger
}

// New wraps an already flattened program. Most callers want Load.
func New(p *flatten.Program, config *Config) *Simulator {
	cfg := Defaults
	if config != nil {
		cfg = *config
	}
	s := &Simulator{
		prog:    p,
		config:  cfg,
		signals: make([]uint64, len(p.Layout.Signals)),
		temps:   make([]uint64, max(p.NumTemps, 1)),
		next:    make([]uint64, max(p.NumNext, 1)),
		prevs:   make([]uint64, max(len(p.Domains), 1)),
		shadow:  make([]uint64, len(p.Layout.Signals)),
		images:  make(map[int][]uint64),
		log:     log.New("design", p.Design.Name),
	}
	s.mems = make([][]uint64, len(p.Mems))
	for i := range p.Mems {
		s.mems[i] = make([]uint64, p.Mems[i].Depth)
	}
	s.backend = &interpreter{s: s}
	s.Reset()
	s.log.Debug("design loaded",
		"signals", len(p.Layout.Signals),
		"ops", len(p.Comb),
		"domains", len(p.Domains),
		"cyclic", p.Cyclic)
	return s
}

// Load validates, flattens and wraps a design.
func Load(d *bir.Design, config *Config) (*Simulator, error) {
	start := time.Now()
	lower := flatten.Flatten
	if config != nil && config.LenientClocks {
		lower = flatten.FlattenLenient
	}
	p, err := lower(d)
	if err != nil {
		return nil, err
	}
	s := New(p, config)
	for _, slot := range p.Unbound {
		s.log.Warn("process clock never edges",
			"clock", p.Layout.Signals[slot].Name)
	}
	loadTimer.UpdateSince(start)
	return s, nil
}

// LoadJSON decodes a design from its JSON encoding and loads it.
func LoadJSON(r io.Reader, config *Config) (*Simulator, error) {
	d, err := bir.DecodeJSON(r)
	if err != nil {
		return nil, err
	}
	return Load(d, config)
}

// Program returns the flattened program the simulator runs.
func (s *Simulator) Program() *flatten.Program { return s.prog }

// Config returns the active configuration.
func (s *Simulator) Config() Config { return s.config }

// Cycles returns how many full clock cycles have run since the last Reset.
func (s *Simulator) Cycles() uint64 { return s.cycles }

// Unstable returns how many evaluations exhausted the settle bound without
// converging. Nonzero means the design has oscillating combinational logic.
func (s *Simulator) Unstable() uint64 { return s.unstable }

// UseBackend swaps the evaluation engine. The new backend must have been
// built over this simulator's buffers.
func (s *Simulator) UseBackend(b Backend) {
	s.backend = b
	s.log.Debug("evaluation backend switched", "backend", b.Name())
}

// BackendName names the active evaluation engine.
func (s *Simulator) BackendName() string { return s.backend.Name() }

// SetHooks installs the cycle hooks, replacing any previous set.
func (s *Simulator) SetHooks(h Hooks) { s.hooks = h }

// Buffers exposes the live backing arrays: the signal table, the scratch
// slots, the next-value sample buffer and the memory arrays. Native backends
// compile against these; anyone else should treat them as read-only.
func (s *Simulator) Buffers() (signals, temps, next []uint64, mems [][]uint64) {
	return s.signals, s.temps, s.next, s.mems
}

// Signals returns a copy of the signal table.
func (s *Simulator) Signals() []uint64 {
	out := make([]uint64, len(s.signals))
	copy(out, s.signals)
	return out
}

// ---- State access -----------------------------------------------------------

// Peek reads the current value of any signal.
func (s *Simulator) Peek(name string) (uint64, error) {
	slot, ok := s.prog.Layout.IndexOf(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	return s.signals[slot], nil
}

// Poke drives an input port. The value is masked to the port's width before
// it lands; dependent logic recomputes on the next Evaluate or Tick.
func (s *Simulator) Poke(name string, value uint64) error {
	slot, ok := s.prog.Layout.IndexOf(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, name)
	}
	sig := &s.prog.Layout.Signals[slot]
	if sig.Kind != flatten.KindInput {
		return fmt.Errorf("%w: %q is a %s", ErrNotInput, name, sig.Kind)
	}
	s.signals[slot] = value & sig.Mask
	return nil
}

// PeekID reads a slot directly. IDs come from Layout.IndexOf; anything else
// is out of range and panics.
func (s *Simulator) PeekID(id uint32) uint64 { return s.signals[id] }

// PokeID stores into a slot directly, masked to the signal's width. Unlike
// Poke it accepts any slot, so hook code that resolved its names once can
// inject into nets and outputs; the next evaluation overwrites driven slots.
func (s *Simulator) PokeID(id uint32, value uint64) {
	s.signals[id] = value & s.prog.Layout.Signals[id].Mask
}

// PeekMem reads one word of a memory.
func (s *Simulator) PeekMem(name string, addr uint64) (uint64, error) {
	mi, err := s.memIndex(name)
	if err != nil {
		return 0, err
	}
	if addr >= uint64(len(s.mems[mi])) {
		return 0, fmt.Errorf("%w: %s[%d]", ErrBadAddress, name, addr)
	}
	return s.mems[mi][addr], nil
}

// PokeMem writes one word of a memory, masked to the memory's width.
func (s *Simulator) PokeMem(name string, addr, value uint64) error {
	mi, err := s.memIndex(name)
	if err != nil {
		return err
	}
	if addr >= uint64(len(s.mems[mi])) {
		return fmt.Errorf("%w: %s[%d]", ErrBadAddress, name, addr)
	}
	s.mems[mi][addr] = value & s.prog.Mems[mi].Mask
	return nil
}

// InitMem installs words as the memory's power-on contents: they take effect
// immediately and again on every Reset. Words shorter than the memory leave
// the tail zeroed.
func (s *Simulator) InitMem(name string, words []uint64) error {
	mi, err := s.memIndex(name)
	if err != nil {
		return err
	}
	if len(words) > len(s.mems[mi]) {
		return fmt.Errorf("%w: %d words into %s[%d]", ErrBadImage, len(words), name, len(s.mems[mi]))
	}
	img := make([]uint64, len(words))
	mask := s.prog.Mems[mi].Mask
	for i, w := range words {
		img[i] = w & mask
	}
	s.images[mi] = img
	s.loadImage(mi)
	return nil
}

func (s *Simulator) memIndex(name string) (int, error) {
	for i := range s.prog.Mems {
		if s.prog.Mems[i].Name == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMemory, name)
}

func (s *Simulator) loadImage(mi int) {
	mem := s.mems[mi]
	for i := range mem {
		mem[i] = 0
	}
	copy(mem, s.images[mi])
}

// ---- Time -------------------------------------------------------------------

// Evaluate settles combinational logic against the current inputs and state.
// Acyclic programs settle in one pass; cyclic ones iterate to a fixed point
// bounded by MaxSettlePasses.
func (s *Simulator) Evaluate() {
	s.settle()
}

func (s *Simulator) settle() {
	if !s.prog.Cyclic {
		s.backend.Evaluate()
		return
	}
	for pass := 1; pass <= s.config.MaxSettlePasses; pass++ {
		copy(s.shadow, s.signals)
		s.backend.Evaluate()
		settleMeter.Mark(1)
		if equalWords(s.shadow, s.signals) {
			return
		}
	}
	s.unstable++
	unstableMeter.Mark(1)
	if s.unstable == 1 {
		s.log.Warn("combinational logic did not settle",
			"passes", s.config.MaxSettlePasses)
	}
}

// Tick runs one full cycle on every clock input.
func (s *Simulator) Tick() {
	s.tick(s.prog.Clocks)
}

// TickClocks runs one full cycle driving only the named clock inputs, so
// harnesses can advance clock domains independently. Domains whose clock
// stays low sample but do not commit.
func (s *Simulator) TickClocks(names ...string) error {
	slots := make([]uint32, len(names))
	for i, name := range names {
		slot, ok := s.prog.Layout.IndexOf(name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSignal, name)
		}
		isRoot := false
		for _, c := range s.prog.Clocks {
			if c == slot {
				isRoot = true
				break
			}
		}
		if !isRoot {
			return fmt.Errorf("%w: %q", ErrNotClock, name)
		}
		slots[i] = slot
	}
	s.tick(slots)
	return nil
}

// tick is the one full-cycle sequence. Order is load-bearing:
//
//  1. park the driven clocks low and settle, so edge detection starts from
//     a known level and PreEdge sees a stable pre-edge table;
//  2. record every domain clock's level;
//  3. raise the driven clocks and settle, propagating data and derived
//     clocks together;
//  4. sample every register's next value against the settled table;
//  5. commit the sampled values in domains whose clock rose;
//  6. settle once more so outputs reflect the new register state.
func (s *Simulator) tick(clocks []uint32) {
	for _, c := range clocks {
		s.signals[c] = 0
	}
	s.settle()
	if s.hooks.PreEdge != nil {
		s.hooks.PreEdge(s)
	}
	for i := range s.prog.Domains {
		s.prevs[i] = s.signals[s.prog.Domains[i].Clock]
	}
	for _, c := range clocks {
		s.signals[c] = 1
	}
	s.settle()
	s.backend.Sample()
	for i := range s.prog.Domains {
		dom := &s.prog.Domains[i]
		if s.prevs[i] == 0 && s.signals[dom.Clock] != 0 {
			for _, reg := range dom.Regs {
				s.signals[reg.Target] = s.next[reg.Slot]
			}
		}
	}
	s.settle()
	if s.hooks.PostCommit != nil {
		s.hooks.PostCommit(s)
	}
	s.cycles++
	cycleMeter.Mark(1)
	if s.hooks.Capture != nil {
		s.hooks.Capture(s.cycles, s)
	}
}

// Run advances n full cycles, checking ctx between batches. It returns the
// number of cycles actually run.
func (s *Simulator) Run(ctx context.Context, n uint64) (uint64, error) {
	for done := uint64(0); done < n; done++ {
		if done&0x3FF == 0 && ctx != nil {
			select {
			case <-ctx.Done():
				return done, ctx.Err()
			default:
			}
		}
		s.Tick()
	}
	return n, nil
}

// Reset returns the design to its power-on state: registers to their init
// values, everything else to zero, memories to their installed images. The
// compiled program and backend survive. A reset simulator replays a stimulus
// to an identical trace.
func (s *Simulator) Reset() {
	copy(s.signals, s.prog.Init)
	for i := range s.temps {
		s.temps[i] = 0
	}
	for i := range s.next {
		s.next[i] = 0
	}
	for i := range s.prevs {
		s.prevs[i] = 0
	}
	for mi := range s.mems {
		s.loadImage(mi)
	}
	s.cycles = 0
	s.settle()
}

func equalWords(a, b []uint64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
