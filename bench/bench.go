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

// Package bench runs JavaScript testbenches against a simulator.
//
// A script drives the design through a small set of globals: poke, peek,
// tick, tickClocks, run, reset, cycles, evaluate, pokeMem, peekMem, expect
// and print. peek and expect settle combinational logic first, so a script
// reads the design as it would appear on a waveform, not mid-update. expect
// throws on mismatch, which surfaces as a script failure carrying the
// offending source line.
//
// Values cross the boundary as numbers or as strings in any Go integer
// syntax, so wide constants like "0xdeadbeefcafebabe" stay exact.
package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	log "github.com/inconshreveable/log15"

	"github.com/silica-hdl/go-silica/sim"
)

// ErrScript tags every failure Run reports: compile errors, thrown
// exceptions and missed expectations alike.
var ErrScript = errors.New("bench: script failed")

// RunFile loads and runs a testbench script from disk.
func RunFile(s *sim.Simulator, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Run(s, filepath.Base(path), string(src))
}

// Run executes src against s. name labels the script in errors and logs.
// A nil return means the script ran to completion with every expectation
// met; anything else wraps ErrScript and, for runtime failures, includes
// the script stack with source positions.
func Run(s *sim.Simulator, name, src string) error {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScript, err)
	}
	r := NewRunner(s, name)
	if _, err := r.vm.RunProgram(prog); err != nil {
		return wrapScriptError(err)
	}
	r.log.Info("Testbench passed", "checks", r.checks, "cycles", s.Cycles())
	return nil
}

func wrapScriptError(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return fmt.Errorf("%w: %s", ErrScript, strings.TrimSpace(ex.String()))
	}
	return fmt.Errorf("%w: %v", ErrScript, err)
}

// Runner is a live scripting session bound to one simulator. Run wraps a
// whole script in one; an interactive console feeds lines to Eval instead.
type Runner struct {
	vm     *goja.Runtime
	sim    *sim.Simulator
	log    log.Logger
	checks int
}

// NewRunner builds a session with the full binding set installed.
func NewRunner(s *sim.Simulator, name string) *Runner {
	r := &Runner{vm: goja.New(), sim: s, log: log.New("script", name)}
	r.install()
	return r
}

// Eval runs one chunk of script and renders its result. An undefined
// result renders as the empty string.
func (r *Runner) Eval(src string) (string, error) {
	v, err := r.vm.RunString(src)
	if err != nil {
		return "", wrapScriptError(err)
	}
	if v == nil || goja.IsUndefined(v) {
		return "", nil
	}
	return v.String(), nil
}

// Checks reports how many expectations the session has evaluated.
func (r *Runner) Checks() int { return r.checks }

// Globals lists the installed binding names, for completion.
func (r *Runner) Globals() []string {
	names := make([]string, len(bindingNames))
	copy(names, bindingNames)
	return names
}

var bindingNames = []string{
	"poke", "peek", "pokeMem", "peekMem", "tick", "tickClocks",
	"run", "reset", "cycles", "evaluate", "expect", "print",
}

func (r *Runner) install() {
	r.vm.Set("poke", r.poke)
	r.vm.Set("peek", r.peek)
	r.vm.Set("pokeMem", r.pokeMem)
	r.vm.Set("peekMem", r.peekMem)
	r.vm.Set("tick", r.tick)
	r.vm.Set("tickClocks", r.tickClocks)
	r.vm.Set("run", r.run)
	r.vm.Set("reset", r.reset)
	r.vm.Set("cycles", r.cycles)
	r.vm.Set("evaluate", r.evaluate)
	r.vm.Set("expect", r.expect)
	r.vm.Set("print", r.print)
}

// throw converts a Go error into a script exception, which goja unwinds
// with the current source position attached.
func (r *Runner) throw(err error) {
	panic(r.vm.NewGoError(err))
}

// word pulls a 64-bit value out of a script argument. Strings go through
// ParseUint so hex and values above 2^53 survive; numbers are truncated.
func (r *Runner) word(v goja.Value) uint64 {
	if s, ok := v.Export().(string); ok {
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			r.throw(fmt.Errorf("bench: bad value %q", s))
		}
		return n
	}
	return uint64(v.ToInteger())
}

func (r *Runner) poke(call goja.FunctionCall) goja.Value {
	if err := r.sim.Poke(call.Argument(0).String(), r.word(call.Argument(1))); err != nil {
		r.throw(err)
	}
	return goja.Undefined()
}

func (r *Runner) peek(call goja.FunctionCall) goja.Value {
	r.sim.Evaluate()
	v, err := r.sim.Peek(call.Argument(0).String())
	if err != nil {
		r.throw(err)
	}
	return r.vm.ToValue(v)
}

func (r *Runner) pokeMem(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if err := r.sim.PokeMem(name, r.word(call.Argument(1)), r.word(call.Argument(2))); err != nil {
		r.throw(err)
	}
	return goja.Undefined()
}

func (r *Runner) peekMem(call goja.FunctionCall) goja.Value {
	v, err := r.sim.PeekMem(call.Argument(0).String(), r.word(call.Argument(1)))
	if err != nil {
		r.throw(err)
	}
	return r.vm.ToValue(v)
}

func (r *Runner) tick(goja.FunctionCall) goja.Value {
	r.sim.Tick()
	return goja.Undefined()
}

func (r *Runner) tickClocks(call goja.FunctionCall) goja.Value {
	names := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		names[i] = a.String()
	}
	if err := r.sim.TickClocks(names...); err != nil {
		r.throw(err)
	}
	return goja.Undefined()
}

func (r *Runner) run(call goja.FunctionCall) goja.Value {
	n := call.Argument(0).ToInteger()
	if n < 0 {
		n = 0
	}
	done, _ := r.sim.Run(context.Background(), uint64(n))
	return r.vm.ToValue(done)
}

func (r *Runner) reset(goja.FunctionCall) goja.Value {
	r.sim.Reset()
	return goja.Undefined()
}

func (r *Runner) cycles(goja.FunctionCall) goja.Value {
	return r.vm.ToValue(r.sim.Cycles())
}

func (r *Runner) evaluate(goja.FunctionCall) goja.Value {
	r.sim.Evaluate()
	return goja.Undefined()
}

func (r *Runner) expect(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	want := r.word(call.Argument(1))
	r.sim.Evaluate()
	got, err := r.sim.Peek(name)
	if err != nil {
		r.throw(err)
	}
	r.checks++
	if got != want {
		r.throw(fmt.Errorf("bench: %s = %#x; want %#x (cycle %d)", name, got, want, r.sim.Cycles()))
	}
	return goja.Undefined()
}

func (r *Runner) print(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = a.String()
	}
	r.log.Info(strings.Join(parts, " "))
	return goja.Undefined()
}
