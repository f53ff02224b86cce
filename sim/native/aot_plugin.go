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

//go:build linux || darwin

package native

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"plugin"
	"runtime"
	"time"

	"github.com/cespare/cp"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	"golang.org/x/crypto/sha3"

	"github.com/silica-hdl/go-silica/bridge"
	"github.com/silica-hdl/go-silica/flatten"
	"github.com/silica-hdl/go-silica/sim"
)

// The runtime never unloads a plugin, and reopening one is only a map
// lookup, but the symbol resolution and hash check are not free. Recently
// loaded modules are kept here so repeated Attach calls skip both.
var openModules, _ = lru.NewARC(16)

type loadedModule struct {
	hash   string
	eval   func(sig, tmp, next []uint64, mems [][]uint64)
	sample func(sig, tmp, next []uint64, mems [][]uint64)

	// run is only present in fused modules, see FuseRun.
	run func(n uint64, sig, tmp, next, prev []uint64, mems, rams [][]uint64, roms [][]byte)
}

// aotBackend dispatches into a loaded plugin, handing it the simulator's
// live buffers on every call.
type aotBackend struct {
	s   *sim.Simulator
	mod *loadedModule

	sig, tmp, next []uint64
	mems           [][]uint64
}

func (b *aotBackend) Name() string { return "aot" }

func (b *aotBackend) Evaluate() { b.mod.eval(b.sig, b.tmp, b.next, b.mems) }

func (b *aotBackend) Sample() { b.mod.sample(b.sig, b.tmp, b.next, b.mems) }

// newAOT obtains a compiled module for the simulator's design, from the
// cache when possible, and binds it over the live buffers. A cache that
// cannot be opened downgrades to a one-shot build in a temporary directory
// rather than failing.
func newAOT(s *sim.Simulator, cacheDir string) (sim.Backend, error) {
	start := time.Now()
	p := s.Program()
	hash, err := HashDesign(p.Design)
	if err != nil {
		return nil, err
	}

	info := ModuleInfo{Design: p.Design.Name, Hash: hash, GoVersion: runtime.Version()}
	path, cleanup, err := ensureModule(cacheDir, contentKey(hash), info, func(dst string) error {
		return buildModule(p, dst)
	})
	if err != nil {
		return nil, err
	}
	defer cleanup()

	mod, err := loadModule(path, hash)
	if err != nil {
		return nil, err
	}
	aotCompileTimer.UpdateSince(start)

	sig, tmp, next, mems := s.Buffers()
	log.Debug("aot module ready", "design", p.Design.Name, "module", path,
		"elapsed", time.Since(start))
	return &aotBackend{s: s, mod: mod, sig: sig, tmp: tmp, next: next, mems: mems}, nil
}

// ensureModule resolves key to a built module path, preferring the cache.
// With no usable cache it builds into a temporary directory instead; the
// returned cleanup removes that directory and must run only after the
// module has been loaded.
func ensureModule(cacheDir, key string, info ModuleInfo, build func(string) error) (string, func(), error) {
	c, cerr := openNamedCache(cacheDir)
	if cerr != nil {
		log.Warn("aot cache unavailable, building uncached", "err", cerr)
		dir, err := os.MkdirTemp("", "silica-aot-")
		if err != nil {
			return "", nil, err
		}
		path := filepath.Join(dir, "module.so")
		if err := build(path); err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		return path, func() { os.RemoveAll(dir) }, nil
	}
	defer c.Close()
	path, err := c.ensure(key, info, build)
	if err != nil {
		return "", nil, err
	}
	return path, func() {}, nil
}

// Precompile ensures a compiled module for the simulator's design sits in
// the cache and returns the artifact path, without loading it. An empty
// cacheDir selects the default per-user location.
func Precompile(s *sim.Simulator, cacheDir string) (string, error) {
	p := s.Program()
	hash, err := HashDesign(p.Design)
	if err != nil {
		return "", err
	}
	c, err := openNamedCache(cacheDir)
	if err != nil {
		return "", err
	}
	defer c.Close()
	info := ModuleInfo{Design: p.Design.Name, Hash: hash, GoVersion: runtime.Version()}
	return c.ensure(contentKey(hash), info, func(dst string) error {
		return buildModule(p, dst)
	})
}

// buildModule generates plugin source for the program and compiles it into
// dst with the host Go toolchain.
func buildModule(p *flatten.Program, dst string) error {
	src, err := Source(p)
	if err != nil {
		return err
	}
	return compileModule(src, dst)
}

func compileModule(src []byte, dst string) error {
	goBin, err := exec.LookPath("go")
	if err != nil {
		return ErrNoCompiler
	}
	dir, err := os.MkdirTemp("", "silica-build-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "main.go"), src, 0600); err != nil {
		return err
	}
	mod := []byte("module silicamod\n\ngo 1.22\n")
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), mod, 0600); err != nil {
		return err
	}

	out := filepath.Join(dir, "module.so")
	cmd := exec.Command(goBin, "build", "-buildmode=plugin", "-o", out, ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	if msg, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("native: plugin build failed: %v\n%s", err, msg)
	}
	return cp.CopyFile(dst, out)
}

// loadModule opens the plugin at path and verifies it was generated from
// the design identified by wantHash.
func loadModule(path, wantHash string) (*loadedModule, error) {
	if v, ok := openModules.Get(path); ok {
		m := v.(*loadedModule)
		if m.hash != wantHash {
			return nil, ErrBadModule
		}
		return m, nil
	}

	plug, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	hashSym, err := plug.Lookup("DesignHash")
	if err != nil {
		return nil, ErrBadModule
	}
	hashFn, ok := hashSym.(func() string)
	if !ok || hashFn() != wantHash {
		return nil, ErrBadModule
	}

	m := &loadedModule{hash: wantHash}
	if m.eval, err = lookupEval(plug, "Evaluate"); err != nil {
		return nil, err
	}
	if m.sample, err = lookupEval(plug, "Sample"); err != nil {
		return nil, err
	}
	if sym, rerr := plug.Lookup("RunCycles"); rerr == nil {
		fn, ok := sym.(func(n uint64, sig, tmp, next, prev []uint64, mems, rams [][]uint64, roms [][]byte))
		if !ok {
			return nil, ErrBadModule
		}
		m.run = fn
	}
	openModules.Add(path, m)
	return m, nil
}

func lookupEval(plug *plugin.Plugin, name string) (func(sig, tmp, next []uint64, mems [][]uint64), error) {
	sym, err := plug.Lookup(name)
	if err != nil {
		return nil, ErrBadModule
	}
	fn, ok := sym.(func(sig, tmp, next []uint64, mems [][]uint64))
	if !ok {
		return nil, ErrBadModule
	}
	return fn, nil
}

// FuseRun compiles a module whose RunCycles entry point folds the given
// bridges into the generated cycle loop and returns a batched runner over
// the simulator's live buffers. The runner drives every clock input the way
// Tick does, but hooks, metrics and the cycle counter are bypassed:
// observation is only valid between calls, and the bridges passed here must
// not also be installed as hooks.
func FuseRun(s *sim.Simulator, rams []*bridge.RAM, roms []*bridge.ROM) (func(n uint64), error) {
	start := time.Now()
	p := s.Program()
	hash, err := HashDesign(p.Design)
	if err != nil {
		return nil, err
	}
	passes := s.Config().MaxSettlePasses

	ramBind := make([]bridge.RAMBinding, len(rams))
	ramBufs := make([][]uint64, len(rams))
	for i, r := range rams {
		ramBind[i] = r.Binding()
		ramBufs[i] = ramBind[i].Words
	}
	romBind := make([]bridge.ROMBinding, len(roms))
	romBufs := make([][]byte, len(roms))
	for i, r := range roms {
		romBind[i] = r.Binding()
		romBufs[i] = romBind[i].Bytes
	}

	info := ModuleInfo{Design: p.Design.Name, Hash: hash, GoVersion: runtime.Version()}
	path, cleanup, err := ensureModule(s.Config().CacheDir, fusedKey(hash, passes, ramBind, romBind), info, func(dst string) error {
		src, err := FuseSource(p, passes, ramBind, romBind)
		if err != nil {
			return err
		}
		return compileModule(src, dst)
	})
	if err != nil {
		return nil, err
	}
	defer cleanup()

	mod, err := loadModule(path, hash)
	if err != nil {
		return nil, err
	}
	if mod.run == nil {
		return nil, ErrBadModule
	}
	aotCompileTimer.UpdateSince(start)

	sig, tmp, next, mems := s.Buffers()
	prev := make([]uint64, len(p.Domains))
	log.Debug("fused aot module ready", "design", p.Design.Name, "module", path,
		"rams", len(rams), "roms", len(roms), "elapsed", time.Since(start))
	return func(n uint64) {
		mod.run(n, sig, tmp, next, prev, mems, ramBufs, romBufs)
	}, nil
}

// fusedKey extends the plain content key with everything else a fused
// module bakes in: the settle cap and the bridge wiring.
func fusedKey(designHash string, passes int, rams []bridge.RAMBinding, roms []bridge.ROMBinding) string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s\x00p%d", contentKey(designHash), passes)
	for _, r := range rams {
		fmt.Fprintf(h, "\x00ram%d,%d,%v,%d,%d,%d,%#x",
			r.RAddr, r.RData, r.Writable, r.WE, r.WAddr, r.WData, r.DataMask)
	}
	for _, r := range roms {
		fmt.Fprintf(h, "\x00rom%d,%d,%d,%#x", r.Addr, r.Data, r.Stride, r.DataMask)
	}
	return hex.EncodeToString(h.Sum(nil))
}
