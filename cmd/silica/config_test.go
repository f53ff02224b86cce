// Copyright 2025 The Silica Authors
// This file is part of Silica.
//
// Silica is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Silica is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Silica. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/silica-hdl/go-silica/sim"
)

func writeConfigFile(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silica.toml")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestContext builds a cli context with the global flags parsed from args.
func newTestContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String(configFileFlag.Name, "", "")
	set.String(backendFlag.Name, "", "")
	set.String(cacheDirFlag.Name, "", "")
	if err := set.Parse(args); err != nil {
		t.Fatal(err)
	}
	return cli.NewContext(nil, set, nil)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
[Sim]
Backend = "jit"
MaxSettlePasses = 32
CacheDir = "/var/cache/silica"

[Trace]
File = "dump.vcd"
Snappy = true
`)
	cfg := silicaConfig{Sim: sim.Defaults}
	if err := loadConfig(path, &cfg); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	assert.Equal(t, "jit", cfg.Sim.Backend)
	assert.Equal(t, 32, cfg.Sim.MaxSettlePasses)
	assert.Equal(t, "/var/cache/silica", cfg.Sim.CacheDir)
	assert.Equal(t, "dump.vcd", cfg.Trace.File)
	assert.True(t, cfg.Trace.Snappy)
}

func TestLoadConfigPartial(t *testing.T) {
	path := writeConfigFile(t, "[Sim]\nBackend = \"aot\"\n")
	cfg := silicaConfig{Sim: sim.Defaults}
	if err := loadConfig(path, &cfg); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	assert.Equal(t, "aot", cfg.Sim.Backend)
	assert.Equal(t, sim.Defaults.MaxSettlePasses, cfg.Sim.MaxSettlePasses)
	assert.Equal(t, "", cfg.Trace.File)
}

func TestLoadConfigUnknownField(t *testing.T) {
	path := writeConfigFile(t, "[Sim]\nTurbo = true\n")
	cfg := silicaConfig{Sim: sim.Defaults}
	err := loadConfig(path, &cfg)
	if err == nil {
		t.Fatal("loadConfig accepted an unknown field")
	}
	assert.Contains(t, err.Error(), "Turbo")
	assert.Contains(t, err.Error(), "not defined")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := silicaConfig{}
	err := loadConfig(filepath.Join(t.TempDir(), "ghost.toml"), &cfg)
	if !os.IsNotExist(err) {
		t.Fatalf("loadConfig error = %v; want not-exist", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	want := silicaConfig{
		Sim:   sim.Config{Backend: "interp", MaxSettlePasses: 5, CacheDir: "cache"},
		Trace: traceConfig{File: "w.vcd", Snappy: true},
	}
	out, err := tomlSettings.Marshal(&want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got silicaConfig
	if err := tomlSettings.NewDecoder(bytes.NewReader(out)).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assert.Equal(t, want, got)
}

func TestMakeConfigPrecedence(t *testing.T) {
	file := writeConfigFile(t, "[Sim]\nBackend = \"aot\"\nCacheDir = \"from-file\"\n")

	// Defaults only.
	cfg := makeConfig(newTestContext(t))
	assert.Equal(t, sim.Defaults, cfg.Sim)

	// The config file overrides defaults.
	cfg = makeConfig(newTestContext(t, "--config", file))
	assert.Equal(t, "aot", cfg.Sim.Backend)
	assert.Equal(t, "from-file", cfg.Sim.CacheDir)

	// Explicit flags override the file.
	cfg = makeConfig(newTestContext(t, "--config", file, "--backend", "jit", "--cache.dir", "from-flag"))
	assert.Equal(t, "jit", cfg.Sim.Backend)
	assert.Equal(t, "from-flag", cfg.Sim.CacheDir)
}
