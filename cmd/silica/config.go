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
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	log "github.com/inconshreveable/log15"
	"github.com/naoina/toml"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/silica-hdl/go-silica/sim"
	"github.com/silica-hdl/go-silica/sim/native"
)

var dumpConfigCommand = cli.Command{
	Action:      dumpConfig,
	Name:        "dumpconfig",
	Usage:       "Show configuration values",
	ArgsUsage:   "",
	Category:    "MISCELLANEOUS COMMANDS",
	Description: `The dumpconfig command shows configuration values.`,
}

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type traceConfig struct {
	File   string `toml:",omitempty"` // waveform output path
	Snappy bool   `toml:",omitempty"` // frame the waveform through snappy
}

type silicaConfig struct {
	Sim   sim.Config
	Trace traceConfig
}

func loadConfig(file string, cfg *silicaConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig assembles the effective configuration: defaults, then the
// config file, then explicit flags.
func makeConfig(ctx *cli.Context) silicaConfig {
	cfg := silicaConfig{Sim: sim.Defaults}
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			fatalf("%v", err)
		}
	}
	if backend := ctx.GlobalString(backendFlag.Name); backend != "" {
		cfg.Sim.Backend = backend
	}
	if ctx.GlobalIsSet(cacheDirFlag.Name) {
		cfg.Sim.CacheDir = ctx.GlobalString(cacheDirFlag.Name)
	}
	return cfg
}

// makeSimulator loads the design named by the first argument under the
// effective configuration. The evaluation engine is not attached yet;
// commands that advance time call attachBackend.
func makeSimulator(ctx *cli.Context) (*sim.Simulator, silicaConfig) {
	if ctx.NArg() < 1 {
		fatalf("no design file given")
	}
	path := ctx.Args().First()
	f, err := os.Open(path)
	if err != nil {
		fatalf("%v", err)
	}
	defer f.Close()

	cfg := makeConfig(ctx)
	start := time.Now()
	s, err := sim.LoadJSON(bufio.NewReader(f), &cfg.Sim)
	if err != nil {
		fatalf("%s: %v", path, err)
	}
	p := s.Program()
	log.Info("Design loaded", "file", path, "design", p.Design.Name,
		"signals", len(p.Layout.Signals), "ops", len(p.Comb),
		"domains", len(p.Domains), "elapsed", time.Since(start))
	return s, cfg
}

// attachBackend installs the configured evaluation engine.
func attachBackend(s *sim.Simulator) string {
	name, err := native.Attach(s)
	if err != nil {
		fatalf("backend %q unavailable: %v", s.Config().Backend, err)
	}
	log.Info("Evaluation engine ready", "backend", name)
	return name
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg := makeConfig(ctx)
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)

	return nil
}
