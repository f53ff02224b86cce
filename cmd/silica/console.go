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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/fatih/color"
	"github.com/peterh/liner"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/silica-hdl/go-silica/bench"
)

var consoleCommand = cli.Command{
	Action:    console,
	Name:      "console",
	Usage:     "Start an interactive JavaScript console on a design",
	ArgsUsage: "<design.json>",
	Category:  "SIMULATOR COMMANDS",
	Description: `
Loads a design and drops into an interactive JavaScript environment exposing
the testbench bindings (poke, peek, tick, expect, ...). State persists between
statements, so a design can be clocked and probed incrementally.`,
}

const historyFile = ".silica_history"

// promptCompleter completes the last token of a line against the console
// vocabulary: binding names plus quoted signal and memory names.
func promptCompleter(words []string) liner.Completer {
	return func(line string) []string {
		start := strings.LastIndexAny(line, " (,=+-*/%&|^<>!") + 1
		prefix, token := line[:start], line[start:]
		if token == "" {
			return nil
		}
		var out []string
		for _, w := range words {
			if strings.HasPrefix(w, token) {
				out = append(out, prefix+w)
			}
		}
		return out
	}
}

func console(ctx *cli.Context) error {
	s, _ := makeSimulator(ctx)
	backend := attachBackend(s)
	r := bench.NewRunner(s, "console")
	p := s.Program()

	vocab := mapset.NewSet()
	for _, name := range r.Globals() {
		vocab.Add(name + "(")
	}
	for _, sig := range p.Layout.Signals {
		vocab.Add(`"` + sig.Name + `"`)
	}
	for _, m := range p.Mems {
		vocab.Add(`"` + m.Name + `"`)
	}
	words := make([]string, 0, vocab.Cardinality())
	for _, w := range vocab.ToSlice() {
		words = append(words, w.(string))
	}
	sort.Strings(words)

	prompt := liner.NewLiner()
	defer prompt.Close()
	prompt.SetCtrlCAborts(true)
	prompt.SetCompleter(promptCompleter(words))

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			prompt.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		if f, err := os.Create(histPath); err == nil {
			prompt.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("Welcome to the Silica JavaScript console!")
	fmt.Println()
	fmt.Printf(" design:  %s\n", color.GreenString(p.Design.Name))
	fmt.Printf(" backend: %s\n", backend)
	fmt.Println()
	fmt.Println(" To exit, press ctrl-d or type exit")

	fail := color.New(color.FgRed)
	for {
		input, err := prompt.Prompt("silica> ")
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			fmt.Println()
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		prompt.AppendHistory(input)

		out, err := r.Eval(input)
		if err != nil {
			fail.Fprintln(os.Stderr, err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
	}
	return nil
}
