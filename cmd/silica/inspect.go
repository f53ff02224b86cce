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
	"strconv"

	"github.com/olekukonko/tablewriter"
	cli "gopkg.in/urfave/cli.v1"
)

var disasmFlag = cli.BoolFlag{
	Name:  "disasm",
	Usage: "Disassemble the scheduled evaluation program",
}

var inspectCommand = cli.Command{
	Action:    inspect,
	Name:      "inspect",
	Usage:     "Show the layout and statistics of a design",
	ArgsUsage: "<design.json>",
	Category:  "SIMULATOR COMMANDS",
	Flags:     []cli.Flag{disasmFlag},
	Description: `
Loads and flattens a design, then prints its signal table, memories and
scheduling statistics without running it. With --disasm the scheduled
combinational and sequential programs are disassembled as well.`,
}

func inspect(ctx *cli.Context) error {
	s, _ := makeSimulator(ctx)
	p := s.Program()

	fmt.Fprintf(os.Stdout, "Design %s\n\n", p.Design.Name)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Slot", "Signal", "Kind", "Width", "Init"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, sig := range p.Layout.Signals {
		init := ""
		if p.Init[i] != 0 {
			init = fmt.Sprintf("%#x", p.Init[i])
		}
		table.Append([]string{
			strconv.Itoa(i), sig.Name, sig.Kind.String(), strconv.Itoa(sig.Width), init,
		})
	}
	table.Render()

	if len(p.Mems) > 0 {
		fmt.Fprintln(os.Stdout)
		table = tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Memory", "Width", "Depth"})
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, m := range p.Mems {
			table.Append([]string{m.Name, strconv.Itoa(m.Width), strconv.Itoa(m.Depth)})
		}
		table.Render()
	}

	regs := 0
	for _, dom := range p.Domains {
		regs += len(dom.Regs)
	}
	clocks := make([]string, 0, len(p.Clocks))
	for _, slot := range p.Clocks {
		clocks = append(clocks, p.Layout.Signals[slot].Name)
	}
	fmt.Fprintln(os.Stdout)
	table = tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"Clocks", fmt.Sprintf("%v", clocks)},
		{"Comb ops", strconv.Itoa(len(p.Comb))},
		{"Domains", strconv.Itoa(len(p.Domains))},
		{"Registers", strconv.Itoa(regs)},
		{"Temps", strconv.Itoa(p.NumTemps)},
		{"Cyclic", strconv.FormatBool(p.Cyclic)},
	})
	table.Render()

	if ctx.Bool(disasmFlag.Name) {
		fmt.Fprintln(os.Stdout)
		p.Disassemble(os.Stdout)
	}
	return nil
}
