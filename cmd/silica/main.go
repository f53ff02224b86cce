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

// silica is the command line interface for running, inspecting and
// compiling hardware designs.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	log "github.com/inconshreveable/log15"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/rcrowley/go-metrics"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/silica-hdl/go-silica/params"
)

const clientIdentifier = "silica"

var (
	// Git SHA1 commit hash and date of the release (set via linker flags).
	gitCommit = ""
	gitDate   = ""

	app = newApp("the Silica hardware simulator command line interface")
)

var (
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug",
		Value: 3,
	}
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	backendFlag = cli.StringFlag{
		Name:  "backend",
		Usage: `Evaluation engine to use ("auto", "interp", "jit" or "aot")`,
	}
	cacheDirFlag = cli.StringFlag{
		Name:  "cache.dir",
		Usage: "Directory holding compiled native modules (default = per-user cache)",
	}
	metricsFlag = cli.BoolFlag{
		Name:  "metrics",
		Usage: "Print collected metrics when the command finishes",
	}
)

// newApp creates an app with sane defaults.
func newApp(usage string) *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Version = params.VersionWithCommit(gitCommit, gitDate)
	app.Usage = usage
	return app
}

func init() {
	app.Commands = []cli.Command{
		runCommand,
		benchCommand,
		inspectCommand,
		compileCommand,
		cacheCommand,
		consoleCommand,
		dumpConfigCommand,
		versionCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = []cli.Flag{
		verbosityFlag,
		configFileFlag,
		backendFlag,
		cacheDirFlag,
		metricsFlag,
	}
	app.Before = func(ctx *cli.Context) error {
		setupLogging(ctx)
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if ctx.GlobalBool(metricsFlag.Name) {
			dumpMetrics(os.Stderr)
		}
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging routes the root logger through a level filter onto stderr,
// colored when stderr is a terminal.
func setupLogging(ctx *cli.Context) {
	output := io.Writer(os.Stderr)
	usecolor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	format := log.LogfmtFormat()
	if usecolor {
		output = colorable.NewColorableStderr()
		format = log.TerminalFormat()
	}
	lvl := log.Lvl(ctx.GlobalInt(verbosityFlag.Name))
	if lvl > log.LvlDebug {
		lvl = log.LvlDebug
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(output, format)))
}

// fatalf formats a message to standard error and exits the program. The
// message is also printed to standard output when the two streams go to
// different destinations.
func fatalf(format string, args ...interface{}) {
	w := io.MultiWriter(os.Stdout, os.Stderr)
	outf, _ := os.Stdout.Stat()
	errf, _ := os.Stderr.Stat()
	if outf != nil && errf != nil && os.SameFile(outf, errf) {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// dumpMetrics renders every registered meter, counter and timer as a table.
func dumpMetrics(w io.Writer) {
	var rows [][]string
	metrics.DefaultRegistry.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case metrics.Meter:
			rows = append(rows, []string{name, fmt.Sprintf("%d", v.Count()), fmt.Sprintf("%.1f/s", v.RateMean())})
		case metrics.Counter:
			rows = append(rows, []string{name, fmt.Sprintf("%d", v.Count()), ""})
		case metrics.Timer:
			rows = append(rows, []string{name, fmt.Sprintf("%d", v.Count()), time.Duration(v.Mean()).String()})
		}
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Count", "Rate"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

var versionCommand = cli.Command{
	Action:    version,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Category:  "MISCELLANEOUS COMMANDS",
	Description: `
The output of this command is supposed to be machine-readable.
`,
}

func version(ctx *cli.Context) error {
	fmt.Println(clientIdentifier)
	fmt.Println("Version:", params.VersionWithMeta)
	if gitCommit != "" {
		fmt.Println("Git Commit:", gitCommit)
	}
	if gitDate != "" {
		fmt.Println("Git Commit Date:", gitDate)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
