// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/perfrecord/perfrecord/internal/controller"
	"github.com/perfrecord/perfrecord/nativeunwind"
)

const (
	// Default values for CLI flags
	defaultArgInterval = 0.001
	defaultArgOutput   = "profile.json"
	defaultArgAddr     = "127.0.0.1:0"
)

// Help strings for command line arguments
var (
	intervalHelp       = "Sampling interval, in seconds."
	timeLimitHelp      = "Limit the recorded time to the specified number of seconds. 0 means no limit."
	outputHelp         = "Save the collected profile to this file. A .gz suffix compresses it."
	formatHelp         = "Output format: gecko, pprof or collapsed. Inferred from -out when empty."
	symbolicateHelp    = "Resolve function names from the symbol tables on disk."
	maxDepthHelp       = "Maximum number of frames per stack."
	launchWhenDoneHelp = "Open the collected profile in the Firefox Profiler after recording."
	launchHelp         = "Don't record. Instead, open the selected file in the Firefox Profiler."
	serveHelp          = "Don't record. Instead, serve the selected file from a local webserver."
	addrHelp           = "Listen address of the local webserver."
	verboseModeHelp    = "Enable verbose logging and debugging capabilities."
	versionHelp        = "Show version."
	configHelp         = "Read flag values from this file, one 'name value' pair per line."
)

const usageHeader = `Run a command and record a CPU profile of its execution.

USAGE:
    %[1]s [flags] command [args...]
    %[1]s [-launch | -serve] FILE

EXAMPLES:
    %[1]s ./yourcommand args
    %[1]s -launch-when-done ./yourcommand args
    %[1]s -o prof.json ./yourcommand args
    %[1]s -launch prof.json

FLAGS:
`

// usageOutput receives usage and flag parse errors.
var usageOutput io.Writer = os.Stderr

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func parseArgs(args []string) (*controller.Config, error) {
	var cfg controller.Config
	var interval, timeLimit float64

	fs := flag.NewFlagSet("perfrecord", flag.ContinueOnError)
	fs.SetOutput(usageOutput)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&cfg.Addr, "addr", defaultArgAddr, addrHelp)

	fs.String("config", "", configHelp)

	fs.StringVar(&cfg.Format, "format", "", formatHelp)

	fs.Float64Var(&interval, "i", defaultArgInterval, "Shorthand for -interval.")
	fs.Float64Var(&interval, "interval", defaultArgInterval, intervalHelp)

	fs.StringVar(&cfg.Launch, "l", "", "Shorthand for -launch.")
	fs.StringVar(&cfg.Launch, "launch", "", launchHelp)
	fs.BoolVar(&cfg.LaunchWhenDone, "launch-when-done", false, launchWhenDoneHelp)

	fs.IntVar(&cfg.MaxDepth, "max-depth", nativeunwind.DefaultMaxDepth, maxDepthHelp)

	fs.StringVar(&cfg.Output, "o", defaultArgOutput, "Shorthand for -out.")
	fs.StringVar(&cfg.Output, "out", defaultArgOutput, outputHelp)

	fs.StringVar(&cfg.Serve, "s", "", "Shorthand for -serve.")
	fs.StringVar(&cfg.Serve, "serve", "", serveHelp)
	fs.BoolVar(&cfg.Symbolicate, "symbolicate", true, symbolicateHelp)

	fs.Float64Var(&timeLimit, "t", 0, "Shorthand for -time-limit.")
	fs.Float64Var(&timeLimit, "time-limit", 0, timeLimitHelp)

	fs.BoolVar(&cfg.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&cfg.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), usageHeader, fs.Name())
		fs.PrintDefaults()
	}

	cfg.Fs = fs

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("PERFRECORD"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
	cfg.Interval = seconds(interval)
	cfg.TimeLimit = seconds(timeLimit)
	cfg.Command = fs.Args()
	return &cfg, err
}
