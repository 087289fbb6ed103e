// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfrecord/perfrecord/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/profile"
)

// ErrMissingCommand is returned when there is nothing to record.
var ErrMissingCommand = errors.New("missing command")

type Config struct {
	// Interval is the sampling interval.
	Interval time.Duration
	// TimeLimit stops the recording early. Zero records until the command exits.
	TimeLimit time.Duration
	// Output is the file the profile is written to.
	Output string
	// Format of the output. Empty selects it from the extension of Output.
	Format string
	// Symbolicate resolves function names before writing the profile.
	Symbolicate bool
	// MaxDepth limits the number of frames per stack.
	MaxDepth int
	// LaunchWhenDone opens the recorded profile in the browser.
	LaunchWhenDone bool
	// Launch opens an existing profile instead of recording.
	Launch string
	// Serve serves an existing profile instead of recording.
	Serve string
	// Addr is the listen address of the profile server.
	Addr        string
	VerboseMode bool
	Version     bool

	// Command is the program to record and its arguments.
	Command []string

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	if cfg.Fs != nil {
		cfg.Fs.VisitAll(func(f *flag.Flag) {
			log.Debug(fmt.Sprintf("%s: %v", f.Name, f.Value))
		})
	}
	log.Debugf("command: %q", cfg.Command)
}

// Recording reports whether the config records a command rather than serving
// a file.
func (cfg *Config) Recording() bool {
	return cfg.Launch == "" && cfg.Serve == ""
}

// OutputFormat returns the format the profile is written in.
func (cfg *Config) OutputFormat() (profile.Format, error) {
	if cfg.Format == "" {
		return profile.FormatForPath(cfg.Output), nil
	}
	return profile.ParseFormat(cfg.Format)
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if cfg.Launch != "" && cfg.Serve != "" {
		return usageError("-launch and -serve are mutually exclusive")
	}
	if !cfg.Recording() {
		return nil
	}
	if len(cfg.Command) == 0 {
		return ErrorWithExitCode{error: ErrMissingCommand, code: 1}
	}
	if cfg.Interval <= 0 {
		return usageError("sampling interval must be positive, got %v", cfg.Interval)
	}
	if cfg.TimeLimit < 0 {
		return usageError("time limit must not be negative, got %v", cfg.TimeLimit)
	}
	if cfg.MaxDepth <= 0 {
		return usageError("max depth must be positive, got %d", cfg.MaxDepth)
	}
	if cfg.Output == "" {
		return usageError("missing output file")
	}
	if _, err := cfg.OutputFormat(); err != nil {
		return ErrorWithExitCode{error: err, code: exitParseError}
	}
	return nil
}
