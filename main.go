// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// perfrecord runs a command and records a CPU profile of its execution.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/internal/controller"
	"github.com/perfrecord/perfrecord/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode(os.Args[1:])))
}

func mainWithExitCode(args []string) exitCode {
	cfg, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		if errors.Is(err, controller.ErrMissingCommand) {
			fmt.Fprint(cfg.Fs.Output(), "Error: missing command\n\n")
			cfg.Fs.Usage()
		} else {
			log.Error(err)
		}
		return exitCodeOf(err)
	}

	// Context to drive the recording. Interrupting still writes the profile.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Debugf("Starting perfrecord %s (revision %s, build timestamp %s)",
		vc.Version(), vc.Revision(), vc.BuildTimestamp())

	if err = controller.New(cfg).Start(ctx); err != nil {
		return failure("%v", err)
	}
	return exitSuccess
}

func exitCodeOf(err error) exitCode {
	var ec controller.ErrorWithExitCode
	if errors.As(err, &ec) {
		return exitCode(ec.Code())
	}
	return exitFailure
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
