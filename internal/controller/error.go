// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfrecord/perfrecord/internal/controller"

import "fmt"

// The Go 'flag' package exits with 2 on parse errors; invalid values do the same.
const exitParseError = 2

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}

func usageError(format string, args ...any) error {
	return ErrorWithExitCode{error: fmt.Errorf(format, args...), code: exitParseError}
}
