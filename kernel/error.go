// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "github.com/perfrecord/perfrecord/kernel"

import (
	"errors"
	"fmt"
)

// Op names the kernel primitive that failed.
type Op uint8

const (
	OpSpawn Op = iota
	// OpTaskForPID covers acquiring the task handle: task_for_pid on darwin,
	// ptrace attach and option setup on linux.
	OpTaskForPID
	OpTaskThreads
	OpThreadState
	OpThreadInfo
	OpReadMemory
	OpTaskSuspend
	OpTaskResume
	OpThreadSuspend
	OpThreadResume
	OpWait
	OpRelease
)

var opNames = [...]string{
	OpSpawn:         "spawn",
	OpTaskForPID:    "task port acquisition",
	OpTaskThreads:   "thread enumeration",
	OpThreadState:   "thread state read",
	OpThreadInfo:    "thread info read",
	OpReadMemory:    "memory read",
	OpTaskSuspend:   "task suspend",
	OpTaskResume:    "task resume",
	OpThreadSuspend: "thread suspend",
	OpThreadResume:  "thread resume",
	OpWait:          "wait",
	OpRelease:       "release",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

var (
	// ErrTerminated matches (via errors.Is) every Error whose status code means
	// that the thread or task it refers to no longer exists.
	ErrTerminated = errors.New("target no longer exists")
	// ErrReleased is returned when a handle is used after Release.
	ErrReleased = errors.New("handle already released")
	// ErrUnsupported is returned by every constructor on platforms without a backend.
	ErrUnsupported = errors.New("process inspection is not supported on this platform")
)

// Error wraps the raw status code returned by a kernel primitive: an errno on
// linux, a kern_return_t on darwin.
type Error struct {
	Op   Op
	Code int32
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %s (%d)", e.Op, statusString(e.Op, e.Code), e.Code)
}

// Is reports whether target is ErrTerminated and the status code says so.
func (e *Error) Is(target error) bool {
	return target == ErrTerminated && isTerminatedStatus(e.Op, e.Code)
}
