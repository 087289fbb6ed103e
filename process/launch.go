// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process launches the profiled program and describes its address space.
package process // import "github.com/perfrecord/perfrecord/process"

import (
	"fmt"
	"os/exec"

	"github.com/perfrecord/perfrecord/kernel"
	"github.com/perfrecord/perfrecord/libpf"
)

// LaunchedProcess is a child process created suspended by Launch.
type LaunchedProcess struct {
	task    *kernel.Task
	taken   bool
	started bool
}

// Launch starts path with args. A path without a slash is looked up in PATH.
// The child is stopped before executing its first instruction until
// StartExecution is called.
func Launch(path string, args []string) (*LaunchedProcess, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", path, err)
	}
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, path)
	argv = append(argv, args...)
	task, err := kernel.Spawn(resolved, argv, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", resolved, err)
	}
	return &LaunchedProcess{task: task}, nil
}

// PID returns the process id of the child.
func (lp *LaunchedProcess) PID() libpf.PID {
	return lp.task.PID()
}

// TakeTask hands out the task handle. Only the first call succeeds.
func (lp *LaunchedProcess) TakeTask() (*kernel.Task, bool) {
	if lp.taken {
		return nil, false
	}
	lp.taken = true
	return lp.task, true
}

// StartExecution lets the child run. Calling it twice panics.
func (lp *LaunchedProcess) StartExecution() error {
	if lp.started {
		panic(fmt.Sprintf("process: StartExecution called twice for pid %d", lp.PID()))
	}
	lp.started = true
	return lp.task.StartExecution()
}

// Wait blocks until the child exits and returns its exit status. The task
// handle is released first if it is still held.
func (lp *LaunchedProcess) Wait() (int, error) {
	if !lp.started {
		if err := lp.StartExecution(); err != nil {
			return -1, err
		}
	}
	return lp.task.Wait()
}
