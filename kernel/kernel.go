// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel exposes the task and thread control primitives of the host
// kernel as capability handles. A *Task can suspend, resume and read the memory
// of a process launched by Spawn; a *Thread can read the registers of one of
// its threads. Handles are only created by this package and become unusable
// after Release.
//
// The handles are not safe for concurrent use.
package kernel // import "github.com/perfrecord/perfrecord/kernel"

import (
	"fmt"

	"github.com/perfrecord/perfrecord/libpf"
)

// noCopy lets `go vet` flag handles that are copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Registers holds the part of a thread's CPU state needed for unwinding.
type Registers struct {
	// PC is the instruction pointer.
	PC uint64
	// SP is the stack pointer.
	SP uint64
	// FP is the frame pointer (rbp on x86-64, x29 on arm64).
	FP uint64
	// LR is the link register on arm64 and zero on x86-64.
	LR uint64
}

// Task references a whole process: its address space and its execution state.
type Task struct {
	_ noCopy

	pid      libpf.PID
	started  bool
	released bool
	sys      taskSys
}

// Spawn starts path with argv (argv[0] included) and env, stopped before the
// first user instruction executes. A nil env inherits the environment.
// Standard streams are inherited.
func Spawn(path string, argv, env []string) (*Task, error) {
	return spawn(path, argv, env)
}

// PID returns the process id.
func (t *Task) PID() libpf.PID {
	return t.pid
}

// StartExecution lets the spawned process run for the first time.
// Calling it twice is a programming error and panics.
func (t *Task) StartExecution() error {
	if t.started {
		panic(fmt.Sprintf("kernel: StartExecution called twice for pid %d", t.pid))
	}
	if t.released {
		return ErrReleased
	}
	t.started = true
	return t.startExecution()
}

// Suspend stops every thread of the task and returns once all of them are
// stopped.
func (t *Task) Suspend() error {
	if t.released {
		return ErrReleased
	}
	return t.suspend()
}

// Resume lets every thread stopped by Suspend run again.
func (t *Task) Resume() error {
	if t.released {
		return ErrReleased
	}
	return t.resume()
}

// Threads returns a handle for every live thread of a suspended task, ordered
// by thread id. The handles must be released by the caller.
func (t *Task) Threads() ([]*Thread, error) {
	if t.released {
		return nil, ErrReleased
	}
	return t.threads()
}

// ReadAt reads the task's memory at virtual address off. It implements io.ReaderAt.
func (t *Task) ReadAt(p []byte, off int64) (int, error) {
	if t.released {
		return 0, ErrReleased
	}
	return t.readAt(p, off)
}

// CodePACMask returns the bits of a code pointer that hold a pointer
// authentication tag, or zero when the target does not sign code pointers.
func (t *Task) CodePACMask() uint64 {
	return t.codePACMask()
}

// Release gives up control over the task. A suspended task is resumed. The
// process keeps running; use Wait to reap it.
func (t *Task) Release() error {
	if t.released {
		return nil
	}
	t.released = true
	return t.release()
}

// Wait releases the task if needed and blocks until the process exits. It
// returns the exit status, or 128+signal for a process killed by a signal.
func (t *Task) Wait() (int, error) {
	if err := t.Release(); err != nil {
		return -1, err
	}
	return t.wait()
}

// Thread references one thread of a task.
type Thread struct {
	_ noCopy

	id       libpf.TID
	task     *Task
	released bool
	sys      threadSys
}

// ID returns the thread identifier, stable for the lifetime of the thread.
func (th *Thread) ID() libpf.TID {
	return th.id
}

// Registers reads the CPU state of a stopped thread.
func (th *Thread) Registers() (Registers, error) {
	if th.released || th.task.released {
		return Registers{}, ErrReleased
	}
	return th.registers()
}

// Suspend stops this thread only.
func (th *Thread) Suspend() error {
	if th.released || th.task.released {
		return ErrReleased
	}
	return th.suspend()
}

// Resume lets this thread run again after Suspend.
func (th *Thread) Resume() error {
	if th.released || th.task.released {
		return ErrReleased
	}
	return th.resume()
}

// Name returns the thread name, or an empty string if it is unknown.
func (th *Thread) Name() string {
	if th.released || th.task.released {
		return ""
	}
	return th.name()
}

// Release gives up the handle.
func (th *Thread) Release() {
	if th.released {
		return
	}
	th.released = true
	th.release()
}
