// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profiler // import "github.com/perfrecord/perfrecord/profiler"

import (
	"github.com/perfrecord/perfrecord/kernel"
	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/process"
)

// Thread is the part of a thread handle the profiler uses.
type Thread interface {
	ID() libpf.TID
	Registers() (kernel.Registers, error)
	Name() string
	Release()
}

// Target is the part of a task handle the profiler uses.
type Target interface {
	PID() libpf.PID
	Suspend() error
	Resume() error
	Threads() ([]Thread, error)
	ReadAt(p []byte, off int64) (int, error)
	CodePACMask() uint64
	ModuleMap() (process.ModuleMap, error)
	Release() error
}

type kernelTarget struct {
	*kernel.Task
}

// KernelTarget adapts a task handle to Target.
func KernelTarget(task *kernel.Task) Target {
	return kernelTarget{Task: task}
}

func (k kernelTarget) Threads() ([]Thread, error) {
	threads, err := k.Task.Threads()
	if err != nil {
		return nil, err
	}
	out := make([]Thread, len(threads))
	for i, th := range threads {
		out[i] = th
	}
	return out, nil
}

func (k kernelTarget) ModuleMap() (process.ModuleMap, error) {
	return process.ReadModuleMap(k.Task)
}
