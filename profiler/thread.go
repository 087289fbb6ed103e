// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profiler // import "github.com/perfrecord/perfrecord/profiler"

import (
	"time"

	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/nativeunwind"
)

// Snapshot is the stack of one thread at one point in time.
type Snapshot struct {
	ThreadID  libpf.TID
	Timestamp time.Time
	// Frames lists code addresses, innermost first. The slice is reused by
	// the next capture of the same thread.
	Frames []libpf.Address
}

// ThreadProfiler holds the state accumulated for one thread.
type ThreadProfiler struct {
	tid       libpf.TID
	name      string
	named     bool
	samples   uint64
	lastStack []libpf.Address
}

func newThreadProfiler(tid libpf.TID) *ThreadProfiler {
	return &ThreadProfiler{tid: tid}
}

// ID returns the thread id.
func (tp *ThreadProfiler) ID() libpf.TID {
	return tp.tid
}

// Name returns the thread name, empty until it was read.
func (tp *ThreadProfiler) Name() string {
	return tp.name
}

// Samples returns the number of successful captures.
func (tp *ThreadProfiler) Samples() uint64 {
	return tp.samples
}

// Capture reads the registers of the stopped thread and unwinds its stack.
func (tp *ThreadProfiler) Capture(thread Thread, unwinder *nativeunwind.Unwinder,
	now time.Time) (Snapshot, error) {
	regs, err := thread.Registers()
	if err != nil {
		return Snapshot{}, err
	}
	tp.lastStack = unwinder.Walk(regs, tp.lastStack)
	tp.samples++
	return Snapshot{
		ThreadID:  tp.tid,
		Timestamp: now,
		Frames:    tp.lastStack,
	}, nil
}
