// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package profiler samples the threads of one process.
package profiler // import "github.com/perfrecord/perfrecord/profiler"

import (
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/kernel"
	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/libpf/freelru"
	"github.com/perfrecord/perfrecord/libpf/readatbuf"
	"github.com/perfrecord/perfrecord/nativeunwind"
	"github.com/perfrecord/perfrecord/process"
	"github.com/perfrecord/perfrecord/profile"
	"github.com/perfrecord/perfrecord/remotememory"
)

const (
	// moduleRefreshInterval limits how often an unknown code address triggers a
	// new snapshot of the module map.
	moduleRefreshInterval = time.Second

	stackPageSize   = 4096
	stackCachePages = 64
)

// Options configures a TaskProfiler.
type Options struct {
	// Command is the name under which the process is reported.
	Command string
	// StartTime is the time the process was launched.
	StartTime time.Time
	// Interval is the sampling interval.
	Interval time.Duration
	// MaxDepth limits the number of frames per stack.
	MaxDepth int
}

// Stats counts the work of a TaskProfiler.
type Stats struct {
	// Ticks counts Sample calls.
	Ticks uint64
	// Samples counts captured stacks.
	Samples uint64
	// CaptureErrors counts threads that could not be captured in a tick.
	CaptureErrors uint64
	// ThreadsStarted and ThreadsExited count the reconciled threads.
	ThreadsStarted uint64
	ThreadsExited  uint64
	// ModuleRefreshes counts successful module map refreshes.
	ModuleRefreshes uint64
	// Threads is the number of live threads.
	Threads int
	// StackPages counts the page cache used for stack reads.
	StackPages freelru.Statistics
}

// TaskProfiler samples all threads of one process.
type TaskProfiler struct {
	task     Target
	pid      libpf.PID
	opts     Options
	threads  map[libpf.TID]*ThreadProfiler
	modules  process.ModuleMap
	stackMem *readatbuf.Reader
	unwinder *nativeunwind.Unwinder

	snapshots   []Snapshot
	seen        libpf.Set[libpf.TID]
	unknownPC   bool
	lastRefresh time.Time
	stats       Stats
	closed      bool
}

// moduleLayout answers layout queries of the unwinder from the current
// module map. An address outside every mapping asks for a refresh.
type moduleLayout struct {
	tp *TaskProfiler
}

func (l moduleLayout) StackFor(sp uint64) (lo, hi uint64, ok bool) {
	return l.tp.modules.StackFor(sp)
}

func (l moduleLayout) IsCode(addr uint64) bool {
	if _, ok := l.tp.modules.Find(addr); !ok && l.tp.modules.Len() > 0 {
		l.tp.unknownPC = true
	}
	return l.tp.modules.IsCode(addr)
}

// NewTaskProfiler prepares the sampling of task. The module map is read once
// here; failing to read it only degrades symbolication.
func NewTaskProfiler(task Target, opts Options) *TaskProfiler {
	tp := &TaskProfiler{
		task:    task,
		pid:     task.PID(),
		opts:    opts,
		threads: make(map[libpf.TID]*ThreadProfiler),
		seen:    make(libpf.Set[libpf.TID]),
	}
	if modules, err := task.ModuleMap(); err != nil {
		log.Warnf("Failed to read module map of %d: %v", tp.pid, err)
	} else {
		tp.modules = modules
	}
	var mem io.ReaderAt = task
	if stackMem, err := readatbuf.New(task, stackPageSize, stackCachePages); err != nil {
		log.Warnf("Reading stacks of %d without cache: %v", tp.pid, err)
	} else {
		tp.stackMem = stackMem
		mem = stackMem
	}
	tp.unwinder = nativeunwind.New(remotememory.RemoteMemory{ReaderAt: mem},
		moduleLayout{tp: tp}, opts.MaxDepth, task.CodePACMask())
	return tp
}

// PID returns the process id of the task.
func (tp *TaskProfiler) PID() libpf.PID {
	return tp.pid
}

func (tp *TaskProfiler) libs() []profile.Lib {
	modules := tp.modules.Modules()
	libs := make([]profile.Lib, 0, len(modules))
	for _, m := range modules {
		log.Debugf("Module %s at 0x%x-0x%x offset 0x%x bias 0x%x",
			m.Path, m.Vaddr, m.End(), m.FileOffset, m.Bias)
		libs = append(libs, profile.Lib{
			Path:   m.Path,
			Start:  m.Vaddr,
			End:    m.End(),
			Offset: m.FileOffset,
		})
	}
	return libs
}

// Register records the process metadata in b.
func (tp *TaskProfiler) Register(b *profile.Builder) {
	b.AddProcess(profile.ProcessInfo{
		PID:       tp.pid,
		Command:   tp.opts.Command,
		StartTime: tp.opts.StartTime,
		Libs:      tp.libs(),
	})
}

// withSuspended runs fn while every thread of the task is stopped. The task
// is resumed on every path.
func (tp *TaskProfiler) withSuspended(fn func() error) (err error) {
	if err = tp.task.Suspend(); err != nil {
		return fmt.Errorf("failed to suspend %d: %w", tp.pid, err)
	}
	defer func() {
		if rerr := tp.task.Resume(); rerr != nil && err == nil {
			err = fmt.Errorf("failed to resume %d: %w", tp.pid, rerr)
		}
	}()
	return fn()
}

// Sample captures the stack of every thread and records them in b with
// timestamp now. An error means the task cannot be sampled anymore.
func (tp *TaskProfiler) Sample(b *profile.Builder, now time.Time) error {
	tp.stats.Ticks++
	var threads []Thread
	defer func() {
		for _, th := range threads {
			th.Release()
		}
	}()
	err := tp.withSuspended(func() error {
		var err error
		if threads, err = tp.task.Threads(); err != nil {
			return fmt.Errorf("failed to list threads of %d: %w", tp.pid, err)
		}
		tp.captureAll(b, threads, now)
		return nil
	})
	if err != nil {
		return err
	}

	// Names are read once the task runs again.
	for _, th := range threads {
		prof, ok := tp.threads[th.ID()]
		if !ok || prof.named {
			continue
		}
		prof.name = th.Name()
		prof.named = true
		b.SetThreadName(tp.pid, prof.tid, prof.name)
	}
	for _, snap := range tp.snapshots {
		b.RecordSample(tp.pid, snap.ThreadID, snap.Timestamp, snap.Frames)
	}
	tp.stats.Samples += uint64(len(tp.snapshots))
	tp.refreshModules(b, now)
	return nil
}

// captureAll reconciles the known threads with threads and captures each one.
func (tp *TaskProfiler) captureAll(b *profile.Builder, threads []Thread, now time.Time) {
	tp.snapshots = tp.snapshots[:0]
	clear(tp.seen)
	if tp.stackMem != nil {
		tp.stackMem.Invalidate()
	}
	for _, th := range threads {
		tid := th.ID()
		prof, ok := tp.threads[tid]
		if !ok {
			prof = newThreadProfiler(tid)
			tp.threads[tid] = prof
			tp.stats.ThreadsStarted++
			b.StartThread(tp.pid, tid, now)
		}
		snap, err := prof.Capture(th, tp.unwinder, now)
		if err != nil {
			if errors.Is(err, kernel.ErrTerminated) {
				// Gone between enumeration and capture.
				continue
			}
			tp.stats.CaptureErrors++
			log.Debugf("Failed to capture thread %d of %d: %v", tid, tp.pid, err)
			tp.seen[tid] = libpf.Void{}
			continue
		}
		tp.seen[tid] = libpf.Void{}
		if _, ok := tp.modules.Find(uint64(snap.Frames[0])); !ok {
			tp.unknownPC = true
		}
		tp.snapshots = append(tp.snapshots, snap)
	}
	for tid := range tp.threads {
		if _, ok := tp.seen[tid]; !ok {
			delete(tp.threads, tid)
			tp.stats.ThreadsExited++
			b.EndThread(tp.pid, tid, now)
		}
	}
}

// refreshModules takes a new module map snapshot when a captured PC was not
// covered by the current one.
func (tp *TaskProfiler) refreshModules(b *profile.Builder, now time.Time) {
	if !tp.unknownPC || now.Sub(tp.lastRefresh) < moduleRefreshInterval {
		return
	}
	tp.unknownPC = false
	tp.lastRefresh = now
	modules, err := tp.task.ModuleMap()
	if err != nil {
		log.Warnf("Failed to refresh module map of %d: %v", tp.pid, err)
		return
	}
	tp.modules = modules
	tp.stats.ModuleRefreshes++
	b.SetLibs(tp.pid, tp.libs())
}

// Threads returns the profilers of the live threads.
func (tp *TaskProfiler) Threads() map[libpf.TID]*ThreadProfiler {
	return tp.threads
}

// Stats returns the counters of the profiler.
func (tp *TaskProfiler) Stats() Stats {
	stats := tp.stats
	stats.Threads = len(tp.threads)
	if tp.stackMem != nil {
		stats.StackPages = tp.stackMem.Statistics()
	}
	return stats
}

// Close releases the task, which lets it run on unobserved.
func (tp *TaskProfiler) Close() error {
	if tp.closed {
		return nil
	}
	tp.closed = true
	log.Debugf("Closing profiler of %d: %+v", tp.pid, tp.Stats())
	return tp.task.Release()
}
