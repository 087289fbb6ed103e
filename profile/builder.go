// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile accumulates samples into per-thread frame, stack and sample
// tables and exports them as a Firefox Profiler (Gecko format) document, a
// pprof profile or folded stacks.
package profile // import "github.com/perfrecord/perfrecord/profile"

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/libpf/freelru"
	"github.com/perfrecord/perfrecord/libpf/hash"
)

// stackCacheSize is the number of leaf stacks remembered by the fast path.
const stackCacheSize = 16384

// noStack marks a sample without frames and the root of the stack prefix tree.
const noStack = -1

// Lib is a code image loaded into a process.
type Lib struct {
	Path string
	// Start and End delimit the executable mapping of the image.
	Start, End uint64
	// Offset is the file offset mapped at Start.
	Offset uint64
}

// ProcessInfo describes a profiled process.
type ProcessInfo struct {
	PID       libpf.PID
	Command   string
	StartTime time.Time
	Libs      []Lib
}

// Stats counts what the builder did with the samples it got.
type Stats struct {
	Samples           uint64
	EmptySamples      uint64
	ClampedTimestamps uint64
	StackCache        freelru.Statistics
}

type threadKey struct {
	pid libpf.PID
	tid libpf.TID
}

type stackEntry struct {
	prefix int32
	frame  uint32
}

type sample struct {
	time  time.Time
	stack int32
}

// thread holds the tables of one thread. All tables are append-only.
type thread struct {
	pid            libpf.PID
	tid            libpf.TID
	name           string
	registerTime   time.Time
	unregisterTime time.Time

	frames     []libpf.Address
	frameIndex map[libpf.Address]uint32
	stacks     []stackEntry
	stackIndex map[stackEntry]int32
	samples    []sample
	lastTime   time.Time
}

// stackCacheKey identifies the frames of a sample of one thread by content hash.
type stackCacheKey struct {
	thread uint32
	hash   uint64
}

func hashStackCacheKey(k stackCacheKey) uint32 {
	return hash.Pair(k.thread, k.hash)
}

// Builder accumulates the samples of a recording. It is not safe for
// concurrent use.
type Builder struct {
	startTime time.Time
	interval  time.Duration

	processes []ProcessInfo
	libs      map[libpf.PID][]Lib

	threads []*thread
	live    map[threadKey]int

	stackCache *freelru.LRU[stackCacheKey, int32]
	hashBuf    []byte
	stats      Stats
}

// NewBuilder returns an empty profile whose timeline starts at startTime.
func NewBuilder(startTime time.Time, interval time.Duration) *Builder {
	cache, err := freelru.New[stackCacheKey, int32](stackCacheSize, hashStackCacheKey)
	if err != nil {
		// Only a zero capacity or a nil hash function make New fail.
		panic(err)
	}
	return &Builder{
		startTime:  startTime,
		interval:   interval,
		libs:       make(map[libpf.PID][]Lib),
		live:       make(map[threadKey]int),
		stackCache: cache,
	}
}

// StartTime returns the start of the profile timeline.
func (b *Builder) StartTime() time.Time {
	return b.startTime
}

// Interval returns the sampling interval.
func (b *Builder) Interval() time.Duration {
	return b.interval
}

// AddProcess records the metadata of a profiled process.
func (b *Builder) AddProcess(info ProcessInfo) {
	libs := info.Libs
	info.Libs = nil
	b.processes = append(b.processes, info)
	b.SetLibs(info.PID, libs)
}

// SetLibs replaces the images known for pid.
func (b *Builder) SetLibs(pid libpf.PID, libs []Lib) {
	sorted := make([]Lib, len(libs))
	copy(sorted, libs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	b.libs[pid] = sorted
}

// Processes returns the processes added so far.
func (b *Builder) Processes() []ProcessInfo {
	return b.processes
}

// findLib returns the image of pid containing addr.
func (b *Builder) findLib(pid libpf.PID, addr uint64) (Lib, bool) {
	libs := b.libs[pid]
	i := sort.Search(len(libs), func(i int) bool { return libs[i].End > addr })
	if i < len(libs) && libs[i].Start <= addr {
		return libs[i], true
	}
	return Lib{}, false
}

// liveThread returns the thread currently known as pid/tid, creating it at ts
// if needed.
func (b *Builder) liveThread(pid libpf.PID, tid libpf.TID, ts time.Time) (int, *thread) {
	key := threadKey{pid: pid, tid: tid}
	if idx, ok := b.live[key]; ok {
		return idx, b.threads[idx]
	}
	th := &thread{
		pid:          pid,
		tid:          tid,
		registerTime: ts,
		frameIndex:   make(map[libpf.Address]uint32),
		stackIndex:   make(map[stackEntry]int32),
	}
	b.threads = append(b.threads, th)
	idx := len(b.threads) - 1
	b.live[key] = idx
	return idx, th
}

// StartThread registers a thread at ts without recording a sample.
func (b *Builder) StartThread(pid libpf.PID, tid libpf.TID, ts time.Time) {
	b.liveThread(pid, tid, ts)
}

// SetThreadName names the live thread pid/tid.
func (b *Builder) SetThreadName(pid libpf.PID, tid libpf.TID, name string) {
	if idx, ok := b.live[threadKey{pid: pid, tid: tid}]; ok {
		b.threads[idx].name = name
	}
}

// EndThread marks the live thread pid/tid as unregistered at ts. A later
// sample with the same ids starts a new thread.
func (b *Builder) EndThread(pid libpf.PID, tid libpf.TID, ts time.Time) {
	key := threadKey{pid: pid, tid: tid}
	idx, ok := b.live[key]
	if !ok {
		return
	}
	th := b.threads[idx]
	if ts.Before(th.lastTime) {
		ts = th.lastTime
	}
	th.unregisterTime = ts
	delete(b.live, key)
}

// RecordSample appends a sample with the given frames, innermost first, to
// the thread pid/tid.
func (b *Builder) RecordSample(pid libpf.PID, tid libpf.TID, ts time.Time,
	frames []libpf.Address) {
	idx, th := b.liveThread(pid, tid, ts)
	if ts.Before(th.lastTime) {
		ts = th.lastTime
		b.stats.ClampedTimestamps++
	}
	th.lastTime = ts

	stack := int32(noStack)
	if len(frames) == 0 {
		b.stats.EmptySamples++
	} else {
		stack = b.internStack(idx, th, frames)
	}
	th.samples = append(th.samples, sample{time: ts, stack: stack})
	b.stats.Samples++
}

// Stats returns the builder counters.
func (b *Builder) Stats() Stats {
	stats := b.stats
	stats.StackCache = b.stackCache.Statistics()
	return stats
}

func (b *Builder) hashFrames(frames []libpf.Address) uint64 {
	buf := b.hashBuf[:0]
	for _, f := range frames {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(f))
	}
	b.hashBuf = buf
	return xxh3.Hash(buf)
}

// internStack returns the index of the stack table entry for frames.
func (b *Builder) internStack(idx int, th *thread, frames []libpf.Address) int32 {
	key := stackCacheKey{thread: uint32(idx), hash: b.hashFrames(frames)}
	if leaf, ok := b.stackCache.Get(key); ok && th.stackMatches(leaf, frames) {
		return leaf
	}

	prefix := int32(noStack)
	for i := len(frames) - 1; i >= 0; i-- {
		prefix = th.internStackEntry(prefix, th.internFrame(frames[i]))
	}
	b.stackCache.Add(key, prefix)
	return prefix
}

func (th *thread) internFrame(addr libpf.Address) uint32 {
	if idx, ok := th.frameIndex[addr]; ok {
		return idx
	}
	idx := uint32(len(th.frames))
	th.frames = append(th.frames, addr)
	th.frameIndex[addr] = idx
	return idx
}

func (th *thread) internStackEntry(prefix int32, frame uint32) int32 {
	entry := stackEntry{prefix: prefix, frame: frame}
	if idx, ok := th.stackIndex[entry]; ok {
		return idx
	}
	idx := int32(len(th.stacks))
	th.stacks = append(th.stacks, entry)
	th.stackIndex[entry] = idx
	return idx
}

// stackMatches reports whether the stack table entry leaf spells frames.
func (th *thread) stackMatches(leaf int32, frames []libpf.Address) bool {
	idx := leaf
	for _, f := range frames {
		if idx < 0 || int(idx) >= len(th.stacks) {
			return false
		}
		entry := th.stacks[idx]
		if th.frames[entry.frame] != f {
			return false
		}
		idx = entry.prefix
	}
	return idx == noStack
}

// stackFrames expands the stack table entry idx, innermost frame first.
func (th *thread) stackFrames(idx int32) []libpf.Address {
	var frames []libpf.Address
	for idx != noStack {
		entry := th.stacks[idx]
		frames = append(frames, th.frames[entry.frame])
		idx = entry.prefix
	}
	return frames
}
