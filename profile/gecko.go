// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profile // import "github.com/perfrecord/perfrecord/profile"

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/perfrecord/perfrecord/libpf"
)

// defaultProduct names profiles without any registered process.
const defaultProduct = "perfrecord"

var defaultCategories = []Category{
	{Name: "Other", Color: "grey", Subcategories: []string{"Other"}},
	{Name: "Native", Color: "blue", Subcategories: []string{"Other"}},
}

const (
	categoryOther  = 0
	categoryNative = 1
)

// Symbolizer resolves code addresses to function names.
type Symbolizer interface {
	// Symbolize returns the name of the function containing the code at
	// fileOffset of the object file path.
	Symbolize(path string, fileOffset uint64) (string, bool)
}

// DocumentOptions tune the exported representation.
type DocumentOptions struct {
	// Symbolizer, if set, replaces frame addresses by function names.
	Symbolizer Symbolizer
	// Version is recorded as the build id of the profiler.
	Version string
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// product returns the command of the first registered process.
func (b *Builder) product() string {
	if len(b.processes) > 0 && b.processes[0].Command != "" {
		return b.processes[0].Command
	}
	return defaultProduct
}

func (b *Builder) processName(pid libpf.PID) string {
	for _, p := range b.processes {
		if p.PID == pid {
			return p.Command
		}
	}
	return ""
}

// symbolName resolves addr of process pid through sym.
func (b *Builder) symbolName(pid libpf.PID, addr libpf.Address, sym Symbolizer) (string, bool) {
	if sym == nil {
		return "", false
	}
	lib, ok := b.findLib(pid, uint64(addr))
	if !ok {
		return "", false
	}
	return sym.Symbolize(lib.Path, uint64(addr)-lib.Start+lib.Offset)
}

// frameLabel names the frame at addr of process pid and reports whether the
// address belongs to a known image.
func (b *Builder) frameLabel(pid libpf.PID, addr libpf.Address, sym Symbolizer) (string, bool) {
	lib, ok := b.findLib(pid, uint64(addr))
	if !ok {
		return addr.String(), false
	}
	if sym != nil {
		if name, ok := sym.Symbolize(lib.Path, uint64(addr)-lib.Start+lib.Offset); ok {
			return name, true
		}
	}
	return addr.String(), true
}

func threadName(th *thread) string {
	if th.name != "" {
		return th.name
	}
	return fmt.Sprintf("Thread %d", th.tid)
}

// Document renders the profile. It does not modify the builder, so it can be
// called repeatedly and interleaved with further samples.
func (b *Builder) Document(opts DocumentOptions) *Document {
	doc := &Document{
		Meta: Meta{
			Version:         GeckoVersion,
			StartTime:       float64(b.startTime.UnixNano()) / float64(time.Millisecond),
			Interval:        milliseconds(b.interval),
			Stackwalk:       1,
			Product:         b.product(),
			Abi:             runtime.GOARCH,
			Oscpu:           runtime.GOOS,
			Platform:        runtime.GOOS,
			AppBuildID:      opts.Version,
			Presymbolicated: opts.Symbolizer != nil,
			Categories:      defaultCategories,
		},
		Libs:         b.docLibs(),
		Threads:      make([]Thread, 0, len(b.threads)),
		PausedRanges: []struct{}{},
		Processes:    []struct{}{},
	}
	for _, th := range b.threads {
		doc.Threads = append(doc.Threads, b.docThread(th, opts.Symbolizer))
	}
	return doc
}

func (b *Builder) docLibs() []DocLib {
	libs := []DocLib{}
	seen := make(map[Lib]libpf.Void)
	for _, p := range b.processes {
		for _, lib := range b.libs[p.PID] {
			if _, ok := seen[lib]; ok {
				continue
			}
			seen[lib] = libpf.Void{}
			name := filepath.Base(lib.Path)
			libs = append(libs, DocLib{
				Name:      name,
				Path:      lib.Path,
				DebugName: name,
				DebugPath: lib.Path,
				Arch:      runtime.GOARCH,
				Start:     lib.Start,
				End:       lib.End,
				Offset:    lib.Offset,
			})
		}
	}
	return libs
}

func (b *Builder) docThread(th *thread, sym Symbolizer) Thread {
	out := Thread{
		Name:         threadName(th),
		ProcessType:  "default",
		ProcessName:  b.processName(th.pid),
		PID:          uint32(th.pid),
		TID:          uint64(th.tid),
		RegisterTime: milliseconds(th.registerTime.Sub(b.startTime)),
		Samples: SampleTable{
			Schema: sampleSchema,
			Data:   make([]SampleRow, 0, len(th.samples)),
		},
		StackTable: StackTable{
			Schema: stackSchema,
			Data:   make([]StackRow, 0, len(th.stacks)),
		},
		FrameTable: FrameTable{
			Schema: frameSchema,
			Data:   make([]FrameRow, 0, len(th.frames)),
		},
		Markers: MarkerTable{
			Schema: markerSchema,
			Data:   []json.RawMessage{},
		},
		StringTable: []string{},
	}
	if !th.unregisterTime.IsZero() {
		t := milliseconds(th.unregisterTime.Sub(b.startTime))
		out.UnregisterTime = &t
	}

	stringIndex := make(map[string]uint32)
	for _, addr := range th.frames {
		label, known := b.frameLabel(th.pid, addr, sym)
		idx, ok := stringIndex[label]
		if !ok {
			idx = uint32(len(out.StringTable))
			out.StringTable = append(out.StringTable, label)
			stringIndex[label] = idx
		}
		category := categoryOther
		if known {
			category = categoryNative
		}
		out.FrameTable.Data = append(out.FrameTable.Data,
			FrameRow{Location: idx, Category: category})
	}
	for _, s := range th.stacks {
		out.StackTable.Data = append(out.StackTable.Data,
			StackRow{Prefix: s.prefix, Frame: s.frame})
	}
	for _, s := range th.samples {
		out.Samples.Data = append(out.Samples.Data, SampleRow{
			Stack: s.stack,
			Time:  milliseconds(s.time.Sub(b.startTime)),
		})
	}
	return out
}
