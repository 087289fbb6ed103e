// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profile // import "github.com/perfrecord/perfrecord/profile"

import (
	"strconv"

	pprofile "github.com/google/pprof/profile"

	"github.com/perfrecord/perfrecord/libpf"
)

type locationKey struct {
	pid  libpf.PID
	addr libpf.Address
}

type sampleKey struct {
	thread int
	stack  int32
}

// Pprof converts the samples into a pprof profile. Identical stacks of the same
// thread are merged into one sample.
func (b *Builder) Pprof(opts DocumentOptions) *pprofile.Profile {
	prof := &pprofile.Profile{
		SampleType: []*pprofile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		DefaultSampleType: "cpu",
		PeriodType:        &pprofile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:            int64(b.interval),
		TimeNanos:         b.startTime.UnixNano(),
	}

	mappings := make(map[Lib]*pprofile.Mapping)
	for _, p := range b.processes {
		for _, lib := range b.libs[p.PID] {
			if _, ok := mappings[lib]; ok {
				continue
			}
			m := &pprofile.Mapping{
				ID:           uint64(len(prof.Mapping) + 1),
				Start:        lib.Start,
				Limit:        lib.End,
				Offset:       lib.Offset,
				File:         lib.Path,
				HasFunctions: opts.Symbolizer != nil,
			}
			mappings[lib] = m
			prof.Mapping = append(prof.Mapping, m)
		}
	}

	locations := make(map[locationKey]*pprofile.Location)
	functions := make(map[string]*pprofile.Function)
	location := func(pid libpf.PID, addr libpf.Address) *pprofile.Location {
		key := locationKey{pid: pid, addr: addr}
		if loc, ok := locations[key]; ok {
			return loc
		}
		loc := &pprofile.Location{
			ID:      uint64(len(prof.Location) + 1),
			Address: uint64(addr),
		}
		if lib, ok := b.findLib(pid, uint64(addr)); ok {
			loc.Mapping = mappings[lib]
		}
		if name, ok := b.symbolName(pid, addr, opts.Symbolizer); ok {
			fn, ok := functions[name]
			if !ok {
				fn = &pprofile.Function{
					ID:         uint64(len(prof.Function) + 1),
					Name:       name,
					SystemName: name,
				}
				functions[name] = fn
				prof.Function = append(prof.Function, fn)
			}
			loc.Line = []pprofile.Line{{Function: fn}}
		}
		locations[key] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	samples := make(map[sampleKey]*pprofile.Sample)
	var last int64
	for i, th := range b.threads {
		name := threadName(th)
		for _, s := range th.samples {
			if d := s.time.Sub(b.startTime).Nanoseconds(); d > last {
				last = d
			}
			key := sampleKey{thread: i, stack: s.stack}
			if sample, ok := samples[key]; ok {
				sample.Value[0]++
				sample.Value[1] += int64(b.interval)
				continue
			}
			sample := &pprofile.Sample{
				Value: []int64{1, int64(b.interval)},
				Label: map[string][]string{
					"thread": {name},
					"pid":    {strconv.FormatUint(uint64(th.pid), 10)},
				},
				NumLabel: map[string][]int64{"tid": {int64(th.tid)}},
			}
			if s.stack != noStack {
				for _, addr := range th.stackFrames(s.stack) {
					sample.Location = append(sample.Location, location(th.pid, addr))
				}
			}
			samples[key] = sample
			prof.Sample = append(prof.Sample, sample)
		}
	}
	prof.DurationNanos = last
	return prof
}
