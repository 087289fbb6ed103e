// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/perfrecord/perfrecord/process"

import (
	"debug/elf"
	"errors"
	"sort"
	"strings"
)

// ErrNoMappings is returned when no mapping of the target could be read.
var ErrNoMappings = errors.New("no mappings")

// Mapping contains information about a memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr uint64
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start
	FileOffset uint64
	// Path contains the file name for file backed mappings, or a pseudo path
	// such as "[stack]" for special kernel provided mappings.
	Path string
	// Bias is the load slide reported by the dynamic loader, zero if unknown.
	Bias uint64
}

// End returns the first address past the mapping.
func (m *Mapping) End() uint64 {
	return m.Vaddr + m.Length
}

// Contains reports whether addr lies inside the mapping.
func (m *Mapping) Contains(addr uint64) bool {
	return addr >= m.Vaddr && addr < m.End()
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

// IsPseudo reports mappings like [stack], [heap] and [vdso].
func (m *Mapping) IsPseudo() bool {
	return strings.HasPrefix(m.Path, "[")
}

func (m *Mapping) IsStack() bool {
	return strings.HasPrefix(m.Path, "[stack")
}

// ModuleMap is a snapshot of the mappings of a process, ordered by address.
type ModuleMap struct {
	mappings []Mapping
}

// NewModuleMap sorts mappings by start address. Mappings covering an already
// known address range are dropped.
func NewModuleMap(mappings []Mapping) ModuleMap {
	sorted := make([]Mapping, len(mappings))
	copy(sorted, mappings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Vaddr < sorted[j].Vaddr
	})
	out := sorted[:0]
	for _, m := range sorted {
		if m.Length == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Vaddr == m.Vaddr && out[n-1].Length == m.Length {
			continue
		}
		out = append(out, m)
	}
	return ModuleMap{mappings: out}
}

// Len returns the number of mappings.
func (mm ModuleMap) Len() int {
	return len(mm.mappings)
}

// Mappings returns all mappings ordered by address.
func (mm ModuleMap) Mappings() []Mapping {
	return mm.mappings
}

// Find returns the mapping containing addr.
func (mm ModuleMap) Find(addr uint64) (*Mapping, bool) {
	i := sort.Search(len(mm.mappings), func(i int) bool {
		return mm.mappings[i].End() > addr
	})
	if i < len(mm.mappings) && mm.mappings[i].Contains(addr) {
		return &mm.mappings[i], true
	}
	return nil, false
}

// Modules returns the file backed executable mappings: the loaded code images.
func (mm ModuleMap) Modules() []Mapping {
	var modules []Mapping
	for i := range mm.mappings {
		m := &mm.mappings[i]
		if m.IsExecutable() && !m.IsAnonymous() && !m.IsPseudo() {
			modules = append(modules, *m)
		}
	}
	return modules
}

// StackFor returns the bounds of the mapping holding the stack pointer sp.
func (mm ModuleMap) StackFor(sp uint64) (lo, hi uint64, ok bool) {
	m, ok := mm.Find(sp)
	if !ok || m.IsExecutable() {
		return 0, 0, false
	}
	return m.Vaddr, m.End(), true
}

// IsCode reports whether addr lies in an executable mapping. An empty map
// knows nothing about the layout and reports true.
func (mm ModuleMap) IsCode(addr uint64) bool {
	if len(mm.mappings) == 0 {
		return true
	}
	m, ok := mm.Find(addr)
	return ok && m.IsExecutable()
}
