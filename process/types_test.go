// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModuleMap() ModuleMap {
	return NewModuleMap([]Mapping{
		{Vaddr: 0x7ffc0000, Length: 0x21000, Flags: elf.PF_R | elf.PF_W, Path: "[stack]"},
		{Vaddr: 0x400000, Length: 0x1000, Flags: elf.PF_R, Path: "/bin/app"},
		{Vaddr: 0x401000, Length: 0x2000, Flags: elf.PF_R | elf.PF_X,
			FileOffset: 0x1000, Path: "/bin/app"},
		// Same range reported twice.
		{Vaddr: 0x401000, Length: 0x2000, Flags: elf.PF_R | elf.PF_X,
			FileOffset: 0x1000, Path: "/bin/app"},
		{Vaddr: 0x7f0000000000, Length: 0x1000, Flags: elf.PF_R | elf.PF_X},
		{Vaddr: 0x7fff1000, Length: 0x1000, Flags: elf.PF_R | elf.PF_X, Path: "[vdso]"},
		{Vaddr: 0x900000, Length: 0},
	})
}

func TestModuleMapFind(t *testing.T) {
	mm := testModuleMap()
	require.Equal(t, 5, mm.Len())

	tests := map[string]struct {
		addr  uint64
		found bool
		vaddr uint64
	}{
		"first byte":       {addr: 0x401000, found: true, vaddr: 0x401000},
		"last byte":        {addr: 0x402fff, found: true, vaddr: 0x401000},
		"end is exclusive": {addr: 0x403000},
		"below everything": {addr: 0x1000},
		"previous mapping": {addr: 0x400fff, found: true, vaddr: 0x400000},
		"anonymous":        {addr: 0x7f0000000010, found: true, vaddr: 0x7f0000000000},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, ok := mm.Find(tc.addr)
			require.Equal(t, tc.found, ok)
			if ok {
				assert.Equal(t, tc.vaddr, m.Vaddr)
			}
		})
	}
}

func TestModuleMapModules(t *testing.T) {
	modules := testModuleMap().Modules()
	require.Len(t, modules, 1)
	assert.Equal(t, "/bin/app", modules[0].Path)
	assert.Equal(t, uint64(0x1000), modules[0].FileOffset)
}

func TestModuleMapStackFor(t *testing.T) {
	mm := testModuleMap()
	lo, hi, ok := mm.StackFor(0x7ffc1234)
	require.True(t, ok)
	assert.Equal(t, uint64(0x7ffc0000), lo)
	assert.Equal(t, uint64(0x7ffe1000), hi)

	_, _, ok = mm.StackFor(0x401000)
	assert.False(t, ok, "code is never a stack")
	_, _, ok = mm.StackFor(0x10)
	assert.False(t, ok)
}

func TestModuleMapIsCode(t *testing.T) {
	mm := testModuleMap()
	assert.True(t, mm.IsCode(0x401010))
	assert.False(t, mm.IsCode(0x400010), "read-only part of the image")
	assert.False(t, mm.IsCode(0x7ffc1234), "stack")
	assert.False(t, mm.IsCode(0x5562c59a22b0), "unmapped")
	assert.True(t, ModuleMap{}.IsCode(0x5562c59a22b0), "unknown layout")
}
