// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer

import (
	"debug/elf"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfrecord/perfrecord/libpf"
)

func TestAddressMapper(t *testing.T) {
	mapper := addressMapper{
		segments: []segment{{offset: 0x1040, vaddr: 0x401040, filesz: 0x2000}},
		align:    0xfff,
	}
	for _, tc := range []struct {
		offset uint64
		vaddr  uint64
		ok     bool
	}{
		{0x1000, 0x401000, true},
		{0x1010, 0x401010, true},
		{0x3000, 0x403000, true},
		{0x3040, 0, false},
		{0x0fff, 0, false},
	} {
		vaddr, ok := mapper.fileOffsetToVirtualAddress(tc.offset)
		assert.Equal(t, tc.ok, ok, "offset 0x%x", tc.offset)
		assert.Equal(t, tc.vaddr, vaddr, "offset 0x%x", tc.offset)
	}
}

func TestObjectLookup(t *testing.T) {
	symbols := libpf.NewSymbolMap(2)
	symbols.Add(libpf.Symbol{Name: "_ZN3foo3barEv", Address: 0x1000, Size: 0x20})
	symbols.Add(libpf.Symbol{Name: "main", Address: 0x1020, Size: 0x10})
	obj := &object{
		symbols: symbols,
		mapper:  addressMapper{segments: []segment{{offset: 0, vaddr: 0, filesz: 0x2000}}},
	}

	name, ok := obj.lookup(0x1008)
	require.True(t, ok)
	assert.Equal(t, "foo::bar()", name)

	name, ok = obj.lookup(0x1024)
	require.True(t, ok)
	assert.Equal(t, "main", name)

	_, ok = obj.lookup(0x1030)
	assert.False(t, ok)
	_, ok = obj.lookup(0x5000)
	assert.False(t, ok)

	var missing *object
	_, ok = missing.lookup(0x1000)
	assert.False(t, ok)
}

func TestSymbolizeMissingFile(t *testing.T) {
	s, err := New(DefaultCacheSize)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "missing")

	_, ok := s.Symbolize(path, 0x1000)
	assert.False(t, ok)
	_, ok = s.Symbolize(path, 0x2000)
	assert.False(t, ok)

	stats := s.Statistics()
	assert.Equal(t, uint64(1), stats.Miss)
	assert.Equal(t, uint64(1), stats.Hit)
}

func TestSymbolizeUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("definitely not an object file"), 0o600))

	_, err := load(path)
	assert.ErrorIs(t, err, errUnknownFormat)
}

func TestSymbolizeSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF")
	}
	exe, err := os.Executable()
	require.NoError(t, err)
	f, err := elf.Open(exe)
	require.NoError(t, err)
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		t.Skipf("test binary has no symbols: %v", err)
	}
	const want = "github.com/perfrecord/perfrecord/symbolizer.TestSymbolizeSelf"
	var vaddr uint64
	for _, sym := range syms {
		if sym.Name == want {
			vaddr = sym.Value
		}
	}
	require.NotZero(t, vaddr)

	var offset uint64
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD && p.Flags&elf.PF_X != 0 &&
			vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			offset = vaddr - p.Vaddr + p.Off
		}
	}
	require.NotZero(t, offset)

	s, err := New(DefaultCacheSize)
	require.NoError(t, err)
	name, ok := s.Symbolize(exe, offset+4)
	require.True(t, ok)
	assert.Equal(t, want, name)
}
