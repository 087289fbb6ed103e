// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "github.com/perfrecord/perfrecord/symbolizer"

import (
	"debug/macho"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/perfrecord/perfrecord/libpf"
)

const (
	nStab = 0xe0
	nType = 0x0e
	nSect = 0x0e
)

func hostCPU() macho.Cpu {
	if runtime.GOARCH == "arm64" {
		return macho.CpuArm64
	}
	return macho.CpuAmd64
}

// openMachO opens a thin Mach-O file, or the slice of a universal file that
// matches the host.
func openMachO(path string) (*macho.File, func() error, error) {
	f, err := macho.Open(path)
	if err == nil {
		return f, f.Close, nil
	}
	fat, fatErr := macho.OpenFat(path)
	if fatErr != nil {
		var formatErr *macho.FormatError
		if errors.Is(fatErr, macho.ErrNotFat) || errors.As(fatErr, &formatErr) {
			return nil, nil, errUnknownFormat
		}
		return nil, nil, fatErr
	}
	for _, arch := range fat.Arches {
		if arch.Cpu == hostCPU() {
			return arch.File, fat.Close, nil
		}
	}
	fat.Close()
	return nil, nil, fmt.Errorf("no %v slice in %s", hostCPU(), path)
}

func loadMachO(path string) (*object, error) {
	f, closeFile, err := openMachO(path)
	if err != nil {
		return nil, err
	}
	defer closeFile()

	obj := newMachOObject(f)
	if obj.symbols.Len() == 0 {
		return nil, fmt.Errorf("no function symbols in %s", path)
	}
	return obj, nil
}

func newMachOObject(f *macho.File) *object {
	var mapper addressMapper
	for _, l := range f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok || seg.Filesz == 0 {
			continue
		}
		mapper.segments = append(mapper.segments, segment{
			offset: seg.Offset,
			vaddr:  seg.Addr,
			filesz: seg.Filesz,
		})
	}

	symbols := libpf.NewSymbolMap(0)
	if f.Symtab != nil {
		for _, sym := range f.Symtab.Syms {
			if sym.Type&nStab != 0 || sym.Type&nType != nSect || sym.Sect == 0 {
				continue
			}
			symbols.Add(libpf.Symbol{
				Name:    libpf.SymbolName(strings.TrimPrefix(sym.Name, "_")),
				Address: libpf.SymbolValue(sym.Value),
			})
		}
	}
	symbols.Finalize()
	return &object{symbols: symbols, mapper: mapper}
}
