// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "github.com/perfrecord/perfrecord/symbolizer"

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/perfrecord/perfrecord/libpf"
)

func loadELF(path string) (*object, error) {
	f, err := elf.Open(path)
	if err != nil {
		var formatErr *elf.FormatError
		if errors.As(err, &formatErr) {
			return nil, errUnknownFormat
		}
		return nil, err
	}
	defer f.Close()

	mapper := addressMapper{align: pageSizeMinusOne}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Flags&elf.PF_X == 0 {
			continue
		}
		mapper.segments = append(mapper.segments, segment{
			offset: p.Off,
			vaddr:  p.Vaddr,
			filesz: p.Filesz,
		})
	}

	symbols := libpf.NewSymbolMap(0)
	addELFSymbols(symbols, f.Symbols)
	addELFSymbols(symbols, f.DynamicSymbols)
	if symbols.Len() == 0 {
		return nil, fmt.Errorf("no function symbols in %s", path)
	}
	symbols.Finalize()
	return &object{symbols: symbols, mapper: mapper}, nil
}

func addELFSymbols(symbols *libpf.SymbolMap, read func() ([]elf.Symbol, error)) {
	syms, err := read()
	if err != nil {
		return
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 ||
			sym.Section == elf.SHN_UNDEF {
			continue
		}
		symbols.Add(libpf.Symbol{
			Name:    libpf.SymbolName(sym.Name),
			Address: libpf.SymbolValue(sym.Value),
			Size:    sym.Size,
		})
	}
}
