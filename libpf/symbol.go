// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "github.com/perfrecord/perfrecord/libpf"

import (
	"sort"
)

// SymbolValue represents the value associated with a symbol, e.g. either an
// offset or an absolute address
type SymbolValue uint64

// SymbolName represents the name of a symbol
type SymbolName string

// Symbol represents the name of a symbol
type Symbol struct {
	Name    SymbolName
	Address SymbolValue
	// Size is zero when the object format does not record symbol sizes (Mach-O).
	// Such a symbol extends up to the next symbol.
	Size uint64
}

// SymbolMap represents collections of symbols that can be reverse mapped
type SymbolMap struct {
	addressToSymbol []Symbol
	finalized       bool
}

// NewSymbolMap returns an empty map with room for capacity symbols.
func NewSymbolMap(capacity int) *SymbolMap {
	return &SymbolMap{
		addressToSymbol: make([]Symbol, 0, capacity),
	}
}

// Add a symbol to the map
func (symmap *SymbolMap) Add(s Symbol) {
	symmap.addressToSymbol = append(symmap.addressToSymbol, s)
	symmap.finalized = false
}

// Finalize sorts the symbols by descending address. It must be called after all
// symbols are inserted via Add() and before LookupByAddress.
func (symmap *SymbolMap) Finalize() {
	sort.SliceStable(symmap.addressToSymbol,
		func(i, j int) bool {
			return symmap.addressToSymbol[i].Address > symmap.addressToSymbol[j].Address
		})
	symmap.finalized = true
}

// LookupByAddress translates the address to a symbol and the offset into it.
// Returns false if no symbol covers the address.
func (symmap *SymbolMap) LookupByAddress(val SymbolValue) (SymbolName, Address, bool) {
	if !symmap.finalized {
		symmap.Finalize()
	}
	syms := symmap.addressToSymbol
	i := sort.Search(len(syms), func(i int) bool {
		return val >= syms[i].Address
	})
	if i >= len(syms) {
		return "", Address(val), false
	}
	// Zero sized symbols may alias a sized one at the same address; prefer the sized one.
	for j := i; j < len(syms) && syms[j].Address == syms[i].Address; j++ {
		if syms[j].Size != 0 && val < syms[j].Address+SymbolValue(syms[j].Size) {
			return syms[j].Name, Address(val - syms[j].Address), true
		}
	}
	for j := i; j < len(syms) && syms[j].Address == syms[i].Address; j++ {
		if syms[j].Size == 0 {
			return syms[j].Name, Address(val - syms[j].Address), true
		}
	}
	return "", Address(val), false
}

// Len returns the number of elements in the map.
func (symmap *SymbolMap) Len() int {
	return len(symmap.addressToSymbol)
}
