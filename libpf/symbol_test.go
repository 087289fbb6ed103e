// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbolMapLookupByAddress(t *testing.T) {
	symmap := NewSymbolMap(4)
	symmap.Add(Symbol{Name: "main", Address: 0x1000, Size: 0x40})
	symmap.Add(Symbol{Name: "helper", Address: 0x1040, Size: 0x20})
	symmap.Add(Symbol{Name: "_start", Address: 0x900})
	symmap.Add(Symbol{Name: "alias", Address: 0x1040})
	symmap.Finalize()

	tests := map[string]struct {
		addr   SymbolValue
		name   SymbolName
		offset Address
		found  bool
	}{
		"start of sized symbol": {addr: 0x1000, name: "main", offset: 0, found: true},
		"inside sized symbol":   {addr: 0x1013, name: "main", offset: 0x13, found: true},
		"prefer sized alias":    {addr: 0x1044, name: "helper", offset: 4, found: true},
		"unsized extends":       {addr: 0x9f0, name: "_start", offset: 0xf0, found: true},
		"below every symbol":    {addr: 0x10, found: false, offset: 0x10},
		"past the sized symbol": {addr: 0x1060, name: "alias", offset: 0x20, found: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sym, off, ok := symmap.LookupByAddress(tc.addr)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.offset, off)
			if tc.found {
				assert.Equal(t, tc.name, sym)
			}
		})
	}
	assert.Equal(t, 4, symmap.Len())
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "0x7fff1234", Address(0x7fff1234).String())
}
