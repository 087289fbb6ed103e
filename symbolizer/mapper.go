// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package symbolizer // import "github.com/perfrecord/perfrecord/symbolizer"

import "os"

// segment is the part of a loadable segment header needed to map file
// offsets to virtual addresses.
type segment struct {
	offset uint64
	vaddr  uint64
	filesz uint64
}

// addressMapper maps file offsets of executable segments to the virtual
// addresses the symbol table refers to.
type addressMapper struct {
	segments []segment
	// align is the mask applied to segment offsets before comparing them.
	align uint64
}

var pageSizeMinusOne = uint64(os.Getpagesize()) - 1

func (am addressMapper) fileOffsetToVirtualAddress(fileOffset uint64) (uint64, bool) {
	for _, s := range am.segments {
		// The loader maps segments from a page aligned offset, so addresses
		// in front of the segment proper are still reachable.
		alignedOffset := s.offset &^ am.align
		if fileOffset >= alignedOffset && fileOffset < s.offset+s.filesz {
			return s.vaddr - (s.offset - fileOffset), true
		}
	}
	return 0, false
}
