// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package symbolizer resolves code addresses to function names using the
// symbol tables of the object files on disk.
package symbolizer // import "github.com/perfrecord/perfrecord/symbolizer"

import (
	"errors"
	"fmt"

	"github.com/ianlancetaylor/demangle"
	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/libpf/freelru"
	"github.com/perfrecord/perfrecord/libpf/hash"
)

// DefaultCacheSize is the number of object files kept open in memory.
const DefaultCacheSize = 256

var errUnknownFormat = errors.New("neither ELF nor Mach-O")

// object is the symbol table of one file together with the translation from
// file offsets to the addresses its symbols use.
type object struct {
	symbols *libpf.SymbolMap
	mapper  addressMapper
}

func (o *object) lookup(fileOffset uint64) (string, bool) {
	if o == nil {
		return "", false
	}
	addr, ok := o.mapper.fileOffsetToVirtualAddress(fileOffset)
	if !ok {
		return "", false
	}
	name, _, ok := o.symbols.LookupByAddress(libpf.SymbolValue(addr))
	if !ok {
		return "", false
	}
	return demangle.Filter(string(name)), true
}

// Symbolizer caches the symbol tables of the files it has seen. It is not
// safe for concurrent use.
type Symbolizer struct {
	objects *freelru.LRU[string, *object]
}

// New returns a symbolizer caching at most capacity files.
func New(capacity uint32) (*Symbolizer, error) {
	objects, err := freelru.New[string, *object](capacity, hash.String)
	if err != nil {
		return nil, fmt.Errorf("failed to create symbol cache: %w", err)
	}
	return &Symbolizer{objects: objects}, nil
}

// Symbolize returns the name of the function at fileOffset in the file at
// path.
func (s *Symbolizer) Symbolize(path string, fileOffset uint64) (string, bool) {
	obj, ok := s.objects.Get(path)
	if !ok {
		var err error
		if obj, err = load(path); err != nil {
			// Remember the failure so the file is not opened for every frame.
			log.Debugf("No symbols for %s: %v", path, err)
		}
		s.objects.Add(path, obj)
	}
	return obj.lookup(fileOffset)
}

// Statistics returns the counters of the file cache.
func (s *Symbolizer) Statistics() freelru.Statistics {
	return s.objects.Statistics()
}

func load(path string) (*object, error) {
	obj, err := loadELF(path)
	if err == nil || !errors.Is(err, errUnknownFormat) {
		return obj, err
	}
	return loadMachO(path)
}
