// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package readatbuf puts a page cache in front of an io.ReaderAt. The
// profiler reads target memory through it, so that walking a stack costs one
// read per touched page instead of one per frame record.
package readatbuf // import "github.com/perfrecord/perfrecord/libpf/readatbuf"

import (
	"errors"
	"fmt"
	"io"

	"github.com/perfrecord/perfrecord/libpf/freelru"
	"github.com/perfrecord/perfrecord/libpf/hash"
)

// Reader caches page sized reads from inner. Target memory changes whenever
// the target runs, so the owner calls Invalidate before each stop.
type Reader struct {
	inner    io.ReaderAt
	pages    *freelru.LRU[uint64, []byte]
	pageSize uint64
	// spare holds buffers of failed page reads for reuse.
	spare [][]byte
}

func hashPage(idx uint64) uint32 {
	return hash.Key64(idx)
}

// New returns a reader caching at most cacheSize pages of pageSize bytes.
func New(inner io.ReaderAt, pageSize, cacheSize uint) (*Reader, error) {
	if pageSize == 0 {
		return nil, errors.New("pageSize cannot be zero")
	}
	if cacheSize == 0 {
		return nil, errors.New("cacheSize cannot be zero")
	}
	pages, err := freelru.New[uint64, []byte](uint32(cacheSize), hashPage)
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	return &Reader{
		inner:    inner,
		pages:    pages,
		pageSize: uint64(pageSize),
	}, nil
}

// Invalidate drops every cached page.
func (r *Reader) Invalidate() {
	r.pages.Purge()
}

// Statistics returns the page cache counters.
func (r *Reader) Statistics() freelru.Statistics {
	return r.pages.Statistics()
}

// ReadAt implements io.ReaderAt. Pages that fail to read are not cached.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset value %d given", off)
	}
	// Large reads go straight through instead of flushing the cache.
	if uint64(len(p)) > r.pageSize*3/2 {
		return r.inner.ReadAt(p, off)
	}

	n := 0
	addr := uint64(off)
	for n < len(p) {
		idx := addr / r.pageSize
		data, err := r.page(idx)
		if err != nil {
			return n, err
		}
		skip := addr - idx*r.pageSize
		if skip >= uint64(len(data)) {
			return n, io.EOF
		}
		copied := copy(p[n:], data[skip:])
		n += copied
		addr += uint64(copied)
		if uint64(len(data)) < r.pageSize && n < len(p) {
			return n, io.EOF
		}
	}
	return n, nil
}

func (r *Reader) page(idx uint64) ([]byte, error) {
	if data, ok := r.pages.Get(idx); ok {
		return data, nil
	}
	var buf []byte
	if last := len(r.spare) - 1; last >= 0 {
		buf, r.spare = r.spare[last], r.spare[:last]
	} else {
		buf = make([]byte, r.pageSize)
	}
	n, err := r.inner.ReadAt(buf, int64(idx*r.pageSize))
	switch {
	case errors.Is(err, io.EOF):
		// A short page at the end of the input.
		buf = buf[:n]
	case err != nil:
		r.spare = append(r.spare, buf)
		return nil, err
	case uint64(n) < r.pageSize:
		r.spare = append(r.spare, buf)
		return nil, errors.New("failed to read whole page")
	}
	r.pages.Add(idx, buf)
	return buf, nil
}
