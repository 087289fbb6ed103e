// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package freelru wraps go-freelru.LRU and counts hits and misses so callers can
// report cache effectiveness at the end of a recording.
package freelru // import "github.com/perfrecord/perfrecord/libpf/freelru"

import (
	lru "github.com/elastic/go-freelru"
)

// LRU is a go-freelru.LRU with statistics. It is not safe for concurrent use.
type LRU[K comparable, V any] struct {
	lru *lru.LRU[K, V]

	hit, miss, evicted uint64
}

// Statistics holds the counters of an LRU.
type Statistics struct {
	// Number of lookups that found an entry.
	Hit uint64
	// Number of lookups that did not find an entry.
	Miss uint64
	// Number of entries pushed out by newer ones.
	Evicted uint64
}

// New returns an LRU holding at most capacity entries.
func New[K comparable, V any](capacity uint32, hash lru.HashKeyCallback[K]) (*LRU[K, V], error) {
	cache, err := lru.New[K, V](capacity, hash)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{lru: cache}, nil
}

// Add inserts or updates key and reports whether an older entry had to be evicted.
func (c *LRU[K, V]) Add(key K, value V) (evicted bool) {
	evicted = c.lru.Add(key, value)
	if evicted {
		c.evicted++
	}
	return evicted
}

// Get looks up key.
func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	value, ok = c.lru.Get(key)
	if ok {
		c.hit++
	} else {
		c.miss++
	}
	return value, ok
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	return c.lru.Len()
}

// Statistics returns the counters collected since the LRU was created.
func (c *LRU[K, V]) Statistics() Statistics {
	return Statistics{Hit: c.hit, Miss: c.miss, Evicted: c.evicted}
}

// Purge removes every entry. The counters are kept.
func (c *LRU[K, V]) Purge() {
	c.lru.Purge()
}
