// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package freelru

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashUint64(k uint64) uint32 {
	return uint32(k ^ k>>32)
}

func TestLRUStatistics(t *testing.T) {
	cache, err := New[uint64, int](2, hashUint64)
	require.NoError(t, err)

	cache.Add(1, 10)
	cache.Add(2, 20)

	v, ok := cache.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 10, v)

	_, ok = cache.Get(3)
	assert.False(t, ok)

	// 2 is the least recently used entry now.
	assert.True(t, cache.Add(3, 30))
	_, ok = cache.Get(2)
	assert.False(t, ok)

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, Statistics{Hit: 1, Miss: 2, Evicted: 1}, cache.Statistics())
}

func TestLRUPurge(t *testing.T) {
	cache, err := New[uint64, int](4, hashUint64)
	require.NoError(t, err)

	cache.Add(1, 10)
	cache.Add(2, 20)
	cache.Purge()
	assert.Zero(t, cache.Len())

	_, ok := cache.Get(1)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), cache.Statistics().Miss)
}
