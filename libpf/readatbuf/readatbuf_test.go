// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package readatbuf

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInput(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestTransparency(t *testing.T) {
	for _, tc := range []struct {
		size, pageSize, cacheSize int
	}{
		{1024, 64, 1},
		{1346, 11, 55},
		{889, 34, 111},
	} {
		data := testInput(tc.size)
		r, err := New(bytes.NewReader(data), uint(tc.pageSize), uint(tc.cacheSize))
		require.NoError(t, err)

		for off := 0; off < tc.size; off += 7 {
			for _, length := range []int{1, 8, 16, tc.pageSize + 3} {
				buf := make([]byte, length)
				n, err := r.ReadAt(buf, int64(off))
				want := min(length, tc.size-off)
				assert.Equal(t, want, n, "off %d len %d", off, length)
				if want < length {
					assert.ErrorIs(t, err, io.EOF)
				} else {
					assert.NoError(t, err)
				}
				assert.Equal(t, data[off:off+want], buf[:n])
			}
		}
	}
}

// countingReader counts reads and fails above limit.
type countingReader struct {
	data  []byte
	limit int64
	reads int
}

func (c *countingReader) ReadAt(p []byte, off int64) (int, error) {
	c.reads++
	if off >= c.limit {
		return 0, errors.New("unmapped")
	}
	return copy(p, c.data[off:]), nil
}

func TestCachingAndInvalidate(t *testing.T) {
	inner := &countingReader{data: testInput(4096), limit: 2048}
	r, err := New(inner, 1024, 4)
	require.NoError(t, err)

	buf := make([]byte, 16)
	for off := int64(0); off < 1024; off += 16 {
		_, err = r.ReadAt(buf, off)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.reads)
	stats := r.Statistics()
	assert.Equal(t, uint64(1), stats.Miss)
	assert.Equal(t, uint64(63), stats.Hit)

	r.Invalidate()
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.reads)

	// Failing pages are retried.
	_, err = r.ReadAt(buf, 3000)
	require.Error(t, err)
	_, err = r.ReadAt(buf, 3000)
	require.Error(t, err)
	assert.Equal(t, 4, inner.reads)
}

func TestNewRejectsZeroSizes(t *testing.T) {
	_, err := New(bytes.NewReader(nil), 0, 1)
	require.Error(t, err)
	_, err = New(bytes.NewReader(nil), 1, 0)
	require.Error(t, err)
}
