// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package periodiccaller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPeriodicCaller tests periodic calling of Start
func TestPeriodicCaller(t *testing.T) {
	interval := 10 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	done := make(chan bool)
	var counter atomic.Int32

	stop := Start(ctx, interval, func() {
		result := counter.Load()
		if result < 2 {
			result = counter.Add(1)
			if result == 2 {
				// done after 2 calls
				done <- true
			}
		}
	})
	defer stop()

	// We expect the timer to stop after 2 calls to the callback function
	select {
	case <-done:
		assert.Equal(t, int32(2), counter.Load())
	case <-ctx.Done():
		assert.Fail(t, "timeout - periodiccaller not working")
	}
}

// manualClock advances only when a timer is requested.
type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestDeadlinesGrid(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := &manualClock{now: start}
	d := NewDeadlines(clock, start, 10*time.Millisecond)

	for k := int64(1); k <= 3; k++ {
		deadline, behind := d.Next()
		assert.Equal(t, start.Add(time.Duration(k)*10*time.Millisecond), deadline)
		assert.Zero(t, behind)
		require.NoError(t, d.Wait(context.Background(), deadline))
		assert.Equal(t, deadline, clock.Now())
		// Work done between deadlines must not shift the grid.
		clock.now = clock.now.Add(3 * time.Millisecond)
	}
}

func TestDeadlinesCatchUp(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := &manualClock{now: start}
	d := NewDeadlines(clock, start, 10*time.Millisecond)

	deadline, _ := d.Next()
	require.NoError(t, d.Wait(context.Background(), deadline))

	// A stall of 45ms leaves the deadlines at 20ms to 50ms in the past.
	clock.now = start.Add(55 * time.Millisecond)
	for k, behind := int64(2), int64(3); k <= 5; k, behind = k+1, behind-1 {
		deadline, late := d.Next()
		assert.Equal(t, start.Add(time.Duration(k)*10*time.Millisecond), deadline)
		assert.Equal(t, behind, late)
		// Missed deadlines are due at once.
		require.NoError(t, d.Wait(context.Background(), deadline))
		assert.Equal(t, start.Add(55*time.Millisecond), clock.Now())
	}

	deadline, late := d.Next()
	assert.Equal(t, start.Add(60*time.Millisecond), deadline)
	assert.Zero(t, late)
	require.NoError(t, d.Wait(context.Background(), deadline))
	assert.Equal(t, deadline, clock.Now())
}

func TestDeadlinesWaitCancelled(t *testing.T) {
	start := time.Now()
	d := NewDeadlines(RealClock(), start, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deadline, _ := d.Next()
	require.ErrorIs(t, d.Wait(ctx, deadline), context.Canceled)
}
