// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/profile"
)

// manualClock jumps forward whenever a timer is requested.
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

type fakeTask struct {
	pid        libpf.PID
	registered int
	samples    []time.Time
	closed     int
	// failAt makes the n-th sample fail, counting from one.
	failAt int
	// onSample runs before each sample.
	onSample func(n int)
}

func (f *fakeTask) Register(b *profile.Builder) {
	f.registered++
	b.AddProcess(profile.ProcessInfo{PID: f.pid, Command: "fake"})
}

func (f *fakeTask) Sample(b *profile.Builder, now time.Time) error {
	n := len(f.samples) + 1
	if f.onSample != nil {
		f.onSample(n)
	}
	if n == f.failAt {
		return errors.New("task gone")
	}
	f.samples = append(f.samples, now)
	b.RecordSample(f.pid, libpf.TID(f.pid), now, []libpf.Address{0x1000})
	return nil
}

func (f *fakeTask) Close() error {
	f.closed++
	return nil
}

var t0 = time.Unix(5000, 0)

func queue(tasks ...Task) chan Task {
	ch := make(chan Task, 8)
	for _, task := range tasks {
		ch <- task
	}
	return ch
}

func TestTimeLimitTicks(t *testing.T) {
	for _, tc := range []struct {
		name      string
		interval  time.Duration
		timeLimit time.Duration
		ticks     int64
	}{
		{"exact", 2 * time.Millisecond, 10 * time.Millisecond, 5},
		{"floor", 3 * time.Millisecond, 10 * time.Millisecond, 3},
		{"coarse", time.Second, 10 * time.Millisecond, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clock := &manualClock{now: t0}
			task := &fakeTask{pid: 1}
			s := New(queue(task), tc.interval, tc.timeLimit, WithClock(clock))

			res := s.Run(context.Background())
			assert.Equal(t, TimedOut, res.State)
			assert.Equal(t, tc.ticks, res.Ticks)
			assert.Len(t, task.samples, int(tc.ticks))
			assert.Equal(t, 1, task.registered)
			assert.Equal(t, 1, task.closed)
			assert.Equal(t, t0.Add(tc.timeLimit), clock.now)
			assert.Equal(t, TimedOut, s.State())

			require.NotNil(t, res.Profile)
			assert.Len(t, res.Profile.Processes(), 1)
			assert.NoError(t, res.Profile.Document(profile.DocumentOptions{}).Validate())
		})
	}
}

func TestSamplesOnDeadlineGrid(t *testing.T) {
	clock := &manualClock{now: t0}
	task := &fakeTask{pid: 1}
	task.onSample = func(n int) {
		if n == 2 {
			// Overrun the third and fourth deadlines.
			clock.now = clock.now.Add(25 * time.Millisecond)
		}
	}
	s := New(queue(task), 10*time.Millisecond, 60*time.Millisecond, WithClock(clock))

	res := s.Run(context.Background())
	assert.Equal(t, TimedOut, res.State)
	// The missed deadlines are caught up at once, the grid is kept.
	assert.Equal(t, []time.Time{
		t0.Add(10 * time.Millisecond),
		t0.Add(20 * time.Millisecond),
		t0.Add(45 * time.Millisecond),
		t0.Add(45 * time.Millisecond),
		t0.Add(50 * time.Millisecond),
		t0.Add(60 * time.Millisecond),
	}, task.samples)
	assert.Equal(t, int64(6), res.Ticks)
	assert.Equal(t, int64(1), res.Late)
}

func TestSlowRoundsKeepTickCount(t *testing.T) {
	clock := &manualClock{now: t0}
	task := &fakeTask{pid: 1}
	task.onSample = func(int) {
		clock.now = clock.now.Add(1500 * time.Microsecond)
	}
	s := New(queue(task), time.Millisecond, 20*time.Millisecond, WithClock(clock))

	res := s.Run(context.Background())
	assert.Equal(t, TimedOut, res.State)
	assert.Equal(t, int64(20), res.Ticks)
	assert.Positive(t, res.Late)
	for i := 1; i < len(task.samples); i++ {
		assert.False(t, task.samples[i].Before(task.samples[i-1]))
	}
}

func TestFinishedWhenTasksGone(t *testing.T) {
	clock := &manualClock{now: t0}
	task := &fakeTask{pid: 1, failAt: 3}
	ch := queue(task)
	close(ch)
	s := New(ch, time.Millisecond, 0, WithClock(clock))

	res := s.Run(context.Background())
	assert.Equal(t, Finished, res.State)
	assert.Equal(t, int64(3), res.Ticks)
	assert.Len(t, task.samples, 2)
	assert.Equal(t, 1, task.closed)
}

func TestNilQueueFinishesImmediately(t *testing.T) {
	s := New(nil, time.Millisecond, 0, WithClock(&manualClock{now: t0}))
	res := s.Run(context.Background())
	assert.Equal(t, Finished, res.State)
	assert.Zero(t, res.Ticks)
}

func TestTasksQueuedDuringRun(t *testing.T) {
	clock := &manualClock{now: t0}
	ch := queue()
	late := &fakeTask{pid: 2}
	first := &fakeTask{pid: 1}
	first.onSample = func(n int) {
		if n == 2 {
			ch <- late
			close(ch)
		}
	}
	ch <- first
	s := New(ch, time.Millisecond, 4*time.Millisecond, WithClock(clock))

	res := s.Run(context.Background())
	assert.Equal(t, TimedOut, res.State)
	assert.Len(t, first.samples, 4)
	assert.Equal(t, []time.Time{t0.Add(3 * time.Millisecond), t0.Add(4 * time.Millisecond)},
		late.samples)
	assert.Equal(t, 1, late.registered)
	assert.Equal(t, 1, late.closed)
	assert.Len(t, res.Profile.Processes(), 2)
}

func TestInterrupted(t *testing.T) {
	clock := &manualClock{now: t0}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := &fakeTask{pid: 1}
	queued := &fakeTask{pid: 2}
	ch := queue(task)
	s := New(ch, time.Millisecond, 0, WithClock(clock))
	task.onSample = func(n int) {
		if n == 2 {
			ch <- queued
			cancel()
		}
	}

	res := s.Run(ctx)
	assert.Equal(t, Interrupted, res.State)
	assert.Equal(t, int64(2), res.Ticks)
	assert.Equal(t, 1, task.closed)
	assert.Equal(t, 1, queued.closed)
	assert.Zero(t, queued.registered)
}

func TestRunTwicePanics(t *testing.T) {
	ch := queue()
	close(ch)
	s := New(ch, time.Millisecond, 0, WithClock(&manualClock{now: t0}))
	s.Run(context.Background())
	assert.Panics(t, func() { s.Run(context.Background()) })
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "timed out", TimedOut.String())
	assert.Equal(t, "unknown", State(42).String())
}
