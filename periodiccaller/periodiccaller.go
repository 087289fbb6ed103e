// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller allows periodic calls of functions.
package periodiccaller // import "github.com/perfrecord/perfrecord/periodiccaller"

import (
	"context"
	"time"
)

// Clock supplies the current time and timers.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock {
	return realClock{}
}

// Start starts a timer that calls <callback> every <interval> until the <ctx> is canceled.
func Start(ctx context.Context, interval time.Duration, callback func()) func() {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ticker.Stop
}

// Deadlines produces the fixed grid start + k*interval, k >= 1. The grid is
// never shifted by the time spent between two deadlines: when the caller falls
// behind, the deadlines already in the past are handed out one by one and are
// due immediately, until the caller has caught up.
type Deadlines struct {
	clock    Clock
	start    time.Time
	interval time.Duration
	k        int64
}

// NewDeadlines returns the deadline grid anchored at start.
func NewDeadlines(clock Clock, start time.Time, interval time.Duration) *Deadlines {
	return &Deadlines{clock: clock, start: start, interval: interval}
}

// Next advances to the next deadline and returns it together with the number
// of later deadlines that are already due.
func (d *Deadlines) Next() (time.Time, int64) {
	d.k++
	behind := int64(0)
	if elapsed := d.clock.Now().Sub(d.start); elapsed > 0 {
		if due := int64(elapsed / d.interval); due > d.k {
			behind = due - d.k
		}
	}
	return d.At(d.k), behind
}

// At returns the k-th deadline.
func (d *Deadlines) At(k int64) time.Time {
	return d.start.Add(time.Duration(k) * d.interval)
}

// Wait blocks until deadline or until ctx is done.
func (d *Deadlines) Wait(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wait := deadline.Sub(d.clock.Now())
	if wait <= 0 {
		return nil
	}
	select {
	case <-d.clock.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
