// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package sampler drives the sampling of a set of tasks on a fixed time grid.
package sampler // import "github.com/perfrecord/perfrecord/sampler"

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/kernel"
	"github.com/perfrecord/perfrecord/periodiccaller"
	"github.com/perfrecord/perfrecord/profile"
)

// State is the lifecycle state of a Sampler.
type State int32

const (
	Idle State = iota
	Running
	// Finished means every task went away and no more tasks can arrive.
	Finished
	// TimedOut means the time limit was reached.
	TimedOut
	// Interrupted means the context was cancelled.
	Interrupted
)

var stateNames = [...]string{
	Idle:        "idle",
	Running:     "running",
	Finished:    "finished",
	TimedOut:    "timed out",
	Interrupted: "interrupted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Task is one sampled process.
type Task interface {
	// Register records the metadata of the task in the profile.
	Register(b *profile.Builder)
	// Sample records one sample of every thread. An error removes the task.
	Sample(b *profile.Builder, now time.Time) error
	// Close releases the task.
	Close() error
}

// Result is the outcome of Run.
type Result struct {
	State   State
	Profile *profile.Builder
	// Ticks is the number of sampling rounds.
	Ticks int64
	// Late counts the rounds that started when the following deadline was
	// already due.
	Late int64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock replaces the wall clock.
func WithClock(clock periodiccaller.Clock) Option {
	return func(s *Sampler) {
		s.clock = clock
	}
}

// Sampler samples the tasks it receives until they are gone, the time limit
// is reached or the context passed to Run is cancelled.
type Sampler struct {
	tasks     <-chan Task
	interval  time.Duration
	timeLimit time.Duration
	clock     periodiccaller.Clock

	active      []Task
	inputClosed bool
	late        int64

	state atomic.Int32
	ticks atomic.Int64
}

// New returns a sampler reading tasks from the channel. A timeLimit of zero
// means no limit. interval must be positive.
func New(tasks <-chan Task, interval, timeLimit time.Duration, opts ...Option) *Sampler {
	s := &Sampler{
		tasks:       tasks,
		interval:    interval,
		timeLimit:   timeLimit,
		clock:       periodiccaller.RealClock(),
		inputClosed: tasks == nil,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state. It is safe to call concurrently with Run.
func (s *Sampler) State() State {
	return State(s.state.Load())
}

// Ticks returns the number of completed rounds. It is safe to call
// concurrently with Run.
func (s *Sampler) Ticks() int64 {
	return s.ticks.Load()
}

// Run samples until a terminal state is reached. It can be called once.
func (s *Sampler) Run(ctx context.Context) Result {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		panic("sampler: Run called twice")
	}
	start := s.clock.Now()
	b := profile.NewBuilder(start, s.interval)
	defer s.closeAll()

	state := s.loop(ctx, b, start)
	s.state.Store(int32(state))
	log.Debugf("Sampler %s after %d ticks (%d late)",
		state, s.ticks.Load(), s.late)
	return Result{
		State:   state,
		Profile: b,
		Ticks:   s.ticks.Load(),
		Late:    s.late,
	}
}

func (s *Sampler) loop(ctx context.Context, b *profile.Builder, start time.Time) State {
	deadlines := periodiccaller.NewDeadlines(s.clock, start, s.interval)
	var limit time.Time
	if s.timeLimit > 0 {
		limit = start.Add(s.timeLimit)
	}

	s.drain(b)
	for {
		if len(s.active) == 0 && s.inputClosed {
			return Finished
		}
		next, behind := deadlines.Next()
		if behind > 0 {
			s.late++
			log.Debugf("Sampling fell behind by %d deadlines", behind)
		}
		if !limit.IsZero() && next.After(limit) {
			if deadlines.Wait(ctx, limit) != nil {
				return Interrupted
			}
			return TimedOut
		}
		if deadlines.Wait(ctx, next) != nil {
			return Interrupted
		}
		s.drain(b)
		s.sampleAll(b, s.clock.Now())
		s.ticks.Add(1)
	}
}

// drain registers the tasks queued so far without blocking.
func (s *Sampler) drain(b *profile.Builder) {
	for !s.inputClosed {
		select {
		case task, ok := <-s.tasks:
			if !ok {
				s.inputClosed = true
				return
			}
			task.Register(b)
			s.active = append(s.active, task)
		default:
			return
		}
	}
}

func (s *Sampler) sampleAll(b *profile.Builder, now time.Time) {
	kept := s.active[:0]
	for _, task := range s.active {
		if err := task.Sample(b, now); err != nil {
			if errors.Is(err, kernel.ErrTerminated) {
				log.Debugf("Task exited: %v", err)
			} else {
				log.Warnf("Removing task after sampling failure: %v", err)
			}
			closeTask(task)
			continue
		}
		kept = append(kept, task)
	}
	clear(s.active[len(kept):])
	s.active = kept
}

// closeAll closes the active tasks and any task still queued.
func (s *Sampler) closeAll() {
	for _, task := range s.active {
		closeTask(task)
	}
	s.active = nil
	for !s.inputClosed {
		select {
		case task, ok := <-s.tasks:
			if !ok {
				s.inputClosed = true
				return
			}
			closeTask(task)
		default:
			return
		}
	}
}

func closeTask(task Task) {
	if err := task.Close(); err != nil {
		log.Warnf("Failed to close task: %v", err)
	}
}
