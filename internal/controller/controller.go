// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller records a command and writes or serves its profile.
package controller // import "github.com/perfrecord/perfrecord/internal/controller"

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/periodiccaller"
	"github.com/perfrecord/perfrecord/process"
	"github.com/perfrecord/perfrecord/profile"
	"github.com/perfrecord/perfrecord/profiler"
	"github.com/perfrecord/perfrecord/sampler"
	"github.com/perfrecord/perfrecord/server"
)

// progressInterval is the period of the progress messages in verbose mode.
const progressInterval = time.Second

// Controller is an instance that runs one recording or serves one profile.
type Controller struct {
	config  *Config
	clock   periodiccaller.Clock
	openURL func(url string) error
}

// Recording is the outcome of a recording.
type Recording struct {
	PID     libpf.PID
	State   sampler.State
	Ticks   int64
	Profile *profile.Builder
	// ExitStatus is the exit status of the command, 128+signal if it was killed.
	ExitStatus int
}

// New creates a new controller
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{
		config: cfg,
		clock:  periodiccaller.RealClock(),
	}
	for _, opt := range opts {
		c = opt.applyOption(c)
	}
	return c
}

// Start runs the mode selected by the config until it is done or ctx is
// cancelled.
func (c *Controller) Start(ctx context.Context) error {
	switch {
	case c.config.Launch != "":
		return c.serve(ctx, c.config.Launch, true)
	case c.config.Serve != "":
		return c.serve(ctx, c.config.Serve, false)
	}
	rec, err := c.Record(ctx)
	if err != nil {
		return err
	}
	log.Infof("%s exited with status %d", c.config.Command[0], rec.ExitStatus)
	return nil
}

func (c *Controller) serve(ctx context.Context, path string, open bool) error {
	return server.Serve(ctx, path, server.Options{
		Addr:    c.config.Addr,
		Open:    open,
		OpenURL: c.openURL,
	})
}

// Record launches the command, samples it until it exits, the time limit is
// reached or ctx is cancelled, writes the profile and waits for the command.
func Record(ctx context.Context, cfg *Config) (*Recording, error) {
	return New(cfg).Record(ctx)
}

// Record runs one recording, see the package level Record.
func (c *Controller) Record(ctx context.Context) (*Recording, error) {
	cfg := c.config
	proc, err := process.Launch(cfg.Command[0], cfg.Command[1:])
	if err != nil {
		return nil, err
	}
	task, _ := proc.TakeTask()
	tp := profiler.NewTaskProfiler(profiler.KernelTarget(task), profiler.Options{
		Command:   filepath.Base(cfg.Command[0]),
		StartTime: time.Now(),
		Interval:  cfg.Interval,
		MaxDepth:  cfg.MaxDepth,
	})
	log.Infof("Recording %s (pid %d) every %v", cfg.Command[0], proc.PID(), cfg.Interval)

	tasks := make(chan sampler.Task, 1)
	smp := sampler.New(tasks, cfg.Interval, cfg.TimeLimit, sampler.WithClock(c.clock))
	if err = proc.StartExecution(); err != nil {
		if cerr := tp.Close(); cerr != nil {
			log.Warnf("Failed to release %d: %v", proc.PID(), cerr)
		}
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command[0], err)
	}
	tasks <- tp
	close(tasks)

	if cfg.VerboseMode {
		progressCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		periodiccaller.Start(progressCtx, progressInterval, func() {
			log.Debugf("Sampled %d ticks", smp.Ticks())
		})
	}
	res := smp.Run(ctx)
	stats := res.Profile.Stats()
	log.Infof("Sampling %s after %d ticks, %d samples", res.State, res.Ticks, stats.Samples)
	log.Debugf("Profile stats: %+v, task stats: %+v", stats, tp.Stats())

	rec := &Recording{
		PID:     proc.PID(),
		State:   res.State,
		Ticks:   res.Ticks,
		Profile: res.Profile,
	}
	if err = c.reportProfile(res.Profile); err != nil {
		return rec, err
	}
	if cfg.LaunchWhenDone {
		if err = c.serve(ctx, cfg.Output, true); err != nil {
			log.Errorf("Failed to serve %s: %v", cfg.Output, err)
		}
	}

	if rec.ExitStatus, err = proc.Wait(); err != nil {
		return rec, fmt.Errorf("failed to wait for %s: %w", cfg.Command[0], err)
	}
	return rec, nil
}
