// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfrecord/perfrecord/internal/controller"

import "github.com/perfrecord/perfrecord/periodiccaller"

type Option interface {
	applyOption(*Controller) *Controller
}
type controllerOptionFunc func(*Controller) *Controller

func (f controllerOptionFunc) applyOption(c *Controller) *Controller {
	return f(c)
}

// WithClock sets the clock driving the sampler.
// This defaults to [periodiccaller.RealClock]
func WithClock(clock periodiccaller.Clock) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.clock = clock
		return c
	})
}

// WithBrowser sets the function that opens the viewer URL.
func WithBrowser(openURL func(url string) error) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.openURL = openURL
		return c
	})
}
