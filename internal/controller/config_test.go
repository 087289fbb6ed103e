// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfrecord/perfrecord/profile"
)

func validConfig() *Config {
	return &Config{
		Interval:    time.Millisecond,
		Output:      "profile.json",
		Symbolicate: true,
		MaxDepth:    512,
		Command:     []string{"true"},
	}
}

func TestValidate(t *testing.T) {
	for _, tt := range []struct {
		name   string
		modify func(*Config)
		code   int
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "serve without command", modify: func(c *Config) {
			c.Command = nil
			c.Serve = "profile.json"
		}},
		{name: "missing command", modify: func(c *Config) { c.Command = nil }, code: 1},
		{name: "zero interval", modify: func(c *Config) { c.Interval = 0 }, code: 2},
		{name: "negative time limit", modify: func(c *Config) { c.TimeLimit = -time.Second }, code: 2},
		{name: "zero depth", modify: func(c *Config) { c.MaxDepth = 0 }, code: 2},
		{name: "no output", modify: func(c *Config) { c.Output = "" }, code: 2},
		{name: "unknown format", modify: func(c *Config) { c.Format = "svg" }, code: 2},
		{name: "launch and serve", modify: func(c *Config) {
			c.Launch = "a.json"
			c.Serve = "b.json"
		}, code: 2},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.code == 0 {
				require.NoError(t, err)
				return
			}
			var ec ErrorWithExitCode
			require.True(t, errors.As(err, &ec), "unexpected error %v", err)
			assert.Equal(t, tt.code, ec.Code())
		})
	}
}

func TestMissingCommandIsSentinel(t *testing.T) {
	cfg := validConfig()
	cfg.Command = nil
	assert.ErrorIs(t, cfg.Validate(), ErrMissingCommand)
}

func TestOutputFormat(t *testing.T) {
	cfg := validConfig()
	for path, want := range map[string]profile.Format{
		"profile.json":    profile.FormatGecko,
		"profile.json.gz": profile.FormatGecko,
		"cpu.pprof":       profile.FormatPprof,
		"stacks.folded":   profile.FormatCollapsed,
	} {
		cfg.Output = path
		format, err := cfg.OutputFormat()
		require.NoError(t, err)
		assert.Equal(t, want, format, path)
	}

	cfg.Format = "pprof"
	format, err := cfg.OutputFormat()
	require.NoError(t, err)
	assert.Equal(t, profile.FormatPprof, format)
}
