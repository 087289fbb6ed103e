// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/perfrecord/perfrecord/internal/controller"

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/profile"
	"github.com/perfrecord/perfrecord/symbolizer"
	"github.com/perfrecord/perfrecord/vc"
)

// reportProfile writes the recorded profile to the configured output.
func (c *Controller) reportProfile(b *profile.Builder) error {
	format, err := c.config.OutputFormat()
	if err != nil {
		return err
	}
	opts := profile.DocumentOptions{Version: vc.Version()}
	var sym *symbolizer.Symbolizer
	if c.config.Symbolicate {
		if sym, err = symbolizer.New(symbolizer.DefaultCacheSize); err != nil {
			return err
		}
		opts.Symbolizer = sym
	}

	if err := b.WriteFile(c.config.Output, format, opts); err != nil {
		return fmt.Errorf("failed to write profile to %s: %w", c.config.Output, err)
	}
	if sym != nil {
		log.Debugf("Symbol cache: %+v", sym.Statistics())
	}
	log.Infof("Wrote %s profile to %s", format, c.config.Output)
	return nil
}
