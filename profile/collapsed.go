// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package profile // import "github.com/perfrecord/perfrecord/profile"

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteCollapsed writes the samples as folded stacks, "thread;outer;...;inner
// count" per line, the input format of flamegraph.pl.
func (b *Builder) WriteCollapsed(w io.Writer, opts DocumentOptions) error {
	stacks := make(map[string]int)
	var parts []string
	for _, th := range b.threads {
		labels := make(map[int32]string)
		for _, s := range th.samples {
			if s.stack == noStack {
				continue
			}
			key, ok := labels[s.stack]
			if !ok {
				frames := th.stackFrames(s.stack)
				parts = append(parts[:0], sanitizeFolded(threadName(th)))
				for i := len(frames) - 1; i >= 0; i-- {
					label, _ := b.frameLabel(th.pid, frames[i], opts.Symbolizer)
					parts = append(parts, sanitizeFolded(label))
				}
				key = strings.Join(parts, ";")
				labels[s.stack] = key
			}
			stacks[key]++
		}
	}
	return writeCollapsed(w, stacks)
}

// sanitizeFolded keeps the separators of the folded format out of names.
func sanitizeFolded(s string) string {
	return strings.NewReplacer(";", ":", "\n", " ").Replace(s)
}

func writeCollapsed(w io.Writer, stacks map[string]int) error {
	// Sort for deterministic output
	keys := make([]string, 0, len(stacks))
	for k := range stacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d\n", k, stacks[k]); err != nil {
			return err
		}
	}
	return nil
}
