// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/perfrecord/perfrecord/process"

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/kernel"
)

// ReadModuleMap takes a snapshot of the mappings of the task.
func ReadModuleMap(task *kernel.Task) (ModuleMap, error) {
	mapsFile, err := os.Open(fmt.Sprintf("/proc/%d/maps", task.PID()))
	if err != nil {
		return ModuleMap{}, err
	}
	defer mapsFile.Close()

	mappings, numParseErrors, err := parseMappings(mapsFile)
	if err != nil {
		return ModuleMap{}, fmt.Errorf("failed to parse mappings of %d: %w", task.PID(), err)
	}
	if numParseErrors > 0 {
		log.Debugf("Skipped %d unparsable mappings of %d", numParseErrors, task.PID())
	}
	if len(mappings) == 0 {
		return ModuleMap{}, ErrNoMappings
	}
	return NewModuleMap(mappings), nil
}
