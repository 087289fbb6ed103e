//go:build darwin && cgo

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/perfrecord/perfrecord/process"

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/perfrecord/perfrecord/kernel"
	"github.com/perfrecord/perfrecord/remotememory"
)

// ReadModuleMap takes a snapshot of the images loaded into the task by dyld.
func ReadModuleMap(task *kernel.Task) (ModuleMap, error) {
	infosAddr, err := task.DyldAllImageInfosAddr()
	if err != nil {
		return ModuleMap{}, fmt.Errorf("failed to locate dyld image list: %w", err)
	}
	rm := remotememory.RemoteMemory{ReaderAt: task}
	images, err := dyldImages(rm, infosAddr)
	if err != nil {
		return ModuleMap{}, err
	}
	var mappings []Mapping
	for _, img := range images {
		segs, err := machoSegments(rm, img.loadAddr, img.path)
		if err != nil {
			log.Debugf("Skipping image %s at 0x%x: %v", img.path, img.loadAddr, err)
			continue
		}
		mappings = append(mappings, segs...)
	}
	if len(mappings) == 0 {
		return ModuleMap{}, ErrNoMappings
	}
	return NewModuleMap(mappings), nil
}
