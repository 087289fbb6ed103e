//go:build !linux && !(darwin && cgo)

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/perfrecord/perfrecord/process"

import "github.com/perfrecord/perfrecord/kernel"

// ReadModuleMap is not supported on this platform.
func ReadModuleMap(*kernel.Task) (ModuleMap, error) {
	return ModuleMap{}, kernel.ErrUnsupported
}
