// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "github.com/perfrecord/perfrecord/vc"

import "runtime/debug"

var (
	// The following variables are going to be set at link time using ldflags
	// and can be referenced later in the program.

	// revision of the service
	revision = ""
	// buildTimestamp, timestamp of the build
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = ""
)

// buildSetting returns a setting recorded by the go command, e.g. vcs.revision.
func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// Revision of the service.
func Revision() string {
	if revision != "" {
		return revision
	}
	return buildSetting("vcs.revision")
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	if buildTimestamp != "" {
		return buildTimestamp
	}
	return buildSetting("vcs.time")
}

// Version in vX.Y.Z{-N-abbrev} format. Without ldflags the module version is
// used, which is "(devel)" for local builds.
func Version() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
