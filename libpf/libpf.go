// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds the small value types shared by every perfrecord package.
package libpf // import "github.com/perfrecord/perfrecord/libpf"

import "fmt"

// Address represents an address in the address space of the profiled process.
type Address uint64

// String formats the address the way frame placeholders are written into profiles.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// PID represent Unix Process ID (pid_t)
type PID uint32

// TID identifies a thread within a process. On linux this is the LWP id, on
// darwin the 64-bit thread identifier reported by THREAD_IDENTIFIER_INFO.
type TID uint64

// Void allows to use maps as sets without memory allocation for the values.
type Void struct{}

// Set is a convenience alias for a map with a `Void` key.
type Set[T comparable] map[T]Void
