// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package nativeunwind reconstructs call stacks of stopped threads by
// following the frame pointer chain through the target's memory.
//
// The walk only uses frame records. On arm64 a thread stopped in a leaf
// function that did not push a frame record has its caller only in the link
// register; the walk does not use it, so such a sample misses the immediate
// caller of the leaf. Telling a frameless leaf apart from a function whose
// link register was already overwritten needs unwind information, which is
// not read here.
package nativeunwind // import "github.com/perfrecord/perfrecord/nativeunwind"

import (
	"encoding/binary"

	"github.com/perfrecord/perfrecord/kernel"
	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/remotememory"
)

const (
	// DefaultMaxDepth is the default limit of frames per stack.
	DefaultMaxDepth = 512
	// MaxStackSize bounds the frame pointer walk when the stack mapping of a
	// thread is unknown.
	MaxStackSize = 8 << 20

	// frameRecordSize is the size of the {saved fp, return address} pair
	// every frame pointer references on x86-64 and arm64.
	frameRecordSize = 16
)

// Layout describes the address space of the target.
type Layout interface {
	// StackFor finds the memory range of the stack holding sp.
	StackFor(sp uint64) (lo, hi uint64, ok bool)
	// IsCode reports whether addr lies in executable memory. It reports true
	// when the layout is not known.
	IsCode(addr uint64) bool
}

// Unwinder walks frame pointer chains in one address space.
type Unwinder struct {
	mem      remotememory.RemoteMemory
	layout   Layout
	maxDepth int
	pacMask  uint64
}

// New returns an Unwinder reading from mem. pacMask holds the pointer
// authentication bits to clear from return addresses.
func New(mem remotememory.RemoteMemory, layout Layout, maxDepth int,
	pacMask uint64) *Unwinder {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Unwinder{
		mem:      mem,
		layout:   layout,
		maxDepth: maxDepth,
		pacMask:  pacMask,
	}
}

// stackBounds returns the range frame records may live in.
func (u *Unwinder) stackBounds(sp uint64) (lo, hi uint64) {
	hi = sp + MaxStackSize
	if hi < sp {
		hi = ^uint64(0)
	}
	if u.layout != nil {
		if _, end, ok := u.layout.StackFor(sp); ok {
			hi = end
		}
	}
	return sp, hi
}

// Walk appends the stack of a thread with registers regs to frames[:0],
// innermost frame first. The walk stops silently at the first frame record
// that does not look valid or returns outside executable memory; a truncated
// stack is still a stack.
func (u *Unwinder) Walk(regs kernel.Registers, frames []libpf.Address) []libpf.Address {
	frames = append(frames[:0], libpf.Address(regs.PC&^u.pacMask))
	lo, hi := u.stackBounds(regs.SP)

	var record [frameRecordSize]byte
	fp := regs.FP
	for len(frames) < u.maxDepth {
		if fp == 0 || fp%8 != 0 || fp < lo || fp > hi-frameRecordSize {
			break
		}
		if err := u.mem.Read(libpf.Address(fp), record[:]); err != nil {
			break
		}
		next := binary.LittleEndian.Uint64(record[0:])
		ret := binary.LittleEndian.Uint64(record[8:]) &^ u.pacMask
		if ret == 0 || (u.layout != nil && !u.layout.IsCode(ret)) {
			break
		}
		frames = append(frames, libpf.Address(ret))
		// Stacks grow down, so callers' records live at higher addresses.
		if next <= fp {
			break
		}
		fp = next
	}
	return frames
}
