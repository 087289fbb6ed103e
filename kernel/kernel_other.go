//go:build !linux && !(darwin && cgo)

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "github.com/perfrecord/perfrecord/kernel"

import "strconv"

type taskSys struct{}

type threadSys struct{}

func statusString(_ Op, code int32) string {
	return "status " + strconv.Itoa(int(code))
}

func isTerminatedStatus(Op, int32) bool {
	return false
}

func spawn(string, []string, []string) (*Task, error) {
	return nil, ErrUnsupported
}

func (t *Task) startExecution() error             { return ErrUnsupported }
func (t *Task) suspend() error                    { return ErrUnsupported }
func (t *Task) resume() error                     { return ErrUnsupported }
func (t *Task) threads() ([]*Thread, error)       { return nil, ErrUnsupported }
func (t *Task) readAt([]byte, int64) (int, error) { return 0, ErrUnsupported }
func (t *Task) codePACMask() uint64               { return 0 }
func (t *Task) release() error                    { return nil }
func (t *Task) wait() (int, error)                { return -1, ErrUnsupported }

func (th *Thread) registers() (Registers, error) { return Registers{}, ErrUnsupported }
func (th *Thread) suspend() error                { return ErrUnsupported }
func (th *Thread) resume() error                 { return ErrUnsupported }
func (th *Thread) name() string                  { return "" }
func (th *Thread) release()                      {}
