// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpString(t *testing.T) {
	assert.Equal(t, "thread state read", OpThreadState.String())
	assert.Equal(t, "op(200)", Op(200).String())
}

func TestErrorWrapping(t *testing.T) {
	err := fmt.Errorf("sampling: %w", &Error{Op: OpReadMemory, Code: 1})

	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, OpReadMemory, kerr.Op)
	assert.Contains(t, err.Error(), "memory read failed")
	assert.False(t, errors.Is(err, ErrReleased))
}

func TestReleasedTask(t *testing.T) {
	task := &Task{released: true}
	assert.ErrorIs(t, task.Suspend(), ErrReleased)
	assert.ErrorIs(t, task.Resume(), ErrReleased)
	_, err := task.Threads()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = task.ReadAt(make([]byte, 8), 0x1000)
	assert.ErrorIs(t, err, ErrReleased)
	require.NoError(t, task.Release())

	th := &Thread{task: task}
	_, err = th.Registers()
	assert.ErrorIs(t, err, ErrReleased)
	assert.Empty(t, th.Name())
}
