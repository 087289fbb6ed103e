// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// helperEnv makes the test binary run a helper workload instead of the tests.
const helperEnv = "PERFRECORD_KERNEL_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "churn" {
		churnThreads(300 * time.Millisecond)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

var spins atomic.Uint64

// churnThreads keeps starting and ending OS threads for d, then returns while
// a few threads are still busy, so the process exits with live workers.
func churnThreads(d time.Duration) {
	for range 3 {
		go func() {
			runtime.LockOSThread()
			for {
				spins.Add(1)
			}
		}()
	}
	deadline := time.Now().Add(d)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				done := make(chan struct{})
				go func() {
					// Exiting while locked terminates the OS thread.
					runtime.LockOSThread()
					close(done)
				}()
				<-done
			}
		}()
	}
	wg.Wait()
}

func spawnOrSkip(t *testing.T, argv ...string) *Task {
	t.Helper()
	return spawnEnvOrSkip(t, nil, argv...)
}

func spawnEnvOrSkip(t *testing.T, env []string, argv ...string) *Task {
	t.Helper()
	if _, err := os.Stat(argv[0]); err != nil {
		t.Skipf("%s not available", argv[0])
	}
	task, err := Spawn(argv[0], argv, env)
	var kerr *Error
	if errors.As(err, &kerr) && unix.Errno(kerr.Code) == unix.EPERM {
		t.Skip("ptrace not permitted")
	}
	require.NoError(t, err)
	return task
}

func TestTerminatedStatus(t *testing.T) {
	assert.ErrorIs(t, &Error{Op: OpThreadState, Code: int32(unix.ESRCH)}, ErrTerminated)
	assert.NotErrorIs(t, &Error{Op: OpThreadState, Code: int32(unix.EPERM)}, ErrTerminated)
	assert.Contains(t, (&Error{Op: OpWait, Code: int32(unix.ECHILD)}).Error(), "wait failed")
}

func TestSpawnExitStatus(t *testing.T) {
	task := spawnOrSkip(t, "/bin/sh", "-c", "exit 3")
	assert.NotZero(t, task.PID())
	require.NoError(t, task.StartExecution())
	assert.Panics(t, func() { _ = task.StartExecution() })

	status, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, status)
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := Spawn("/nonexistent/perfrecord-test", []string{"x"}, nil)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, OpSpawn, kerr.Op)
}

func TestSuspendAndInspect(t *testing.T) {
	task := spawnOrSkip(t, "/bin/sleep", "10")
	require.NoError(t, task.StartExecution())

	require.NoError(t, task.Suspend())
	threads, err := task.Threads()
	require.NoError(t, err)
	require.NotEmpty(t, threads)
	assert.EqualValues(t, task.PID(), threads[0].ID())

	regs, err := threads[0].Registers()
	require.NoError(t, err)
	assert.NotZero(t, regs.PC)
	assert.NotZero(t, regs.SP)

	// The stack pointer references mapped memory.
	buf := make([]byte, 8)
	_, err = task.ReadAt(buf, int64(regs.SP))
	require.NoError(t, err)
	assert.Equal(t, "sleep", threads[0].Name())
	for _, th := range threads {
		th.Release()
	}
	require.NoError(t, task.Resume())

	require.NoError(t, unix.Kill(int(task.PID()), unix.SIGTERM))
	status, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 128+int(unix.SIGTERM), status)
}

func TestSuspendUntilThreadedExit(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	task := spawnEnvOrSkip(t, append(os.Environ(), helperEnv+"=churn"), exe)
	require.NoError(t, task.StartExecution())

	deadline := time.Now().Add(20 * time.Second)
	rounds := 0
	for {
		require.True(t, time.Now().Before(deadline),
			"exit not observed after %d rounds", rounds)
		if err = task.Suspend(); err != nil {
			require.ErrorIs(t, err, ErrTerminated)
			break
		}
		rounds++
		threads, terr := task.Threads()
		if terr != nil {
			require.ErrorIs(t, terr, ErrTerminated)
		} else {
			assert.NotEmpty(t, threads)
			for _, th := range threads {
				th.Release()
			}
		}
		if err = task.Resume(); err != nil {
			require.ErrorIs(t, err, ErrTerminated)
		}
		time.Sleep(time.Millisecond)
	}
	assert.Positive(t, rounds)

	_, err = task.Threads()
	assert.ErrorIs(t, err, ErrTerminated)
	status, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}
