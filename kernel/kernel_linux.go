// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "github.com/perfrecord/perfrecord/kernel"

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/perfrecord/perfrecord/libpf"
	"github.com/perfrecord/perfrecord/remotememory"
)

// ptracer runs every ptrace request on one goroutine locked to its OS thread.
// The kernel only accepts requests and wait events from the tracing thread.
type ptracer struct {
	reqs chan func()
	once sync.Once
}

func newPtracer() *ptracer {
	pt := &ptracer{reqs: make(chan func())}
	go pt.loop()
	return pt
}

func (pt *ptracer) loop() {
	// Never unlocked: the runtime terminates the thread when the goroutine
	// returns, which drops any tracer state still attached to it.
	runtime.LockOSThread()
	for fn := range pt.reqs {
		fn()
	}
}

func (pt *ptracer) do(fn func() error) error {
	errc := make(chan error, 1)
	pt.reqs <- func() { errc <- fn() }
	return <-errc
}

func (pt *ptracer) stop() {
	pt.once.Do(func() { close(pt.reqs) })
}

// tracee is the tracer's view of one thread.
type tracee struct {
	// stopped is set while the thread sits in a ptrace stop.
	stopped bool
	// stopQueued is set while a SIGSTOP sent by us has not been reported yet.
	stopQueued bool
	// zombie marks a thread group leader that exited before its threads.
	zombie bool
	// pendingSig is a signal intercepted while stopping, delivered on resume.
	pendingSig unix.Signal
}

type taskSys struct {
	pt       *ptracer
	mem      remotememory.RemoteMemory
	threads  map[int]*tracee
	pacMask  uint64
	exited   bool
	status   unix.WaitStatus
	detached bool
}

type threadSys struct{}

func errnoCode(err error) int32 {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int32(errno)
	}
	return int32(unix.EIO)
}

func statusString(_ Op, code int32) string {
	return unix.Errno(code).Error()
}

func isTerminatedStatus(_ Op, code int32) bool {
	return unix.Errno(code) == unix.ESRCH || unix.Errno(code) == unix.ECHILD
}

func wait4(pid int, ws *unix.WaitStatus, options int) (int, error) {
	for {
		wpid, err := unix.Wait4(pid, ws, options, nil)
		if err == unix.EINTR {
			continue
		}
		return wpid, err
	}
}

func ptraceGetRegset(tid, regset int, data []byte) error {
	iovec := unix.Iovec{Base: &data[0]}
	iovec.SetLen(len(data))
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_GETREGSET,
		uintptr(tid), uintptr(regset), uintptr(unsafe.Pointer(&iovec)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// ptraceDetach is unix.PtraceDetach with a signal to deliver on detach.
func ptraceDetach(tid int, sig unix.Signal) error {
	_, _, errno := unix.RawSyscall6(unix.SYS_PTRACE, unix.PTRACE_DETACH,
		uintptr(tid), 0, uintptr(sig), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func exitStatus(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

func spawn(path string, argv, env []string) (*Task, error) {
	pt := newPtracer()
	t := &Task{}
	err := pt.do(func() error {
		cmd := exec.Cmd{
			Path:        path,
			Args:        argv,
			Env:         env,
			Stdin:       os.Stdin,
			Stdout:      os.Stdout,
			Stderr:      os.Stderr,
			SysProcAttr: &syscall.SysProcAttr{Ptrace: true},
		}
		if err := cmd.Start(); err != nil {
			return &Error{Op: OpSpawn, Code: errnoCode(err)}
		}
		pid := cmd.Process.Pid
		// The child is reaped through wait4 below and in the tracer.
		_ = cmd.Process.Release()

		// PTRACE_TRACEME stops the child with SIGTRAP after execve.
		var ws unix.WaitStatus
		if _, err := wait4(pid, &ws, unix.WALL); err != nil {
			return &Error{Op: OpSpawn, Code: errnoCode(err)}
		}
		if !ws.Stopped() {
			return &Error{Op: OpSpawn, Code: int32(unix.ECHILD)}
		}
		if err := unix.PtraceSetOptions(pid,
			unix.PTRACE_O_TRACECLONE|unix.PTRACE_O_TRACEEXEC); err != nil {
			_ = unix.Kill(pid, unix.SIGKILL)
			_, _ = wait4(pid, &ws, unix.WALL)
			return &Error{Op: OpTaskForPID, Code: errnoCode(err)}
		}
		t.pid = libpf.PID(pid)
		t.sys = taskSys{
			pt:      pt,
			mem:     remotememory.NewProcessVirtualMemory(libpf.PID(pid)),
			threads: map[int]*tracee{pid: {stopped: true}},
			pacMask: readCodePACMask(pid),
		}
		return nil
	})
	if err != nil {
		pt.stop()
		return nil, err
	}
	return t, nil
}

func all(int, *tracee) bool { return true }

func only(tid int) func(int, *tracee) bool {
	return func(id int, _ *tracee) bool { return id == tid }
}

// leaderIsZombie reports whether the thread group leader already exited while
// other threads keep running. Such a leader never reports a stop.
func leaderIsZombie(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", pid, pid))
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] == 'Z' || stat[i+2] == 'X'
}

// waitEvent consumes one wait event of any tracee and updates the bookkeeping.
func (s *taskSys) waitEvent(pid int) error {
	var ws unix.WaitStatus
	wpid, err := wait4(-1, &ws, unix.WALL)
	if err != nil {
		if err == unix.ECHILD {
			s.exited = true
			clear(s.threads)
			return nil
		}
		return err
	}

	switch {
	case ws.Exited() || ws.Signaled():
		if wpid == pid {
			s.exited = true
			s.status = ws
			clear(s.threads)
			return nil
		}
		delete(s.threads, wpid)
	case ws.Stopped():
		tr := s.threads[wpid]
		if tr == nil {
			// A new thread can report its first stop before the clone event
			// of its parent. That first stop is the SIGSTOP ptrace queues.
			tr = &tracee{stopQueued: true}
			s.threads[wpid] = tr
		}
		tr.stopped = true
		sig := ws.StopSignal()
		switch {
		case sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_CLONE:
			msg, err := unix.PtraceGetEventMsg(wpid)
			if err == nil {
				if _, ok := s.threads[int(msg)]; !ok {
					s.threads[int(msg)] = &tracee{stopQueued: true}
				}
			}
		case sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_EXEC:
			// Only the thread that called execve survives, under the leader's id.
			for tid := range s.threads {
				if tid != pid {
					delete(s.threads, tid)
				}
			}
			if leader := s.threads[pid]; leader != nil {
				leader.zombie = false
			}
		case sig == unix.SIGSTOP && tr.stopQueued:
			tr.stopQueued = false
		case sig == unix.SIGTRAP && ws.TrapCause() > 0:
			// Other ptrace events carry no signal.
		default:
			tr.pendingSig = sig
		}
	}
	return nil
}

// onlyZombies reports whether no tracee is left that can still run. A zombie
// leader is reported as exited once its last thread is gone.
func (s *taskSys) onlyZombies() bool {
	for _, tr := range s.threads {
		if !tr.zombie {
			return false
		}
	}
	return true
}

func (s *taskSys) allStopped(want func(int, *tracee) bool) bool {
	for tid, tr := range s.threads {
		if want(tid, tr) && !tr.stopped && !tr.zombie {
			return false
		}
	}
	return true
}

// stopThreads signals every selected thread and waits until all of them, and
// any thread created meanwhile, are in a ptrace stop.
func (s *taskSys) stopThreads(pid int, want func(int, *tracee) bool, op Op) error {
	if s.exited {
		return &Error{Op: op, Code: int32(unix.ESRCH)}
	}
	for tid, tr := range s.threads {
		if !want(tid, tr) || tr.stopped || tr.zombie {
			continue
		}
		if tid == pid && len(s.threads) > 1 && leaderIsZombie(pid) {
			tr.zombie = true
			continue
		}
		if tr.stopQueued {
			continue
		}
		if err := unix.Tgkill(pid, tid, unix.SIGSTOP); err != nil {
			if err == unix.ESRCH {
				delete(s.threads, tid)
				continue
			}
			return &Error{Op: op, Code: errnoCode(err)}
		}
		tr.stopQueued = true
	}
	for !s.exited && (!s.allStopped(want) || s.onlyZombies()) {
		if err := s.waitEvent(pid); err != nil {
			return &Error{Op: op, Code: errnoCode(err)}
		}
	}
	if s.exited {
		return &Error{Op: op, Code: int32(unix.ESRCH)}
	}
	return nil
}

func (s *taskSys) contThreads(want func(int, *tracee) bool, op Op) error {
	if s.exited {
		return &Error{Op: op, Code: int32(unix.ESRCH)}
	}
	for tid, tr := range s.threads {
		if !want(tid, tr) || !tr.stopped || tr.zombie {
			continue
		}
		if err := unix.PtraceCont(tid, int(tr.pendingSig)); err != nil {
			if err == unix.ESRCH {
				delete(s.threads, tid)
				continue
			}
			return &Error{Op: op, Code: errnoCode(err)}
		}
		tr.stopped = false
		tr.pendingSig = 0
	}
	return nil
}

func (t *Task) startExecution() error {
	return t.sys.pt.do(func() error {
		return t.sys.contThreads(all, OpTaskResume)
	})
}

func (t *Task) suspend() error {
	return t.sys.pt.do(func() error {
		return t.sys.stopThreads(int(t.pid), all, OpTaskSuspend)
	})
}

func (t *Task) resume() error {
	return t.sys.pt.do(func() error {
		return t.sys.contThreads(all, OpTaskResume)
	})
}

func (t *Task) threads() ([]*Thread, error) {
	var tids []int
	err := t.sys.pt.do(func() error {
		if t.sys.exited {
			return &Error{Op: OpTaskThreads, Code: int32(unix.ESRCH)}
		}
		for tid, tr := range t.sys.threads {
			if !tr.zombie {
				tids = append(tids, tid)
			}
		}
		if len(tids) == 0 {
			return &Error{Op: OpTaskThreads, Code: int32(unix.ESRCH)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Ints(tids)
	threads := make([]*Thread, 0, len(tids))
	for _, tid := range tids {
		threads = append(threads, &Thread{id: libpf.TID(tid), task: t})
	}
	return threads, nil
}

func (t *Task) readAt(p []byte, off int64) (int, error) {
	n, err := t.sys.mem.ReadAt(p, off)
	if err != nil {
		var errno unix.Errno
		if errors.As(err, &errno) {
			return n, &Error{Op: OpReadMemory, Code: int32(errno)}
		}
		return n, &Error{Op: OpReadMemory, Code: int32(unix.EFAULT)}
	}
	return n, nil
}

func (t *Task) codePACMask() uint64 {
	return t.sys.pacMask
}

func (t *Task) release() error {
	err := t.sys.pt.do(func() error {
		s := &t.sys
		if s.exited || s.detached {
			return nil
		}
		pid := int(t.pid)
		if err := s.stopThreads(pid, all, OpRelease); err != nil {
			if errors.Is(err, ErrTerminated) {
				return nil
			}
			return err
		}
		// A SIGSTOP still in flight would stop the process for good once it is
		// no longer traced. Let those threads run into it first.
		for !s.exited && s.anyStopQueued() {
			if err := s.contThreads(func(_ int, tr *tracee) bool {
				return tr.stopQueued
			}, OpRelease); err != nil {
				return err
			}
			for !s.exited && !s.allStopped(all) {
				if err := s.waitEvent(pid); err != nil {
					return &Error{Op: OpRelease, Code: errnoCode(err)}
				}
			}
		}
		for tid, tr := range s.threads {
			if tr.zombie {
				continue
			}
			if err := ptraceDetach(tid, tr.pendingSig); err != nil && err != unix.ESRCH {
				return &Error{Op: OpRelease, Code: errnoCode(err)}
			}
		}
		s.detached = true
		return nil
	})
	t.sys.pt.stop()
	return err
}

func (s *taskSys) anyStopQueued() bool {
	for _, tr := range s.threads {
		if tr.stopQueued && !tr.zombie {
			return true
		}
	}
	return false
}

func (t *Task) wait() (int, error) {
	if t.sys.exited {
		return exitStatus(t.sys.status), nil
	}
	var ws unix.WaitStatus
	for {
		if _, err := wait4(int(t.pid), &ws, 0); err != nil {
			return -1, &Error{Op: OpWait, Code: errnoCode(err)}
		}
		if ws.Exited() || ws.Signaled() {
			return exitStatus(ws), nil
		}
	}
}

func (th *Thread) registers() (Registers, error) {
	buf := make([]byte, prStatusSize)
	err := th.task.sys.pt.do(func() error {
		if err := ptraceGetRegset(int(th.id), int(elfNTPRStatus), buf); err != nil {
			return &Error{Op: OpThreadState, Code: errnoCode(err)}
		}
		return nil
	})
	if err != nil {
		return Registers{}, err
	}
	return decodeRegisters(buf), nil
}

func (th *Thread) suspend() error {
	return th.task.sys.pt.do(func() error {
		return th.task.sys.stopThreads(int(th.task.pid), only(int(th.id)), OpThreadSuspend)
	})
}

func (th *Thread) resume() error {
	return th.task.sys.pt.do(func() error {
		return th.task.sys.contThreads(only(int(th.id)), OpThreadResume)
	})
}

func (th *Thread) name() string {
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/comm", th.task.pid, th.id))
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(string(comm), "\n")
}

func (th *Thread) release() {}
