//go:build darwin && cgo

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernel // import "github.com/perfrecord/perfrecord/kernel"

/*
#include <signal.h>
#include <spawn.h>
#include <stdlib.h>
#include <string.h>
#include <mach/mach.h>
#include <mach/mach_error.h>
#include <mach/mach_vm.h>

extern char **environ;

static int pr_spawn(const char *path, char *const argv[], char *const envp[], pid_t *pid) {
	posix_spawnattr_t attr;
	int err = posix_spawnattr_init(&attr);
	if (err != 0) {
		return err;
	}
	err = posix_spawnattr_setflags(&attr, POSIX_SPAWN_START_SUSPENDED);
	if (err == 0) {
		err = posix_spawn(pid, path, NULL, &attr, argv, envp ? envp : environ);
	}
	posix_spawnattr_destroy(&attr);
	return err;
}

static kern_return_t pr_task_for_pid(pid_t pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static kern_return_t pr_task_suspend(mach_port_t task) {
	return task_suspend(task);
}

static kern_return_t pr_task_resume(mach_port_t task) {
	return task_resume(task);
}

static kern_return_t pr_thread_suspend(mach_port_t thread) {
	return thread_suspend(thread);
}

static kern_return_t pr_thread_resume(mach_port_t thread) {
	return thread_resume(thread);
}

static kern_return_t pr_task_threads(mach_port_t task, mach_port_t **list, mach_msg_type_number_t *count) {
	return task_threads(task, (thread_act_array_t *)list, count);
}

static kern_return_t pr_port_release(mach_port_t port) {
	return mach_port_deallocate(mach_task_self(), port);
}

static void pr_free_threads(mach_port_t *list, mach_msg_type_number_t count) {
	vm_deallocate(mach_task_self(), (vm_address_t)list, count * sizeof(mach_port_t));
}

typedef struct {
	uint64_t pc, sp, fp, lr;
} pr_regs;

static kern_return_t pr_thread_registers(mach_port_t thread, pr_regs *out) {
#if defined(__x86_64__)
	x86_thread_state64_t state;
	mach_msg_type_number_t count = x86_THREAD_STATE64_COUNT;
	kern_return_t kr = thread_get_state(thread, x86_THREAD_STATE64, (thread_state_t)&state, &count);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	out->pc = state.__rip;
	out->sp = state.__rsp;
	out->fp = state.__rbp;
	out->lr = 0;
#elif defined(__arm64__)
	arm_thread_state64_t state;
	mach_msg_type_number_t count = ARM_THREAD_STATE64_COUNT;
	kern_return_t kr = thread_get_state(thread, ARM_THREAD_STATE64, (thread_state_t)&state, &count);
	if (kr != KERN_SUCCESS) {
		return kr;
	}
	out->pc = (uint64_t)arm_thread_state64_get_pc(state);
	out->sp = (uint64_t)arm_thread_state64_get_sp(state);
	out->fp = (uint64_t)arm_thread_state64_get_fp(state);
	out->lr = (uint64_t)arm_thread_state64_get_lr(state);
#else
	return KERN_NOT_SUPPORTED;
#endif
	return KERN_SUCCESS;
}

static kern_return_t pr_thread_id(mach_port_t thread, uint64_t *tid) {
	thread_identifier_info_data_t info;
	mach_msg_type_number_t count = THREAD_IDENTIFIER_INFO_COUNT;
	kern_return_t kr = thread_info(thread, THREAD_IDENTIFIER_INFO, (thread_info_t)&info, &count);
	if (kr == KERN_SUCCESS) {
		*tid = info.thread_id;
	}
	return kr;
}

static kern_return_t pr_thread_name(mach_port_t thread, char *buf, size_t len) {
	thread_extended_info_data_t info;
	mach_msg_type_number_t count = THREAD_EXTENDED_INFO_COUNT;
	kern_return_t kr = thread_info(thread, THREAD_EXTENDED_INFO, (thread_info_t)&info, &count);
	if (kr == KERN_SUCCESS) {
		strlcpy(buf, info.pth_name, len);
	}
	return kr;
}

static kern_return_t pr_dyld_info(mach_port_t task, uint64_t *addr) {
	struct task_dyld_info info;
	mach_msg_type_number_t count = TASK_DYLD_INFO_COUNT;
	kern_return_t kr = task_info(task, TASK_DYLD_INFO, (task_info_t)&info, &count);
	if (kr == KERN_SUCCESS) {
		*addr = info.all_image_info_addr;
	}
	return kr;
}

static kern_return_t pr_read(mach_port_t task, uint64_t addr, void *buf, uint64_t size, uint64_t *got) {
	mach_vm_size_t n = 0;
	kern_return_t kr = mach_vm_read_overwrite(task, addr, size, (mach_vm_address_t)buf, &n);
	*got = n;
	return kr;
}
*/
import "C"

import (
	"errors"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/perfrecord/perfrecord/libpf"
)

// Status codes meaning the port no longer names a live task or thread.
const (
	kernInvalidArgument  = 4
	kernInvalidName      = 15
	kernTerminated       = 37
	machSendInvalidDest  = 0x10000003
	threadNameBufferSize = 64
)

type taskSys struct {
	port      C.mach_port_t
	suspended int
	exited    bool
	status    unix.WaitStatus
}

type threadSys struct {
	port C.mach_port_t
}

func statusString(op Op, code int32) string {
	if op == OpSpawn || op == OpWait {
		return unix.Errno(code).Error()
	}
	return C.GoString(C.mach_error_string(C.mach_error_t(code)))
}

func isTerminatedStatus(op Op, code int32) bool {
	if op == OpSpawn || op == OpWait {
		return unix.Errno(code) == unix.ESRCH || unix.Errno(code) == unix.ECHILD
	}
	switch code {
	case kernInvalidArgument, kernInvalidName, kernTerminated, machSendInvalidDest:
		return true
	}
	return false
}

func cStrings(s []string) []*C.char {
	out := make([]*C.char, 0, len(s)+1)
	for _, v := range s {
		out = append(out, C.CString(v))
	}
	return append(out, nil)
}

func freeCStrings(s []*C.char) {
	for _, v := range s {
		if v != nil {
			C.free(unsafe.Pointer(v))
		}
	}
}

func errnoCode(err error) int32 {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int32(errno)
	}
	return int32(unix.EIO)
}

func exitStatus(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

func reap(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ws, err
		}
		if ws.Exited() || ws.Signaled() {
			return ws, nil
		}
	}
}

func spawn(path string, argv, env []string) (*Task, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	cargv := cStrings(argv)
	defer freeCStrings(cargv)
	var cenv **C.char
	if env != nil {
		e := cStrings(env)
		defer freeCStrings(e)
		cenv = &e[0]
	}

	var pid C.pid_t
	if rc := C.pr_spawn(cpath, &cargv[0], cenv, &pid); rc != 0 {
		return nil, &Error{Op: OpSpawn, Code: int32(rc)}
	}

	var port C.mach_port_t
	if kr := C.pr_task_for_pid(pid, &port); kr != C.KERN_SUCCESS {
		_ = unix.Kill(int(pid), unix.SIGKILL)
		_, _ = reap(int(pid))
		return nil, &Error{Op: OpTaskForPID, Code: int32(kr)}
	}
	// POSIX_SPAWN_START_SUSPENDED leaves the task with a suspend count of one.
	return &Task{
		pid: libpf.PID(pid),
		sys: taskSys{port: port, suspended: 1},
	}, nil
}

func (t *Task) startExecution() error {
	return t.resume()
}

func (t *Task) suspend() error {
	if kr := C.pr_task_suspend(t.sys.port); kr != C.KERN_SUCCESS {
		return &Error{Op: OpTaskSuspend, Code: int32(kr)}
	}
	t.sys.suspended++
	return nil
}

func (t *Task) resume() error {
	if kr := C.pr_task_resume(t.sys.port); kr != C.KERN_SUCCESS {
		return &Error{Op: OpTaskResume, Code: int32(kr)}
	}
	if t.sys.suspended > 0 {
		t.sys.suspended--
	}
	return nil
}

func (t *Task) threads() ([]*Thread, error) {
	var list *C.mach_port_t
	var count C.mach_msg_type_number_t
	if kr := C.pr_task_threads(t.sys.port, &list, &count); kr != C.KERN_SUCCESS {
		return nil, &Error{Op: OpTaskThreads, Code: int32(kr)}
	}
	defer C.pr_free_threads(list, count)

	ports := unsafe.Slice(list, int(count))
	threads := make([]*Thread, 0, len(ports))
	for _, port := range ports {
		var tid C.uint64_t
		if kr := C.pr_thread_id(port, &tid); kr != C.KERN_SUCCESS {
			// The thread exited after the enumeration.
			C.pr_port_release(port)
			continue
		}
		threads = append(threads, &Thread{
			id:   libpf.TID(tid),
			task: t,
			sys:  threadSys{port: port},
		})
	}
	return threads, nil
}

func (t *Task) readAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var got C.uint64_t
	kr := C.pr_read(t.sys.port, C.uint64_t(off), unsafe.Pointer(&p[0]),
		C.uint64_t(len(p)), &got)
	if kr != C.KERN_SUCCESS {
		return int(got), &Error{Op: OpReadMemory, Code: int32(kr)}
	}
	return int(got), nil
}

// DyldAllImageInfosAddr returns the address of the dyld_all_image_infos
// structure of the task.
func (t *Task) DyldAllImageInfosAddr() (uint64, error) {
	if t.released {
		return 0, ErrReleased
	}
	var addr C.uint64_t
	if kr := C.pr_dyld_info(t.sys.port, &addr); kr != C.KERN_SUCCESS {
		return 0, &Error{Op: OpThreadInfo, Code: int32(kr)}
	}
	return uint64(addr), nil
}

func (t *Task) codePACMask() uint64 {
	if runtime.GOARCH != "arm64" {
		return 0
	}
	// User space uses 47 bit virtual addresses; higher bits carry the PAC.
	return ^uint64(0) << 47
}

func (t *Task) release() error {
	for t.sys.suspended > 0 {
		if err := t.resume(); err != nil {
			break
		}
	}
	if kr := C.pr_port_release(t.sys.port); kr != C.KERN_SUCCESS {
		return &Error{Op: OpRelease, Code: int32(kr)}
	}
	return nil
}

func (t *Task) wait() (int, error) {
	if t.sys.exited {
		return exitStatus(t.sys.status), nil
	}
	ws, err := reap(int(t.pid))
	if err != nil {
		return -1, &Error{Op: OpWait, Code: errnoCode(err)}
	}
	t.sys.exited = true
	t.sys.status = ws
	return exitStatus(ws), nil
}

func (th *Thread) registers() (Registers, error) {
	var regs C.pr_regs
	if kr := C.pr_thread_registers(th.sys.port, &regs); kr != C.KERN_SUCCESS {
		return Registers{}, &Error{Op: OpThreadState, Code: int32(kr)}
	}
	return Registers{
		PC: uint64(regs.pc),
		SP: uint64(regs.sp),
		FP: uint64(regs.fp),
		LR: uint64(regs.lr),
	}, nil
}

func (th *Thread) suspend() error {
	if kr := C.pr_thread_suspend(th.sys.port); kr != C.KERN_SUCCESS {
		return &Error{Op: OpThreadSuspend, Code: int32(kr)}
	}
	return nil
}

func (th *Thread) resume() error {
	if kr := C.pr_thread_resume(th.sys.port); kr != C.KERN_SUCCESS {
		return &Error{Op: OpThreadResume, Code: int32(kr)}
	}
	return nil
}

func (th *Thread) name() string {
	var buf [threadNameBufferSize]C.char
	if kr := C.pr_thread_name(th.sys.port, &buf[0], C.size_t(len(buf))); kr != C.KERN_SUCCESS {
		return ""
	}
	return C.GoString(&buf[0])
}

func (th *Thread) release() {
	C.pr_port_release(th.sys.port)
}
