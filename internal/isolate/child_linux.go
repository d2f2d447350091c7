//go:build linux

package isolate

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	emptyStr = [...]byte{0}
	slashStr = [...]byte{'/', 0}
	noneStr  = [...]byte{'n', 'o', 'n', 'e', 0}
)

// forkAndExecChild clones req into a new process and, on the child
// side, walks every isolation step before execve. Nothing past
// afterForkInChild may allocate, acquire a lock or be preempted onto
// another OS thread: every step below is a direct RawSyscall.
//
// Reference: src/syscall/exec_linux.go.
//
//go:norace
func forkAndExecChild(req *preparedRequest, syncFds [2]int) (pid uintptr, err1 syscall.Errno) {
	syscall.ForkLock.Lock()
	beforeFork()

	pid, _, err1 = syscall.RawSyscall6(syscall.SYS_CLONE,
		uintptr(syscall.SIGCHLD)|req.cloneFlags, 0, 0, 0, 0, 0)
	if err1 != 0 || pid != 0 {
		// Parent: Spawn() takes over from here (afterFork, unlock,
		// sync-pipe protocol).
		return
	}

	// Child.
	afterForkInChild()

	var ownPid uintptr
	pipe := syncFds[1]

	if _, _, err1 = syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(syncFds[0]), 0, 0); err1 != 0 {
		childFail(pipe, StepCloseParentPipe, 0, err1)
	}

	if req.setnsNetFd > 0 {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETNS, uintptr(req.setnsNetFd), uintptr(unix.CLONE_NEWNET), 0)
		if err1 != 0 {
			childFail(pipe, StepSetns, 0, err1)
		}
	}

	ownPid, _, _ = syscall.RawSyscall(syscall.SYS_GETPID, 0, 0, 0)

	if len(req.cgroupProcsPath) > 0 {
		var fd uintptr
		fd, _, err1 = syscall.RawSyscall(unix.SYS_OPENAT, uintptr(_AT_FDCWD),
			uintptr(unsafe.Pointer(&req.cgroupProcsPath[0])), uintptr(unix.O_WRONLY))
		if err1 != 0 {
			childFail(pipe, StepCgroupWrite, 0, err1)
		}
		var digits [20]byte
		n := ownPid
		off := len(digits)
		if n == 0 {
			off--
			digits[off] = '0'
		}
		for n > 0 {
			off--
			digits[off] = byte('0' + n%10)
			n /= 10
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_WRITE, fd, uintptr(unsafe.Pointer(&digits[off])), uintptr(len(digits)-off))
		syscall.RawSyscall(syscall.SYS_CLOSE, fd, 0, 0)
		if err1 != 0 {
			childFail(pipe, StepCgroupWrite, 0, err1)
		}
	}

	for i, s := range req.cgroupSets {
		var fd uintptr
		fd, _, err1 = syscall.RawSyscall(unix.SYS_OPENAT, uintptr(_AT_FDCWD),
			uintptr(unsafe.Pointer(&s.path[0])), uintptr(unix.O_WRONLY))
		if err1 != 0 {
			childFail(pipe, StepCgroupSet, int32(i), err1)
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_WRITE, fd, uintptr(unsafe.Pointer(&s.value[0])), uintptr(len(s.value)-1))
		syscall.RawSyscall(syscall.SYS_CLOSE, fd, 0, 0)
		if err1 != 0 {
			childFail(pipe, StepCgroupSet, int32(i), err1)
		}
	}

	if req.hostname != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_SETHOSTNAME,
			uintptr(unsafe.Pointer(&req.hostname[0])), uintptr(len(req.hostname)-1), 0)
		if err1 != 0 {
			childFail(pipe, StepSetHostname, 0, err1)
		}
	}

	if req.cloneFlags&uintptr(unix.CLONE_NEWNS) != 0 {
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT,
			uintptr(unsafe.Pointer(&noneStr[0])), uintptr(unsafe.Pointer(&slashStr[0])),
			0, unix.MS_REC|unix.MS_PRIVATE, 0, 0)
		if err1 != 0 {
			childFail(pipe, StepMountRoot, 0, err1)
		}
	}

	for i, m := range req.mounts {
		for _, d := range m.mkdirs {
			_, _, err1 = syscall.RawSyscall(unix.SYS_MKDIRAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(&d[0])), 0755)
			if err1 != 0 && err1 != syscall.EEXIST {
				childFail(pipe, StepMountMkdir, int32(i), err1)
			}
		}
		var srcPtr, fstypePtr, dataPtr uintptr
		if len(m.source) > 0 {
			srcPtr = uintptr(unsafe.Pointer(&m.source[0]))
		}
		if len(m.fstype) > 0 {
			fstypePtr = uintptr(unsafe.Pointer(&m.fstype[0]))
		}
		if len(m.data) > 0 {
			dataPtr = uintptr(unsafe.Pointer(&m.data[0]))
		}
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT, srcPtr,
			uintptr(unsafe.Pointer(&m.target[0])), fstypePtr, m.flags, dataPtr, 0)
		if err1 != 0 {
			childFail(pipe, StepMount, int32(i), err1)
		}
		if m.remount {
			_, _, err1 = syscall.RawSyscall6(syscall.SYS_MOUNT,
				uintptr(unsafe.Pointer(&emptyStr[0])), uintptr(unsafe.Pointer(&m.target[0])),
				fstypePtr, m.flags|unix.MS_REMOUNT, dataPtr, 0)
			if err1 != 0 {
				childFail(pipe, StepMountRemount, int32(i), err1)
			}
		}
	}

	if req.pivotRoot != nil {
		_, _, err1 = syscall.RawSyscall(unix.SYS_MKDIRAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(&req.oldRoot[0])), 0755)
		if err1 != 0 {
			childFail(pipe, StepPivotRoot, 0, err1)
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_PIVOT_ROOT, uintptr(unsafe.Pointer(&req.pivotRoot[0])), uintptr(unsafe.Pointer(&req.oldRoot[0])), 0)
		if err1 != 0 {
			childFail(pipe, StepPivotRoot, 1, err1)
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(&slashStr[0])), 0, 0)
		if err1 != 0 {
			childFail(pipe, StepPivotRoot, 2, err1)
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_UMOUNT2, uintptr(unsafe.Pointer(&req.oldRoot[0])), unix.MNT_DETACH, 0)
		if err1 != 0 {
			childFail(pipe, StepPivotRoot, 3, err1)
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_UNLINKAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(&req.oldRoot[0])), uintptr(unix.AT_REMOVEDIR))
		if err1 != 0 {
			childFail(pipe, StepPivotRoot, 4, err1)
		}
	} else if req.chroot != nil {
		_, _, err1 = syscall.RawSyscall(unix.SYS_CHROOT, uintptr(unsafe.Pointer(&req.chroot[0])), 0, 0)
		if err1 != 0 {
			childFail(pipe, StepChroot, 0, err1)
		}
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(&slashStr[0])), 0, 0)
		if err1 != 0 {
			childFail(pipe, StepChroot, 1, err1)
		}
	}

	if req.chdir != nil {
		_, _, err1 = syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(&req.chdir[0])), 0, 0)
		if err1 != 0 {
			childFail(pipe, StepChdir, 0, err1)
		}
	}

	for i := range req.rlimits {
		rl := req.rlimits[i]
		if rl == nil {
			continue
		}
		lim := unix.Rlimit{Cur: rl.Cur, Max: rl.Max}
		_, _, err1 = syscall.RawSyscall6(unix.SYS_PRLIMIT64, 0, uintptr(i), uintptr(unsafe.Pointer(&lim)), 0, 0, 0)
		if err1 != 0 {
			childFail(pipe, StepSetRlimit, int32(i), err1)
		}
	}

	if req.umask >= 0 {
		syscall.RawSyscall(syscall.SYS_UMASK, uintptr(req.umask), 0, 0)
	}

	if req.priority != 0 {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETPRIORITY, unix.PRIO_PROCESS, 0, uintptr(req.priority))
		if err1 != 0 {
			childFail(pipe, StepPriority, 0, err1)
		}
	}

	if req.schedIdle {
		var param schedParam
		_, _, err1 = syscall.RawSyscall(unix.SYS_SCHED_SETSCHEDULER, 0, schedIdlePolicy, uintptr(unsafe.Pointer(&param)))
		if err1 != 0 {
			childFail(pipe, StepSchedIdle, 0, err1)
		}
	}

	if req.ioprioIdle {
		_, _, err1 = syscall.RawSyscall(unix.SYS_IOPRIO_SET, ioprioWhoProcess, 0, ioprioIdleValue)
		if err1 != 0 {
			childFail(pipe, StepIOPrioIdle, 0, err1)
		}
	}

	if cred := req.credential; cred != nil {
		ngroups := uintptr(len(cred.Groups))
		var groups uintptr
		if ngroups > 0 {
			groups = uintptr(unsafe.Pointer(&cred.Groups[0]))
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETGROUPS, ngroups, groups, 0)
		if err1 != 0 {
			childFail(pipe, StepSetGroups, 0, err1)
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETGID, uintptr(cred.Gid), 0, 0)
		if err1 != 0 {
			childFail(pipe, StepSetGid, 0, err1)
		}
		_, _, err1 = syscall.RawSyscall(unix.SYS_SETUID, uintptr(cred.Uid), 0, 0)
		if err1 != 0 {
			childFail(pipe, StepSetUid, 0, err1)
		}
	}

	if req.noNewPrivs {
		_, _, err1 = syscall.RawSyscall6(syscall.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
		if err1 != 0 {
			childFail(pipe, StepNoNewPrivs, 0, err1)
		}
	}

	if req.seccompProg != nil {
		_, _, err1 = syscall.RawSyscall(unix.SYS_SECCOMP, seccompSetModeFilter, seccompFilterFlagTSync, uintptr(unsafe.Pointer(req.seccompProg)))
		if err1 != 0 {
			childFail(pipe, StepSeccomp, 0, err1)
		}
	}

	// Final stdio wiring happens after the jail is sealed, so a
	// stderr_path target named inside a bind mount resolves inside
	// the child's own view of the filesystem.
	stderrFd := req.stderr
	if len(req.stderrPath) > 0 {
		var fd uintptr
		fd, _, err1 = syscall.RawSyscall6(unix.SYS_OPENAT, uintptr(_AT_FDCWD), uintptr(unsafe.Pointer(&req.stderrPath[0])),
			uintptr(unix.O_WRONLY|unix.O_CREAT|unix.O_APPEND), 0644, 0, 0)
		if err1 != 0 {
			childFail(pipe, StepOpenStderrPath, 0, err1)
		}
		stderrFd = int(fd)
	}

	if req.stdin >= 0 {
		if _, _, err1 = dup2(uintptr(req.stdin), 0); err1 != 0 {
			childFail(pipe, StepDup2, 0, err1)
		}
	}
	if req.stdout >= 0 {
		if _, _, err1 = dup2(uintptr(req.stdout), 1); err1 != 0 {
			childFail(pipe, StepDup2, 1, err1)
		}
	}
	if stderrFd >= 0 {
		if _, _, err1 = dup2(uintptr(stderrFd), 2); err1 != 0 {
			childFail(pipe, StepDup2, 2, err1)
		}
	}

	var argvPtr, envPtr uintptr
	if len(req.argvPtrs) > 0 {
		argvPtr = uintptr(unsafe.Pointer(&req.argvPtrs[0]))
	}
	if len(req.envPtrs) > 0 {
		envPtr = uintptr(unsafe.Pointer(&req.envPtrs[0]))
	}

	_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(req.argv0Ptr)), argvPtr, envPtr)
	for i := 0; i < 50 && err1 == syscall.ETXTBSY; i++ {
		ts := unix.Timespec{Sec: 0, Nsec: 2_000_000}
		syscall.RawSyscall(unix.SYS_NANOSLEEP, uintptr(unsafe.Pointer(&ts)), 0, 0)
		_, _, err1 = syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(req.argv0Ptr)), argvPtr, envPtr)
	}
	childFail(pipe, StepExecve, 0, err1)
	return
}

//go:nosplit
func childFail(pipe int, step Step, index int32, err syscall.Errno) {
	ce := ChildError{Err: err, Step: step, Index: index}
	buf := (*[unsafe.Sizeof(ce)]byte)(unsafe.Pointer(&ce))[:]
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(pipe), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT, uintptr(err), 0, 0)
	}
}

//go:nosplit
func dup2(oldfd, newfd uintptr) (uintptr, uintptr, syscall.Errno) {
	return syscall.RawSyscall(unix.SYS_DUP3, oldfd, newfd, 0)
}

