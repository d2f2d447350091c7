//go:build linux

package isolate

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/JevatterTod/spawnd/internal/child"
)

// Spawn resolves p into a running, isolated process and returns its
// pid. On any failure before execve, the child never survives: Spawn
// either returns a pid that has successfully exec'd, or an error with
// no process left behind. p's owned descriptors are consumed: Spawn
// closes the parent's copies of any stdio fd it handed to the child,
// and the caller must not touch p again afterward.
func Spawn(p *child.PreparedChild, opts Options) (int, error) {
	defer p.CloseOwnedFds()

	req, err := prepare(p, opts)
	if err != nil {
		return 0, err
	}

	sync, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, fmt.Errorf("isolate: socketpair: %w", err)
	}
	parentFd, childFd := sync[0], sync[1]

	pid, err1 := forkAndExecChild(req, sync)

	afterFork()
	syscall.ForkLock.Unlock()

	unix.Close(childFd)
	if req.closeSetnsFd {
		unix.Close(req.setnsNetFd)
	}

	if err1 != 0 {
		unix.Close(parentFd)
		return 0, syscall.Errno(err1)
	}

	ce, err := readChildResult(parentFd)
	unix.Close(parentFd)
	if err != nil {
		reapFailedChild(int(pid))
		return 0, err
	}
	if ce != nil {
		reapFailedChild(int(pid))
		return 0, fmt.Errorf("isolate: %w", *ce)
	}

	return int(pid), nil
}

// readChildResult reads the single ChildError record the child writes
// if it fails before reaching execve. A clean execve leaves the pipe
// closed with nothing written (the descriptor is O_CLOEXEC), so a
// zero-length read means success.
func readChildResult(fd int) (*ChildError, error) {
	var ce ChildError
	buf := (*[unsafe.Sizeof(ce)]byte)(unsafe.Pointer(&ce))[:]
	n, err := unix.Read(fd, buf)
	if err != nil {
		if err == unix.EINTR {
			return readChildResult(fd)
		}
		return nil, fmt.Errorf("reading child sync pipe: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	if n != len(buf) {
		return nil, fmt.Errorf("short read on child sync pipe: %d of %d bytes", n, len(buf))
	}
	return &ce, nil
}

func reapFailedChild(pid int) {
	unix.Kill(pid, unix.SIGKILL)
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err != unix.EINTR {
			return
		}
	}
}
