//go:build linux

package isolate

import "golang.org/x/sys/unix"

const (
	_AT_FDCWD = unix.AT_FDCWD

	seccompSetModeFilter   = 1
	seccompFilterFlagTSync = 1

	// SCHED_IDLE, for children that should only run when nothing
	// else on the host wants the CPU.
	schedIdlePolicy = 5

	ioprioWhoProcess = 1 // IOPRIO_WHO_PROCESS
	// IOPRIO_PRIO_VALUE(IOPRIO_CLASS_IDLE, 0); class occupies the top
	// 3 bits of the ioprio word.
	ioprioIdleValue = 3 << 13
)

// schedParam mirrors struct sched_param from sched.h; SCHED_IDLE
// ignores the priority field but the syscall still requires one.
type schedParam struct {
	Priority int32
}
