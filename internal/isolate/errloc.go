package isolate

import (
	"fmt"
	"syscall"
)

// Step names the point in the child-side isolation sequence where a
// failure occurred, reported back to the parent over the sync pipe so
// a spawn failure can be logged with the stage it died in rather than
// a bare errno.
type Step int

const (
	StepClone Step = iota + 1
	StepCloseParentPipe
	StepSetns
	StepCgroupWrite
	StepCgroupSet
	StepSetHostname
	StepMountRoot
	StepMountMkdir
	StepMount
	StepMountRemount
	StepPivotRoot
	StepChroot
	StepChdir
	StepSetRlimit
	StepUmask
	StepPriority
	StepSchedIdle
	StepIOPrioIdle
	StepSetGroups
	StepSetGid
	StepSetUid
	StepNoNewPrivs
	StepSeccomp
	StepOpenStderrPath
	StepDup2
	StepExecve
)

var stepNames = [...]string{
	"",
	"clone",
	"close_parent_pipe",
	"setns",
	"cgroup_write",
	"cgroup_set",
	"set_hostname",
	"mount_root_private",
	"mount_mkdir",
	"mount",
	"mount_remount",
	"pivot_root",
	"chroot",
	"chdir",
	"set_rlimit",
	"umask",
	"priority",
	"sched_idle",
	"ioprio_idle",
	"set_groups",
	"set_gid",
	"set_uid",
	"no_new_privs",
	"seccomp",
	"open_stderr_path",
	"dup2",
	"execve",
}

func (s Step) String() string {
	if int(s) >= 0 && int(s) < len(stepNames) {
		return stepNames[s]
	}
	return "unknown"
}

// ChildError is the fixed-size record a child that failed before
// execve writes back across the sync pipe. Index distinguishes which
// entry of a Step that iterates (rlimit slot, bind mount) failed.
type ChildError struct {
	Err   syscall.Errno
	Step  Step
	Index int32
}

func (e ChildError) Error() string {
	if e.Index != 0 {
		return fmt.Sprintf("%s(%d): %s", e.Step, e.Index, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Err.Error())
}
