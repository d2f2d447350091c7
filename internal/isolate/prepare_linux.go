//go:build linux

package isolate

import (
	"fmt"
	"path"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/JevatterTod/spawnd/internal/child"
	"github.com/JevatterTod/spawnd/internal/seccomp"
)

// mountStep is one fully-resolved mount(2) call plus the directories
// that must exist before it runs, pointer-converted ahead of the
// fork so the child half never calls syscall.BytePtrFromString.
type mountStep struct {
	mkdirs  [][]byte
	source  []byte
	target  []byte
	fstype  []byte
	flags   uintptr
	data    []byte
	remount bool // bind-mount the caller asked to be read-only or noexec: needs MS_REMOUNT pass
}

// preparedRequest is the fully Go-side-resolved form of a
// PreparedChild plus Options: every string turned into a NUL
// terminated byte slice, every flag union computed, ready to be
// handed to the clone/child half without further allocation.
type preparedRequest struct {
	argv0    []byte
	argv     [][]byte
	env      [][]byte
	argv0Ptr *byte
	argvPtrs []*byte // nil-terminated, ready for execve's argv
	envPtrs  []*byte // nil-terminated, ready for execve's envp

	cloneFlags uintptr

	setnsNetFd int // >0 when joining an existing named network namespace
	closeSetnsFd bool

	mounts []mountStep

	pivotRoot []byte // non-nil: do the full pivot_root dance at this path
	oldRoot   []byte
	chroot    []byte // non-nil and pivotRoot nil: plain chroot(2)
	chdir     []byte

	cgroupProcsPath []byte
	cgroupSets      []cgroupSet

	hostname []byte

	rlimits [child.RlimitCount]*child.ResourceLimit

	umask      int32
	priority   int32
	schedIdle  bool
	ioprioIdle bool

	credential   *child.UidGid
	noNewPrivs   bool
	seccompProg  *syscall.SockFprog

	stderrPath []byte

	stdin, stdout, stderr, control int // -1 when not provided
}

type cgroupSet struct {
	path  []byte
	value []byte
}

func bytesz(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

func bytesSliceOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return bytesz(s)
}

// prepare performs every fallible, allocating step of request
// resolution. The returned preparedRequest owns no file descriptors
// beyond the ones already owned by p; prepare itself never closes or
// duplicates them.
func prepare(p *child.PreparedChild, opts Options) (*preparedRequest, error) {
	if len(p.Argv) == 0 {
		return nil, fmt.Errorf("isolate: empty argv")
	}

	argv0 := bytesz(p.Argv[0])
	argv := make([][]byte, len(p.Argv))
	for i, a := range p.Argv {
		argv[i] = bytesz(a)
	}
	env := make([][]byte, len(p.Env))
	for i, e := range p.Env {
		env[i] = bytesz(e)
	}

	r := &preparedRequest{
		argv0:      argv0,
		argv:       argv,
		env:        env,
		umask:      p.Umask,
		priority:   p.Priority,
		schedIdle:  p.SchedIdle,
		ioprioIdle: p.IOPrioIdle,
		noNewPrivs: p.NoNewPrivs,
		hostname:   bytesSliceOrNil(p.Namespaces.Hostname),
		stdin:      -1,
		stdout:     -1,
		stderr:     -1,
		control:    -1,
	}

	r.cloneFlags = namespaceFlags(&p.Namespaces)

	if p.Namespaces.NetworkNamespaceName != "" {
		fd, err := unix.Open(path.Join("/var/run/netns", p.Namespaces.NetworkNamespaceName), unix.O_RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("isolate: open netns %q: %w", p.Namespaces.NetworkNamespaceName, err)
		}
		r.setnsNetFd = fd
		r.closeSetnsFd = true
		r.cloneFlags &^= uintptr(unix.CLONE_NEWNET)
	}

	if err := r.prepareMounts(p, opts); err != nil {
		return nil, err
	}

	if p.Namespaces.EnableMount && p.Namespaces.PivotRoot != "" {
		r.pivotRoot = bytesz(p.Namespaces.PivotRoot)
		r.oldRoot = bytesz(path.Join(p.Namespaces.PivotRoot, ".spawnd-oldroot"))
	} else if p.Chroot != "" {
		r.chroot = bytesz(p.Chroot)
	}
	r.chdir = bytesSliceOrNil(p.Chdir)

	if p.Cgroup.Name != "" {
		r.cgroupProcsPath = bytesz(path.Join(opts.CgroupRoot, p.Cgroup.Name, "cgroup.procs"))
		for _, s := range p.Cgroup.Settings {
			r.cgroupSets = append(r.cgroupSets, cgroupSet{
				path:  bytesz(path.Join(opts.CgroupRoot, p.Cgroup.Name, s.Key)),
				value: bytesz(s.Value),
			})
		}
	}

	r.rlimits = p.RLimits

	if p.Credential.Set {
		cred := p.Credential
		r.credential = &cred
	}

	if p.Namespaces.AnyEnabled() || p.ForbidUserNS || p.ForbidMulticast || p.ForbidBind {
		r.noNewPrivs = true
		prog, _, err := seccomp.Build(seccomp.Extensions{
			ForbidUserNamespace: p.ForbidUserNS,
			ForbidMulticast:     p.ForbidMulticast,
			ForbidBind:          p.ForbidBind,
		})
		if err != nil {
			return nil, fmt.Errorf("isolate: build seccomp filter: %w", err)
		}
		r.seccompProg = prog
	}

	r.stderrPath = bytesSliceOrNil(p.StderrPath)

	if p.Stdin != nil {
		r.stdin = p.Stdin.Fd()
	}
	if p.Stdout != nil {
		r.stdout = p.Stdout.Fd()
	}
	if p.Stderr != nil {
		r.stderr = p.Stderr.Fd()
	}
	if p.Control != nil {
		r.control = p.Control.Fd()
	}

	r.argv0Ptr = &r.argv0[0]
	r.argvPtrs = make([]*byte, len(r.argv)+1)
	for i := range r.argv {
		r.argvPtrs[i] = &r.argv[i][0]
	}
	r.envPtrs = make([]*byte, len(r.env)+1)
	for i := range r.env {
		r.envPtrs[i] = &r.env[i][0]
	}

	return r, nil
}

// namespaceFlags computes the CLONE_NEW* union passed to clone(2).
// CLONE_NEWUTS is implied by a non-empty hostname even if the caller
// did not separately ask for namespace isolation, since sethostname
// without a private UTS namespace would rename the host.
func namespaceFlags(ns *child.NamespaceOptions) uintptr {
	var flags uintptr
	if ns.EnableUser {
		flags |= uintptr(unix.CLONE_NEWUSER)
	}
	if ns.EnablePID {
		flags |= uintptr(unix.CLONE_NEWPID)
	}
	if ns.EnableNetwork || ns.NetworkNamespaceName != "" {
		flags |= uintptr(unix.CLONE_NEWNET)
	}
	if ns.EnableIPC {
		flags |= uintptr(unix.CLONE_NEWIPC)
	}
	if ns.EnableMount {
		flags |= uintptr(unix.CLONE_NEWNS)
	}
	if ns.Hostname != "" {
		flags |= uintptr(unix.CLONE_NEWUTS)
	}
	return flags
}

// prepareMounts builds the ordered mount plan: proc, the delegated
// cgroup subtree, the home bind, the two tmpfs requests and finally
// the caller's own bind-mount chain, in that fixed order so later
// mounts can target directories created by earlier ones.
func (r *preparedRequest) prepareMounts(p *child.PreparedChild, opts Options) error {
	ns := &p.Namespaces
	root := ns.PivotRoot // "" when the child keeps the server's root

	// path.Join("/", "", sub) == "/"+clean(sub); this keeps the result
	// absolute whether or not root is set, so callers can pass either
	// a bare name ("proc") or an already-absolute request target.
	target := func(sub string) string {
		return path.Join("/", root, sub)
	}

	if ns.MountProc {
		flags := uintptr(unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC)
		if !ns.WritableProc {
			flags |= unix.MS_RDONLY
		}
		r.mounts = append(r.mounts, mountStep{
			mkdirs: [][]byte{bytesz(target("proc"))},
			source: bytesz("proc"),
			target: bytesz(target("proc")),
			fstype: bytesz("proc"),
			flags:  flags,
		})
	}

	if ns.MountCgroup {
		if p.Cgroup.Name == "" {
			return fmt.Errorf("isolate: MOUNT_CGROUP requested without a cgroup assignment")
		}
		src := path.Join(opts.CgroupRoot, p.Cgroup.Name)
		r.mounts = append(r.mounts, mountStep{
			mkdirs:  [][]byte{bytesz(target("sys/fs/cgroup"))},
			source:  bytesz(src),
			target:  bytesz(target("sys/fs/cgroup")),
			flags:   unix.MS_BIND | unix.MS_REC,
			remount: false,
		})
	}

	if ns.MountHomeSource != "" {
		r.mounts = append(r.mounts, mountStep{
			mkdirs: [][]byte{bytesz(target(ns.MountHomeTarget))},
			source: bytesz(ns.MountHomeSource),
			target: bytesz(target(ns.MountHomeTarget)),
			flags:  unix.MS_BIND,
		})
	}

	if ns.MountTmpTmpfs != nil {
		r.mounts = append(r.mounts, mountStep{
			mkdirs: [][]byte{bytesz(target("tmp"))},
			source: bytesz("tmpfs"),
			target: bytesz(target("tmp")),
			fstype: bytesz("tmpfs"),
			flags:  unix.MS_NOSUID | unix.MS_NODEV,
			data:   bytesSliceOrNil(*ns.MountTmpTmpfs),
		})
	}

	if ns.MountTmpfs != nil && root != "" {
		r.mounts = append(r.mounts, mountStep{
			source: bytesz("tmpfs"),
			target: bytesz(root),
			fstype: bytesz("tmpfs"),
			flags:  unix.MS_NOSUID,
			data:   bytesSliceOrNil(*ns.MountTmpfs),
		})
	}

	for _, bm := range ns.BindMounts {
		flags := uintptr(unix.MS_BIND)
		if !bm.Writable {
			flags |= unix.MS_RDONLY
		}
		if !bm.Exec {
			flags |= unix.MS_NOEXEC
		}
		r.mounts = append(r.mounts, mountStep{
			mkdirs:  [][]byte{bytesz(target(bm.Target))},
			source:  bytesz(bm.Source),
			target:  bytesz(target(bm.Target)),
			flags:   flags,
			remount: !bm.Writable || !bm.Exec,
		})
	}

	return nil
}
