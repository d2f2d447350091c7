//go:build linux

package isolate

import (
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/JevatterTod/spawnd/internal/child"
)

func TestNamespaceFlagsUnion(t *testing.T) {
	ns := child.NamespaceOptions{EnableUser: true, EnablePID: true, EnableMount: true, Hostname: "sandbox"}
	flags := namespaceFlags(&ns)
	want := uintptr(unix.CLONE_NEWUSER | unix.CLONE_NEWPID | unix.CLONE_NEWNS | unix.CLONE_NEWUTS)
	if flags != want {
		t.Fatalf("namespaceFlags = %#x, want %#x", flags, want)
	}
}

func TestNamespaceFlagsNetworkNameSetsCloneNewNet(t *testing.T) {
	// namespaceFlags alone can't distinguish "create" from "join an
	// existing named netns"; prepare() clears CLONE_NEWNET again once
	// it resolves NetworkNamespaceName to an open fd for setns. Here
	// we only check the flag union this helper computes in isolation.
	ns := child.NamespaceOptions{NetworkNamespaceName: "test-ns"}
	if namespaceFlags(&ns)&uintptr(unix.CLONE_NEWNET) == 0 {
		t.Fatal("namespaceFlags should set CLONE_NEWNET for a named netns request")
	}
}

func TestPrepareMountsOrderAndFlags(t *testing.T) {
	p := child.New()
	p.Argv = []string{"/bin/true"}
	p.Namespaces.EnableMount = true
	p.Namespaces.PivotRoot = "/var/spawn/root-1"
	p.Namespaces.MountProc = true
	ro := ""
	p.Namespaces.MountTmpTmpfs = &ro
	p.Namespaces.BindMounts = []child.BindMount{
		{Source: "/usr", Target: "/usr", Writable: false, Exec: true},
	}

	req, err := prepare(p, Options{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(req.mounts) != 3 {
		t.Fatalf("len(mounts) = %d, want 3 (proc, tmp tmpfs, bind)", len(req.mounts))
	}

	proc := req.mounts[0]
	if !strings.HasPrefix(string(proc.target), "/var/spawn/root-1/proc") {
		t.Fatalf("proc target = %q", proc.target)
	}
	if proc.flags&unix.MS_RDONLY == 0 {
		t.Fatal("proc mount should default to read-only")
	}

	bind := req.mounts[2]
	if bind.flags&unix.MS_RDONLY == 0 {
		t.Fatal("non-writable bind mount should set MS_RDONLY")
	}
	if !bind.remount {
		t.Fatal("read-only bind mount must be flagged for the remount pass")
	}
}

func TestPrepareArgvAndEnvAreNulTerminated(t *testing.T) {
	p := child.New()
	p.Argv = []string{"/bin/echo", "hi"}
	p.Env = []string{"HOME=/root"}

	req, err := prepare(p, Options{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if req.argv0[len(req.argv0)-1] != 0 {
		t.Fatal("argv0 not NUL-terminated")
	}
	if len(req.argvPtrs) != len(p.Argv)+1 || req.argvPtrs[len(p.Argv)] != nil {
		t.Fatalf("argvPtrs = %v, want nil-terminated length %d", req.argvPtrs, len(p.Argv)+1)
	}
	if len(req.envPtrs) != len(p.Env)+1 || req.envPtrs[len(p.Env)] != nil {
		t.Fatalf("envPtrs not nil-terminated: %v", req.envPtrs)
	}
}

func TestPrepareRejectsEmptyArgv(t *testing.T) {
	p := child.New()
	if _, err := prepare(p, Options{}); err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestPrepareMountCgroupRequiresAssignment(t *testing.T) {
	p := child.New()
	p.Argv = []string{"/bin/true"}
	p.Namespaces.EnableMount = true
	p.Namespaces.MountCgroup = true
	if _, err := prepare(p, Options{CgroupRoot: "/sys/fs/cgroup/spawn"}); err == nil {
		t.Fatal("expected error when MOUNT_CGROUP has no cgroup assignment")
	}
}
