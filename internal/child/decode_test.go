package child

import (
	"errors"
	"testing"

	"github.com/JevatterTod/spawnd/internal/wire"
)

func decodeExecFrame(t *testing.T, frame []byte, fds *wire.ReceivedFdList) *ExecRequest {
	t.Helper()
	r := wire.NewReader(frame)
	tag, err := r.Byte()
	if err != nil {
		t.Fatalf("reading tag: %v", err)
	}
	if wire.RequestTag(tag) != wire.ReqExec {
		t.Fatalf("tag = %d, want ReqExec", tag)
	}
	if fds == nil {
		fds = wire.NewReceivedFdList(nil)
	}
	req, err := DecodeExec(r, fds)
	if err != nil {
		t.Fatalf("DecodeExec: %v", err)
	}
	return req
}

func TestDecodeExecRoundTrip(t *testing.T) {
	p := New()
	p.Argv = []string{"/bin/sh", "-c", "echo hi"}
	p.Env = []string{"HOME=/root"}
	p.Umask = 0o022
	p.Refence = "tag-1"
	p.Namespaces.EnableUser = true
	p.Namespaces.EnableMount = true
	p.Namespaces.MountProc = true
	p.Namespaces.BindMounts = []BindMount{
		{Source: "/tmp", Target: "/sandbox/tmp", Writable: true, Exec: false},
	}
	p.Namespaces.Hostname = "sandbox"
	p.RLimits[0] = &ResourceLimit{Cur: 10, Max: 20}
	p.Credential = UidGid{Set: true, Uid: 1000, Gid: 1000, Groups: []uint32{100, 200}}
	p.ForbidBind = true
	p.Priority = 5
	p.Chroot = "/var/sandbox"
	p.Chdir = "/"
	p.HookInfo = "policy-check"

	frame := EncodeExec(7, "hello", p)
	req := decodeExecFrame(t, frame, nil)

	if req.ID != 7 || req.Name != "hello" {
		t.Fatalf("header = (%d, %q)", req.ID, req.Name)
	}
	got := req.Child
	if len(got.Argv) != 3 || got.Argv[2] != "echo hi" {
		t.Fatalf("Argv = %v", got.Argv)
	}
	if len(got.Env) != 1 || got.Env[0] != "HOME=/root" {
		t.Fatalf("Env = %v", got.Env)
	}
	if got.Umask != 0o022 {
		t.Fatalf("Umask = %o", got.Umask)
	}
	if !got.Namespaces.EnableUser || !got.Namespaces.MountProc {
		t.Fatalf("namespace flags lost: %+v", got.Namespaces)
	}
	if len(got.Namespaces.BindMounts) != 1 || got.Namespaces.BindMounts[0].Target != "/sandbox/tmp" {
		t.Fatalf("BindMounts = %v", got.Namespaces.BindMounts)
	}
	if got.RLimits[0] == nil || got.RLimits[0].Cur != 10 || got.RLimits[0].Max != 20 {
		t.Fatalf("RLimits[0] = %v", got.RLimits[0])
	}
	if !got.Credential.Set || got.Credential.Uid != 1000 || len(got.Credential.Groups) != 2 {
		t.Fatalf("Credential = %+v", got.Credential)
	}
	if !got.ForbidBind || got.Priority != 5 || got.Chroot != "/var/sandbox" {
		t.Fatalf("scalar fields lost: %+v", got)
	}
	if got.HookInfo != "policy-check" {
		t.Fatalf("HookInfo = %q", got.HookInfo)
	}
}

func TestDecodeExecConsumesStdioFd(t *testing.T) {
	w := wire.NewWriter()
	w.Byte(byte(wire.ReqExec))
	w.Int32(3)
	w.String("fdtest")
	w.Byte(byte(wire.SubStdout))

	fds := wire.NewReceivedFdList([]int{42})
	req := decodeExecFrame(t, w.Bytes(), fds)
	if req.Child.Stdout == nil || req.Child.Stdout.Fd() != 42 {
		t.Fatalf("Stdout fd not captured: %+v", req.Child.Stdout)
	}
	if fds.Len() != 0 {
		t.Fatalf("fd list should be drained, Len() = %d", fds.Len())
	}
	req.Child.Stdout.Take() // avoid closing a fake fd in cleanup
}

func TestDecodeExecUnknownSubTagIsMalformed(t *testing.T) {
	w := wire.NewWriter()
	w.Byte(byte(wire.ReqExec))
	w.Int32(1)
	w.String("bad")
	w.Byte(0xEE) // unknown sub-tag

	r := wire.NewReader(w.Bytes())
	if _, err := r.Byte(); err != nil {
		t.Fatal(err)
	}
	fds := wire.NewReceivedFdList(nil)
	_, err := DecodeExec(r, fds)
	if !errors.Is(err, wire.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestDecodeExecMissingFdIsMalformed(t *testing.T) {
	w := wire.NewWriter()
	w.Byte(byte(wire.ReqExec))
	w.Int32(1)
	w.String("nofd")
	w.Byte(byte(wire.SubStdin))

	r := wire.NewReader(w.Bytes())
	r.Byte()
	fds := wire.NewReceivedFdList(nil)
	_, err := DecodeExec(r, fds)
	if !errors.Is(err, wire.ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

func TestFinalizeEnvAppendsDefaultPath(t *testing.T) {
	p := New()
	p.FinalizeEnv("/usr/bin:/bin")
	if len(p.Env) != 1 || p.Env[0] != "PATH=/usr/bin:/bin" {
		t.Fatalf("Env = %v", p.Env)
	}

	p2 := New()
	p2.Env = []string{"PATH=/custom"}
	p2.FinalizeEnv("/usr/bin:/bin")
	if len(p2.Env) != 1 || p2.Env[0] != "PATH=/custom" {
		t.Fatalf("Env = %v, PATH should not be overridden", p2.Env)
	}
}
