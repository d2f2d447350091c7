package registry

import (
	"os/exec"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type recordingListener struct {
	exited chan unix.WaitStatus
}

func newRecordingListener() *recordingListener {
	return &recordingListener{exited: make(chan unix.WaitStatus, 1)}
}

func (l *recordingListener) OnExit(pid int, status unix.WaitStatus) {
	l.exited <- status
}

func startChild(t *testing.T, args ...string) int {
	t.Helper()
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting %v: %v", args, err)
	}
	return cmd.Process.Pid
}

func TestReapDeliversExitToListener(t *testing.T) {
	r := New()
	defer r.Close()

	pid := startChild(t, "/bin/true")
	l := newRecordingListener()
	r.Add(pid, "true", l)

	waitForReap(t, r)

	select {
	case ws := <-l.exited:
		if !ws.Exited() || ws.ExitStatus() != 0 {
			t.Fatalf("wait status = %v, want clean exit", ws)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never notified")
	}
	if !r.Empty() {
		t.Fatal("registry should be empty after reap")
	}
}

func TestKillUnknownPidIsNoop(t *testing.T) {
	r := New()
	defer r.Close()
	r.Kill(999999, unix.SIGTERM) // must not panic or error
}

func TestClearForgetsChildrenWithoutNotifying(t *testing.T) {
	r := New()
	defer r.Close()

	pid := startChild(t, "/bin/sleep", "5")
	l := newRecordingListener()
	r.Add(pid, "sleep", l)
	r.Clear()

	unix.Kill(pid, unix.SIGKILL)
	var ws unix.WaitStatus
	unix.Wait4(pid, &ws, 0, nil)

	select {
	case <-l.exited:
		t.Fatal("listener should not be notified after Clear")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestVolatileOnlyTrueWhenEmpty(t *testing.T) {
	r := New()
	defer r.Close()

	pid := startChild(t, "/bin/true")
	l := newRecordingListener()
	r.Add(pid, "true", l)
	r.SetVolatile()
	if r.Volatile() {
		t.Fatal("Volatile should be false while a child is still tracked")
	}

	waitForReap(t, r)
	if !r.Volatile() {
		t.Fatal("Volatile should be true once the registry drains to empty")
	}
}

func TestKillEscalatesToSigkillAfterTimeout(t *testing.T) {
	r := New()
	defer r.Close()

	pid := startChild(t, "/bin/sleep", "60")
	l := newRecordingListener()
	r.Add(pid, "sleep", l)

	// A signal the child ignores by default so it survives long enough
	// for the timer to fire; SIGURG is ignored by default on Linux.
	r.Kill(pid, unix.SIGURG)

	select {
	case got := <-r.Escalations():
		if got != pid {
			t.Fatalf("escalation pid = %d, want %d", got, pid)
		}
		r.Escalate(got)
	case <-time.After(KillTimeout + 2*time.Second):
		t.Fatal("kill timer never escalated")
	}

	waitForReap(t, r)
	select {
	case ws := <-l.exited:
		if ws.Signal() != unix.SIGKILL {
			t.Fatalf("wait status = %v, want SIGKILL", ws)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never notified")
	}
}

// waitForReap blocks on the registry's SIGCHLD channel and calls Reap
// once, matching how the event loop is expected to drive the
// registry. It fails the test if no SIGCHLD arrives in time.
func waitForReap(t *testing.T, r *Registry) {
	t.Helper()
	select {
	case <-r.Notify():
		r.Reap()
	case <-time.After(2 * time.Second):
		t.Fatal("no SIGCHLD received")
	}
}
