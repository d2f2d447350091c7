package conn

import (
	"bytes"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/JevatterTod/spawnd/internal/wire"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestParseFdsExtractsScmRights(t *testing.T) {
	a, b := socketpair(t)

	tmp, err := os.CreateTemp("", "conn-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	rights := unix.UnixRights(int(tmp.Fd()))
	if err := unix.Sendmsg(a, []byte("hi"), rights, nil, 0); err != nil {
		t.Fatalf("sendmsg: %v", err)
	}

	buf := make([]byte, 16)
	oob := make([]byte, oobBufSize)
	n, oobn, _, _, err := unix.Recvmsg(b, buf, oob, unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		t.Fatalf("recvmsg: %v", err)
	}
	if !bytes.Equal(buf[:n], []byte("hi")) {
		t.Fatalf("payload = %q, want %q", buf[:n], "hi")
	}

	fds, err := parseFds(oob[:oobn])
	if err != nil {
		t.Fatalf("parseFds: %v", err)
	}
	if len(fds) != 1 {
		t.Fatalf("got %d fds, want 1", len(fds))
	}
	unix.Close(fds[0])
}

func TestPidForIDLooksUpByRequestID(t *testing.T) {
	c := &Connection{children: map[int]int32{42: 7, 43: 9}}
	if pid := c.pidForID(7); pid != 42 {
		t.Fatalf("pidForID(7) = %d, want 42", pid)
	}
	if pid := c.pidForID(999); pid != 0 {
		t.Fatalf("pidForID(999) = %d, want 0", pid)
	}
}

func TestHandleKillUnknownIDIsNoop(t *testing.T) {
	a, b := socketpair(t)
	_ = a
	c := &Connection{fd: b, children: map[int]int32{}}
	r := wire.NewReader(wire.EncodeKill(5, int32(unix.SIGTERM))[1:])
	if err := c.handleKill(r); err != nil {
		t.Fatalf("handleKill: %v", err)
	}
}
