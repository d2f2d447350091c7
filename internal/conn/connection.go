package conn

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/JevatterTod/spawnd/internal/child"
	"github.com/JevatterTod/spawnd/internal/isolate"
	"github.com/JevatterTod/spawnd/internal/wire"
)

// readBufSize is sized to the 65536-byte maximum payload a datagram
// may carry.
const readBufSize = wire.MaxPayload

// oobBufSize is sized for maxAncillaryFds SCM_RIGHTS entries.
// unix.CmsgSpace is a function, not a constant expression, so this is
// computed once at init rather than declared const.
var oobBufSize = unix.CmsgSpace(maxAncillaryFds * 4)

// Connection owns one control-socket fd and the set of children it
// spawned.
type Connection struct {
	fd       int
	server   *Server
	children map[int]int32 // pid -> client-chosen request id
}

func newConnection(fd int, s *Server) *Connection {
	return &Connection{fd: fd, server: s, children: make(map[int]int32)}
}

// handleReadable drains every datagram currently queued on c's fd.
// recvmsg is used directly (not net.UnixConn) so that MSG_DONTWAIT and
// MSG_CMSG_CLOEXEC stay under our control against a raw epoll-managed
// fd.
func (c *Connection) handleReadable() {
	for {
		if !c.readOne() {
			return
		}
	}
}

// readOne reads and dispatches a single datagram. It returns false
// when the socket has no more data ready (EAGAIN) or has been torn
// down, in which case the caller must stop calling it.
func (c *Connection) readOne() bool {
	buf := make([]byte, readBufSize)
	oob := make([]byte, oobBufSize)

	n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return false
		}
		c.server.teardown(c)
		return false
	}
	if n == 0 {
		c.server.teardown(c)
		return false
	}

	fds, err := parseFds(oob[:oobn])
	if err != nil {
		c.server.logger.Warn("malformed ancillary data", "fd", c.fd, "err", err)
		return true
	}
	fdList := wire.NewReceivedFdList(fds)

	if err := c.dispatch(buf[:n], fdList); err != nil {
		c.server.logger.Warn("malformed payload", "fd", c.fd, "err", err)
	}
	fdList.CloseRemaining()
	return true
}

func parseFds(oob []byte) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	var fds []int
	for _, m := range msgs {
		if m.Header.Level != unix.SOL_SOCKET || m.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			for _, f := range fds {
				unix.Close(f)
			}
			return nil, err
		}
		fds = append(fds, got...)
	}
	return fds, nil
}

// dispatch decodes the top-level command tag and routes to the
// matching handler. A decoding error here means the datagram is
// dropped but the connection stays open.
func (c *Connection) dispatch(payload []byte, fds *wire.ReceivedFdList) error {
	r := wire.NewReader(payload)
	tagByte, err := r.Byte()
	if err != nil {
		return err
	}
	switch wire.RequestTag(tagByte) {
	case wire.ReqConnect:
		return c.handleConnect(fds)
	case wire.ReqExec:
		return c.handleExec(r, fds)
	case wire.ReqKill:
		return c.handleKill(r)
	default:
		return fmt.Errorf("%w: unknown request tag %d", wire.ErrMalformedPayload, tagByte)
	}
}

func (c *Connection) handleConnect(fds *wire.ReceivedFdList) error {
	fd, ok := fds.Take()
	if !ok {
		return fmt.Errorf("%w: CONNECT with no attached fd", wire.ErrMalformedPayload)
	}
	return c.server.Adopt(fd)
}

func (c *Connection) handleKill(r *wire.Reader) error {
	cmd, err := wire.DecodeKill(r)
	if err != nil {
		return err
	}
	pid := c.pidForID(cmd.ID)
	if pid == 0 {
		return nil // unknown id: best-effort no-op
	}
	signo := unix.Signal(cmd.Signo)
	if signo == 0 {
		signo = unix.SIGTERM
	}
	c.server.registry.Kill(pid, signo)
	return nil
}

func (c *Connection) pidForID(id int32) int {
	for pid, reqID := range c.children {
		if reqID == id {
			return pid
		}
	}
	return 0
}

func (c *Connection) handleExec(r *wire.Reader, fds *wire.ReceivedFdList) error {
	req, err := child.DecodeExec(r, fds)
	if err != nil {
		return err
	}
	req.Child.FinalizeEnv(c.server.opts.DefaultPath)

	if err := c.server.resolveAndVerifyCredential(req.Child); err != nil {
		req.Child.CloseOwnedFds()
		c.sendExit(req.ID, 0xff<<8)
		return nil
	}

	pid, err := isolate.Spawn(req.Child, c.server.opts)
	if err != nil {
		c.server.logger.Warn("spawn failed", "id", req.ID, "name", req.Name, "err", err)
		c.sendExit(req.ID, 0xff<<8)
		return nil
	}

	c.children[pid] = req.ID
	c.server.registry.Add(pid, req.Name, c)
	return nil
}

// OnExit implements registry.ExitListener: it forwards an EXIT frame
// to this connection for the pid's client-chosen id, then forgets the
// pid. If the connection already tore down (its fd closed) the send
// simply fails and is logged; an EXIT for a dead owner is discarded,
// not retried.
func (c *Connection) OnExit(pid int, status unix.WaitStatus) {
	id, ok := c.children[pid]
	if !ok {
		return
	}
	delete(c.children, pid)
	c.sendExit(id, uint32(status))
}

func (c *Connection) sendExit(id int32, status uint32) {
	frame := wire.EncodeExit(id, status)
	if _, err := unix.Sendmsg(c.fd, frame, nil, nil, unix.MSG_NOSIGNAL); err != nil {
		c.server.logger.Warn("failed to send EXIT", "id", id, "err", err)
	}
}
