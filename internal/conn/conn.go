// Package conn implements the connection multiplexer: the epoll event
// loop, per-connection datagram framing over recvmsg/sendmsg with
// SCM_RIGHTS, and the server process that owns the whole thing. This
// is the component every other package in this module is wired into:
// the wire codec decodes what it reads, the child package models what
// EXEC builds, the isolate package runs what a decoded EXEC resolves
// to, and the registry package is told about every pid it forks.
package conn

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/JevatterTod/spawnd/internal/cgroupstate"
	"github.com/JevatterTod/spawnd/internal/child"
	"github.com/JevatterTod/spawnd/internal/config"
	"github.com/JevatterTod/spawnd/internal/isolate"
	"github.com/JevatterTod/spawnd/internal/registry"
	"github.com/JevatterTod/spawnd/internal/wire"
)

// maxAncillaryFds bounds the control-message buffer sized for the
// request-direction fd limit (32 per request datagram).
const maxAncillaryFds = wire.MaxRequestFds

// SpawnHook lets an embedder override the default credential policy;
// re-exported from internal/config so callers of this package need
// not import it directly.
type SpawnHook = config.SpawnHook

// Server owns the epoll loop, the shared child registry, the shared
// cgroup state, the credential policy, and every live Connection.
type Server struct {
	epfd     int
	registry *registry.Registry
	cgroup   *cgroupstate.State
	hook     SpawnHook
	cfg      *config.SpawnConfig
	opts     isolate.Options
	logger   *slog.Logger

	conns map[int]*Connection // keyed by control fd
}

// ServerConfig bundles Server's startup dependencies. The initial
// control-socket fd is passed separately to Adopt, since it is a
// one-shot bootstrap side channel rather than part of the server's
// steady-state identity.
type ServerConfig struct {
	Registry     *registry.Registry
	CgroupState  *cgroupstate.State
	Hook         SpawnHook
	SpawnConfig  *config.SpawnConfig
	IsolateOpts  isolate.Options
	Logger       *slog.Logger
}

// NewServer creates a Server and its epoll instance. Call Run to
// drive the event loop; call Close to release the epoll fd.
func NewServer(cfg ServerConfig) (*Server, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("conn: epoll_create1: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		epfd:     epfd,
		registry: cfg.Registry,
		cgroup:   cfg.CgroupState,
		hook:     cfg.Hook,
		cfg:      cfg.SpawnConfig,
		opts:     cfg.IsolateOpts,
		logger:   logger,
		conns:    make(map[int]*Connection),
	}, nil
}

// Close releases the epoll instance. Connections must already be torn
// down by the caller (normally Run's own shutdown path does this).
func (s *Server) Close() error {
	return unix.Close(s.epfd)
}

// Adopt registers fd as a new control-socket Connection, whether it
// arrived as the process's initial control fd or was carried over an
// existing connection by a CONNECT command.
func (s *Server) Adopt(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("conn: set nonblocking: %w", err)
	}
	c := newConnection(fd, s)
	s.conns[fd] = c

	if !s.cgroup.Empty() {
		if _, err := unix.Write(fd, wire.EncodeCgroupsAvailable()); err != nil {
			s.logger.Warn("failed to send CGROUPS_AVAILABLE", "fd", fd, "err", err)
		}
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		delete(s.conns, fd)
		unix.Close(fd)
		return fmt.Errorf("conn: epoll_ctl add: %w", err)
	}
	return nil
}

// teardown closes c's fd, removes it from epoll and the connection
// set, and sends SIGTERM to every child it still owns.
func (s *Server) teardown(c *Connection) {
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	delete(s.conns, c.fd)
	unix.Close(c.fd)
	c.fd = -1 // a later OnExit must not write to a reused fd number
	for pid := range c.children {
		s.registry.KillDefault(pid)
	}
	if len(s.conns) == 0 {
		s.registry.SetVolatile()
	}
}

// Done reports whether the server should stop its event loop: no live
// connections, and the registry has been marked volatile (no children
// left that still need reaping).
func (s *Server) Done() bool {
	return len(s.conns) == 0 && s.registry.Volatile()
}

// RunOnce services exactly one epoll_wait return (readable control
// sockets). The event loop is single-threaded and cooperative: it
// blocks only inside epoll_wait itself.
func (s *Server) RunOnce(timeoutMillis int) error {
	var events [64]unix.EpollEvent
	n, err := unix.EpollWait(s.epfd, events[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("conn: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		c, ok := s.conns[fd]
		if !ok {
			continue
		}
		if events[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			s.teardown(c)
			continue
		}
		if events[i].Events&unix.EPOLLIN != 0 {
			c.handleReadable()
		}
	}
	return nil
}

// epollWaitQuantum bounds how long RunOnce's epoll_wait blocks before
// returning control to Run so it can check the registry's SIGCHLD
// channel. Small enough that SIGCHLD-driven exit notifications never
// wait long behind a quiet control socket, large enough that an idle
// server doesn't spin.
const epollWaitQuantum = 200

// Run drives the event loop until Done(). Each iteration services
// readable control sockets (RunOnce) and then drains any pending
// SIGCHLD via the registry; SIGCHLD delivery is the only thing that
// interrupts the loop out of band.
func (s *Server) Run() error {
	for !s.Done() {
		if err := s.RunOnce(epollWaitQuantum); err != nil {
			return err
		}
		select {
		case <-s.registry.Notify():
			s.registry.Reap()
		default:
		}
		s.drainEscalations()
	}
	return nil
}

// drainEscalations applies every pending kill-timeout escalation
// queued by the registry's timers. Those timers run on their own
// goroutines and only ever send a pid on a channel; Escalate itself —
// the map mutation and the SIGKILL — runs here, on the loop goroutine,
// so the registry's bookkeeping is never touched from two goroutines
// at once.
func (s *Server) drainEscalations() {
	for {
		select {
		case pid := <-s.registry.Escalations():
			s.registry.Escalate(pid)
		default:
			return
		}
	}
}

// resolveAndVerifyCredential fills in p.Credential with the server's
// default uid/gid if the request set neither, then verifies the
// resulting uid/gid against the hook or allow-list. This must run
// before isolate.Spawn: prepare() only drops privileges when
// Credential.Set is true, so a request that omitted uid/gid would
// otherwise keep running as the server's own (root) credentials even
// though verification priced it in as the default uid/gid.
func (s *Server) resolveAndVerifyCredential(p *child.PreparedChild) error {
	uid, gid := p.Credential.Uid, p.Credential.Gid
	if !p.Credential.Set {
		uid, gid = s.cfg.Resolve(0, 0, false)
		p.Credential.Uid = uid
		p.Credential.Gid = gid
		p.Credential.Set = true
	}
	return config.Verify(s.hook, s.cfg, uid, gid)
}
