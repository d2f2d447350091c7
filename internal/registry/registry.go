// Package registry implements the SIGCHLD-driven child process
// registry: a pid-keyed map from running children to the connection
// that owns them, a single signal handler that reaps zombies with
// wait4(-1, WNOHANG), and kill-with-timeout escalation to SIGKILL.
//
// The registry is not safe for concurrent use by design: the spawn
// server is single-threaded around one event loop, and the registry's
// mutations all happen on that loop's goroutine — either directly from
// a connection handler, from the reap callback driven by the SIGCHLD
// channel, or from Escalate driven by the Escalations channel. No
// locks are used; correctness comes from that single-thread
// discipline, matching the rest of the server. The only state this
// package hands to another goroutine is the kill-timeout timer
// itself, and its callback does nothing but send a pid on a channel —
// it never reads or writes the registry directly.
package registry

import (
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"
)

// KillTimeout is the fixed delay before an unreaped child that was
// sent SIGTERM (or any signal other than SIGKILL) gets escalated to
// SIGKILL.
const KillTimeout = 10 * time.Second

// ExitListener is notified when its child's exit status has been
// reaped. Implemented by the connection that owns the child.
type ExitListener interface {
	OnExit(pid int, status unix.WaitStatus)
}

// entry is one tracked child.
type entry struct {
	pid      int
	name     string
	listener ExitListener
	timer    *time.Timer
}

// Registry is the pid-keyed table of running children plus the
// SIGCHLD plumbing that reaps them.
type Registry struct {
	children    map[int]*entry
	sigchld     chan os.Signal
	escalations chan int
	volatile    bool
	stop        chan struct{}
}

// New creates a Registry and starts listening for SIGCHLD. Call
// Close when the server shuts down to stop the signal goroutine.
func New() *Registry {
	r := &Registry{
		children:    make(map[int]*entry),
		sigchld:     make(chan os.Signal, 16),
		escalations: make(chan int, 64),
		stop:        make(chan struct{}),
	}
	signal.Notify(r.sigchld, unix.SIGCHLD)
	return r
}

// Close stops SIGCHLD delivery and releases all kill timers. Any
// children still tracked are forgotten, not killed — callers that
// need every child to die on shutdown must do so explicitly first.
func (r *Registry) Close() {
	signal.Stop(r.sigchld)
	close(r.stop)
	for _, e := range r.children {
		stopTimer(e.timer)
	}
	r.children = make(map[int]*entry)
}

// Notify returns the channel the event loop should select on
// alongside its control sockets. A receive means at least one SIGCHLD
// arrived; the caller should then call Reap.
func (r *Registry) Notify() <-chan os.Signal {
	return r.sigchld
}

// Escalations returns the channel the event loop should select on
// alongside Notify. A receive is a pid whose kill timeout fired; the
// caller should then call Escalate(pid) on the loop goroutine. The
// timer that feeds this channel runs on its own goroutine, so the
// channel send is the only thing it is allowed to touch — every
// registry mutation still happens on the loop goroutine that drains
// this channel.
func (r *Registry) Escalations() <-chan int {
	return r.escalations
}

// Add inserts a freshly forked child into the registry. name is the
// symbolic request name used in logging.
func (r *Registry) Add(pid int, name string, listener ExitListener) {
	r.children[pid] = &entry{pid: pid, name: name, listener: listener}
}

// SetExitListener rebinds the listener for an already-tracked pid,
// used when a connection hands off ownership of a child it inherited.
// A pid not currently tracked is a silent no-op, matching KILL's
// best-effort semantics elsewhere in the registry.
func (r *Registry) SetExitListener(pid int, listener ExitListener) {
	if e, ok := r.children[pid]; ok {
		e.listener = listener
	}
}

// Kill sends signo to pid. If signo is not already SIGKILL, it arms a
// kill timeout that escalates to SIGKILL after KillTimeout; any
// previously armed timer for this pid is replaced. Killing an unknown
// or already-reaped pid is a no-op: best-effort and idempotent.
func (r *Registry) Kill(pid int, signo unix.Signal) {
	e, ok := r.children[pid]
	if !ok {
		return
	}
	unix.Kill(pid, signo)
	stopTimer(e.timer)
	e.timer = nil
	if signo != unix.SIGKILL {
		escalations := r.escalations
		e.timer = time.AfterFunc(KillTimeout, func() {
			select {
			case escalations <- pid:
			default:
				// escalations is full: the loop is badly behind and
				// will catch up on its next drain regardless, since a
				// dropped send here just means this pid's SIGKILL is
				// delayed, not lost — Kill still re-arms a fresh timer
				// on its next call for this pid.
			}
		})
	}
}

// KillDefault sends SIGTERM, the shorthand used on connection
// teardown and by a bare KILL command with no explicit signal.
func (r *Registry) KillDefault(pid int) {
	r.Kill(pid, unix.SIGTERM)
}

// Escalate sends SIGKILL to pid if it is still tracked. It does not
// check which of the pid's timers fired: an escalation queued by a
// timer that a later Kill replaced still sends SIGKILL. Must only be
// called from the event loop goroutine that drains Escalations(); it
// is the sole point where a fired timer's effect touches the
// registry's map.
func (r *Registry) Escalate(pid int) {
	if e, ok := r.children[pid]; ok {
		e.timer = nil
		unix.Kill(pid, unix.SIGKILL)
	}
}

// SetVolatile marks the registry as shutting down: once the last
// tracked child is reaped, the event loop can stop waiting on the
// SIGCHLD channel. It takes effect immediately if the registry is
// already empty.
func (r *Registry) SetVolatile() {
	r.volatile = true
}

// Empty reports whether no children are currently tracked.
func (r *Registry) Empty() bool {
	return len(r.children) == 0
}

// Volatile reports whether SetVolatile has been called and the
// registry has since drained to empty — the condition under which the
// server's event loop should terminate.
func (r *Registry) Volatile() bool {
	return r.volatile && r.Empty()
}

// Clear forgets every tracked child without killing or notifying
// anyone, used by a freshly forked child process so it does not
// inherit its parent's bookkeeping (a forked spawnd would otherwise
// believe it owns processes it never created).
func (r *Registry) Clear() {
	for _, e := range r.children {
		stopTimer(e.timer)
	}
	r.children = make(map[int]*entry)
}

// Reap drains every pending zombie with wait4(-1, WNOHANG), notifying
// each child's listener and removing it from the registry. Call this
// once per receive on the channel returned by Notify — a single
// SIGCHLD delivery can correspond to several children exiting in a
// burst, and wait4 must be looped until ECHILD/EAGAIN to avoid missing
// any of them.
func (r *Registry) Reap() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if pid <= 0 {
			return
		}
		e, ok := r.children[pid]
		if !ok {
			// Raced with Clear() or belongs to an untracked child
			// (e.g. a grandchild reparented to us); drop silently.
			continue
		}
		stopTimer(e.timer)
		delete(r.children, pid)
		if e.listener != nil {
			e.listener.OnExit(pid, ws)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
