// Package child holds the typed, owned representation of a requested
// child process: PreparedChild and the pieces that compose it. A
// PreparedChild is built incrementally by the wire decoder (see
// DecodeExec) and consumed exactly once by the isolation pipeline.
package child

import "syscall"

// OwnedFD wraps a file descriptor received over the control socket.
// Close is idempotent: once a descriptor has been consumed (handed to
// the isolation pipeline for dup2, or closed explicitly on an error
// path) a second Close is a no-op. This is the sole ownership model
// for descriptors crossing the wire boundary: a descriptor is either
// owned by exactly one OwnedFD, or it has already been closed.
type OwnedFD struct {
	fd     int
	closed bool
}

// NewOwnedFD takes ownership of fd.
func NewOwnedFD(fd int) *OwnedFD {
	return &OwnedFD{fd: fd}
}

// Fd returns the underlying descriptor. Panics if already closed or
// taken, since that indicates a use-after-transfer bug in the caller.
func (o *OwnedFD) Fd() int {
	if o == nil || o.closed {
		panic("child: use of closed or nil OwnedFD")
	}
	return o.fd
}

// Take hands off the raw descriptor without closing it; the caller
// becomes responsible for its lifetime (e.g. dup2-ing it into a child
// and then closing the original in the parent).
func (o *OwnedFD) Take() int {
	fd := o.Fd()
	o.closed = true
	return fd
}

// Close closes the descriptor if it has not already been taken or
// closed.
func (o *OwnedFD) Close() {
	if o == nil || o.closed {
		return
	}
	o.closed = true
	_ = closeFd(o.fd)
}

// BindMount is one entry of the ordered bind-mount chain.
type BindMount struct {
	Source, Target string
	Writable       bool
	Exec           bool
}

// CgroupSetting is one key/value pair applied to a controller's
// control file after the child has been placed in its cgroup.
type CgroupSetting struct {
	Key, Value string
}

// CgroupOptions names the cgroup the child should join (relative to
// the server's delegated subtree) plus the ordered CGROUP_SET chain.
type CgroupOptions struct {
	Name     string
	Settings []CgroupSetting
}

// NamespaceOptions controls which Linux namespaces are created or
// joined, and the mount topology built inside the (optional) new
// mount namespace.
type NamespaceOptions struct {
	EnableUser    bool
	EnablePID     bool
	EnableNetwork bool
	EnableIPC     bool
	EnableMount   bool

	NetworkNamespaceName string // join an existing named netns instead of creating one

	PivotRoot string

	MountProc     bool
	WritableProc  bool
	MountCgroup   bool // bind the delegated cgroup subtree into the new mount namespace, restricted to the child's own group

	MountHomeSource string
	MountHomeTarget string

	// MountTmpTmpfs and MountTmpfs are the optional mount-flag strings
	// for the two tmpfs mounts MOUNT_TMP_TMPFS/MOUNT_TMPFS request. nil
	// means "not requested"; a non-nil pointer to an empty string is a
	// request with default mount options.
	MountTmpTmpfs *string
	MountTmpfs    *string

	BindMounts []BindMount

	Hostname string
}

// AnyEnabled reports whether any namespace flag requests isolation at
// all, which governs whether PR_SET_NO_NEW_PRIVS is implied.
func (n *NamespaceOptions) AnyEnabled() bool {
	return n.EnableUser || n.EnablePID || n.EnableNetwork || n.EnableIPC || n.EnableMount
}

// ResourceLimits is indexed by rlimit kind; RlimitCount bounds the
// index space accepted from the wire.
const RlimitCount = 16

// ResourceLimit is the raw bit-pattern record carried for one rlimit
// index: (current, max), both in the resource's native unit.
type ResourceLimit struct {
	Cur uint64
	Max uint64
}

// UidGid is the resolved credential the child drops to.
type UidGid struct {
	Set    bool
	Uid    uint32
	Gid    uint32
	Groups []uint32
}

// PreparedChild is the fully resolved request: the typed, owned
// in-memory form the isolation pipeline consumes exactly once.
type PreparedChild struct {
	Argv []string
	Env  []string

	Stdin, Stdout, Stderr, Control *OwnedFD
	StderrPath                     string

	Umask int32 // negative means "inherit"

	Chroot string
	Chdir  string

	TTY bool

	Priority    int32
	SchedIdle   bool
	IOPrioIdle  bool
	NoNewPrivs  bool

	ForbidUserNS   bool
	ForbidMulticast bool
	ForbidBind     bool

	Namespaces NamespaceOptions
	Cgroup     CgroupOptions
	RLimits    [RlimitCount]*ResourceLimit
	Credential UidGid

	Refence  string
	HookInfo string
}

// New returns a PreparedChild with Umask defaulting to "inherit" (-1),
// matching the wire default before any UMASK sub-command arrives.
func New() *PreparedChild {
	return &PreparedChild{Umask: -1}
}

// FinalizeEnv appends defaultPath as PATH if the decoded SETENV chain
// never set one. The original spawn server always forces a PATH
// unless the request overrides it explicitly; this restores that
// behavior.
func (p *PreparedChild) FinalizeEnv(defaultPath string) {
	for _, kv := range p.Env {
		if len(kv) >= 5 && kv[:5] == "PATH=" {
			return
		}
	}
	p.Env = append(p.Env, "PATH="+defaultPath)
}

// CloseOwnedFds closes every stdio/control descriptor still held by
// p. Used on every error path before a PreparedChild is discarded, so
// that no fd received via SCM_RIGHTS is ever leaked: every received fd
// is either transferred into a running child or closed.
func (p *PreparedChild) CloseOwnedFds() {
	p.Stdin.Close()
	p.Stdout.Close()
	p.Stderr.Close()
	p.Control.Close()
}

func closeFd(fd int) error {
	return syscall.Close(fd)
}
