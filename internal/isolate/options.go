// Package isolate implements the privileged half of a spawn request:
// turning a *child.PreparedChild into a running, isolated process.
//
// The pipeline is split in two: a normal-Go "prepare" half that does
// every allocation, string conversion and path computation up front,
// and a minimal-runtime "child" half that runs between clone(2) and
// execve(2) touching nothing but raw syscalls. No Go function that
// can allocate, take a lock or be preempted may run in the child
// half; see child_linux.go.
package isolate

// Options carries the server-wide state the pipeline needs beyond
// what travels in a single PreparedChild: the default $PATH, and the
// root of the cgroup subtree this spawn server was delegated.
type Options struct {
	DefaultPath string
	CgroupRoot  string
}
