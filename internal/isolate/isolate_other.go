//go:build !linux

package isolate

import (
	"errors"

	"github.com/JevatterTod/spawnd/internal/child"
)

// Spawn is unavailable outside Linux: every isolation primitive this
// package uses (namespaces, pivot_root, seccomp-bpf, cgroupfs) is
// Linux-specific.
func Spawn(p *child.PreparedChild, opts Options) (int, error) {
	return 0, errors.New("isolate: Spawn requires linux")
}
