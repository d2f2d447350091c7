// Package cgroupstate parses the process's own cgroup membership at
// startup so the isolation pipeline knows where to place children.
// An empty State (no group path) means cgroup support is disabled. A
// State whose group path is set is not empty even when no controller
// list could be read.
package cgroupstate

import (
	"bufio"
	"os"
	"path"
	"strings"
)

const (
	procSelfCgroup     = "/proc/self/cgroup"
	cgroupV2Mountpoint = "/sys/fs/cgroup"
	cgroupControllers  = "cgroup.controllers"
)

// State is the process-wide cgroup membership record, computed once
// at startup (see systemdscope.Bootstrap) and shared read-only
// thereafter by every fork.
type State struct {
	// GroupPath is this process's path within the delegated subtree,
	// e.g. "/system.slice/spawnd.service". Children are placed at
	// GroupPath + "/" + their own cgroup name.
	GroupPath string

	// Mounts lists controller mountpoint names available on this
	// system (v1: one per controller, e.g. "cpu", "memory"; v2: a
	// single unified entry).
	Mounts []string

	// Controllers maps a controller name to the mount name that
	// provides it. On v2 every controller maps to the same unified
	// mount name.
	Controllers map[string]string
}

// Empty reports whether cgroup support is disabled.
func (s *State) Empty() bool {
	return s == nil || s.GroupPath == ""
}

// MemberPath returns the directory of the named sub-group under root
// (the controller mountpoint): root + GroupPath + name. With an empty
// name it is this process's own group directory, which cmd/spawnd
// passes to the isolation pipeline's Options.
func (s *State) MemberPath(root, name string) string {
	return path.Join(root, s.GroupPath, name)
}

// Load reads /proc/self/cgroup to populate GroupPath and detects
// available controllers from /sys/fs/cgroup/cgroup.controllers.
// v2's unified hierarchy is the only layout this targets.
func Load() (*State, error) {
	f, err := os.Open(procSelfCgroup)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var groupPath string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		// format: hierarchy-ID:controller-list:cgroup-path
		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 {
			continue
		}
		// v2 unified hierarchy has an empty controller-list field.
		if fields[1] == "" {
			groupPath = fields[2]
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if groupPath == "" {
		return &State{}, nil
	}

	controllers, err := readControllers()
	if err != nil {
		return &State{GroupPath: groupPath}, nil
	}

	m := make(map[string]string, len(controllers))
	for _, c := range controllers {
		m[c] = "unified"
	}
	return &State{
		GroupPath:   groupPath,
		Mounts:      []string{"unified"},
		Controllers: m,
	}, nil
}

func readControllers() ([]string, error) {
	b, err := os.ReadFile(path.Join(cgroupV2Mountpoint, cgroupControllers))
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(b)), nil
}
