package seccomp

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf/arch"
)

var archInfo, archInfoErr = arch.GetInfo("")

// syscallNumber resolves name to its numeric value on the running
// architecture. Filter construction itself never uses this — it goes
// through libseccomp.GetSyscallFromName, which is authoritative and
// already arch-aware — this exists only so the installed denylist can
// be logged in a form an operator can cross-reference against
// /usr/include/asm/unistd_64.h.
func syscallNumber(name string) (int, error) {
	if archInfoErr != nil {
		return 0, archInfoErr
	}
	for nr, n := range archInfo.SyscallNumbers {
		if n == name {
			return nr, nil
		}
	}
	return 0, fmt.Errorf("seccomp: syscall %q unknown for this arch", name)
}

// DescribeDenylist renders DefaultDenylist as "name(nr)" strings,
// falling back to bare "name" for any syscall this architecture's
// table doesn't know (e.g. one that's arch-specific elsewhere, or a
// lookup failure on an unrecognized GOARCH).
func DescribeDenylist() []string {
	out := make([]string, 0, len(DefaultDenylist))
	for _, name := range DefaultDenylist {
		if nr, err := syscallNumber(name); err == nil {
			out = append(out, fmt.Sprintf("%s(%d)", name, nr))
		} else {
			out = append(out, name)
		}
	}
	return out
}
