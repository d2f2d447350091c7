package seccomp

import (
	"fmt"
	"io"
	"os"
	"syscall"

	libseccomp "github.com/seccomp/libseccomp-golang"
)

// allowedSocketDomains is the inverted whitelist for socket(2)'s
// first argument: any domain outside this set is rejected with
// EAFNOSUPPORT rather than killed, since untrusted code routinely
// probes unsupported address families and a hard kill would be an
// unnecessarily surprising failure mode for that case.
var allowedSocketDomains = []int64{
	syscall.AF_LOCAL,
	syscall.AF_INET,
	syscall.AF_INET6,
}

// Extensions are the request-driven additions to the fixed denylist,
// one per PreparedChild flag of the same name.
type Extensions struct {
	ForbidUserNamespace bool
	ForbidMulticast     bool
	ForbidBind          bool
}

// Build constructs the BPF program for the fixed denylist plus the
// requested extensions, returning it ready for installation via the
// SECCOMP_SET_MODE_FILTER syscall. skipped receives the names of any
// denylist entries that could not be resolved or added because this
// kernel's libseccomp does not know the syscall (KernelFeatureMissing,
// handled by silently omitting the rule rather than failing the
// build).
func Build(ext Extensions) (*syscall.SockFprog, []string, error) {
	filter, err := libseccomp.NewFilter(libseccomp.ActAllow)
	if err != nil {
		return nil, nil, fmt.Errorf("seccomp: new filter: %w", err)
	}
	defer filter.Release()

	if err := filter.SetNoNewPrivsBit(false); err != nil {
		return nil, nil, fmt.Errorf("seccomp: clear no-new-privs bit: %w", err)
	}

	var skipped []string
	for _, name := range DefaultDenylist {
		ok, err := addKillRule(filter, name)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			skipped = append(skipped, name)
		}
	}

	if err := addSocketDomainWhitelist(filter); err != nil {
		return nil, nil, err
	}

	if ext.ForbidUserNamespace {
		if err := addForbidUserNamespace(filter); err != nil {
			return nil, nil, err
		}
	}
	if ext.ForbidMulticast {
		if err := addForbidMulticast(filter); err != nil {
			return nil, nil, err
		}
	}
	if ext.ForbidBind {
		if err := addForbidBindListen(filter); err != nil {
			return nil, nil, err
		}
	}

	prog, err := exportBPF(filter)
	if err != nil {
		return nil, nil, err
	}
	return prog, skipped, nil
}

// addKillRule adds an SCMP_ACT_KILL rule for name. It returns ok=false
// (and no error) when the syscall is unknown to this kernel's
// libseccomp: such entries are silently skipped, not a build failure.
func addKillRule(filter *libseccomp.ScmpFilter, name string) (ok bool, err error) {
	id, err := libseccomp.GetSyscallFromName(name)
	if err != nil {
		return false, nil
	}
	if err := filter.AddRule(id, libseccomp.ActKill); err != nil {
		return false, nil
	}
	return true, nil
}

// addSocketDomainWhitelist restricts socket(2)'s first argument to
// allowedSocketDomains, returning EAFNOSUPPORT for anything else,
// while domains inside the whitelist fall through to the default
// ALLOW action.
func addSocketDomainWhitelist(filter *libseccomp.ScmpFilter) error {
	id, err := libseccomp.GetSyscallFromName("socket")
	if err != nil {
		return nil // socket(2) unknown on this arch: nothing to restrict
	}
	errnoAction := libseccomp.ActErrno.SetReturnCode(int16(syscall.EAFNOSUPPORT))
	return addInvertedWhitelist(filter, id, 0, errnoAction, allowedSocketDomains)
}

// addInvertedWhitelist adds rules so that the syscall's argument at
// argIdx triggers action for every value not in whitelist, which must
// be sorted ascending with no duplicates, and falls through to the
// filter's default action for whitelisted values. A single
// conditional rule per excluded value would work but overcounts
// adjacent whitelist members as excluded if built the naive way (one
// != rule per whitelist entry ORs together into "always true"); this
// instead brackets the whitelist with a less-than and a
// greater-than rule and fills every gap between consecutive entries
// with one equality rule per excluded value.
func addInvertedWhitelist(filter *libseccomp.ScmpFilter, id libseccomp.ScmpSyscall, argIdx uint, action libseccomp.ScmpAction, whitelist []int64) error {
	if len(whitelist) == 0 {
		return nil
	}

	below, err := libseccomp.MakeCondition(argIdx, libseccomp.CompareLess, uint64(whitelist[0]))
	if err != nil {
		return fmt.Errorf("seccomp: whitelist lower-bound condition: %w", err)
	}
	if err := filter.AddRuleConditional(id, action, []libseccomp.ScmpCondition{below}); err != nil {
		return fmt.Errorf("seccomp: add whitelist lower-bound rule: %w", err)
	}

	for i := 0; i+1 < len(whitelist); i++ {
		for v := whitelist[i] + 1; v < whitelist[i+1]; v++ {
			cond, err := libseccomp.MakeCondition(argIdx, libseccomp.CompareEqual, uint64(v))
			if err != nil {
				return fmt.Errorf("seccomp: whitelist gap condition: %w", err)
			}
			if err := filter.AddRuleConditional(id, action, []libseccomp.ScmpCondition{cond}); err != nil {
				return fmt.Errorf("seccomp: add whitelist gap rule: %w", err)
			}
		}
	}

	above, err := libseccomp.MakeCondition(argIdx, libseccomp.CompareGreater, uint64(whitelist[len(whitelist)-1]))
	if err != nil {
		return fmt.Errorf("seccomp: whitelist upper-bound condition: %w", err)
	}
	if err := filter.AddRuleConditional(id, action, []libseccomp.ScmpCondition{above}); err != nil {
		return fmt.Errorf("seccomp: add whitelist upper-bound rule: %w", err)
	}
	return nil
}

// addForbidUserNamespace kills clone(2) and unshare(2) calls that
// request CLONE_NEWUSER, so a child cannot create a nested user
// namespace even if the pipeline itself did not create one for it.
func addForbidUserNamespace(filter *libseccomp.ScmpFilter) error {
	for _, name := range []string{"clone", "unshare"} {
		id, err := libseccomp.GetSyscallFromName(name)
		if err != nil {
			continue
		}
		cond, err := libseccomp.MakeCondition(0, libseccomp.CompareMaskedEqual,
			uint64(cloneNewUser), uint64(cloneNewUser))
		if err != nil {
			return fmt.Errorf("seccomp: clone_newuser condition: %w", err)
		}
		if err := filter.AddRuleConditional(id, libseccomp.ActKill, []libseccomp.ScmpCondition{cond}); err != nil {
			return fmt.Errorf("seccomp: add forbid-user-ns rule for %s: %w", name, err)
		}
	}
	return nil
}

// forbiddenMulticastIP are the IPPROTO_IP setsockopt(2) optnames
// forbidden by addForbidMulticast.
var forbiddenMulticastIP = []int64{
	syscall.IP_ADD_MEMBERSHIP,
	syscall.IP_ADD_SOURCE_MEMBERSHIP,
	syscall.IP_BLOCK_SOURCE,
	syscall.IP_DROP_MEMBERSHIP,
	syscall.IP_DROP_SOURCE_MEMBERSHIP,
	syscall.IP_MULTICAST_ALL,
	syscall.IP_MULTICAST_IF,
	syscall.IP_MULTICAST_LOOP,
	syscall.IP_MULTICAST_TTL,
	syscall.IP_UNBLOCK_SOURCE,
}

// forbiddenMulticastIPv6 are the IPPROTO_IPV6 setsockopt(2) optnames
// forbidden by addForbidMulticast.
var forbiddenMulticastIPv6 = []int64{
	syscall.IPV6_ADD_MEMBERSHIP,
	syscall.IPV6_DROP_MEMBERSHIP,
	syscall.IPV6_MULTICAST_HOPS,
	syscall.IPV6_MULTICAST_IF,
	syscall.IPV6_MULTICAST_LOOP,
}

// addForbidMulticast returns EPERM for setsockopt(2) calls that set a
// multicast-related option at IPPROTO_IP or IPPROTO_IPV6; every other
// option at those levels (IP_TOS, IP_TTL, ...) is left alone.
func addForbidMulticast(filter *libseccomp.ScmpFilter) error {
	id, err := libseccomp.GetSyscallFromName("setsockopt")
	if err != nil {
		return nil
	}
	errnoAction := libseccomp.ActErrno.SetReturnCode(int16(syscall.EPERM))
	if err := addForbiddenSockopts(filter, id, errnoAction, syscall.IPPROTO_IP, forbiddenMulticastIP); err != nil {
		return err
	}
	return addForbiddenSockopts(filter, id, errnoAction, syscall.IPPROTO_IPV6, forbiddenMulticastIPv6)
}

// addForbiddenSockopts adds one rule per optname in optnames, each
// conditioned on both the setsockopt(2) level (arg 1) and that
// optname (arg 2), so only the listed options at that level trigger
// action.
func addForbiddenSockopts(filter *libseccomp.ScmpFilter, id libseccomp.ScmpSyscall, action libseccomp.ScmpAction, level int64, optnames []int64) error {
	levelCond, err := libseccomp.MakeCondition(1, libseccomp.CompareEqual, uint64(level))
	if err != nil {
		return fmt.Errorf("seccomp: sockopt level condition: %w", err)
	}
	for _, optname := range optnames {
		optCond, err := libseccomp.MakeCondition(2, libseccomp.CompareEqual, uint64(optname))
		if err != nil {
			return fmt.Errorf("seccomp: sockopt optname condition: %w", err)
		}
		if err := filter.AddRuleConditional(id, action, []libseccomp.ScmpCondition{levelCond, optCond}); err != nil {
			return fmt.Errorf("seccomp: add forbid-sockopt rule for level=%d optname=%d: %w", level, optname, err)
		}
	}
	return nil
}

// addForbidBindListen returns EACCES from bind(2) and listen(2)
// unconditionally, used for children that should never accept
// inbound network connections.
func addForbidBindListen(filter *libseccomp.ScmpFilter) error {
	errnoAction := libseccomp.ActErrno.SetReturnCode(int16(syscall.EACCES))
	for _, name := range []string{"bind", "listen"} {
		id, err := libseccomp.GetSyscallFromName(name)
		if err != nil {
			continue
		}
		if err := filter.AddRule(id, errnoAction); err != nil {
			return fmt.Errorf("seccomp: add forbid-bind rule for %s: %w", name, err)
		}
	}
	return nil
}

// exportBPF converts a libseccomp filter object to a kernel-loadable
// BPF program via a pipe, since libseccomp only knows how to export
// to an io.Writer.
func exportBPF(filter *libseccomp.ScmpFilter) (*syscall.SockFprog, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("seccomp: export pipe: %w", err)
	}
	defer r.Close()

	go func() {
		_ = filter.ExportBPF(w)
		w.Close()
	}()

	bin, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("seccomp: reading exported BPF: %w", err)
	}
	return sockFprogFromBPF(bin)
}
