package seccomp

// DefaultDenylist is the fixed set of syscalls that terminate a
// sandboxed child via SCMP_ACT_KILL. Every entry here is dangerous
// regardless of the requested isolation level: kernel module loading,
// kernel-panic/reboot primitives, kernel keyring access, process
// tracing, NUMA memory policy, fanotify, clock adjustment, namespace
// joining outside the one the pipeline itself performs, performance
// monitoring, raw BPF, userfaultfd (a historically exploited primitive
// for defeating ASLR/UAF mitigations), and a handful of legacy
// interfaces (vm86, uselib, ustat, ...) with a long history of kernel
// bugs.
var DefaultDenylist = []string{
	// module loading / kernel control
	"init_module",
	"finit_module",
	"delete_module",
	"create_module",
	"query_module",
	"get_kernel_syms",
	"kexec_load",
	"kexec_file_load",
	"reboot",
	"iopl",
	"ioperm",

	// kernel keyring
	"add_key",
	"request_key",
	"keyctl",

	// tracing and debugging
	"ptrace",
	"process_vm_readv",
	"process_vm_writev",
	"kcmp",
	"name_to_handle_at",

	// fsnotify with unrestricted filesystem-wide visibility
	"fanotify_init",
	"fanotify_mark",

	// NUMA memory policy
	"get_mempolicy",
	"set_mempolicy",
	"mbind",
	"move_pages",

	// time
	"settimeofday",
	"stime",
	"clock_settime",
	"clock_adjtime",
	"adjtimex",

	// namespace joining outside the pipeline's own clone/setns step
	"setns",
	"unshare",

	// performance monitoring / profiling
	"perf_event_open",

	// raw BPF
	"bpf",

	// userfaultfd
	"userfaultfd",

	// swap and mount control outside the pipeline's own mount stage
	"swapon",
	"swapoff",
	"mount",
	"umount2",
	"pivot_root",

	// quota and admin
	"quotactl",
	"acct",

	// system configuration
	"sysfs",
	"_sysctl",
	"nfsservctl",
	"lookup_dcookie",
	"syslog",
	"personality",

	// legacy and unmaintained interfaces with a history of kernel bugs
	"uselib",
	"ustat",
	"vm86",
	"vm86old",
}

// AllRules renders DefaultDenylist as Rule values with ActionKill.
func AllRules() []Rule {
	rules := make([]Rule, 0, len(DefaultDenylist))
	for _, name := range DefaultDenylist {
		rules = append(rules, Rule{Syscall: name, Action: ActionKill})
	}
	return rules
}
