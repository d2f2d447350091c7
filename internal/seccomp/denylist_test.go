package seccomp

import "testing"

func TestAllRulesMatchesDenylist(t *testing.T) {
	rules := AllRules()
	if len(rules) != len(DefaultDenylist) {
		t.Fatalf("len(AllRules()) = %d, want %d", len(rules), len(DefaultDenylist))
	}
	for i, r := range rules {
		if r.Syscall != DefaultDenylist[i] {
			t.Fatalf("rules[%d].Syscall = %q, want %q", i, r.Syscall, DefaultDenylist[i])
		}
		if r.Action != ActionKill {
			t.Fatalf("rules[%d].Action = %v, want ActionKill", i, r.Action)
		}
	}
}

func TestDefaultDenylistHasNoDuplicates(t *testing.T) {
	seen := make(map[string]bool, len(DefaultDenylist))
	for _, name := range DefaultDenylist {
		if seen[name] {
			t.Fatalf("duplicate denylist entry %q", name)
		}
		seen[name] = true
	}
}

func TestExtensionsZeroValueAddsNothing(t *testing.T) {
	var ext Extensions
	if ext.ForbidUserNamespace || ext.ForbidMulticast || ext.ForbidBind {
		t.Fatal("zero-value Extensions should enable no extension")
	}
}
