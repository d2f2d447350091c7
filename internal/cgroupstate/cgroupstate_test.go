package cgroupstate

import "testing"

func TestEmptyStateReportsEmpty(t *testing.T) {
	var s *State
	if !s.Empty() {
		t.Fatal("nil State should be Empty")
	}
	s = &State{}
	if !s.Empty() {
		t.Fatal("zero-value State should be Empty")
	}
}

func TestMemberPathJoinsGroupAndName(t *testing.T) {
	s := &State{GroupPath: "/system.slice/spawnd.service"}
	got := s.MemberPath("/sys/fs/cgroup", "build-42")
	want := "/sys/fs/cgroup/system.slice/spawnd.service/build-42"
	if got != want {
		t.Fatalf("MemberPath = %q, want %q", got, want)
	}
}
