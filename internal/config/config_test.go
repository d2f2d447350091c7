package config

import "testing"

func TestVerifyEmptyAllowListPermitsAnything(t *testing.T) {
	cfg := &SpawnConfig{}
	if err := cfg.Verify(1000, 1000); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsOutsideAllowList(t *testing.T) {
	cfg := &SpawnConfig{Allowed: []UidGidPair{{Uid: 1000, Gid: 1000}}}
	if err := cfg.Verify(0, 0); err == nil {
		t.Fatal("expected rejection for uid 0 outside allow-list")
	}
	if err := cfg.Verify(1000, 1000); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

type stubHook struct {
	called bool
	err    error
}

func (h *stubHook) Verify(uid, gid uint32) error {
	h.called = true
	return h.err
}

func TestVerifyPrefersHookOverConfig(t *testing.T) {
	cfg := &SpawnConfig{Allowed: []UidGidPair{{Uid: 1000, Gid: 1000}}}
	hook := &stubHook{}
	if err := Verify(hook, cfg, 0, 0); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !hook.called {
		t.Fatal("hook should have been consulted instead of cfg")
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	cfg := &SpawnConfig{DefaultUid: 65534, DefaultGid: 65534}
	uid, gid := cfg.Resolve(1000, 1000, false)
	if uid != 65534 || gid != 65534 {
		t.Fatalf("Resolve = (%d,%d), want defaults", uid, gid)
	}
	uid, gid = cfg.Resolve(1000, 1000, true)
	if uid != 1000 || gid != 1000 {
		t.Fatalf("Resolve = (%d,%d), want request values", uid, gid)
	}
}
