// Package config implements the pre-fork credential policy: the
// server's static allow-list of uid/gid a request may run as, and the
// SpawnHook interface a caller can install instead to make that
// decision dynamically.
package config

import "fmt"

// SpawnHook lets an embedder override the default allow-list policy
// with its own verification logic, e.g. checking against an external
// authorization service. When installed, it is consulted instead of
// SpawnConfig.Verify for every EXEC.
type SpawnHook interface {
	// Verify is called once per EXEC, before fork, with the resolved
	// uid/gid the request would run as. A non-nil error rejects the
	// request; the caller synthesizes the 0xff<<8 pseudo-status EXIT
	// and never forks.
	Verify(uid, gid uint32) error
}

// SpawnConfig is the default credential policy: a fixed allow-list of
// uid/gid pairs the server may spawn children as, plus the uid/gid
// used when a request omits both.
type SpawnConfig struct {
	// DefaultUid/DefaultGid are used when a request sets neither.
	DefaultUid, DefaultGid uint32

	// Allowed is the set of uid/gid pairs a request may run as. An
	// empty set means "no restriction" — any uid/gid is permitted,
	// matching a server configured without an explicit allow-list.
	Allowed []UidGidPair
}

// UidGidPair is one entry of the allow-list.
type UidGidPair struct {
	Uid, Gid uint32
}

// Verify enforces the allow-list. Called directly when no SpawnHook
// is installed.
func (c *SpawnConfig) Verify(uid, gid uint32) error {
	if len(c.Allowed) == 0 {
		return nil
	}
	for _, p := range c.Allowed {
		if p.Uid == uid && p.Gid == gid {
			return nil
		}
	}
	return fmt.Errorf("config: uid=%d gid=%d not in allow-list", uid, gid)
}

// Resolve picks the effective uid/gid for a request: the request's own
// if set, otherwise the config default.
func (c *SpawnConfig) Resolve(requestedUid, requestedGid uint32, requestSet bool) (uid, gid uint32) {
	if requestSet {
		return requestedUid, requestedGid
	}
	return c.DefaultUid, c.DefaultGid
}

// Verify dispatches to hook if non-nil, else to cfg. Exactly one of
// the two is ever consulted for a given request.
func Verify(hook SpawnHook, cfg *SpawnConfig, uid, gid uint32) error {
	if hook != nil {
		return hook.Verify(uid, gid)
	}
	return cfg.Verify(uid, gid)
}
