// Package systemdscope bootstraps the server's own cgroup placement
// at startup by asking systemd for a delegated transient scope unit.
// It is a thin, startup-only user of
// github.com/coreos/go-systemd/v22/dbus and
// github.com/godbus/dbus/v5 — nothing else in the server touches
// DBus.
package systemdscope

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	sdutil "github.com/coreos/go-systemd/v22/util"
	"github.com/godbus/dbus/v5"
)

// unitExistsRetryWindow bounds how long Bootstrap waits for a
// conflicting unit's removal before giving up and retrying once.
const unitExistsRetryWindow = 2 * time.Second

// Bootstrap asks systemd to place the calling process (pid) into a
// transient, delegated scope named unitName, optionally under slice.
// It returns nil without contacting systemd if the system is not
// running under systemd (sd_booted() false): that case is not treated
// as a startup failure, and no scope is requested.
func Bootstrap(ctx context.Context, unitName, description, slice string, pid int) error {
	if !sdutil.IsRunningSystemd() {
		return nil
	}

	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("systemdscope: connect to systemd: %w", err)
	}
	defer conn.Close()

	if err := startScope(ctx, conn, unitName, description, slice, pid); err != nil {
		if !isUnitExists(err) {
			return err
		}
		if werr := waitUnitRemoved(ctx, conn, unitName, unitExistsRetryWindow); werr != nil {
			return fmt.Errorf("systemdscope: %s still exists after waiting: %w", unitName, werr)
		}
		if err := startScope(ctx, conn, unitName, description, slice, pid); err != nil {
			return fmt.Errorf("systemdscope: retry after UnitRemoved: %w", err)
		}
	}
	return nil
}

func startScope(ctx context.Context, conn *sddbus.Conn, unitName, description, slice string, pid int) error {
	props := []sddbus.Property{
		sddbus.PropDescription(description),
		sddbus.PropPids(uint32(pid)),
		sddbus.Property{Name: "Delegate", Value: dbus.MakeVariant(true)},
	}
	if slice != "" {
		props = append(props, sddbus.PropSlice(slice))
	}

	done := make(chan string, 1)
	if _, err := conn.StartTransientUnitContext(ctx, unitName, "fail", props, done); err != nil {
		return err
	}

	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("systemdscope: StartTransientUnit job result %q", result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isUnitExists reports whether err is the DBus UnitExists error
// systemd returns when a unit of this name is still around (e.g. a
// crashed prior instance that has not yet been garbage collected).
func isUnitExists(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return strings.Contains(dbusErr.Name, "UnitExists")
	}
	return strings.Contains(err.Error(), "UnitExists")
}

// waitUnitRemoved polls systemd until unitName is gone or timeout
// elapses. This wait is a short, one-shot startup affair (at most
// 2s), so a short poll interval is simpler and just as correct as a
// signal subscription here.
func waitUnitRemoved(ctx context.Context, conn *sddbus.Conn, unitName string, timeout time.Duration) error {
	const pollInterval = 100 * time.Millisecond

	deadline := time.Now().Add(timeout)
	for {
		exists, err := unitStillExists(ctx, conn, unitName)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s removal", unitName)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func unitStillExists(ctx context.Context, conn *sddbus.Conn, unitName string) (bool, error) {
	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
	if err != nil {
		return false, err
	}
	for _, u := range units {
		if u.Name == unitName && u.ActiveState != "" && u.ActiveState != "inactive" {
			return true, nil
		}
	}
	return false, nil
}
