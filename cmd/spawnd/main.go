// Command spawnd is the privileged spawn server: it adopts an
// already-connected control socket handed to it at startup,
// fork-execs isolated children on behalf of connected clients, and
// reports their exit status back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/JevatterTod/spawnd/internal/cgroupstate"
	"github.com/JevatterTod/spawnd/internal/conn"
	"github.com/JevatterTod/spawnd/internal/config"
	"github.com/JevatterTod/spawnd/internal/isolate"
	"github.com/JevatterTod/spawnd/internal/registry"
	"github.com/JevatterTod/spawnd/internal/seccomp"
	"github.com/JevatterTod/spawnd/internal/systemdscope"
)

var (
	initialFd    int
	defaultPath  string
	cgroupRoot   string
	unitName     string
	unitSlice    string
	defaultUid   uint
	defaultGid   uint
	jsonLog      bool
)

func init() {
	flag.IntVar(&initialFd, "fd", 3, "the already-connected control socket handed to this process at startup")
	flag.StringVar(&defaultPath, "default-path", "/usr/local/bin:/usr/bin:/bin", "PATH forced onto a child that sets none")
	flag.StringVar(&cgroupRoot, "cgroup-root", "/sys/fs/cgroup", "cgroup v2 mountpoint")
	flag.StringVar(&unitName, "unit-name", "spawnd.scope", "transient systemd scope name to request at startup")
	flag.StringVar(&unitSlice, "unit-slice", "", "optional systemd slice to place the scope under")
	flag.UintVar(&defaultUid, "default-uid", 65534, "uid used when a request sets none")
	flag.UintVar(&defaultGid, "default-gid", 65534, "gid used when a request sets none")
	flag.BoolVar(&jsonLog, "json-log", false, "emit structured logs as JSON instead of text")
}

func main() {
	flag.Parse()

	logger := newLogger()
	if err := run(logger); err != nil {
		logger.Error("spawnd exiting", "err", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonLog {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cgroupState := &cgroupstate.State{}
	if err := systemdscope.Bootstrap(ctx, unitName, "spawnd privileged spawn server", unitSlice, os.Getpid()); err != nil {
		logger.Warn("systemd scope bootstrap failed; cgroup support disabled", "err", err)
	} else if loaded, err := cgroupstate.Load(); err != nil {
		logger.Warn("failed to read cgroup membership; cgroup support disabled", "err", err)
	} else {
		cgroupState = loaded
	}

	reg := registry.New()
	defer reg.Close()

	// A child's cgroup lives under this process's own delegated
	// subtree, not directly under the mountpoint: isolate.Options.CgroupRoot
	// is joined with p.Cgroup.Name by prepare_linux.go, so GroupPath has
	// to be folded in here rather than left for the isolation pipeline
	// to discover on its own.
	isolateCgroupRoot := cgroupState.MemberPath(cgroupRoot, "")

	srv, err := conn.NewServer(conn.ServerConfig{
		Registry:    reg,
		CgroupState: cgroupState,
		SpawnConfig: &config.SpawnConfig{
			DefaultUid: uint32(defaultUid),
			DefaultGid: uint32(defaultGid),
		},
		IsolateOpts: isolate.Options{
			DefaultPath: defaultPath,
			CgroupRoot:  isolateCgroupRoot,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("spawnd: new server: %w", err)
	}
	defer srv.Close()

	if err := srv.Adopt(initialFd); err != nil {
		return fmt.Errorf("spawnd: adopt initial_fd: %w", err)
	}

	logger.Debug("seccomp denylist installed", "syscalls", seccomp.DescribeDenylist())
	logger.Info("spawnd ready", "initial_fd", initialFd, "cgroup", !cgroupState.Empty())
	return srv.Run()
}
