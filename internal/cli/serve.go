package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentsh/yfass/internal/api"
	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/internal/auth"
	"github.com/agentsh/yfass/internal/functionstore"
	"github.com/agentsh/yfass/internal/proxy"
	"github.com/agentsh/yfass/internal/registry"
	"github.com/agentsh/yfass/internal/router"
	"github.com/agentsh/yfass/internal/sandbox"
	"github.com/agentsh/yfass/internal/userstore"
	"github.com/spf13/cobra"
)

// serveOptions mirrors the flags of the CLI contract in §6.
type serveOptions struct {
	addr         string
	root         string
	hostname     string
	bwrapPath    string
	tokenTTLDays int
	seedUsers    string
}

// shutdownGrace bounds how long runServe waits for in-flight proxy
// connections to drain on SIGINT/SIGTERM before the listener is closed
// out from under them.
const shutdownGrace = 10 * time.Second

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := slog.Default()

	if strings.TrimSpace(opts.hostname) == "" {
		return NewExitError(1, "yfass: --hostname is required")
	}

	if err := os.MkdirAll(opts.root, 0o755); err != nil {
		return NewExitError(1, fmt.Sprintf("yfass: invalid --root %q: %v", opts.root, err))
	}

	launcher, err := sandbox.NewBwrapLauncher(opts.bwrapPath, log)
	if err != nil {
		return NewExitError(1, fmt.Sprintf("yfass: %v", err))
	}
	var launcherIface sandbox.Launcher = launcher
	if closer, ok := launcherIface.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	rt := router.New()
	users, err := userstore.NewWithDefaultTTL(opts.root, opts.tokenTTLDays)
	if err != nil {
		return NewExitError(1, fmt.Sprintf("yfass: %v", err))
	}

	var reg *registry.Registry
	functions, err := functionstore.New(opts.root, runningCheckerFunc(func(name, version string) bool {
		if reg == nil {
			return false
		}
		return reg.IsRunning(name, version)
	}))
	if err != nil {
		return NewExitError(1, fmt.Sprintf("yfass: %v", err))
	}
	reg = registry.New(launcher, rt, functions, log)

	if opts.seedUsers != "" {
		seeded, err := auth.LoadSeedUsers(opts.seedUsers)
		if err != nil {
			return NewExitError(1, fmt.Sprintf("yfass: %v", err))
		}
		for _, u := range seeded {
			if err := users.AddUser(u); err != nil {
				if e, ok := apierr.As(err); !ok || e.Kind != apierr.AlreadyExists {
					return NewExitError(1, fmt.Sprintf("yfass: seed user %q: %v", u.Name, err))
				}
			}
		}
	}

	rootToken, err := auth.GenerateRootToken()
	if err != nil {
		return NewExitError(1, fmt.Sprintf("yfass: %v", err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), rootToken)

	app := api.New(functions, reg, users, rootToken, log)
	px := proxy.New(rt, log)
	handler := topLevelHandler(opts.hostname, app.Router(), px)

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return NewExitError(1, fmt.Sprintf("yfass: bind %s: %v", opts.addr, err))
	}

	server := &http.Server{Handler: handler}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ln) }()

	log.Info("yfass listening", "addr", opts.addr, "root", opts.root, "hostname", opts.hostname)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return NewExitError(1, fmt.Sprintf("yfass: graceful shutdown: %v", err))
		}
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return NewExitError(1, fmt.Sprintf("yfass: %v", err))
		}
		return nil
	}
}

// runningCheckerFunc adapts a closure to functionstore.RunningChecker,
// breaking the construction-order cycle: the store needs a checker at
// New time but the registry needs the store as its ContentsResolver, so
// the closure captures reg by reference and is only ever called after
// registry.New has run.
type runningCheckerFunc func(name, version string) bool

func (f runningCheckerFunc) IsRunning(name, version string) bool { return f(name, version) }

// topLevelHandler dispatches by Host header between the management API
// (the base hostname) and the function proxy (every virtual host under
// it), per §6.
func topLevelHandler(baseHostname string, mgmt http.Handler, px http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if strings.EqualFold(host, baseHostname) {
			mgmt.ServeHTTP(w, r)
			return
		}
		px.ServeHTTP(w, r)
	})
}
