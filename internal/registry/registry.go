// Package registry implements C4: the in-memory table of deployed
// (running) functions, owning their sandbox handles and enforcing
// at-most-one running instance per key (§4.4).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/internal/router"
	"github.com/agentsh/yfass/internal/sandbox"
	"github.com/agentsh/yfass/pkg/types"
)

// runtimeKey is the (name, version) pair a RuntimeEntry is keyed by.
type runtimeKey struct{ name, version string }

// RuntimeEntry tracks a single running sandbox.
type RuntimeEntry struct {
	Handle          sandbox.Handle
	PublishedPrefix string
	Addr            string
}

// ContentsResolver gives the registry the host path of a function's
// extracted contents without importing functionstore directly (which
// itself depends on registry.Registry as its RunningChecker — going the
// other way would create a cycle).
type ContentsResolver interface {
	ContentsDir(name, version string) string
}

// Registry is the coordinator-guarded (§5) runtime table.
type Registry struct {
	launcher sandbox.Launcher
	router   *router.Router
	contents ContentsResolver
	log      *slog.Logger

	mu      sync.Mutex
	entries map[runtimeKey]*RuntimeEntry
}

func New(launcher sandbox.Launcher, rt *router.Router, contents ContentsResolver, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		launcher: launcher,
		router:   rt,
		contents: contents,
		log:      log.With("component", "registry"),
		entries:  make(map[runtimeKey]*RuntimeEntry),
	}
}

// IsRunning implements functionstore.RunningChecker.
func (r *Registry) IsRunning(name, version string) bool {
	r.mu.Lock()
	entry, ok := r.entries[runtimeKey{name, version}]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return entry.Handle.IsRunning()
}

// Deploy spawns a sandbox for record and publishes its routing entry.
// Rejects if a running sandbox is already tracked for this key (invariant 5); if
// the launcher fails, no router entry is left behind (§4.4 "Rolls back").
//
// The whole operation runs under r.mu, the same single-coordinator
// pattern functionstore.Store uses for its mutations (§5): releasing the
// lock between the existence check and the spawn would let two
// concurrent Deploy(k) calls both pass the check and both spawn,
// violating invariant 3 ("exactly one running sandbox and one
// AlreadyExists" for a race). Serializing deploys across different keys
// too is the price of that guarantee.
func (r *Registry) Deploy(ctx context.Context, record types.FunctionRecord) error {
	key := runtimeKey{record.Meta.Name, record.Meta.Version}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok && existing.Handle.IsRunning() {
		return apierr.New(apierr.AlreadyExists, fmt.Sprintf("%s@%s is already deployed", key.name, key.version))
	}

	contentsDir := r.contents.ContentsDir(record.Meta.Name, record.Meta.Version)
	handle, err := r.launcher.Spawn(ctx, contentsDir, record.Config.Sandbox)
	if err != nil {
		return err
	}

	prefix := record.Meta.Prefix()
	if err := r.router.Publish(prefix, record.Config.Addr); err != nil {
		_ = handle.Terminate(ctx)
		return apierr.Wrap(apierr.Internal, "publish router entry", err)
	}

	r.entries[key] = &RuntimeEntry{Handle: handle, PublishedPrefix: prefix, Addr: record.Config.Addr}
	r.log.Info("deployed", "name", key.name, "version", key.version, "prefix", prefix, "addr", record.Config.Addr)
	return nil
}

// Kill removes the router entry first, then terminates the handle, per
// §4.4's ordering (router coherence over graceful drain). Idempotent on
// not-running (invariant 10).
//
// Held under r.mu like Deploy: releasing the coordinator before calling
// router.Remove let a concurrent Deploy of a different key interleave
// its Publish with this Remove. The Router now also serializes its own
// Publish/Remove internally, so the two updates can no longer clobber
// each other's snapshot either way, but keeping the whole operation
// under the single coordinator matches Deploy and keeps registry state
// (r.entries) and router state changing together.
func (r *Registry) Kill(ctx context.Context, name, version string) error {
	key := runtimeKey{name, version}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return nil
	}
	delete(r.entries, key)

	r.router.Remove(entry.PublishedPrefix)
	if err := entry.Handle.Terminate(ctx); err != nil {
		return apierr.Wrap(apierr.Internal, "terminate sandbox", err)
	}
	r.log.Info("killed", "name", name, "version", version)
	return nil
}

// Status reports whether the sandbox for (name, version) is currently
// running, at the instant of the call (§4.4).
func (r *Registry) Status(name, version string) bool {
	return r.IsRunning(name, version)
}
