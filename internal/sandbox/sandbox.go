// Package sandbox defines the platform-abstract capability set of C2
// (§9 "Platform abstraction"): spawn a config into an isolated child and
// get back a handle to observe and terminate it. The Linux implementation
// wraps the external bwrap tool; other platforms are stubbed.
package sandbox

import (
	"context"

	"github.com/agentsh/yfass/pkg/types"
)

// Handle is a running (or exited) sandboxed process.
type Handle interface {
	// IsRunning reflects last-observed status; it never blocks on a
	// zombie and never re-execs a wait.
	IsRunning() bool
	// Terminate sends a graceful signal, waits up to a bounded deadline,
	// then force-kills and reaps. Idempotent.
	Terminate(ctx context.Context) error
}

// Launcher spawns SandboxConfigs into Handles. It is the seam the
// registry (C4) depends on instead of talking to bwrap/exec directly, so
// tests can substitute a fake.
type Launcher interface {
	Spawn(ctx context.Context, contentsDir string, cfg types.SandboxConfig) (Handle, error)
}

// SpawnCategory subcategorizes a SandboxSpawnError (§4.2).
type SpawnCategory string

const (
	CategoryFDSetup     SpawnCategory = "fd_setup"
	CategoryBwrapMissing SpawnCategory = "bwrap_missing"
	CategoryIO          SpawnCategory = "io"
)
