//go:build linux && !cgo

package sandbox

import (
	"context"
	"log/slog"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/pkg/types"
)

// BwrapLauncher requires cgo (libseccomp-golang) to compile syscall
// filters. A cgo-disabled Linux build still links so `go build` without
// CGO_ENABLED=1 doesn't fail outright, but every spawn attempt reports
// SandboxSpawnError.
type BwrapLauncher struct{}

func NewBwrapLauncher(bwrapPath string, log *slog.Logger) (*BwrapLauncher, error) {
	return nil, apierr.New(apierr.Internal, "this build was compiled with CGO_ENABLED=0; rebuild with cgo to enable the sandbox launcher")
}

func (l *BwrapLauncher) Spawn(ctx context.Context, contentsDir string, cfg types.SandboxConfig) (Handle, error) {
	return nil, apierr.New(apierr.SandboxSpawnError, "sandbox launcher unavailable in this build (CGO_ENABLED=0)")
}

var _ Launcher = (*BwrapLauncher)(nil)
