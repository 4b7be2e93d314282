//go:build !linux

package sandbox

import (
	"context"
	"log/slog"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/pkg/types"
)

// BwrapLauncher is stubbed on non-Linux targets: bwrap and the classic
// BPF/seccomp filter format it consumes are Linux-only. Portability is
// achieved only by keeping this behind the abstract Launcher interface
// (§9 "Platform abstraction"); a real implementation for another OS would
// live in a sibling file with its own build tag.
type BwrapLauncher struct{}

func NewBwrapLauncher(bwrapPath string, log *slog.Logger) (*BwrapLauncher, error) {
	return nil, apierr.New(apierr.Internal, "the sandbox launcher is only implemented on linux")
}

func (l *BwrapLauncher) Spawn(ctx context.Context, contentsDir string, cfg types.SandboxConfig) (Handle, error) {
	return nil, apierr.New(apierr.SandboxSpawnError, "sandboxing is not supported on this platform")
}

var _ Launcher = (*BwrapLauncher)(nil)
