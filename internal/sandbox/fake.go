package sandbox

import (
	"context"
	"sync"

	"github.com/agentsh/yfass/pkg/types"
)

// FakeLauncher is an in-memory Launcher for registry/router tests that
// must not shell out to bwrap.
type FakeLauncher struct {
	mu      sync.Mutex
	Spawned []types.SandboxConfig
	FailNext error
}

func (f *FakeLauncher) Spawn(ctx context.Context, contentsDir string, cfg types.SandboxConfig) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return nil, err
	}
	f.Spawned = append(f.Spawned, cfg)
	return &FakeHandle{running: true}, nil
}

// FakeHandle is a controllable Handle for tests.
type FakeHandle struct {
	mu      sync.Mutex
	running bool
}

func (h *FakeHandle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *FakeHandle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	return nil
}

// SetRunning lets a test simulate the child exiting on its own (e.g. a
// seccomp-killed process), as in scenario S5.
func (h *FakeHandle) SetRunning(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = v
}

var (
	_ Launcher = (*FakeLauncher)(nil)
	_ Handle   = (*FakeHandle)(nil)
)
