package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/agentsh/yfass/internal/router"
	"github.com/agentsh/yfass/internal/sandbox"
	"github.com/agentsh/yfass/pkg/types"
	"github.com/stretchr/testify/require"
)

var errSpawn = errors.New("spawn failed")

type fakeContents struct{}

func (fakeContents) ContentsDir(name, version string) string { return "/tmp/" + name + "/" + version }

func testRecord(name, version, addr string) types.FunctionRecord {
	return types.FunctionRecord{
		Meta:   types.FunctionMeta{Name: name, Version: version},
		Config: types.FunctionConfig{Addr: addr, Sandbox: types.SandboxConfig{Command: "/bin/true"}},
	}
}

func TestDeployPublishesRouterEntry(t *testing.T) {
	launcher := &sandbox.FakeLauncher{}
	rt := router.New()
	reg := New(launcher, rt, fakeContents{}, nil)

	rec := testRecord("echo", "v1", "127.0.0.1:18080")
	require.NoError(t, reg.Deploy(context.Background(), rec))

	target, ok := rt.Lookup("v1.echo")
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:18080", target.Addr)
	require.True(t, reg.IsRunning("echo", "v1"))
}

func TestDeployTwiceReturnsAlreadyExists(t *testing.T) {
	launcher := &sandbox.FakeLauncher{}
	reg := New(launcher, router.New(), fakeContents{}, nil)
	rec := testRecord("echo", "v1", "127.0.0.1:18080")

	require.NoError(t, reg.Deploy(context.Background(), rec))
	err := reg.Deploy(context.Background(), rec)
	require.Error(t, err)
}

// TestConcurrentDeployExactlyOneWins is invariant 3: two concurrent
// deploy(k) calls result in exactly one running sandbox and one
// AlreadyExists.
func TestConcurrentDeployExactlyOneWins(t *testing.T) {
	launcher := &sandbox.FakeLauncher{}
	reg := New(launcher, router.New(), fakeContents{}, nil)
	rec := testRecord("echo", "v1", "127.0.0.1:18080")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = reg.Deploy(context.Background(), rec)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	require.Equal(t, 1, successes)
	require.True(t, reg.IsRunning("echo", "v1"))
}

func TestKillRemovesRouterEntryAndTerminates(t *testing.T) {
	launcher := &sandbox.FakeLauncher{}
	rt := router.New()
	reg := New(launcher, rt, fakeContents{}, nil)
	rec := testRecord("echo", "v1", "127.0.0.1:18080")
	require.NoError(t, reg.Deploy(context.Background(), rec))

	require.NoError(t, reg.Kill(context.Background(), "echo", "v1"))
	_, ok := rt.Lookup("v1.echo")
	require.False(t, ok)
	require.False(t, reg.IsRunning("echo", "v1"))
}

func TestKillIdempotentOnNotRunning(t *testing.T) {
	reg := New(&sandbox.FakeLauncher{}, router.New(), fakeContents{}, nil)
	require.NoError(t, reg.Kill(context.Background(), "nope", "v1"))
}

func TestDeployLeavesNoRouterEntryOnLaunchFailure(t *testing.T) {
	launcher := &sandbox.FakeLauncher{FailNext: errSpawn}
	rt := router.New()
	reg := New(launcher, rt, fakeContents{}, nil)

	err := reg.Deploy(context.Background(), testRecord("echo", "v1", "127.0.0.1:18080"))
	require.Error(t, err)
	_, ok := rt.Lookup("v1.echo")
	require.False(t, ok)
	require.False(t, reg.IsRunning("echo", "v1"))
}
