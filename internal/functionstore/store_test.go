package functionstore

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/pkg/types"
	"github.com/stretchr/testify/require"
)

func buildTestTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, contents := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(contents))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

type alwaysNotRunning struct{}

func (alwaysNotRunning) IsRunning(name, version string) bool { return false }

type stubRunning struct{ running bool }

func (s stubRunning) IsRunning(name, version string) bool { return s.running }

func TestUploadThenGetRoundTrips(t *testing.T) {
	s, err := New(t.TempDir(), alwaysNotRunning{})
	require.NoError(t, err)

	key := types.FunctionKey{Name: "echo", Version: "v1"}
	body := buildTestTar(t, map[string]string{"main.sh": "echo hi\n"})
	cfg := types.FunctionConfig{Addr: "127.0.0.1:9000"}

	require.NoError(t, s.Upload(key, "application/x-tar", bytes.NewReader(body), cfg))

	record, err := s.Get(key)
	require.NoError(t, err)
	require.Equal(t, "echo", record.Meta.Name)
	require.Equal(t, "v1", record.Meta.Version)
	require.Equal(t, "127.0.0.1:9000", record.Config.Addr)
}

// TestUploadRejectsDuplicate covers invariant 1: (name, version) is unique.
func TestUploadRejectsDuplicate(t *testing.T) {
	s, err := New(t.TempDir(), alwaysNotRunning{})
	require.NoError(t, err)

	key := types.FunctionKey{Name: "echo", Version: "v1"}
	body := buildTestTar(t, map[string]string{"main.sh": "echo hi\n"})

	require.NoError(t, s.Upload(key, "application/x-tar", bytes.NewReader(body), types.FunctionConfig{}))
	err = s.Upload(key, "application/x-tar", bytes.NewReader(buildTestTar(t, map[string]string{"main.sh": "echo hi\n"})), types.FunctionConfig{})
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.AlreadyExists, e.Kind)
}

func TestUploadRejectsPathTraversal(t *testing.T) {
	s, err := New(t.TempDir(), alwaysNotRunning{})
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Mode: 0o644, Size: 0}))
	require.NoError(t, tw.Close())

	key := types.FunctionKey{Name: "evil", Version: "v1"}
	err = s.Upload(key, "application/x-tar", &buf, types.FunctionConfig{})
	require.Error(t, err)
}

func TestOverrideRejectsWhileRunning(t *testing.T) {
	running := &stubRunning{}
	s, err := New(t.TempDir(), running)
	require.NoError(t, err)

	key := types.FunctionKey{Name: "echo", Version: "v1"}
	require.NoError(t, s.Upload(key, "application/x-tar", bytes.NewReader(buildTestTar(t, map[string]string{"a": "b"})), types.FunctionConfig{}))

	running.running = true
	err = s.Override(key, types.FunctionConfig{Addr: "x"})
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.Conflict, e.Kind)
}

// TestAliasResolvesAndRejectsCollision covers invariant 2.
func TestAliasResolvesAndRejectsCollision(t *testing.T) {
	s, err := New(t.TempDir(), alwaysNotRunning{})
	require.NoError(t, err)

	key := types.FunctionKey{Name: "echo", Version: "v1"}
	require.NoError(t, s.Upload(key, "application/x-tar", bytes.NewReader(buildTestTar(t, map[string]string{"a": "b"})), types.FunctionConfig{}))

	alias := "prod"
	require.NoError(t, s.Alias(key, &alias))

	record, err := s.Get(types.FunctionKey{Alias: "prod"})
	require.NoError(t, err)
	require.Equal(t, "echo", record.Meta.Name)
	require.Equal(t, "v1", record.Meta.Version)

	// Collides with the function name itself.
	err = s.Alias(key, &key.Name)
	require.Error(t, err)

	// A second version cannot steal the same alias without it being cleared first.
	key2 := types.FunctionKey{Name: "echo", Version: "v2"}
	require.NoError(t, s.Upload(key2, "application/x-tar", bytes.NewReader(buildTestTar(t, map[string]string{"a": "b"})), types.FunctionConfig{}))
	err = s.Alias(key2, &alias)
	require.Error(t, err)
}

func TestRemoveRejectsWhileRunningThenSucceeds(t *testing.T) {
	running := &stubRunning{}
	s, err := New(t.TempDir(), running)
	require.NoError(t, err)

	key := types.FunctionKey{Name: "echo", Version: "v1"}
	require.NoError(t, s.Upload(key, "application/x-tar", bytes.NewReader(buildTestTar(t, map[string]string{"a": "b"})), types.FunctionConfig{}))

	running.running = true
	require.Error(t, s.Remove(key))

	running.running = false
	require.NoError(t, s.Remove(key))

	_, err = s.Get(key)
	require.Error(t, err)
}

func TestGetUnknownKeyReturnsNotFound(t *testing.T) {
	s, err := New(t.TempDir(), alwaysNotRunning{})
	require.NoError(t, err)

	_, err = s.Get(types.FunctionKey{Name: "nope", Version: "v1"})
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.NotFound, e.Kind)
}
