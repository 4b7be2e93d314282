package userstore

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/agentsh/yfass/pkg/types"
	"github.com/stretchr/testify/require"
)

func overwriteTokenForTest(s *Store, tok types.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(s.tokenPath(tok.Bearer), data, 0o600)
}

func TestAddGetModifyRemoveUser(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.AddUser(types.User{Name: "alice", Groups: []string{"permission:read"}}))
	err = s.AddUser(types.User{Name: "alice"})
	require.Error(t, err)

	u, err := s.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, []string{"permission:read"}, u.Groups)

	require.NoError(t, s.ModifyUser(types.User{Name: "alice", Groups: []string{"permission:write"}}))
	u, err = s.GetUser("alice")
	require.NoError(t, err)
	require.Equal(t, []string{"permission:write"}, u.Groups)

	require.NoError(t, s.RemoveUser("alice"))
	_, err = s.GetUser("alice")
	require.Error(t, err)
}

func TestIssueAndLookupToken(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	tok, err := s.IssueToken("alice", 0)
	require.NoError(t, err)
	require.NotEmpty(t, tok.Bearer)
	require.WithinDuration(t, time.Now().Add(types.DefaultTokenDays*24*time.Hour), tok.ExpiresAt, time.Minute)

	got, err := s.LookupToken(tok.Bearer)
	require.NoError(t, err)
	require.Equal(t, "alice", got.User)

	_, err = s.LookupToken("does-not-exist")
	require.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	tok, err := s.IssueToken("alice", 1)
	require.NoError(t, err)

	// Directly overwrite with an already-expired token to avoid sleeping.
	expired := tok
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, overwriteTokenForTest(s, expired))

	_, err = s.LookupToken(tok.Bearer)
	require.Error(t, err)
}
