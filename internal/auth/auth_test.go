package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/agentsh/yfass/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeUserLookup struct {
	tokens map[string]types.Token
	users  map[string]types.User
}

func (f fakeUserLookup) LookupToken(bearer string) (types.Token, error) {
	tok, ok := f.tokens[bearer]
	if !ok {
		return types.Token{}, errUnauth
	}
	return tok, nil
}

func (f fakeUserLookup) GetUser(name string) (types.User, error) {
	u, ok := f.users[name]
	if !ok {
		return types.User{}, errUnauth
	}
	return u, nil
}

var errUnauth = errors.New("unauthenticated")

func newFake() fakeUserLookup {
	return fakeUserLookup{
		tokens: map[string]types.Token{
			"good-token": {Bearer: "good-token", User: "alice", ExpiresAt: time.Now().Add(time.Hour)},
		},
		users: map[string]types.User{
			"alice": {Name: "alice", Groups: []string{"permission:execute"}},
		},
	}
}

func TestAuthenticateMissingHeader(t *testing.T) {
	_, err := Authenticate(newFake(), "")
	require.Error(t, err)
}

func TestAuthenticateBadBearer(t *testing.T) {
	_, err := Authenticate(newFake(), "Bearer nope")
	require.Error(t, err)
}

func TestAuthenticateSuccess(t *testing.T) {
	u, err := Authenticate(newFake(), "Bearer good-token")
	require.NoError(t, err)
	require.Equal(t, "alice", u.Name)
}

func TestRequirePermissionAndGroup(t *testing.T) {
	u := types.User{Name: "u1", Groups: []string{"permission:execute"}}
	require.NoError(t, RequirePermissionAndGroup(u, types.PermExecute, ""))
	require.Error(t, RequirePermissionAndGroup(u, types.PermWrite, ""))
	require.Error(t, RequirePermissionAndGroup(u, types.PermExecute, "team-a"))

	member := types.User{Name: "u2", Groups: []string{"permission:execute", "custom:team-a"}}
	require.NoError(t, RequirePermissionAndGroup(member, types.PermExecute, "custom:team-a"))

	admin := types.User{Name: "root-ish", Groups: []string{"permission:admin"}}
	require.NoError(t, RequirePermissionAndGroup(admin, types.PermExecute, "custom:team-a"))
}

func TestRequireRootAndSelfOrAdmin(t *testing.T) {
	root := types.User{Name: "r", Groups: []string{types.GroupRoot}}
	require.NoError(t, RequireRoot(root))
	require.Error(t, RequireRoot(types.User{Name: "not-root"}))

	require.NoError(t, RequireSelfOrAdmin(types.User{Name: "alice"}, "alice"))
	require.Error(t, RequireSelfOrAdmin(types.User{Name: "alice"}, "bob"))
	admin := types.User{Name: "admin1", Groups: []string{"permission:admin"}}
	require.NoError(t, RequireSelfOrAdmin(admin, "bob"))
}
