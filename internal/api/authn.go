package api

import (
	"net/http"
	"strings"

	"github.com/agentsh/yfass/internal/auth"
	"github.com/agentsh/yfass/pkg/types"
)

// authenticate resolves the caller's bearer token to a User, honoring the
// ephemeral root token (§6 "Startup side effect") before falling back to
// userstore-issued tokens.
func (a *App) authenticate(r *http.Request) (types.User, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		bearer := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if a.RootToken != "" && bearer == a.RootToken {
			return auth.RootUser(), nil
		}
	}
	return auth.Authenticate(a.Users, header)
}

// requireAuth authenticates the caller and, on failure, writes the
// appropriate error response and returns ok=false.
func (a *App) requireAuth(w http.ResponseWriter, r *http.Request) (types.User, bool) {
	user, err := a.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return types.User{}, false
	}
	return user, true
}

func (a *App) requirePermission(w http.ResponseWriter, user types.User, perm types.Permission) bool {
	if err := auth.RequirePermission(user, perm); err != nil {
		writeErr(w, err)
		return false
	}
	return true
}
