// Package auth implements C7: deriving capabilities from a user's groups
// and checking them against the "+ group" rule of §6's endpoint table.
package auth

import (
	"strings"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/pkg/types"
)

// UserLookup resolves an authenticated bearer to its user and token
// record. Implemented by userstore.Store; kept as an interface here so
// the auth package has no dependency on the persistence layer.
type UserLookup interface {
	LookupToken(bearer string) (types.Token, error)
	GetUser(name string) (types.User, error)
}

// Authenticate resolves an Authorization: Bearer <token> header value to
// the requesting user. Returns Unauthenticated on any failure (§7).
func Authenticate(store UserLookup, authHeader string) (types.User, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return types.User{}, apierr.New(apierr.Unauthenticated, "missing or malformed Authorization header")
	}
	bearer := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	if bearer == "" {
		return types.User{}, apierr.New(apierr.Unauthenticated, "empty bearer token")
	}
	tok, err := store.LookupToken(bearer)
	if err != nil {
		return types.User{}, apierr.Wrap(apierr.Unauthenticated, "invalid or unknown token", err)
	}
	user, err := store.GetUser(tok.User)
	if err != nil {
		return types.User{}, apierr.Wrap(apierr.Unauthenticated, "token user not found", err)
	}
	return user, nil
}

// RequirePermission checks that user carries perm (with ROOT/ADMIN always
// satisfying every permission per §3's capability hierarchy).
func RequirePermission(user types.User, perm types.Permission) error {
	if user.Has(perm) {
		return nil
	}
	return apierr.New(apierr.PermissionDenied, "missing required permission: "+string(perm))
}

// RequirePermissionAndGroup implements the "+ group" rule of §6: either
// membership in requiredGroup, or ADMIN/ROOT, in addition to perm. An
// empty requiredGroup means only the permission check applies.
func RequirePermissionAndGroup(user types.User, perm types.Permission, requiredGroup string) error {
	if err := RequirePermission(user, perm); err != nil {
		return err
	}
	if requiredGroup == "" {
		return nil
	}
	if user.Has(types.PermAdmin) || user.HasGroup(requiredGroup) {
		return nil
	}
	return apierr.New(apierr.PermissionDenied, "not a member of required group: "+requiredGroup)
}

// RequireSelfOrAdmin implements the "self or ADMIN" rule used by
// GET /api/user/get/{name}.
func RequireSelfOrAdmin(requester types.User, target string) error {
	if requester.Name == target || requester.Has(types.PermAdmin) {
		return nil
	}
	return apierr.New(apierr.PermissionDenied, "may only view your own user record")
}

// RequireRoot implements the ROOT-only rule used by DELETE /api/user/remove.
func RequireRoot(user types.User) error {
	if user.IsRoot() {
		return nil
	}
	return apierr.New(apierr.PermissionDenied, "requires ROOT")
}
