package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/agentsh/yfass/pkg/types"
	"gopkg.in/yaml.v3"
)

// seedUserEntry mirrors the shape of a bootstrap admin user in the
// optional --seed-users YAML file, following the teacher's key-file
// decoding idiom (one YAML list of flat records; no defaults are filled
// in after decode).
type seedUserEntry struct {
	Name   string   `yaml:"name"`
	Groups []string `yaml:"groups"`
}

// LoadSeedUsers decodes a YAML list of bootstrap users from path. Used
// once at startup to pre-populate admin accounts beyond the implicit
// root token, so an operator doesn't have to bootstrap ADMIN users
// through the API using only the root token.
func LoadSeedUsers(path string) ([]types.User, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed users file: %w", err)
	}
	var entries []seedUserEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("parse seed users file: %w", err)
	}
	users := make([]types.User, 0, len(entries))
	for _, e := range entries {
		if err := types.ValidateName(e.Name); err != nil {
			return nil, fmt.Errorf("seed user %q: %w", e.Name, err)
		}
		users = append(users, types.User{Name: e.Name, Groups: e.Groups})
	}
	return users, nil
}

// RootTokenUser is the user name of the implicit ROOT identity behind the
// ephemeral root token (see GenerateRootToken). That token is never
// persisted to the token store: internal/api compares it before falling
// back to Authenticate, so requests bearing it resolve to RootUser
// without a userstore lookup.
const RootTokenUser = "root"

// RootUser is the implicit ROOT identity behind the ephemeral startup
// token; it does not exist in userstore.
func RootUser() types.User {
	return types.User{Name: RootTokenUser, Groups: []string{types.GroupRoot}}
}

// GenerateRootToken mints a fresh 128-bit bearer for the startup root
// token. It is held in memory only by the caller (internal/cli) and printed
// to stdout; it never touches userstore.
func GenerateRootToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate root token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
