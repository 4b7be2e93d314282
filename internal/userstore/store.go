// Package userstore is the other half of C9: filesystem-backed
// persistence of users and tokens under <root>/users and <root>/tokens
// (§4.3), and the token issuance/lookup surface C7 sits on top of.
package userstore

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/pkg/types"
)

// Store persists users and tokens as one JSON file per entity.
type Store struct {
	root        string
	defaultDays int
	mu          sync.Mutex
}

// New opens a Store rooted at root, using types.DefaultTokenDays as the
// token lifetime whenever IssueToken is called without an explicit
// duration. Use NewWithDefaultTTL to override that default (the CLI's
// --token-ttl-days flag).
func New(root string) (*Store, error) {
	return NewWithDefaultTTL(root, types.DefaultTokenDays)
}

func NewWithDefaultTTL(root string, defaultDays int) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "users"), 0o755); err != nil {
		return nil, fmt.Errorf("create users dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "tokens"), 0o755); err != nil {
		return nil, fmt.Errorf("create tokens dir: %w", err)
	}
	if defaultDays <= 0 {
		defaultDays = types.DefaultTokenDays
	}
	return &Store{root: root, defaultDays: defaultDays}, nil
}

func (s *Store) userPath(name string) string {
	return filepath.Join(s.root, "users", name+".json")
}

func (s *Store) tokenPath(bearer string) string {
	return filepath.Join(s.root, "tokens", bearer+".json")
}

// AddUser creates a new user. name must be unique.
func (s *Store) AddUser(u types.User) error {
	if err := types.ValidateName(u.Name); err != nil {
		return apierr.Wrap(apierr.BadRequest, "invalid user name", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.userPath(u.Name)); err == nil {
		return apierr.New(apierr.AlreadyExists, fmt.Sprintf("user %q already exists", u.Name))
	}
	return s.writeUserLocked(u)
}

// GetUser returns the persisted user record.
func (s *Store) GetUser(name string) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readUserLocked(name)
}

// ModifyUser replaces an existing user's groups (name is immutable, §3).
func (s *Store) ModifyUser(u types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.readUserLocked(u.Name); err != nil {
		return err
	}
	return s.writeUserLocked(u)
}

// RemoveUser deletes a user record. Any outstanding tokens for that user
// remain valid until they naturally expire; the spec does not require
// cascading token revocation on user removal.
func (s *Store) RemoveUser(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.readUserLocked(name); err != nil {
		return err
	}
	if err := os.Remove(s.userPath(name)); err != nil {
		return apierr.Wrap(apierr.Internal, "remove user", err)
	}
	return nil
}

func (s *Store) readUserLocked(name string) (types.User, error) {
	data, err := os.ReadFile(s.userPath(name))
	if os.IsNotExist(err) {
		return types.User{}, apierr.New(apierr.NotFound, fmt.Sprintf("user %q not found", name))
	}
	if err != nil {
		return types.User{}, apierr.Wrap(apierr.Internal, "read user", err)
	}
	var u types.User
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		return types.User{}, apierr.Wrap(apierr.Internal, "decode user", err)
	}
	return u, nil
}

func (s *Store) writeUserLocked(u types.User) error {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.Internal, "marshal user", err)
	}
	tmp := s.userPath(u.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierr.Wrap(apierr.Internal, "write user", err)
	}
	if err := os.Rename(tmp, s.userPath(u.Name)); err != nil {
		_ = os.Remove(tmp)
		return apierr.Wrap(apierr.Internal, "publish user", err)
	}
	return nil
}

// IssueToken mints a new bearer token for user, valid for durationDays
// (defaulting to the store's default lifetime, see NewWithDefaultTTL),
// and persists it.
func (s *Store) IssueToken(user string, durationDays int) (types.Token, error) {
	if durationDays <= 0 {
		durationDays = s.defaultDays
	}
	bearer, err := randomBearer()
	if err != nil {
		return types.Token{}, apierr.Wrap(apierr.Internal, "generate token", err)
	}
	tok := types.Token{
		Bearer:    bearer,
		User:      user,
		ExpiresAt: time.Now().Add(time.Duration(durationDays) * 24 * time.Hour),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return types.Token{}, apierr.Wrap(apierr.Internal, "marshal token", err)
	}
	if err := os.WriteFile(s.tokenPath(bearer), data, 0o600); err != nil {
		return types.Token{}, apierr.Wrap(apierr.Internal, "write token", err)
	}
	return tok, nil
}

// LookupToken resolves a bearer to its token record. Returns
// Unauthenticated if the token does not exist or has expired (§7).
func (s *Store) LookupToken(bearer string) (types.Token, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.tokenPath(bearer))
	s.mu.Unlock()
	if err != nil {
		return types.Token{}, apierr.New(apierr.Unauthenticated, "invalid or unknown token")
	}
	var tok types.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return types.Token{}, apierr.Wrap(apierr.Internal, "decode token", err)
	}
	if tok.Expired(time.Now()) {
		return types.Token{}, apierr.New(apierr.Unauthenticated, "token expired")
	}
	return tok, nil
}

func randomBearer() (string, error) {
	// 128 bits of entropy, per §3.
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
