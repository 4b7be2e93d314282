// Package functionstore implements C3: the on-disk mapping from
// name@version and aliases to extracted function contents and
// configuration (§4.3). It is also half of C9 (the function side of
// filesystem-backed persistence); internal/userstore covers the other
// half (users and tokens).
package functionstore

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/pkg/types"
	"github.com/google/uuid"
)

// RunningChecker lets the store ask whether a (name, version) currently
// has a live sandbox, without importing the registry package directly
// (that would create an import cycle: registry needs the store to resolve
// contents directories on deploy). internal/cli wires the real
// registry.Registry in; tests can supply a stub.
type RunningChecker interface {
	IsRunning(name, version string) bool
}

// Store is the coordinator-guarded (§5) on-disk function store.
type Store struct {
	root string

	mu      sync.Mutex // the single coordinator serializing all key mutations
	running RunningChecker
}

// New opens a Store rooted at <root>/functions. The directory is created
// if absent.
func New(root string, running RunningChecker) (*Store, error) {
	fnRoot := filepath.Join(root, "functions")
	if err := os.MkdirAll(fnRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create functions root: %w", err)
	}
	return &Store{root: root, running: running}, nil
}

func (s *Store) functionsRoot() string { return filepath.Join(s.root, "functions") }
func (s *Store) nameDir(name string) string { return filepath.Join(s.functionsRoot(), name) }
func (s *Store) versionDir(name, version string) string {
	return filepath.Join(s.nameDir(name), version)
}
func (s *Store) contentsDir(name, version string) string {
	return filepath.Join(s.versionDir(name, version), "contents")
}
func (s *Store) configPath(name, version string) string {
	return filepath.Join(s.versionDir(name, version), "config.json")
}
func (s *Store) aliasSentinelPath(name, version string) string {
	return filepath.Join(s.versionDir(name, version), "alias")
}
func (s *Store) aliasesDir(name string) string {
	return filepath.Join(s.nameDir(name), "aliases")
}
func (s *Store) aliasLink(name, alias string) string {
	return filepath.Join(s.aliasesDir(name), alias)
}

// resolveLocked resolves a FunctionKey to a concrete (name, version),
// following an alias symlink if necessary. Caller must hold s.mu.
func (s *Store) resolveLocked(key types.FunctionKey) (name, version string, err error) {
	if !key.IsAlias() {
		return key.Name, key.Version, nil
	}
	// An alias is a bare name; every function directory owns its own
	// aliases/ subtree, so we must search across names.
	entries, err := os.ReadDir(s.functionsRoot())
	if err != nil {
		return "", "", apierr.Wrap(apierr.Internal, "list functions", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		link := s.aliasLink(e.Name(), key.Alias)
		target, err := os.Readlink(link)
		if err != nil {
			continue
		}
		return e.Name(), filepath.Base(target), nil
	}
	return "", "", apierr.New(apierr.NotFound, fmt.Sprintf("alias %q not found", key.Alias))
}

func (s *Store) exists(name, version string) bool {
	_, err := os.Stat(s.versionDir(name, version))
	return err == nil
}

// aliasOwnerLocked scans every function's aliases/ subtree for alias,
// returning the owning function name if found. Aliases must be globally
// unique across all function names (§4.3), not just within the target
// function's own alias namespace, so a plain os.Lstat scoped to one
// name can't detect a different function already holding the alias.
// Caller must hold s.mu.
func (s *Store) aliasOwnerLocked(alias string) (owner string, found bool) {
	entries, err := os.ReadDir(s.functionsRoot())
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Lstat(s.aliasLink(e.Name(), alias)); err == nil {
			return e.Name(), true
		}
	}
	return "", false
}

// Upload decodes a tar (optionally gzipped) stream into a staging
// directory and atomically renames it into place. Rejects a duplicate
// (name, version) per invariant 1.
func (s *Store) Upload(key types.FunctionKey, contentType string, body io.Reader, config types.FunctionConfig) error {
	if key.IsAlias() {
		return apierr.New(apierr.BadRequest, "upload requires name@version, not an alias")
	}
	if err := types.ValidateSegment(key.Name); err != nil {
		return apierr.Wrap(apierr.BadRequest, "invalid name", err)
	}
	if err := types.ValidateSegment(key.Version); err != nil {
		return apierr.Wrap(apierr.BadRequest, "invalid version", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(key.Name, key.Version) {
		return apierr.New(apierr.AlreadyExists, fmt.Sprintf("%s already exists", key))
	}

	if err := os.MkdirAll(s.nameDir(key.Name), 0o755); err != nil {
		return apierr.Wrap(apierr.Internal, "create function dir", err)
	}

	staging := filepath.Join(s.nameDir(key.Name), ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return apierr.Wrap(apierr.Internal, "create staging dir", err)
	}
	cleanupStaging := func() { _ = os.RemoveAll(staging) }

	contentsStaging := filepath.Join(staging, "contents")
	if err := os.MkdirAll(contentsStaging, 0o755); err != nil {
		cleanupStaging()
		return apierr.Wrap(apierr.Internal, "create contents dir", err)
	}

	reader := body
	if isGzip(contentType) {
		gz, err := gzip.NewReader(body)
		if err != nil {
			cleanupStaging()
			return apierr.Wrap(apierr.BadRequest, "invalid gzip stream", err)
		}
		defer gz.Close()
		reader = gz
	}
	if err := extractTar(reader, contentsStaging); err != nil {
		cleanupStaging()
		return apierr.Wrap(apierr.BadRequest, "invalid tar stream", err)
	}

	cfgBytes, err := strictMarshalConfig(config)
	if err != nil {
		cleanupStaging()
		return apierr.Wrap(apierr.Internal, "marshal config", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "config.json"), cfgBytes, 0o644); err != nil {
		cleanupStaging()
		return apierr.Wrap(apierr.Internal, "write config", err)
	}

	dst := s.versionDir(key.Name, key.Version)
	if err := os.Rename(staging, dst); err != nil {
		cleanupStaging()
		return apierr.Wrap(apierr.Internal, "publish function", err)
	}
	return nil
}

// Get resolves key (following an alias if needed) and returns the record.
func (s *Store) Get(key types.FunctionKey) (types.FunctionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key types.FunctionKey) (types.FunctionRecord, error) {
	name, version, err := s.resolveLocked(key)
	if err != nil {
		return types.FunctionRecord{}, err
	}
	if !s.exists(name, version) {
		return types.FunctionRecord{}, apierr.New(apierr.NotFound, fmt.Sprintf("%s not found", key))
	}
	cfgBytes, err := os.ReadFile(s.configPath(name, version))
	if err != nil {
		return types.FunctionRecord{}, apierr.Wrap(apierr.Internal, "read config", err)
	}
	var cfg types.FunctionConfig
	dec := json.NewDecoder(strings.NewReader(string(cfgBytes)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return types.FunctionRecord{}, apierr.Wrap(apierr.Internal, "decode config", err)
	}
	alias := ""
	if data, err := os.ReadFile(s.aliasSentinelPath(name, version)); err == nil {
		alias = strings.TrimSpace(string(data))
	}
	return types.FunctionRecord{
		Meta: types.FunctionMeta{
			Name:         name,
			Version:      version,
			VersionAlias: alias,
		},
		Config: cfg,
	}, nil
}

// Override replaces config.json atomically. Rejects if the function is
// currently running.
func (s *Store) Override(key types.FunctionKey, config types.FunctionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, version, err := s.resolveLocked(key)
	if err != nil {
		return err
	}
	if !s.exists(name, version) {
		return apierr.New(apierr.NotFound, fmt.Sprintf("%s not found", key))
	}
	if s.running != nil && s.running.IsRunning(name, version) {
		return apierr.New(apierr.Conflict, fmt.Sprintf("%s@%s is running", name, version))
	}

	cfgBytes, err := strictMarshalConfig(config)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "marshal config", err)
	}
	tmp := s.configPath(name, version) + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, cfgBytes, 0o644); err != nil {
		return apierr.Wrap(apierr.Internal, "write temp config", err)
	}
	if err := os.Rename(tmp, s.configPath(name, version)); err != nil {
		_ = os.Remove(tmp)
		return apierr.Wrap(apierr.Internal, "publish config", err)
	}
	return nil
}

// Alias sets or clears the alias for a name@version. Enforces that an
// alias references at most one version and does not collide with an
// existing function name or alias (invariant 2).
func (s *Store) Alias(key types.FunctionKey, newAlias *string) error {
	if key.IsAlias() {
		return apierr.New(apierr.BadRequest, "alias target must be name@version")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name, version := key.Name, key.Version
	if !s.exists(name, version) {
		return apierr.New(apierr.NotFound, fmt.Sprintf("%s not found", key))
	}

	// The existing alias for this version is cleared only once the
	// request has been validated, so a rejected request leaves it intact.
	old := ""
	if data, err := os.ReadFile(s.aliasSentinelPath(name, version)); err == nil {
		old = strings.TrimSpace(string(data))
	}
	clearOld := func() {
		if old != "" {
			_ = os.Remove(s.aliasLink(name, old))
			_ = os.Remove(s.aliasSentinelPath(name, version))
		}
	}

	if newAlias == nil || strings.TrimSpace(*newAlias) == "" {
		clearOld()
		return nil
	}
	alias := strings.TrimSpace(*newAlias)
	if alias == old {
		return nil
	}
	if err := types.ValidateSegment(alias); err != nil {
		return apierr.Wrap(apierr.BadRequest, "invalid alias", err)
	}
	if alias == name {
		return apierr.New(apierr.AlreadyExists, "alias collides with an existing function name")
	}
	if _, err := os.Stat(s.nameDir(alias)); err == nil {
		return apierr.New(apierr.AlreadyExists, "alias collides with an existing function name")
	}
	if _, ok := s.aliasOwnerLocked(alias); ok {
		return apierr.New(apierr.AlreadyExists, "alias already exists")
	}
	clearOld()

	if err := os.MkdirAll(s.aliasesDir(name), 0o755); err != nil {
		return apierr.Wrap(apierr.Internal, "create aliases dir", err)
	}
	rel, err := filepath.Rel(s.aliasesDir(name), s.versionDir(name, version))
	if err != nil {
		return apierr.Wrap(apierr.Internal, "compute alias target", err)
	}
	if err := os.Symlink(rel, s.aliasLink(name, alias)); err != nil {
		return apierr.Wrap(apierr.Internal, "create alias symlink", err)
	}
	if err := os.WriteFile(s.aliasSentinelPath(name, version), []byte(alias), 0o644); err != nil {
		return apierr.Wrap(apierr.Internal, "write alias sentinel", err)
	}
	return nil
}

// Remove deletes contents, config, and any alias link for key. Rejects if
// the function is running.
func (s *Store) Remove(key types.FunctionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, version, err := s.resolveLocked(key)
	if err != nil {
		return err
	}
	if !s.exists(name, version) {
		return apierr.New(apierr.NotFound, fmt.Sprintf("%s not found", key))
	}
	if s.running != nil && s.running.IsRunning(name, version) {
		return apierr.New(apierr.Conflict, fmt.Sprintf("%s@%s is running", name, version))
	}

	if data, err := os.ReadFile(s.aliasSentinelPath(name, version)); err == nil {
		old := strings.TrimSpace(string(data))
		if old != "" {
			_ = os.Remove(s.aliasLink(name, old))
		}
	}
	if err := os.RemoveAll(s.versionDir(name, version)); err != nil {
		return apierr.Wrap(apierr.Internal, "remove function", err)
	}
	// Clean up an emptied name directory (no versions, no aliases left).
	if entries, err := os.ReadDir(s.nameDir(name)); err == nil && len(entries) == 0 {
		_ = os.Remove(s.nameDir(name))
	}
	return nil
}

// ContentsDir returns the host path of the extracted contents for a
// resolved (name, version), for the sandbox launcher to bind-mount.
func (s *Store) ContentsDir(name, version string) string {
	return s.contentsDir(name, version)
}

func isGzip(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == "application/gzip" || ct == "application/x-gzip"
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o777))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		case tar.TypeSymlink:
			// Reject symlinks in uploaded tarballs: they can escape the
			// extraction directory and are never needed for function
			// contents.
			return fmt.Errorf("tar entry %q: symlinks are not allowed", hdr.Name)
		}
	}
}

// safeJoin joins dest with name, rejecting entries that would escape dest
// via ".." path traversal (a classic tar-extraction vulnerability).
func safeJoin(dest, name string) (string, error) {
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", fmt.Errorf("tar entry %q escapes extraction root", name)
		}
	}
	cleaned := filepath.Clean("/" + name)
	target := filepath.Join(dest, cleaned)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return "", fmt.Errorf("tar entry %q escapes extraction root", name)
	}
	return target, nil
}

func strictMarshalConfig(cfg types.FunctionConfig) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}

// DecodeConfigStrict decodes a FunctionConfig from r, rejecting unknown
// fields per §6's "strict JSON" requirement.
func DecodeConfigStrict(r io.Reader) (types.FunctionConfig, error) {
	var cfg types.FunctionConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return types.FunctionConfig{}, apierr.Wrap(apierr.BadRequest, "invalid config json", err)
	}
	return cfg, nil
}
