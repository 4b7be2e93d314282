// Package types holds the data model shared across the platform: function
// records, sandbox configuration, and the key/prefix helpers used to
// address a deployed function.
package types

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	segmentRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// FunctionKey addresses a function either by exact (name, version) or by a
// bare alias name that resolves to exactly one version.
type FunctionKey struct {
	Name    string
	Version string // empty when Alias is set
	Alias   string // empty when Version is set
}

// ParseFunctionKey parses "name@version" or a bare alias name.
func ParseFunctionKey(raw string) (FunctionKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return FunctionKey{}, fmt.Errorf("empty function key")
	}
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		name, version := raw[:i], raw[i+1:]
		if !segmentRe.MatchString(name) || !segmentRe.MatchString(version) {
			return FunctionKey{}, fmt.Errorf("invalid function key %q", raw)
		}
		return FunctionKey{Name: name, Version: version}, nil
	}
	if !segmentRe.MatchString(raw) {
		return FunctionKey{}, fmt.Errorf("invalid function key %q", raw)
	}
	return FunctionKey{Alias: raw}, nil
}

// IsAlias reports whether the key was expressed as a bare alias.
func (k FunctionKey) IsAlias() bool { return k.Version == "" }

func (k FunctionKey) String() string {
	if k.IsAlias() {
		return k.Alias
	}
	return k.Name + "@" + k.Version
}

// FunctionMeta identifies a specific deployed version of a function.
type FunctionMeta struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	VersionAlias  string `json:"version_alias,omitempty"`
}

// Prefix returns the subdomain prefix "<version>.<name>" used for routing,
// lower-cased and dot-joined per §4.5.
func (m FunctionMeta) Prefix() string {
	return strings.ToLower(m.Version) + "." + strings.ToLower(m.Name)
}

// SandboxConfig describes how the child process is invoked and what it can
// see: bind mounts, environment, stdio routing, and the platform-specific
// syscall filter extension.
type SandboxConfig struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	ROEntries      map[string]string `json:"ro_entries,omitempty"` // host path -> sandbox path
	Envs           map[string]string `json:"envs,omitempty"`
	InheritStdout  bool              `json:"inherit_stdout,omitempty"`
	PlatformExt    PlatformExt       `json:"platform_ext,omitempty"`
}

// FilterMode selects the default action of the compiled syscall filter.
type FilterMode string

const (
	FilterAllow FilterMode = "allow"
	FilterDeny  FilterMode = "deny"
)

// PlatformExt is the Linux-specific sandbox extension (§3).
type PlatformExt struct {
	SyscallFilterMode FilterMode `json:"syscall_filter_mode,omitempty"`
	SyscallFilter     []string   `json:"syscall_filter,omitempty"`
	MountProcfs       bool       `json:"mount_procfs,omitempty"`
	MountDevtmpfs     bool       `json:"mount_devtmpfs,omitempty"`
	MountTmpfs        bool       `json:"mount_tmpfs,omitempty"`
}

// HasFilter reports whether a syscall filter should be compiled and attached.
func (p PlatformExt) HasFilter() bool {
	return len(p.SyscallFilter) > 0
}

// FunctionConfig is the mutable configuration of a function record.
type FunctionConfig struct {
	Group   string        `json:"group,omitempty"`
	Addr    string        `json:"addr"`
	Sandbox SandboxConfig `json:"sandbox"`
}

// FunctionRecord is the full persisted description of a deployed function.
type FunctionRecord struct {
	Meta   FunctionMeta   `json:"meta"`
	Config FunctionConfig `json:"config"`
}

// ValidateName checks the ASCII [A-Za-z0-9-]+ constraint used for user and
// (indirectly) function names.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid name %q: must match [A-Za-z0-9-]+", name)
	}
	return nil
}

// ValidateSegment checks the looser [A-Za-z0-9._-]+ constraint used for
// function names, versions, and aliases.
func ValidateSegment(s string) error {
	if !segmentRe.MatchString(s) {
		return fmt.Errorf("invalid segment %q: must match [A-Za-z0-9._-]+", s)
	}
	return nil
}
