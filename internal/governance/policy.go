// Package governance decides whether an invocation may touch a repository.
//
// A policy document enables bdk and lists denied and allowed repository
// paths. Federation writes and hint-bundle imports carry their own allow
// lists, so permission to scan never implies permission for either.
package governance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/jcs"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
)

const (
	// PolicyEnvVar overrides the policy document location
	PolicyEnvVar = "BDK_POLICY"
	// EnabledEnvVar enables governance without a policy document
	EnabledEnvVar = "BDK_ENABLED"
)

// Policy is the parsed governance policy document.
type Policy struct {
	Enabled         bool      `toml:"enabled" yaml:"enabled" json:"enabled"`
	Deny            []string  `toml:"deny" yaml:"deny" json:"deny"`
	Allow           []string  `toml:"allow" yaml:"allow" json:"allow"`
	TokenSecretHash string    `toml:"token_secret_hash" yaml:"token_secret_hash" json:"token_secret_hash,omitempty"`
	Federation      ScopeList `toml:"federation" yaml:"federation" json:"federation"`
	Hints           ScopeList `toml:"hints" yaml:"hints" json:"hints"`

	// source is the file the policy was read from, empty for implicit policies
	source string
}

// ScopeList is a capability-specific allow list.
type ScopeList struct {
	Allow []string `toml:"allow" yaml:"allow" json:"allow"`
}

// LoadOptions locates the policy document.
type LoadOptions struct {
	// Path is an explicit policy path (--policy). Takes precedence over BDK_POLICY.
	Path string
	// GlobalRoot supplies the default <global>/policy.toml location
	GlobalRoot string
}

// PolicyError is a malformed or unreadable policy. It always fails closed.
type PolicyError struct {
	Path string
	Err  error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %s: %v", e.Path, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// Load reads the policy document. Without a document at the default location
// the policy is implicit: enabled only when BDK_ENABLED=1, with empty lists.
// An explicitly named document that is missing is a PolicyError.
func Load(opts LoadOptions) (*Policy, error) {
	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		if env := os.Getenv(PolicyEnvVar); env != "" {
			path, explicit = env, true
		}
	}
	if !explicit {
		if opts.GlobalRoot == "" {
			return implicitPolicy(), nil
		}
		path = filepath.Join(opts.GlobalRoot, paths.PolicyFile)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return implicitPolicy(), nil
		}
		return nil, &PolicyError{Path: path, Err: err}
	}

	policy, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	if envEnabled() {
		policy.Enabled = true
	}
	return policy, nil
}

// Parse decodes a policy document. The format follows the file extension:
// .yaml/.yml, .json, anything else is TOML. Unknown keys are rejected so a
// misspelled list can never silently widen access.
func Parse(data []byte, path string) (*Policy, error) {
	var policy Policy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
			return nil, &PolicyError{Path: path, Err: err}
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&policy); err != nil {
			return nil, &PolicyError{Path: path, Err: err}
		}
	default:
		md, err := toml.Decode(string(data), &policy)
		if err != nil {
			return nil, &PolicyError{Path: path, Err: err}
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, &PolicyError{Path: path, Err: fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))}
		}
	}

	for _, list := range [][]string{policy.Deny, policy.Allow, policy.Federation.Allow, policy.Hints.Allow} {
		for _, entry := range list {
			if strings.TrimSpace(entry) == "" {
				return nil, &PolicyError{Path: path, Err: fmt.Errorf("empty path in policy list")}
			}
		}
	}

	policy.source = path
	return &policy, nil
}

func implicitPolicy() *Policy {
	return &Policy{Enabled: envEnabled()}
}

func envEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnabledEnvVar))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Source returns the document path, or "" for an implicit policy.
func (p *Policy) Source() string {
	return p.source
}

// Digest returns a stable digest of the policy content for audit snapshots.
func (p *Policy) Digest() string {
	digest, err := jcs.Digest(p)
	if err != nil {
		return ""
	}
	return digest
}

// resolveEntry canonicalizes a policy path, relative to the policy file.
func (p *Policy) resolveEntry(entry string) string {
	if !filepath.IsAbs(entry) && p.source != "" {
		entry = filepath.Join(filepath.Dir(p.source), entry)
	}
	resolved, err := paths.RealPath(entry)
	if err != nil {
		return filepath.Clean(entry)
	}
	return resolved
}

// matches reports whether repoRoot equals or lies under any listed path.
func (p *Policy) matches(list []string, repoRoot string) bool {
	for _, entry := range list {
		if paths.IsWithin(repoRoot, p.resolveEntry(entry)) {
			return true
		}
	}
	return false
}
