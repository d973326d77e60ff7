// Package repostate reads version-control identity for drift detection.
//
// Only read-only plumbing commands are run, with optional locks disabled so
// git never refreshes its index inside the target repository.
package repostate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 5 * time.Second

// RepoState is the drift-relevant state of the target repository.
type RepoState struct {
	// StateID combines the VCS head with the content fingerprint
	StateID string `json:"state_id"`
	// VCSHead is the HEAD commit, empty when the root is not a git checkout
	VCSHead            string `json:"vcs_head,omitempty"`
	ContentFingerprint string `json:"content_fingerprint"`
}

// Compute returns the repository state for repoRoot given a content
// fingerprint already computed from a stat-only walk.
func Compute(ctx context.Context, repoRoot, contentFingerprint string) *RepoState {
	head := Head(ctx, repoRoot)
	return &RepoState{
		StateID:            stateID(head, contentFingerprint),
		VCSHead:            head,
		ContentFingerprint: contentFingerprint,
	}
}

// Head returns the HEAD commit, or "" when git is unavailable, the root is
// not a checkout or the repository has no commits yet.
func Head(ctx context.Context, repoRoot string) string {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", "--quiet", "HEAD")
	cmd.Dir = repoRoot
	cmd.Env = append(os.Environ(), "GIT_OPTIONAL_LOCKS=0", "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func stateID(head, contentFingerprint string) string {
	sum := sha256.Sum256([]byte(head + "\x00" + contentFingerprint))
	return hex.EncodeToString(sum[:])
}
