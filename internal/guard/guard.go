package guard

import (
	"context"
	"fmt"
	"strings"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
)

// ReasonViolation is the machine reason for a read-only violation.
const ReasonViolation = "readonly_violation"

// maxListedChanges bounds the paths quoted in the error message.
const maxListedChanges = 10

// Options configures a guarded run.
type Options struct {
	// AllowWrite reports changes instead of failing. Every run using it is
	// marked readonly_opt_out in its metadata and status line.
	AllowWrite bool
}

// Report summarizes a guarded run.
type Report struct {
	Before       *Snapshot `json:"-"`
	BeforeDigest string    `json:"before_digest"`
	AfterDigest  string    `json:"after_digest"`
	Changes      []Change  `json:"changes,omitempty"`
	OptOut       bool      `json:"readonly_opt_out"`
}

// Verified reports whether the run left the repository unchanged.
func (r *Report) Verified() bool {
	return len(r.Changes) == 0
}

// ViolationError lists the paths an operation changed.
type ViolationError struct {
	Changes []Change
}

func (e *ViolationError) Error() string {
	parts := make([]string, 0, maxListedChanges)
	for i, c := range e.Changes {
		if i == maxListedChanges {
			parts = append(parts, fmt.Sprintf("and %d more", len(e.Changes)-maxListedChanges))
			break
		}
		parts = append(parts, fmt.Sprintf("%s %s", c.Kind, c.Path))
	}
	return fmt.Sprintf("%d path(s) changed: %s", len(e.Changes), strings.Join(parts, ", "))
}

// Run snapshots root, runs fn with the baseline snapshot, snapshots again and
// compares. A difference is fatal unless opts.AllowWrite is set; it takes
// precedence over any error fn returned.
func Run(ctx context.Context, root string, opts Options, fn func(ctx context.Context, before *Snapshot) error) (*Report, error) {
	before, err := Take(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("read-only guard: snapshot before: %w", err)
	}

	fnErr := fn(ctx, before)

	after, err := Take(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("read-only guard: snapshot after: %w", err)
	}

	report := &Report{
		Before:       before,
		BeforeDigest: before.Digest(),
		AfterDigest:  after.Digest(),
		Changes:      Diff(before, after),
		OptOut:       opts.AllowWrite,
	}

	if !report.Verified() && !opts.AllowWrite {
		violation := &ViolationError{Changes: report.Changes}
		return report, bdkerrors.New(
			bdkerrors.ReadOnlyViolation,
			ReasonViolation,
			"target repository was modified during a read-only run",
			violation,
		).WithDetails(report.Changes).WithFix("find the process writing into the repository, or rerun with --allow-write if the write is intended")
	}
	return report, fnErr
}
