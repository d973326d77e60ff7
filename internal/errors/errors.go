package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes.
// Codes and their exit codes are part of the machine contract: new codes may be
// added, existing ones are never renumbered or repurposed.
type ErrorCode string

const (
	// InternalError indicates an unexpected failure
	InternalError ErrorCode = "INTERNAL_ERROR"
	// InvalidInput indicates bad flags, paths or arguments
	InvalidInput ErrorCode = "INVALID_INPUT"
	// StrictAmbiguity indicates an ambiguous result under strict mode
	StrictAmbiguity ErrorCode = "STRICT_AMBIGUITY"
	// ReadOnlyViolation indicates the target repository was mutated
	ReadOnlyViolation ErrorCode = "READONLY_VIOLATION"
	// GovernanceDisabled indicates no enable flag was set
	GovernanceDisabled ErrorCode = "GOVERNANCE_DISABLED"
	// GovernanceDenied indicates the repository is on the deny list
	GovernanceDenied ErrorCode = "GOVERNANCE_DENIED"
	// GovernanceNotAllowListed indicates a non-empty allow list without the repository
	GovernanceNotAllowListed ErrorCode = "GOVERNANCE_NOT_ALLOW_LISTED"
	// PolicyParseFailure indicates a malformed policy document (fail-closed)
	PolicyParseFailure ErrorCode = "POLICY_PARSE_FAILURE"
	// ScanLimitsExceeded indicates file or time budgets were exceeded under strict mode
	ScanLimitsExceeded ErrorCode = "SCAN_LIMITS_EXCEEDED"
	// LowConfidence indicates a result requiring human disambiguation under strict mode
	LowConfidence ErrorCode = "LOW_CONFIDENCE"
	// HintBundleVerification indicates a hint bundle digest did not verify
	HintBundleVerification ErrorCode = "HINT_BUNDLE_VERIFICATION"
	// HintBundleScopeBlocked indicates hint import without the hints scope
	HintBundleScopeBlocked ErrorCode = "HINT_BUNDLE_SCOPE_BLOCKED"
	// FederationScopeBlocked indicates a federation write without the federation scope
	FederationScopeBlocked ErrorCode = "FEDERATION_SCOPE_BLOCKED"
	// GraphMismatch indicates scan-graph consistency failure under strict mode
	GraphMismatch ErrorCode = "GRAPH_MISMATCH"
	// ScopeIdentityMismatch indicates an artifact scoped to another project
	ScopeIdentityMismatch ErrorCode = "SCOPE_IDENTITY_MISMATCH"
)

// Exit codes. Stable across schema versions; only additive extensions.
const (
	ExitOK                       = 0
	ExitGeneral                  = 1
	ExitStrictAmbiguity          = 2
	ExitReadOnlyViolation        = 3
	ExitGovernanceDisabled       = 10
	ExitGovernanceDenied         = 11
	ExitGovernanceNotAllowListed = 12
	ExitPolicyParseFailure       = 13
	ExitScanLimitsExceeded       = 20
	ExitLowConfidence            = 21
	ExitHintBundleVerification   = 22
	ExitHintBundleScopeBlocked   = 23
	ExitFederationScopeBlocked   = 24
	ExitGraphMismatch            = 25
	ExitScopeIdentityMismatch    = 26
)

var exitCodes = map[ErrorCode]int{
	InternalError:            ExitGeneral,
	InvalidInput:             ExitGeneral,
	StrictAmbiguity:          ExitStrictAmbiguity,
	ReadOnlyViolation:        ExitReadOnlyViolation,
	GovernanceDisabled:       ExitGovernanceDisabled,
	GovernanceDenied:         ExitGovernanceDenied,
	GovernanceNotAllowListed: ExitGovernanceNotAllowListed,
	PolicyParseFailure:       ExitPolicyParseFailure,
	ScanLimitsExceeded:       ExitScanLimitsExceeded,
	LowConfidence:            ExitLowConfidence,
	HintBundleVerification:   ExitHintBundleVerification,
	HintBundleScopeBlocked:   ExitHintBundleScopeBlocked,
	FederationScopeBlocked:   ExitFederationScopeBlocked,
	GraphMismatch:            ExitGraphMismatch,
	ScopeIdentityMismatch:    ExitScopeIdentityMismatch,
}

// ExitCode returns the process exit code for an error code.
func (c ErrorCode) ExitCode() int {
	if code, ok := exitCodes[c]; ok {
		return code
	}
	return ExitGeneral
}

// BdkError represents a bdk error with a stable code, a reason token for the
// machine line and an optional suggested fix for the human diagnostic.
type BdkError struct {
	Code    ErrorCode   `json:"code"`
	Reason  string      `json:"reason"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Fix     string      `json:"fix,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new BdkError
func New(code ErrorCode, reason, message string, cause error) *BdkError {
	return &BdkError{
		Code:    code,
		Reason:  reason,
		Message: message,
		cause:   cause,
	}
}

// Newf creates a new BdkError with a formatted message and no cause
func Newf(code ErrorCode, reason, format string, args ...interface{}) *BdkError {
	return New(code, reason, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *BdkError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *BdkError) Unwrap() error {
	return e.cause
}

// ExitCode returns the exit code for this error
func (e *BdkError) ExitCode() int {
	return e.Code.ExitCode()
}

// WithDetails adds details to the error
func (e *BdkError) WithDetails(details interface{}) *BdkError {
	e.Details = details
	return e
}

// WithFix attaches a suggested fix shown in the human diagnostic
func (e *BdkError) WithFix(fix string) *BdkError {
	e.Fix = fix
	return e
}

// As finds the first BdkError in err's chain.
func As(err error) (*BdkError, bool) {
	var bdkErr *BdkError
	if stderrors.As(err, &bdkErr) {
		return bdkErr, true
	}
	return nil, false
}

// ExitCodeOf returns the exit code for err: 0 for nil, the BdkError code when
// present anywhere in the chain, and 1 otherwise.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	if bdkErr, ok := As(err); ok {
		return bdkErr.ExitCode()
	}
	return ExitGeneral
}

// ReasonOf returns the reason token for err, or "internal" when unclassified.
func ReasonOf(err error) string {
	if bdkErr, ok := As(err); ok && bdkErr.Reason != "" {
		return bdkErr.Reason
	}
	return "internal"
}

// CodeOf returns the error code for err, or InternalError when unclassified.
func CodeOf(err error) ErrorCode {
	if bdkErr, ok := As(err); ok {
		return bdkErr.Code
	}
	return InternalError
}
