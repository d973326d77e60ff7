package governance

import (
	"errors"
	"fmt"
	"time"

	bdkerrors "github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/errors"
	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/paths"
)

// Capability is a gated operation.
type Capability string

const (
	CapabilityScan       Capability = "scan"
	CapabilityFederation Capability = "federation"
	CapabilityHints      Capability = "hints"
)

// Kind tags a Decision.
type Kind string

const (
	KindAllow      Kind = "allow"
	KindDeny       Kind = "deny"
	KindFailClosed Kind = "fail_closed"
)

// Reason codes carried in machine lines.
const (
	ReasonAllowed             = "allowed"
	ReasonDisabled            = "disabled"
	ReasonDenied              = "denied"
	ReasonNotAllowListed      = "not_allow_listed"
	ReasonPolicyParseError    = "policy_parse_error"
	ReasonTokenExpired        = "token_expired"
	ReasonTokenScopeMismatch  = "token_scope_mismatch"
	ReasonTokenSecretMismatch = "token_secret_mismatch"
)

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Kind       Kind                `json:"kind"`
	Capability Capability          `json:"capability"`
	Code       bdkerrors.ErrorCode `json:"code,omitempty"`
	Reason     string              `json:"reason"`
	Detail     string              `json:"detail,omitempty"`
	TokenUsed  bool                `json:"token_used"`
}

// Allowed reports whether the decision permits the capability.
func (d Decision) Allowed() bool {
	return d.Kind == KindAllow
}

// Err converts a non-allow decision into a classified error.
func (d Decision) Err() error {
	if d.Allowed() {
		return nil
	}
	return bdkerrors.New(d.Code, d.Reason, fmt.Sprintf("%s blocked: %s", d.Capability, d.Detail), nil)
}

// Snapshot is the audit record of the scan decision stored with each run.
type Snapshot struct {
	Decision     Kind   `json:"decision"`
	Reason       string `json:"reason"`
	PolicySource string `json:"policy_source,omitempty"`
	PolicyDigest string `json:"policy_digest,omitempty"`
	TokenUsed    bool   `json:"token_used"`
}

// SnapshotOf records d under policy.
func SnapshotOf(policy *Policy, d Decision) Snapshot {
	s := Snapshot{Decision: d.Kind, Reason: d.Reason, TokenUsed: d.TokenUsed}
	if policy != nil {
		s.PolicySource = policy.Source()
		s.PolicyDigest = policy.Digest()
	}
	return s
}

// FailClosed turns a policy load failure into a decision. No other path
// produces KindFailClosed.
func FailClosed(capability Capability, err error) Decision {
	detail := "policy could not be read"
	var perr *PolicyError
	if errors.As(err, &perr) {
		detail = perr.Error()
	} else if err != nil {
		detail = err.Error()
	}
	return Decision{
		Kind:       KindFailClosed,
		Capability: capability,
		Code:       bdkerrors.PolicyParseFailure,
		Reason:     ReasonPolicyParseError,
		Detail:     detail,
	}
}

// Evaluate applies the policy to repoRoot for one capability.
//
// Precedence: enable flag, deny list, allow list, token override. A token only
// rescues an allow-list miss; it never overrides a disabled or denied result.
// For federation and hints the capability's own allow list is consulted and an
// empty list grants nothing.
func Evaluate(repoRoot string, policy *Policy, token *Token, capability Capability, now time.Time) Decision {
	blocked := blockCode(capability)

	if policy == nil || !policy.Enabled {
		return Decision{
			Kind:       KindDeny,
			Capability: capability,
			Code:       bdkerrors.GovernanceDisabled,
			Reason:     ReasonDisabled,
			Detail:     "governance is not enabled (set enabled = true in the policy or BDK_ENABLED=1)",
		}
	}

	root, err := paths.RealPath(repoRoot)
	if err != nil {
		root = repoRoot
	}

	if policy.matches(policy.Deny, root) {
		return Decision{
			Kind:       KindDeny,
			Capability: capability,
			Code:       bdkerrors.GovernanceDenied,
			Reason:     ReasonDenied,
			Detail:     fmt.Sprintf("%s is on the deny list", root),
		}
	}

	var list []string
	requireMembership := true
	switch capability {
	case CapabilityFederation:
		list = policy.Federation.Allow
	case CapabilityHints:
		list = policy.Hints.Allow
	default:
		list = policy.Allow
		requireMembership = len(list) > 0
	}

	if !requireMembership || policy.matches(list, root) {
		return Decision{Kind: KindAllow, Capability: capability, Reason: ReasonAllowed}
	}

	miss := Decision{
		Kind:       KindDeny,
		Capability: capability,
		Code:       blocked,
		Reason:     ReasonNotAllowListed,
		Detail:     fmt.Sprintf("%s is not on the %s allow list", root, capability),
	}
	if token == nil {
		return miss
	}

	switch token.State(capability, policy.TokenSecretHash, now) {
	case TokenValid:
		return Decision{
			Kind:       KindAllow,
			Capability: capability,
			Reason:     ReasonAllowed,
			Detail:     "allowed by token override",
			TokenUsed:  true,
		}
	case TokenExpired:
		miss.Reason = ReasonTokenExpired
		miss.Detail = fmt.Sprintf("token expired at %s", token.Expiry().UTC().Format(time.RFC3339))
	case TokenScopeMismatch:
		miss.Reason = ReasonTokenScopeMismatch
		miss.Detail = fmt.Sprintf("token scope %v does not include %s", token.Scope, capability)
	case TokenBadSecret:
		miss.Reason = ReasonTokenSecretMismatch
		miss.Detail = "token secret does not match the policy"
	}
	return miss
}

func blockCode(capability Capability) bdkerrors.ErrorCode {
	switch capability {
	case CapabilityFederation:
		return bdkerrors.FederationScopeBlocked
	case CapabilityHints:
		return bdkerrors.HintBundleScopeBlocked
	default:
		return bdkerrors.GovernanceNotAllowListed
	}
}
