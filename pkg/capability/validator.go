package capability

import (
	"fmt"
	"time"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

// ViolationReason is the closed set of denial causes.
type ViolationReason string

const (
	ReasonExpired           ViolationReason = "token_expired"
	ReasonDelegateeMismatch ViolationReason = "delegatee_mismatch"
	ReasonToolDenied        ViolationReason = "tool_denied"
	ReasonToolNotAllowed    ViolationReason = "tool_not_allowed"
	ReasonNoToken           ViolationReason = "no_token_present"
)

// Violation is the structured denial returned by Validate. It is an error
// so tool boundaries can propagate it, carrying enough to fail only the
// specific call, never the surrounding agent run.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Violation struct {
	TokenID   string          `json:"token_id,omitempty"`
	ToolName  string          `json:"tool_name"`
	Delegatee string          `json:"delegatee"`
	Reason    ViolationReason `json:"reason"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("capability violation: tool %q delegatee %q: %s", v.ToolName, v.Delegatee, v.Reason)
}

// Validator checks tokens at the tool-invocation boundary.
type Validator struct {
	clock func() time.Time
}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (v *Validator) WithClock(clock func() time.Time) *Validator {
	v.clock = clock
	return v
}

// Validate returns nil when the token permits caller to invoke tool, or a
// *Violation otherwise. Expiry is checked against the validator's clock at
// the instant of use; the expiry boundary itself is already expired.
// Deny wins over allow, and an empty allow list restricts nothing (a
// deliberate permissive escape hatch for broad delegations).
func (v *Validator) Validate(tok contracts.CapabilityToken, toolName, delegatee string) error {
	deny := func(reason ViolationReason) error {
		return &Violation{TokenID: tok.TokenID, ToolName: toolName, Delegatee: delegatee, Reason: reason}
	}

	if !v.clock().Before(tok.ExpiresAt()) {
		return deny(ReasonExpired)
	}
	if tok.Delegatee != delegatee {
		return deny(ReasonDelegateeMismatch)
	}
	for _, d := range tok.DeniedActions {
		if d == toolName {
			return deny(ReasonToolDenied)
		}
	}
	if len(tok.AllowedActions) > 0 {
		for _, a := range tok.AllowedActions {
			if a == toolName {
				return nil
			}
		}
		return deny(ReasonToolNotAllowed)
	}
	return nil
}
