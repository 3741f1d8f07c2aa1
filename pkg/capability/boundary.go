package capability

import (
	"context"
	"log/slog"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

// Boundary is the guard every effectful tool call passes through. It owns
// the explicit policy for "no token present": minting failures upstream
// leave a decision without a token, and a boundary must decide that case
// deliberately rather than by accident.
//
// Default is deny-without-token; read-only tool surfaces can opt in to
// AllowWithoutToken.
type Boundary struct {
	validator         *Validator
	allowWithoutToken bool
	metrics           ViolationRecorder // nil = no metrics
	logger            *slog.Logger
}

// ViolationRecorder counts capability denials by reason.
// *observability.Provider satisfies it.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, reason string)
}

// NewBoundary creates a deny-without-token boundary.
func NewBoundary(v *Validator) *Boundary {
	return &Boundary{
		validator: v,
		logger:    slog.Default().With("component", "capability.boundary"),
	}
}

// AllowWithoutToken permits calls carrying no token at all. Scoped tokens,
// when present, are still enforced.
func (b *Boundary) AllowWithoutToken() *Boundary {
	b.allowWithoutToken = true
	return b
}

// WithMetrics attaches denial counting.
func (b *Boundary) WithMetrics(r ViolationRecorder) *Boundary {
	b.metrics = r
	return b
}

// Authorize decides one tool call. A denial fails only this call; the
// surrounding agent run continues.
func (b *Boundary) Authorize(ctx context.Context, tok *contracts.CapabilityToken, toolName, delegatee string) error {
	if tok == nil {
		if b.allowWithoutToken {
			return nil
		}
		v := &Violation{ToolName: toolName, Delegatee: delegatee, Reason: ReasonNoToken}
		b.logger.WarnContext(ctx, "tool call denied", "tool", toolName, "delegatee", delegatee, "reason", string(v.Reason))
		if b.metrics != nil {
			b.metrics.RecordViolation(ctx, string(v.Reason))
		}
		return v
	}
	if err := b.validator.Validate(*tok, toolName, delegatee); err != nil {
		if v, ok := err.(*Violation); ok {
			b.logger.WarnContext(ctx, "tool call denied",
				"tool", toolName, "delegatee", delegatee, "reason", string(v.Reason), "token_id", v.TokenID)
			if b.metrics != nil {
				b.metrics.RecordViolation(ctx, string(v.Reason))
			}
		}
		return err
	}
	return nil
}
