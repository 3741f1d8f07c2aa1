// Package capability mints and validates scoped, time-limited delegation
// grants. A token names exactly which tool names a delegated agent may or
// may not invoke for one goal; every effectful tool boundary validates the
// token at point of use, so expiry is re-checked even if the logical call
// started earlier.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

var (
	// ErrMintInvalid rejects a malformed mint request: overlapping
	// allow/deny sets or a non-positive ttl.
	ErrMintInvalid = errors.New("invalid mint request")
	// ErrMintThrottled means the delegatee hit its minting rate limit.
	ErrMintThrottled = errors.New("mint rate limit exceeded")
)

// MintLimiter bounds how fast one delegatee can be granted new tokens.
type MintLimiter interface {
	Allow(ctx context.Context, delegatee string) (bool, error)
}

// Issuer mints capability tokens. Minting has no access-granting side
// effect beyond producing the value.
type Issuer struct {
	limiter MintLimiter // nil = unlimited
	logger  *slog.Logger
	clock   func() time.Time
}

// NewIssuer creates a token issuer.
func NewIssuer() *Issuer {
	return &Issuer{
		logger: slog.Default().With("component", "capability"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// WithLimiter bounds per-delegatee mint rates.
func (i *Issuer) WithLimiter(l MintLimiter) *Issuer {
	i.limiter = l
	return i
}

// Mint issues a fresh token. It rejects overlapping allow/deny sets and
// non-positive ttls; token ids are practically collision-free uuids.
func (i *Issuer) Mint(ctx context.Context, delegatee, goalID string, allowed, denied []string, ttlSeconds int) (contracts.CapabilityToken, error) {
	if delegatee == "" {
		return contracts.CapabilityToken{}, fmt.Errorf("%w: empty delegatee", ErrMintInvalid)
	}
	if ttlSeconds <= 0 {
		return contracts.CapabilityToken{}, fmt.Errorf("%w: ttl %d <= 0", ErrMintInvalid, ttlSeconds)
	}
	if tool, ok := overlap(allowed, denied); ok {
		return contracts.CapabilityToken{}, fmt.Errorf("%w: %q is both allowed and denied", ErrMintInvalid, tool)
	}

	if i.limiter != nil {
		ok, err := i.limiter.Allow(ctx, delegatee)
		if err != nil {
			return contracts.CapabilityToken{}, fmt.Errorf("mint limiter: %w", err)
		}
		if !ok {
			return contracts.CapabilityToken{}, fmt.Errorf("%w: delegatee %q", ErrMintThrottled, delegatee)
		}
	}

	tok := contracts.CapabilityToken{
		TokenID:          uuid.New().String(),
		Delegatee:        delegatee,
		GoalID:           goalID,
		AllowedActions:   append([]string(nil), allowed...),
		DeniedActions:    append([]string(nil), denied...),
		IssuedAt:         i.clock().UTC(),
		TimeLimitSeconds: ttlSeconds,
	}
	i.logger.DebugContext(ctx, "minted capability token",
		"token_id", tok.TokenID,
		"delegatee", delegatee,
		"goal_id", goalID,
		"ttl_seconds", ttlSeconds)
	return tok, nil
}

func overlap(allowed, denied []string) (string, bool) {
	if len(allowed) == 0 || len(denied) == 0 {
		return "", false
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	for _, d := range denied {
		if _, ok := set[d]; ok {
			return d, true
		}
	}
	return "", false
}
