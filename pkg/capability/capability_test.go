package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func mintScoutToken(t *testing.T) contracts.CapabilityToken {
	t.Helper()
	issuer := NewIssuer().WithClock(fixedClock)
	tok, err := issuer.Mint(context.Background(), "scout", "goal-42",
		[]string{"read_pubmed", "summarize"}, []string{"send_email"}, 600)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestMintAndValidateDelegation(t *testing.T) {
	tok := mintScoutToken(t)
	v := NewValidator().WithClock(fixedClock)

	// The delegatee may use its allowed tools.
	if err := v.Validate(tok, "read_pubmed", "scout"); err != nil {
		t.Fatalf("allowed tool denied: %v", err)
	}

	// Explicitly denied tool.
	err := v.Validate(tok, "send_email", "scout")
	var viol *Violation
	if !errors.As(err, &viol) {
		t.Fatalf("expected *Violation, got %v", err)
	}
	if viol.Reason != ReasonToolDenied {
		t.Fatalf("reason = %s, want tool_denied", viol.Reason)
	}

	// Another agent presenting the same token.
	err = v.Validate(tok, "read_pubmed", "analyst")
	if !errors.As(err, &viol) || viol.Reason != ReasonDelegateeMismatch {
		t.Fatalf("expected delegatee_mismatch, got %v", err)
	}

	// Tool outside the allow list.
	err = v.Validate(tok, "delete_record", "scout")
	if !errors.As(err, &viol) || viol.Reason != ReasonToolNotAllowed {
		t.Fatalf("expected tool_not_allowed, got %v", err)
	}
}

func TestValidateDenyWinsOverAllow(t *testing.T) {
	// Mint refuses overlapping scopes, so an overlapped token can only
	// arrive from outside. The validator must still let deny win.
	tok := contracts.CapabilityToken{
		TokenID:          "tok-overlap",
		Delegatee:        "scout",
		GoalID:           "goal-42",
		AllowedActions:   []string{"send_email", "summarize"},
		DeniedActions:    []string{"send_email"},
		IssuedAt:         testNow,
		TimeLimitSeconds: 600,
	}
	v := NewValidator().WithClock(fixedClock)

	err := v.Validate(tok, "send_email", "scout")
	var viol *Violation
	if !errors.As(err, &viol) || viol.Reason != ReasonToolDenied {
		t.Fatalf("overlapped tool: got %v, want tool_denied", err)
	}

	// The rest of the allow list is unaffected.
	if err := v.Validate(tok, "summarize", "scout"); err != nil {
		t.Fatalf("non-overlapped tool denied: %v", err)
	}
}

func TestValidateExpiry(t *testing.T) {
	tok := mintScoutToken(t)

	// One second before the deadline: still valid.
	early := NewValidator().WithClock(func() time.Time { return testNow.Add(599 * time.Second) })
	if err := early.Validate(tok, "read_pubmed", "scout"); err != nil {
		t.Fatalf("token denied before expiry: %v", err)
	}

	// The expiry instant itself is already expired.
	at := NewValidator().WithClock(func() time.Time { return testNow.Add(600 * time.Second) })
	err := at.Validate(tok, "read_pubmed", "scout")
	var viol *Violation
	if !errors.As(err, &viol) || viol.Reason != ReasonExpired {
		t.Fatalf("expected token_expired at the deadline, got %v", err)
	}
}

func TestMintRejectsInvalidRequests(t *testing.T) {
	issuer := NewIssuer().WithClock(fixedClock)
	ctx := context.Background()

	if _, err := issuer.Mint(ctx, "", "g", nil, nil, 60); !errors.Is(err, ErrMintInvalid) {
		t.Fatalf("empty delegatee: got %v", err)
	}
	if _, err := issuer.Mint(ctx, "scout", "g", nil, nil, 0); !errors.Is(err, ErrMintInvalid) {
		t.Fatalf("zero ttl: got %v", err)
	}
	if _, err := issuer.Mint(ctx, "scout", "g", []string{"a", "b"}, []string{"b"}, 60); !errors.Is(err, ErrMintInvalid) {
		t.Fatalf("overlapping sets: got %v", err)
	}
}

func TestMintedTokensHaveUniqueIDs(t *testing.T) {
	issuer := NewIssuer().WithClock(fixedClock)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := issuer.Mint(context.Background(), "scout", "g", nil, nil, 60)
		if err != nil {
			t.Fatal(err)
		}
		if seen[tok.TokenID] {
			t.Fatalf("duplicate token id %q", tok.TokenID)
		}
		seen[tok.TokenID] = true
	}
}

func TestMintThrottled(t *testing.T) {
	issuer := NewIssuer().
		WithClock(fixedClock).
		WithLimiter(NewMemoryMintLimiter(MintPolicy{PerMinute: 1, Burst: 2}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := issuer.Mint(ctx, "scout", "g", nil, nil, 60); err != nil {
			t.Fatalf("mint %d within burst failed: %v", i, err)
		}
	}
	if _, err := issuer.Mint(ctx, "scout", "g", nil, nil, 60); !errors.Is(err, ErrMintThrottled) {
		t.Fatalf("expected throttle, got %v", err)
	}

	// Other delegatees have their own buckets.
	if _, err := issuer.Mint(ctx, "analyst", "g", nil, nil, 60); err != nil {
		t.Fatalf("independent delegatee throttled: %v", err)
	}
}

func TestBoundaryDeniesWithoutTokenByDefault(t *testing.T) {
	b := NewBoundary(NewValidator().WithClock(fixedClock))
	err := b.Authorize(context.Background(), nil, "send_email", "scout")
	var viol *Violation
	if !errors.As(err, &viol) || viol.Reason != ReasonNoToken {
		t.Fatalf("expected no_token_present, got %v", err)
	}
}

type violationCounter struct {
	reasons []string
}

func (c *violationCounter) RecordViolation(_ context.Context, reason string) {
	c.reasons = append(c.reasons, reason)
}

func TestBoundaryCountsDenials(t *testing.T) {
	counter := &violationCounter{}
	b := NewBoundary(NewValidator().WithClock(fixedClock)).WithMetrics(counter)
	tok := mintScoutToken(t)

	if err := b.Authorize(context.Background(), nil, "send_email", "scout"); err == nil {
		t.Fatal("tokenless call accepted")
	}
	if err := b.Authorize(context.Background(), &tok, "send_email", "scout"); err == nil {
		t.Fatal("denied tool accepted")
	}
	// An allowed call must not count.
	if err := b.Authorize(context.Background(), &tok, "read_pubmed", "scout"); err != nil {
		t.Fatalf("allowed tool denied: %v", err)
	}

	want := []string{string(ReasonNoToken), string(ReasonToolDenied)}
	if len(counter.reasons) != len(want) || counter.reasons[0] != want[0] || counter.reasons[1] != want[1] {
		t.Fatalf("recorded reasons = %v, want %v", counter.reasons, want)
	}
}

func TestBoundaryAllowWithoutTokenOptIn(t *testing.T) {
	b := NewBoundary(NewValidator().WithClock(fixedClock)).AllowWithoutToken()
	if err := b.Authorize(context.Background(), nil, "read_pubmed", "scout"); err != nil {
		t.Fatalf("opt-in boundary denied tokenless call: %v", err)
	}

	// A token, when present, is still enforced.
	tok := mintScoutToken(t)
	if err := b.Authorize(context.Background(), &tok, "send_email", "scout"); err == nil {
		t.Fatal("denied tool accepted through opt-in boundary")
	}
}
