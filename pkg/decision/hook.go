// Package decision orchestrates one governance decision: task profile →
// risk assessment → trust calibration → guard escalation → optional
// capability token, attached to the proposal and handed off to execution.
//
// The hook is idempotent with respect to trust state: re-running it for
// the same task reads trust but never mutates it. Only outcome recording
// (pkg/trust) moves trust scores.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haldenlabs/mandate/pkg/audit"
	"github.com/haldenlabs/mandate/pkg/capability"
	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/observability"
	"github.com/haldenlabs/mandate/pkg/policy"
	"github.com/haldenlabs/mandate/pkg/risk"
	"github.com/haldenlabs/mandate/pkg/trust"
)

// ErrProposalInvalid rejects a malformed proposal before any computation.
var ErrProposalInvalid = errors.New("invalid proposal")

// TokenScope is the category-appropriate allow/deny list minted into a
// delegation token.
type TokenScope struct {
	Allowed []string
	Denied  []string
}

// defaultScopes is the built-in per-kind token scoping. Empty allow lists
// are deliberate for broad kinds; the deny lists carry the teeth.
var defaultScopes = map[contracts.ActionKind]TokenScope{
	contracts.KindResearch:    {Denied: []string{"send_email", "send_payment", "delete_record"}},
	contracts.KindSearch:      {Denied: []string{"send_email", "send_payment", "delete_record"}},
	contracts.KindCommunicate: {Allowed: []string{"send_email", "send_message", "draft_reply"}},
	contracts.KindSchedule:    {Allowed: []string{"create_event", "update_event", "read_calendar"}},
	contracts.KindMonitor:     {Denied: []string{"send_email", "send_payment", "delete_record"}},
	contracts.KindPlan:        {Denied: []string{"send_payment", "delete_record"}},
}

// DefaultTokenTTLSeconds bounds a delegation grant absent configuration.
const DefaultTokenTTLSeconds = 300

// Hook is the decision orchestration seam.
type Hook struct {
	scorer   *risk.Scorer
	trust    *trust.Service
	issuer   *capability.Issuer
	guard    *policy.Guard // nil = no guard rules
	schemas  map[contracts.ActionKind]*jsonschema.Schema
	scopes   map[contracts.ActionKind]TokenScope
	tokenTTL int
	auditor  audit.Logger
	obs      *observability.Provider // nil = no metrics
	logger   *slog.Logger
	clock    func() time.Time
}

// NewHook wires the decision seam.
func NewHook(scorer *risk.Scorer, trustSvc *trust.Service, issuer *capability.Issuer) *Hook {
	scopes := make(map[contracts.ActionKind]TokenScope, len(defaultScopes))
	for k, v := range defaultScopes {
		scopes[k] = v
	}
	return &Hook{
		scorer:   scorer,
		trust:    trustSvc,
		issuer:   issuer,
		schemas:  make(map[contracts.ActionKind]*jsonschema.Schema),
		scopes:   scopes,
		tokenTTL: DefaultTokenTTLSeconds,
		auditor:  audit.Nop{},
		logger:   slog.Default().With("component", "decision"),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (h *Hook) WithClock(clock func() time.Time) *Hook {
	h.clock = clock
	return h
}

// WithGuard attaches CEL guard rules.
func (h *Hook) WithGuard(g *policy.Guard) *Hook {
	h.guard = g
	return h
}

// WithAudit attaches the audit logger.
func (h *Hook) WithAudit(a audit.Logger) *Hook {
	h.auditor = a
	return h
}

// WithObservability attaches metric recording.
func (h *Hook) WithObservability(p *observability.Provider) *Hook {
	h.obs = p
	return h
}

// WithTokenTTL overrides the minted token lifetime.
func (h *Hook) WithTokenTTL(seconds int) *Hook {
	if seconds > 0 {
		h.tokenTTL = seconds
	}
	return h
}

// WithScopes overlays per-kind token scoping.
func (h *Hook) WithScopes(scopes map[contracts.ActionKind]TokenScope) *Hook {
	for k, v := range scopes {
		h.scopes[k] = v
	}
	return h
}

// WithParameterSchemas compiles and installs per-kind JSON schemas for
// proposal parameters (draft 2020-12).
func (h *Hook) WithParameterSchemas(schemas map[string]string) (*Hook, error) {
	for kind, raw := range schemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("mandate:///schemas/%s.schema.json", kind)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("parameter schema for kind %q: %w", kind, err)
		}
		schema, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile parameter schema for kind %q: %w", kind, err)
		}
		h.schemas[contracts.ActionKind(kind)] = schema
	}
	return h, nil
}

// Decide runs the full orchestration for one proposal.
func (h *Hook) Decide(ctx context.Context, proposal contracts.Proposal) (contracts.Decision, error) {
	if proposal.UserID == "" {
		return contracts.Decision{}, fmt.Errorf("%w: empty user_id", ErrProposalInvalid)
	}
	if proposal.ActionName == "" {
		return contracts.Decision{}, fmt.Errorf("%w: empty action_name", ErrProposalInvalid)
	}
	if schema, ok := h.schemas[proposal.ActionKind]; ok {
		params := map[string]any{}
		if proposal.Parameters != nil {
			params = proposal.Parameters
		}
		if err := schema.Validate(toJSONValue(params)); err != nil {
			return contracts.Decision{}, fmt.Errorf("%w: parameters: %v", ErrProposalInvalid, err)
		}
	}

	assessment, err := h.scorer.Assess(proposal.ActionKind, proposal.Profile)
	if err != nil {
		return contracts.Decision{}, fmt.Errorf("%w: %v", ErrProposalInvalid, err)
	}

	level, degraded := h.trust.ApprovalLevelFor(ctx, proposal.UserID, proposal.ActionKind, assessment.RiskScore)

	escalated := false
	if h.guard != nil {
		level, escalated = h.guard.Apply(ctx, proposal, assessment, level)
	}

	dec := contracts.Decision{
		DecisionID:      uuid.New().String(),
		Proposal:        proposal,
		Assessment:      assessment,
		ApprovalLevel:   level,
		TrustDegraded:   degraded,
		PolicyEscalated: escalated,
		DecidedAt:       h.clock(),
	}

	if proposal.TargetAgent != "" {
		dec.CapabilityToken = h.mintFor(ctx, proposal)
	}

	h.emit(ctx, dec)
	return dec, nil
}

// mintFor scopes and mints a delegation token. A minting failure never
// aborts the decision: the tool boundary has its own explicit policy for
// a missing token.
func (h *Hook) mintFor(ctx context.Context, proposal contracts.Proposal) *contracts.CapabilityToken {
	scope := h.scopes[proposal.ActionKind]
	tok, err := h.issuer.Mint(ctx, proposal.TargetAgent, proposal.GoalID, scope.Allowed, scope.Denied, h.tokenTTL)
	if err != nil {
		h.logger.WarnContext(ctx, "token mint failed, proceeding without token",
			"delegatee", proposal.TargetAgent,
			"goal_id", proposal.GoalID,
			"error", err)
		_ = h.auditor.Record(ctx, proposal.UserID, audit.EventMint, "mint_failed", proposal.ActionName,
			map[string]any{"delegatee": proposal.TargetAgent, "error": err.Error()})
		return nil
	}
	_ = h.auditor.Record(ctx, proposal.UserID, audit.EventMint, "minted", proposal.ActionName,
		map[string]any{"token_id": tok.TokenID, "delegatee": tok.Delegatee, "ttl_seconds": tok.TimeLimitSeconds})
	return &tok
}

func (h *Hook) emit(ctx context.Context, dec contracts.Decision) {
	meta := map[string]any{
		"decision_id":    dec.DecisionID,
		"risk_score":     dec.Assessment.RiskScore,
		"risk_level":     string(dec.Assessment.RiskLevel),
		"approval_level": string(dec.ApprovalLevel),
	}
	if dec.TrustDegraded {
		meta["degraded"] = true
		_ = h.auditor.Record(ctx, dec.Proposal.UserID, audit.EventDegraded, "trust_fallback", dec.Proposal.ActionName, nil)
	}
	_ = h.auditor.Record(ctx, dec.Proposal.UserID, audit.EventDecision, "decided", dec.Proposal.ActionName, meta)
	if h.obs != nil {
		h.obs.RecordDecision(ctx, string(dec.ApprovalLevel), dec.TrustDegraded)
	}
}

// toJSONValue normalizes a parameters map for schema validation; the
// compiler expects the shapes encoding/json produces.
func toJSONValue(params map[string]any) any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
