package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlabs/mandate/pkg/capability"
	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/policy"
	"github.com/haldenlabs/mandate/pkg/risk"
	"github.com/haldenlabs/mandate/pkg/store"
	"github.com/haldenlabs/mandate/pkg/trust"
)

func newTestHook(t *testing.T) (*Hook, *trust.Service) {
	t.Helper()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base }
	trustSvc := trust.NewService(store.NewMemoryStore(), trust.DefaultOptions()).WithClock(clock)
	h := NewHook(risk.NewScorer(), trustSvc, capability.NewIssuer().WithClock(clock)).WithClock(clock)
	return h, trustSvc
}

func proposalFor(kind contracts.ActionKind) contracts.Proposal {
	return contracts.Proposal{
		ActionName: "summarize_findings",
		ActionKind: kind,
		UserID:     "alice",
		GoalID:     "goal-42",
	}
}

func TestDecideLowRiskResearch(t *testing.T) {
	h, _ := newTestHook(t)

	p := proposalFor(contracts.KindResearch)
	p.Profile = &contracts.TaskProfile{
		Criticality: 0.2, Reversibility: 1.0, Uncertainty: 0.3,
		Complexity: 0.2, Contextuality: 0.2,
	}
	dec, err := h.Decide(context.Background(), p)
	require.NoError(t, err)

	assert.InDelta(t, 0.17, dec.Assessment.RiskScore, 1e-9)
	assert.Equal(t, contracts.RiskLow, dec.Assessment.RiskLevel)
	// Neutral trust (0.5) with low risk: EXECUTE_AND_NOTIFY per the table.
	assert.Equal(t, contracts.ApprovalExecuteAndNotify, dec.ApprovalLevel)
	assert.False(t, dec.TrustDegraded)
	assert.False(t, dec.PolicyEscalated)
	assert.NotEmpty(t, dec.DecisionID)
	assert.Nil(t, dec.CapabilityToken, "no target agent, no token")
}

func TestDecideValidatesProposal(t *testing.T) {
	h, _ := newTestHook(t)
	ctx := context.Background()

	p := proposalFor(contracts.KindResearch)
	p.UserID = ""
	_, err := h.Decide(ctx, p)
	require.ErrorIs(t, err, ErrProposalInvalid)

	p = proposalFor(contracts.KindResearch)
	p.ActionName = ""
	_, err = h.Decide(ctx, p)
	require.ErrorIs(t, err, ErrProposalInvalid)

	p = proposalFor(contracts.KindResearch)
	p.Profile = &contracts.TaskProfile{Criticality: 3}
	_, err = h.Decide(ctx, p)
	require.ErrorIs(t, err, ErrProposalInvalid)
}

func TestDecideMintsScopedTokenForDelegation(t *testing.T) {
	h, _ := newTestHook(t)

	p := proposalFor(contracts.KindResearch)
	p.TargetAgent = "scout"
	dec, err := h.Decide(context.Background(), p)
	require.NoError(t, err)

	require.NotNil(t, dec.CapabilityToken)
	tok := dec.CapabilityToken
	assert.Equal(t, "scout", tok.Delegatee)
	assert.Equal(t, "goal-42", tok.GoalID)
	assert.Equal(t, DefaultTokenTTLSeconds, tok.TimeLimitSeconds)
	assert.Contains(t, tok.DeniedActions, "send_email", "research tokens must deny communication tools")
}

func TestDecideProceedsWhenMintFails(t *testing.T) {
	h, _ := newTestHook(t)

	// An overlapping custom scope makes every mint invalid.
	h.WithScopes(map[contracts.ActionKind]TokenScope{
		contracts.KindResearch: {Allowed: []string{"x"}, Denied: []string{"x"}},
	})

	p := proposalFor(contracts.KindResearch)
	p.TargetAgent = "scout"
	dec, err := h.Decide(context.Background(), p)
	require.NoError(t, err, "mint failure must not abort the decision")
	assert.Nil(t, dec.CapabilityToken)
}

func TestDecideDoesNotMutateTrust(t *testing.T) {
	h, trustSvc := newTestHook(t)
	ctx := context.Background()

	before, err := trustSvc.GetOrCreateProfile(ctx, "alice", contracts.KindResearch)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := h.Decide(ctx, proposalFor(contracts.KindResearch))
		require.NoError(t, err)
	}

	after, err := trustSvc.GetOrCreateProfile(ctx, "alice", contracts.KindResearch)
	require.NoError(t, err)
	assert.Equal(t, before, after, "deciding must read trust, never move it")
}

func TestDecideAppliesGuardEscalation(t *testing.T) {
	h, _ := newTestHook(t)
	g, err := policy.NewGuard([]policy.Rule{{
		Name:       "all research is sensitive here",
		Expression: `kind == "research"`,
		Level:      contracts.ApprovalApproveEach,
	}})
	require.NoError(t, err)
	h.WithGuard(g)

	dec, err := h.Decide(context.Background(), proposalFor(contracts.KindResearch))
	require.NoError(t, err)
	assert.True(t, dec.PolicyEscalated)
	assert.Equal(t, contracts.ApprovalApproveEach, dec.ApprovalLevel)

	// Other kinds are untouched by the rule.
	dec, err = h.Decide(context.Background(), proposalFor(contracts.KindSearch))
	require.NoError(t, err)
	assert.False(t, dec.PolicyEscalated)
}

func TestDecideValidatesParameterSchema(t *testing.T) {
	h, _ := newTestHook(t)
	_, err := h.WithParameterSchemas(map[string]string{
		"communicate": `{
			"type": "object",
			"required": ["recipient"],
			"properties": {
				"recipient": {"type": "string", "minLength": 1}
			}
		}`,
	})
	require.NoError(t, err)
	ctx := context.Background()

	p := proposalFor(contracts.KindCommunicate)
	p.Parameters = map[string]any{"recipient": "bob@example.com"}
	_, err = h.Decide(ctx, p)
	require.NoError(t, err)

	p.Parameters = map[string]any{}
	_, err = h.Decide(ctx, p)
	require.ErrorIs(t, err, ErrProposalInvalid)

	// Kinds without a schema skip validation.
	q := proposalFor(contracts.KindResearch)
	q.Parameters = map[string]any{"whatever": 1}
	_, err = h.Decide(ctx, q)
	require.NoError(t, err)
}

func TestWithParameterSchemasRejectsBadSchema(t *testing.T) {
	h, _ := newTestHook(t)
	_, err := h.WithParameterSchemas(map[string]string{"research": `{"type": 12}`})
	require.Error(t, err)
}
