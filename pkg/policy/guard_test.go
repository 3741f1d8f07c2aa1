package policy

import (
	"context"
	"testing"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

func testProposal() contracts.Proposal {
	return contracts.Proposal{
		ActionName:  "send_quarterly_report",
		ActionKind:  contracts.KindCommunicate,
		UserID:      "alice",
		TargetAgent: "scout",
		GoalID:      "goal-42",
		Parameters:  map[string]any{"recipients": 45.0},
	}
}

func testAssessment(score float64) contracts.RiskAssessment {
	return contracts.RiskAssessment{RiskScore: score, RiskLevel: contracts.RiskMedium}
}

func TestGuardNoRulesPassthrough(t *testing.T) {
	g, err := NewGuard(nil)
	if err != nil {
		t.Fatal(err)
	}
	level, escalated := g.Apply(context.Background(), testProposal(), testAssessment(0.4), contracts.ApprovalAutoExecute)
	if escalated || level != contracts.ApprovalAutoExecute {
		t.Fatalf("level = %s escalated = %v, want passthrough", level, escalated)
	}
}

func TestGuardEscalatesOnMatch(t *testing.T) {
	g, err := NewGuard([]Rule{{
		Name:       "bulk external communication",
		Expression: `kind == "communicate" && proposal.parameters.recipients > 10.0`,
		Level:      contracts.ApprovalApprovePlan,
	}})
	if err != nil {
		t.Fatal(err)
	}
	level, escalated := g.Apply(context.Background(), testProposal(), testAssessment(0.4), contracts.ApprovalExecuteAndNotify)
	if !escalated {
		t.Fatal("matching rule did not escalate")
	}
	if level != contracts.ApprovalApprovePlan {
		t.Fatalf("level = %s, want APPROVE_PLAN", level)
	}
}

func TestGuardNeverLowers(t *testing.T) {
	g, err := NewGuard([]Rule{{
		Name:       "low bar rule",
		Expression: `true`,
		Level:      contracts.ApprovalAutoExecute,
	}})
	if err != nil {
		t.Fatal(err)
	}
	// The rule matches but demands a looser level than the table produced.
	level, escalated := g.Apply(context.Background(), testProposal(), testAssessment(0.4), contracts.ApprovalApproveEach)
	if escalated {
		t.Fatal("a looser demand must not count as escalation")
	}
	if level != contracts.ApprovalApproveEach {
		t.Fatalf("level = %s, guard lowered the floor", level)
	}
}

func TestGuardNonMatchingRuleLeavesLevel(t *testing.T) {
	g, err := NewGuard([]Rule{{
		Name:       "high risk only",
		Expression: `risk_score > 0.9`,
		Level:      contracts.ApprovalApproveEach,
	}})
	if err != nil {
		t.Fatal(err)
	}
	level, escalated := g.Apply(context.Background(), testProposal(), testAssessment(0.4), contracts.ApprovalExecuteAndNotify)
	if escalated || level != contracts.ApprovalExecuteAndNotify {
		t.Fatalf("level = %s escalated = %v, want unchanged", level, escalated)
	}
}

func TestGuardStrictestOfManyWins(t *testing.T) {
	g, err := NewGuard([]Rule{
		{Name: "a", Expression: `true`, Level: contracts.ApprovalApprovePlan},
		{Name: "b", Expression: `true`, Level: contracts.ApprovalApproveEach},
		{Name: "c", Expression: `true`, Level: contracts.ApprovalExecuteAndNotify},
	})
	if err != nil {
		t.Fatal(err)
	}
	level, escalated := g.Apply(context.Background(), testProposal(), testAssessment(0.4), contracts.ApprovalAutoExecute)
	if !escalated || level != contracts.ApprovalApproveEach {
		t.Fatalf("level = %s, want the strictest demanded level", level)
	}
}

func TestGuardBrokenRuleFailsClosed(t *testing.T) {
	for _, expr := range []string{
		`this is not CEL (((`,
		`proposal.parameters.missing_key > 1.0`, // evaluation error
		`risk_score`,                            // not boolean
	} {
		g, err := NewGuard([]Rule{{Name: "broken", Expression: expr, Level: contracts.ApprovalExecuteAndNotify}})
		if err != nil {
			t.Fatal(err)
		}
		level, escalated := g.Apply(context.Background(), testProposal(), testAssessment(0.4), contracts.ApprovalAutoExecute)
		if !escalated || level != contracts.ApprovalApproveEach {
			t.Fatalf("expr %q: level = %s, broken rules must escalate to APPROVE_EACH", expr, level)
		}
	}
}
