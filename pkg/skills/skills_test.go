package skills

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/store"
)

func newTestLedger(t *testing.T) (*Ledger, *Registry) {
	t.Helper()
	reg := NewRegistry()
	for _, s := range []Skill{
		{ID: "summarize-paper", Name: "Summarize Paper", Version: "1.2.0", RiskLevel: contracts.SkillRiskLow},
		{ID: "draft-email", Name: "Draft Email", Version: "0.4.1", RiskLevel: contracts.SkillRiskMedium},
		{ID: "pay-invoice", Name: "Pay Invoice", Version: "2.0.0", RiskLevel: contracts.SkillRiskHigh},
		{ID: "rotate-keys", Name: "Rotate Keys", Version: "1.0.0", RiskLevel: contracts.SkillRiskCritical},
	} {
		if err := reg.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return NewLedger(store.NewMemoryStore(), reg).WithClock(func() time.Time { return base }), reg
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(Skill{ID: "", Version: "1.0.0", RiskLevel: contracts.SkillRiskLow}); !errors.Is(err, ErrSkillInvalid) {
		t.Fatalf("empty id: got %v", err)
	}
	if err := reg.Register(Skill{ID: "x", Version: "not-a-version", RiskLevel: contracts.SkillRiskLow}); !errors.Is(err, ErrSkillInvalid) {
		t.Fatalf("bad version: got %v", err)
	}
	if err := reg.Register(Skill{ID: "x", Version: "1.0.0", RiskLevel: contracts.SkillRiskLevel("EXTREME")}); !errors.Is(err, ErrSkillInvalid) {
		t.Fatalf("bad risk level: got %v", err)
	}

	ok := Skill{ID: "x", Version: "1.0.0", RiskLevel: contracts.SkillRiskLow}
	if err := reg.Register(ok); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ok); !errors.Is(err, ErrSkillInvalid) {
		t.Fatalf("duplicate id: got %v", err)
	}

	if _, err := reg.Get("nope"); !errors.Is(err, ErrSkillUnknown) {
		t.Fatalf("unknown get: got %v", err)
	}
}

func TestLowRiskSkillEarnsSilenceAfterThree(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < LowRiskThreshold; i++ {
		ask, err := ledger.ShouldRequestApproval(ctx, "alice", "summarize-paper")
		if err != nil {
			t.Fatal(err)
		}
		if !ask {
			t.Fatalf("after %d successes approval should still be required", i)
		}
		if _, err := ledger.RecordExecution(ctx, "alice", "summarize-paper", true); err != nil {
			t.Fatal(err)
		}
	}

	ask, err := ledger.ShouldRequestApproval(ctx, "alice", "summarize-paper")
	if err != nil {
		t.Fatal(err)
	}
	if ask {
		t.Fatal("three consecutive successes should earn silent execution")
	}
}

func TestFailureResetsStreak(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordExecution(ctx, "alice", "summarize-paper", true); err != nil {
			t.Fatal(err)
		}
	}
	rec, err := ledger.RecordExecution(ctx, "alice", "summarize-paper", false)
	if err != nil {
		t.Fatal(err)
	}
	if rec.SuccessfulExecutions != 0 {
		t.Fatalf("streak = %d after failure, want 0", rec.SuccessfulExecutions)
	}
	if rec.FailedExecutions != 1 {
		t.Fatalf("failed executions = %d, want 1", rec.FailedExecutions)
	}

	ask, err := ledger.ShouldRequestApproval(ctx, "alice", "summarize-paper")
	if err != nil {
		t.Fatal(err)
	}
	if !ask {
		t.Fatal("earned silence must be lost after a failure")
	}
}

func TestMediumRiskNeedsTen(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := ledger.RecordExecution(ctx, "alice", "draft-email", true); err != nil {
			t.Fatal(err)
		}
	}
	ask, err := ledger.ShouldRequestApproval(ctx, "alice", "draft-email")
	if err != nil {
		t.Fatal(err)
	}
	if !ask {
		t.Fatal("nine successes is under the MEDIUM threshold")
	}

	if _, err := ledger.RecordExecution(ctx, "alice", "draft-email", true); err != nil {
		t.Fatal(err)
	}
	ask, err = ledger.ShouldRequestApproval(ctx, "alice", "draft-email")
	if err != nil {
		t.Fatal(err)
	}
	if ask {
		t.Fatal("ten successes should earn silent execution for MEDIUM")
	}
}

func TestHighAndCriticalAlwaysAsk(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for _, skillID := range []string{"pay-invoice", "rotate-keys"} {
		for i := 0; i < 50; i++ {
			if _, err := ledger.RecordExecution(ctx, "alice", skillID, true); err != nil {
				t.Fatal(err)
			}
		}
		ask, err := ledger.ShouldRequestApproval(ctx, "alice", skillID)
		if err != nil {
			t.Fatal(err)
		}
		if !ask {
			t.Fatalf("%s must always require approval", skillID)
		}
	}
}

func TestSessionTrustShortCircuits(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.GrantSessionTrust(ctx, "alice", "pay-invoice"); err != nil {
		t.Fatal(err)
	}
	ask, err := ledger.ShouldRequestApproval(ctx, "alice", "pay-invoice")
	if err != nil {
		t.Fatal(err)
	}
	if ask {
		t.Fatal("session trust should short-circuit even for HIGH")
	}

	if _, err := ledger.ResetSessionTrust(ctx, "alice", "pay-invoice"); err != nil {
		t.Fatal(err)
	}
	ask, err = ledger.ShouldRequestApproval(ctx, "alice", "pay-invoice")
	if err != nil {
		t.Fatal(err)
	}
	if !ask {
		t.Fatal("reset session trust should restore the approval requirement")
	}
}

func TestGlobalApprovalSticks(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := ledger.ApproveGlobally(ctx, "alice", "rotate-keys"); err != nil {
		t.Fatal(err)
	}
	ask, err := ledger.ShouldRequestApproval(ctx, "alice", "rotate-keys")
	if err != nil {
		t.Fatal(err)
	}
	if ask {
		t.Fatal("global approval should short-circuit")
	}

	// Global approval survives a failure; only the streak resets.
	if _, err := ledger.RecordExecution(ctx, "alice", "rotate-keys", false); err != nil {
		t.Fatal(err)
	}
	ask, err = ledger.ShouldRequestApproval(ctx, "alice", "rotate-keys")
	if err != nil {
		t.Fatal(err)
	}
	if ask {
		t.Fatal("failure must not clear sticky global approval")
	}
}

func TestLedgerIsolatedPerUser(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordExecution(ctx, "alice", "summarize-paper", true); err != nil {
			t.Fatal(err)
		}
	}
	ask, err := ledger.ShouldRequestApproval(ctx, "bob", "summarize-paper")
	if err != nil {
		t.Fatal(err)
	}
	if !ask {
		t.Fatal("one user's track record must not loosen another's")
	}
}

func TestUnknownSkillRequiresApproval(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ask, err := ledger.ShouldRequestApproval(context.Background(), "alice", "nope")
	if !errors.Is(err, ErrSkillUnknown) {
		t.Fatalf("got %v, want ErrSkillUnknown", err)
	}
	if !ask {
		t.Fatal("unknown skill must fail closed")
	}
}
