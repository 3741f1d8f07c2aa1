package skills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/store"
)

// Auto-approval thresholds per declared risk level. HIGH and CRITICAL
// skills are never auto-approved regardless of track record.
const (
	LowRiskThreshold    = 3
	MediumRiskThreshold = 10
)

const casRetries = 8

// Ledger tracks per-(user, skill) execution counters in the keyed store.
//
// SuccessfulExecutions counts the current success streak: a failure resets
// it, so earned silence is lost on the first new failure. FailedExecutions
// is cumulative for audit.
type Ledger struct {
	store    store.Store
	registry *Registry
	clock    func() time.Time
}

// NewLedger creates a skill trust ledger.
func NewLedger(st store.Store, registry *Registry) *Ledger {
	return &Ledger{store: st, registry: registry, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// ShouldRequestApproval decides whether running the skill needs a human.
// Global approval and session trust short-circuit; otherwise the streak is
// compared against the level's fixed threshold.
func (l *Ledger) ShouldRequestApproval(ctx context.Context, userID, skillID string) (bool, error) {
	skill, err := l.registry.Get(skillID)
	if err != nil {
		return true, err
	}
	rec, err := l.getOrCreate(ctx, userID, skillID)
	if err != nil {
		return true, err
	}
	if rec.GloballyApproved || rec.SessionTrustGranted {
		return false, nil
	}
	switch skill.RiskLevel {
	case contracts.SkillRiskLow:
		return rec.SuccessfulExecutions < LowRiskThreshold, nil
	case contracts.SkillRiskMedium:
		return rec.SuccessfulExecutions < MediumRiskThreshold, nil
	default:
		// HIGH and CRITICAL always ask.
		return true, nil
	}
}

// RecordExecution applies one execution result. Failures reset the success
// streak in the same atomic update.
func (l *Ledger) RecordExecution(ctx context.Context, userID, skillID string, success bool) (contracts.SkillTrustRecord, error) {
	if _, err := l.registry.Get(skillID); err != nil {
		return contracts.SkillTrustRecord{}, err
	}
	return l.update(ctx, userID, skillID, func(rec contracts.SkillTrustRecord) contracts.SkillTrustRecord {
		if success {
			rec.SuccessfulExecutions++
		} else {
			rec.FailedExecutions++
			rec.SuccessfulExecutions = 0
		}
		return rec
	})
}

// GrantSessionTrust marks the pair trusted for the current session.
func (l *Ledger) GrantSessionTrust(ctx context.Context, userID, skillID string) (contracts.SkillTrustRecord, error) {
	return l.update(ctx, userID, skillID, func(rec contracts.SkillTrustRecord) contracts.SkillTrustRecord {
		rec.SessionTrustGranted = true
		return rec
	})
}

// ResetSessionTrust clears session trust, e.g. at session end.
func (l *Ledger) ResetSessionTrust(ctx context.Context, userID, skillID string) (contracts.SkillTrustRecord, error) {
	return l.update(ctx, userID, skillID, func(rec contracts.SkillTrustRecord) contracts.SkillTrustRecord {
		rec.SessionTrustGranted = false
		return rec
	})
}

// ApproveGlobally stickily approves the pair across sessions.
func (l *Ledger) ApproveGlobally(ctx context.Context, userID, skillID string) (contracts.SkillTrustRecord, error) {
	return l.update(ctx, userID, skillID, func(rec contracts.SkillTrustRecord) contracts.SkillTrustRecord {
		rec.GloballyApproved = true
		return rec
	})
}

func (l *Ledger) getOrCreate(ctx context.Context, userID, skillID string) (contracts.SkillTrustRecord, error) {
	key := store.SkillKey{UserID: userID, SkillID: skillID}
	rec, _, err := l.store.GetSkillRecord(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return contracts.SkillTrustRecord{}, err
	}
	fresh := contracts.SkillTrustRecord{UserID: userID, SkillID: skillID, UpdatedAt: l.clock()}
	switch err := l.store.PutSkillRecord(ctx, fresh); {
	case err == nil:
		return fresh, nil
	case errors.Is(err, store.ErrDuplicateKey):
		rec, _, err := l.store.GetSkillRecord(ctx, key)
		return rec, err
	default:
		return contracts.SkillTrustRecord{}, err
	}
}

func (l *Ledger) update(ctx context.Context, userID, skillID string, apply func(contracts.SkillTrustRecord) contracts.SkillTrustRecord) (contracts.SkillTrustRecord, error) {
	if _, err := l.getOrCreate(ctx, userID, skillID); err != nil {
		return contracts.SkillTrustRecord{}, err
	}
	key := store.SkillKey{UserID: userID, SkillID: skillID}
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, version, err := l.store.GetSkillRecord(ctx, key)
		if err != nil {
			return contracts.SkillTrustRecord{}, err
		}
		next := apply(cur)
		next.UpdatedAt = l.clock()
		if err := l.store.CompareAndSwapSkillRecord(ctx, next, version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return contracts.SkillTrustRecord{}, err
		}
		return next, nil
	}
	return contracts.SkillTrustRecord{}, fmt.Errorf("skill record %s/%s: retries exhausted: %w", userID, skillID, lastErr)
}
