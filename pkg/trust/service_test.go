package trust

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(st, DefaultOptions()).WithClock(func() time.Time { return base })
	return svc, st
}

func TestGetOrCreateProfileStartsNeutral(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.GetOrCreateProfile(ctx, "alice", contracts.KindResearch)
	require.NoError(t, err)
	assert.Equal(t, contracts.NeutralTrustScore, p.TrustScore)
	assert.Zero(t, p.SuccessfulActions)
	assert.Zero(t, p.FailedActions)
	assert.Zero(t, p.OverrideCount)

	// A second lookup returns the same row, not a fresh one.
	again, err := svc.GetOrCreateProfile(ctx, "alice", contracts.KindResearch)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestProfilesIsolatedPerCategory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordOutcome(ctx, "alice", contracts.KindResearch, contracts.OutcomeSuccess)
	require.NoError(t, err)

	other, err := svc.GetOrCreateProfile(ctx, "alice", contracts.KindCommunicate)
	require.NoError(t, err)
	assert.Equal(t, contracts.NeutralTrustScore, other.TrustScore,
		"outcome in one category must not touch another")
}

func TestRecordOutcomeMovesScore(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.RecordOutcome(ctx, "alice", contracts.KindResearch, contracts.OutcomeSuccess)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, p.TrustScore, 1e-9, "0.9*0.5 + 0.1*1.0")
	assert.Equal(t, 1, p.SuccessfulActions)

	p, err = svc.RecordOutcome(ctx, "alice", contracts.KindResearch, contracts.OutcomeFailure)
	require.NoError(t, err)
	assert.InDelta(t, 0.495, p.TrustScore, 1e-9, "0.9*0.55")
	assert.Equal(t, 1, p.FailedActions)

	p, err = svc.RecordOutcome(ctx, "alice", contracts.KindResearch, contracts.OutcomeOverride)
	require.NoError(t, err)
	assert.InDelta(t, 0.37125, p.TrustScore, 1e-9, "override uses the sharper step")
	assert.Equal(t, 1, p.OverrideCount)
}

func TestRecordOutcomeRejectsUnknown(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.RecordOutcome(context.Background(), "alice", contracts.KindResearch, contracts.Outcome("shrug"))
	require.ErrorIs(t, err, ErrOutcomeUnknown)
}

func TestScoreStaysClamped(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var p contracts.TrustProfile
	var err error
	for i := 0; i < 200; i++ {
		p, err = svc.RecordOutcome(ctx, "alice", contracts.KindSearch, contracts.OutcomeSuccess)
		require.NoError(t, err)
		require.LessOrEqual(t, p.TrustScore, 1.0)
	}
	assert.Greater(t, p.TrustScore, 0.99, "long success streak should approach 1")

	for i := 0; i < 200; i++ {
		p, err = svc.RecordOutcome(ctx, "bob", contracts.KindSearch, contracts.OutcomeOverride)
		require.NoError(t, err)
		require.GreaterOrEqual(t, p.TrustScore, 0.0)
	}
	assert.Less(t, p.TrustScore, 0.01, "long override streak should approach 0")
}

func TestConcurrentOutcomesNeverDropIncrements(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const workers = 16
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := svc.RecordOutcome(ctx, "alice", contracts.KindMonitor, contracts.OutcomeSuccess)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	p, err := svc.GetOrCreateProfile(ctx, "alice", contracts.KindMonitor)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, p.SuccessfulActions)
}

func TestRecordOutcomeAppendsHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordOutcome(ctx, "alice", contracts.KindResearch, contracts.OutcomeSuccess)
	require.NoError(t, err)
	_, err = svc.RecordOutcome(ctx, "alice", contracts.KindResearch, contracts.OutcomeFailure)
	require.NoError(t, err)

	changes, err := svc.History(ctx, "alice", contracts.KindResearch, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, contracts.OutcomeSuccess, changes[0].Record.Outcome)
	assert.Equal(t, contracts.OutcomeFailure, changes[1].Record.Outcome)
	assert.Equal(t, changes[0].EntryHash, changes[1].PrevHash)
	require.NoError(t, store.VerifyChain(changes))
}

func TestApprovalLevelForCombinesTrustAndRisk(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Fresh profile sits at 0.5: medium trust, medium risk -> APPROVE_PLAN.
	level, degraded := svc.ApprovalLevelFor(ctx, "alice", contracts.KindCommunicate, 0.45)
	assert.False(t, degraded)
	assert.Equal(t, contracts.ApprovalApprovePlan, level)

	// Push trust into the high band.
	for i := 0; i < 30; i++ {
		_, err := svc.RecordOutcome(ctx, "alice", contracts.KindCommunicate, contracts.OutcomeSuccess)
		require.NoError(t, err)
	}
	level, degraded = svc.ApprovalLevelFor(ctx, "alice", contracts.KindCommunicate, 0.45)
	assert.False(t, degraded)
	assert.Equal(t, contracts.ApprovalExecuteAndNotify, level)
}

// flakyStore fails trust-profile reads and writes to simulate an outage.
type flakyStore struct {
	store.Store
}

func (f *flakyStore) GetTrustProfile(ctx context.Context, key store.TrustKey) (contracts.TrustProfile, uint64, error) {
	return contracts.TrustProfile{}, 0, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (f *flakyStore) PutTrustProfile(ctx context.Context, p contracts.TrustProfile) error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func TestApprovalLevelForDegradesOnStoreOutage(t *testing.T) {
	svc := NewService(&flakyStore{Store: store.NewMemoryStore()}, DefaultOptions())

	// Risk 0.17 is low: fallback hint is AUTO_EXECUTE.
	level, degraded := svc.ApprovalLevelFor(context.Background(), "alice", contracts.KindResearch, 0.17)
	assert.True(t, degraded)
	assert.Equal(t, contracts.ApprovalAutoExecute, level)

	// Risk 0.8 is critical: fallback hint is APPROVE_EACH.
	level, degraded = svc.ApprovalLevelFor(context.Background(), "alice", contracts.KindResearch, 0.8)
	assert.True(t, degraded)
	assert.Equal(t, contracts.ApprovalApproveEach, level)
}

// appendFailStore lets the profile swap succeed but fails the history
// append, the gap between the two store calls.
type appendFailStore struct {
	store.Store
}

func (f *appendFailStore) AppendTrustChange(ctx context.Context, rec contracts.TrustChangeRecord) (*store.ChainedTrustChange, error) {
	return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func TestRecordOutcomeHistoryAppendFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	svc := NewService(&appendFailStore{Store: mem}, DefaultOptions())
	ctx := context.Background()

	p, err := svc.RecordOutcome(ctx, "alice", contracts.KindResearch, contracts.OutcomeSuccess)
	require.ErrorIs(t, err, store.ErrUnavailable)

	// The score already moved; the returned profile must say so.
	assert.InDelta(t, 0.55, p.TrustScore, 1e-9)
	stored, _, err := mem.GetTrustProfile(ctx, store.TrustKey{UserID: "alice", Category: contracts.KindResearch})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, stored.TrustScore, 1e-9)
	assert.Equal(t, 1, stored.SuccessfulActions)
}

func TestCanRequestUpgrade(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.CanRequestUpgrade(ctx, "alice", contracts.KindSchedule)
	require.NoError(t, err)
	assert.False(t, ok, "fresh profile has no track record")

	for i := 0; i < 10; i++ {
		_, err := svc.RecordOutcome(ctx, "alice", contracts.KindSchedule, contracts.OutcomeSuccess)
		require.NoError(t, err)
	}
	ok, err = svc.CanRequestUpgrade(ctx, "alice", contracts.KindSchedule)
	require.NoError(t, err)
	assert.True(t, ok, "10 successes, zero failures")

	// Pile on failures until the ratio crosses the cutoff.
	for i := 0; i < 4; i++ {
		_, err := svc.RecordOutcome(ctx, "alice", contracts.KindSchedule, contracts.OutcomeFailure)
		require.NoError(t, err)
	}
	ok, err = svc.CanRequestUpgrade(ctx, "alice", contracts.KindSchedule)
	require.NoError(t, err)
	assert.False(t, ok, "4 failures out of 14 is over the 0.2 cutoff")
}
