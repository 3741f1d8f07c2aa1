// Package trust maintains per-(user, category) trust profiles and combines
// them with task risk to derive the required approval level.
//
// Profiles are created lazily at a neutral prior and updated only through
// RecordOutcome, via a bounded exponential-moving rule clamped to [0,1].
// A store outage while reading a profile never blocks a decision: the
// service degrades to the scorer's stand-alone approval hint and logs it.
package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/risk"
	"github.com/haldenlabs/mandate/pkg/store"
)

// Calibration parameters. Alpha is the EMA step for ordinary outcomes;
// overrides (a human correcting an auto-decision) move the score with the
// sharper OverrideAlpha.
const (
	DefaultAlpha         = 0.10
	DefaultOverrideAlpha = 0.25

	// Upgrade eligibility: this many successes with a failure ratio
	// under the cutoff.
	DefaultUpgradeThreshold  = 10
	DefaultUpgradeFailureCut = 0.2

	// casRetries bounds the compare-and-swap retry loop under contention.
	casRetries = 8
)

// ErrOutcomeUnknown is returned for an outcome outside the closed set.
var ErrOutcomeUnknown = errors.New("unknown outcome")

// Options tune the calibration rule.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Options struct {
	Alpha             float64
	OverrideAlpha     float64
	UpgradeThreshold  int
	UpgradeFailureCut float64
}

// DefaultOptions returns the standard calibration parameters.
func DefaultOptions() Options {
	return Options{
		Alpha:             DefaultAlpha,
		OverrideAlpha:     DefaultOverrideAlpha,
		UpgradeThreshold:  DefaultUpgradeThreshold,
		UpgradeFailureCut: DefaultUpgradeFailureCut,
	}
}

// Service is the trust store and calibration service.
type Service struct {
	store  store.Store
	opts   Options
	logger *slog.Logger
	clock  func() time.Time
}

// NewService creates a calibration service over the given store.
func NewService(st store.Store, opts Options) *Service {
	if opts.Alpha <= 0 {
		opts.Alpha = DefaultAlpha
	}
	if opts.OverrideAlpha <= 0 {
		opts.OverrideAlpha = DefaultOverrideAlpha
	}
	if opts.UpgradeThreshold <= 0 {
		opts.UpgradeThreshold = DefaultUpgradeThreshold
	}
	if opts.UpgradeFailureCut <= 0 {
		opts.UpgradeFailureCut = DefaultUpgradeFailureCut
	}
	return &Service{
		store:  st,
		opts:   opts,
		logger: slog.Default().With("component", "trust"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithLogger overrides the component logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l.With("component", "trust")
	return s
}

// GetOrCreateProfile returns the existing profile or initializes a neutral
// one. It never blocks on absence; a create race falls back to the winner's
// row.
func (s *Service) GetOrCreateProfile(ctx context.Context, userID string, category contracts.ActionKind) (contracts.TrustProfile, error) {
	key := store.TrustKey{UserID: userID, Category: category}
	p, _, err := s.store.GetTrustProfile(ctx, key)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return contracts.TrustProfile{}, err
	}

	fresh := contracts.TrustProfile{
		UserID:     userID,
		Category:   category,
		TrustScore: contracts.NeutralTrustScore,
		UpdatedAt:  s.clock(),
	}
	switch err := s.store.PutTrustProfile(ctx, fresh); {
	case err == nil:
		return fresh, nil
	case errors.Is(err, store.ErrDuplicateKey):
		// Lost the create race; the winner's row is authoritative.
		p, _, err := s.store.GetTrustProfile(ctx, key)
		return p, err
	default:
		return contracts.TrustProfile{}, err
	}
}

// RecordOutcome applies one resolved outcome to the (user, category)
// profile. The update is a compare-and-swap retry loop, so concurrent
// completions never drop an increment, and every change is appended to the
// hash-chained trust history.
//
// The profile swap and the history append are two store calls, not one
// transaction: a crash between them loses the chain entry while the score
// has already moved. When the append itself fails, the updated profile is
// returned alongside the error so the caller sees the score that now holds.
func (s *Service) RecordOutcome(ctx context.Context, userID string, category contracts.ActionKind, outcome contracts.Outcome) (contracts.TrustProfile, error) {
	switch outcome {
	case contracts.OutcomeSuccess, contracts.OutcomeFailure, contracts.OutcomeOverride:
	default:
		return contracts.TrustProfile{}, fmt.Errorf("%w: %q", ErrOutcomeUnknown, outcome)
	}

	if _, err := s.GetOrCreateProfile(ctx, userID, category); err != nil {
		return contracts.TrustProfile{}, err
	}

	key := store.TrustKey{UserID: userID, Category: category}
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, version, err := s.store.GetTrustProfile(ctx, key)
		if err != nil {
			return contracts.TrustProfile{}, err
		}

		next := cur
		oldScore := cur.TrustScore
		switch outcome {
		case contracts.OutcomeSuccess:
			next.SuccessfulActions++
		case contracts.OutcomeFailure:
			next.FailedActions++
		case contracts.OutcomeOverride:
			next.OverrideCount++
		}
		next.TrustScore = s.nextScore(cur.TrustScore, outcome)
		next.UpdatedAt = s.clock()

		if err := s.store.CompareAndSwapTrustProfile(ctx, next, version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return contracts.TrustProfile{}, err
		}

		if _, err := s.store.AppendTrustChange(ctx, contracts.TrustChangeRecord{
			UserID:   userID,
			Category: category,
			Outcome:  outcome,
			OldScore: oldScore,
			NewScore: next.TrustScore,
			At:       next.UpdatedAt,
		}); err != nil {
			return next, fmt.Errorf("trust history append: %w", err)
		}
		return next, nil
	}
	return contracts.TrustProfile{}, fmt.Errorf("record outcome %s/%s: retries exhausted: %w", userID, category, lastErr)
}

// nextScore applies the bounded exponential-moving rule. Success pulls the
// score toward 1, failure toward 0, override toward 0 with a sharper step.
func (s *Service) nextScore(current float64, outcome contracts.Outcome) float64 {
	alpha := s.opts.Alpha
	target := 0.0
	switch outcome {
	case contracts.OutcomeSuccess:
		target = 1.0
	case contracts.OutcomeOverride:
		alpha = s.opts.OverrideAlpha
	}
	next := (1-alpha)*current + alpha*target
	return clamp01(next)
}

// ApprovalLevelFor combines stored trust with the risk score. On a
// transient store failure it degrades to the scorer's stand-alone hint:
// degraded=true and a warning, never a failed decision.
func (s *Service) ApprovalLevelFor(ctx context.Context, userID string, category contracts.ActionKind, riskScore float64) (contracts.ApprovalLevel, bool) {
	p, err := s.GetOrCreateProfile(ctx, userID, category)
	if err != nil {
		hint := risk.HintForScore(riskScore)
		s.logger.WarnContext(ctx, "trust lookup degraded, using risk hint",
			"user_id", userID,
			"category", string(category),
			"hint", string(hint),
			"error", err)
		return hint, true
	}
	return ComputeApprovalLevel(p.TrustScore, riskScore), false
}

// CanRequestUpgrade reports whether the pair has earned the right to ask
// for a looser approval level. Pure read; nothing is auto-applied.
func (s *Service) CanRequestUpgrade(ctx context.Context, userID string, category contracts.ActionKind) (bool, error) {
	p, err := s.GetOrCreateProfile(ctx, userID, category)
	if err != nil {
		return false, err
	}
	if p.SuccessfulActions < s.opts.UpgradeThreshold {
		return false, nil
	}
	total := p.SuccessfulActions + p.FailedActions
	if total == 0 {
		return false, nil
	}
	ratio := float64(p.FailedActions) / float64(total)
	return ratio < s.opts.UpgradeFailureCut, nil
}

// History returns the chained trust-change history for a pair, oldest first.
func (s *Service) History(ctx context.Context, userID string, category contracts.ActionKind, limit int) ([]*store.ChainedTrustChange, error) {
	return s.store.ListTrustChanges(ctx, store.TrustKey{UserID: userID, Category: category}, limit)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
