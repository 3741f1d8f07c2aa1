// Package lifecycle drives a governed action from submission through
// execution to a time-boxed, reversible completion.
//
// States: PENDING → {AUTO_APPROVED, USER_APPROVED, REJECTED} → EXECUTED →
// UNDO_PENDING → {COMPLETED, FAILED} or, through an UNDOING claim, UNDONE.
// Transitions for one action id
// are serialized by the store's compare-and-swap: of two racing callers at
// most one transition wins, the loser surfaces a state conflict. Every
// resolution out of PENDING feeds an outcome back into trust calibration,
// closing the learning loop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haldenlabs/mandate/pkg/contracts"
	"github.com/haldenlabs/mandate/pkg/store"
)

var (
	// ErrInvalidTransition is the state-conflict error: the action is not
	// in a state the requested transition accepts. Never auto-corrected.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrUndoWindowExpired distinguishes a late undo from any other
	// failure; late undos are routine, not anomalies.
	ErrUndoWindowExpired = errors.New("undo window expired")
	// ErrNotOwner rejects transitions by a user other than the action's.
	ErrNotOwner = errors.New("action belongs to another user")
)

// DefaultUndoWindow is the fixed reversible window after execution.
const DefaultUndoWindow = 300 * time.Second

// casRetries bounds transition retry loops under contention.
const casRetries = 8

// OutcomeRecorder receives the resolution signal for trust calibration.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, userID string, category contracts.ActionKind, outcome contracts.Outcome) (contracts.TrustProfile, error)
}

// Notifier is told of chosen approval levels and, for EXECUTE_AND_NOTIFY,
// informed after the fact. Implementations must be non-blocking.
type Notifier interface {
	DecisionChosen(ctx context.Context, action contracts.Action)
	ExecutedPostHoc(ctx context.Context, action contracts.Action)
}

// Compensator performs the external rollback effect for an undo.
type Compensator interface {
	Compensate(ctx context.Context, action contracts.Action) error
}

// UndoMetrics counts undo and resolution outcomes by result.
// *observability.Provider satisfies it.
type UndoMetrics interface {
	RecordUndo(ctx context.Context, result string)
}

// Manager is the action lifecycle engine.
type Manager struct {
	store       store.Store
	recorder    OutcomeRecorder
	notifier    Notifier    // nil = no notifications
	compensator Compensator // nil = undo flips state only
	metrics     UndoMetrics // nil = no metrics
	undoWindow  time.Duration
	logger      *slog.Logger
	clock       func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(st store.Store, recorder OutcomeRecorder) *Manager {
	return &Manager{
		store:      st,
		recorder:   recorder,
		undoWindow: DefaultUndoWindow,
		logger:     slog.Default().With("component", "lifecycle"),
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithNotifier attaches the notification collaborator.
func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.notifier = n
	return m
}

// WithCompensator attaches the rollback collaborator.
func (m *Manager) WithCompensator(c Compensator) *Manager {
	m.compensator = c
	return m
}

// WithMetrics attaches undo outcome counting.
func (m *Manager) WithMetrics(um UndoMetrics) *Manager {
	m.metrics = um
	return m
}

// WithUndoWindow overrides the fixed undo window.
func (m *Manager) WithUndoWindow(d time.Duration) *Manager {
	if d > 0 {
		m.undoWindow = d
	}
	return m
}

// Submit creates an action from a decided proposal and routes it by
// approval level: AUTO_EXECUTE auto-approves and executes immediately,
// EXECUTE_AND_NOTIFY does the same then notifies post-hoc, the two
// approval levels leave it PENDING for a human.
func (m *Manager) Submit(ctx context.Context, dec contracts.Decision, reversible bool) (contracts.Action, error) {
	a := contracts.Action{
		ID:            uuid.New().String(),
		UserID:        dec.Proposal.UserID,
		ActionType:    dec.Proposal.ActionKind,
		RiskLevel:     dec.Assessment.RiskLevel,
		ApprovalLevel: dec.ApprovalLevel,
		Status:        contracts.StatusPending,
		Reversible:    reversible,
		CreatedAt:     m.clock(),
	}
	if err := m.store.PutAction(ctx, a); err != nil {
		return contracts.Action{}, err
	}
	if m.notifier != nil {
		m.notifier.DecisionChosen(ctx, a)
	}

	switch dec.ApprovalLevel {
	case contracts.ApprovalAutoExecute, contracts.ApprovalExecuteAndNotify:
		approved, err := m.transition(ctx, a.ID, func(cur contracts.Action) (contracts.Action, error) {
			if cur.Status != contracts.StatusPending {
				return cur, m.conflict(cur, "auto-approve")
			}
			cur.Status = contracts.StatusAutoApproved
			return cur, nil
		})
		if err != nil {
			return contracts.Action{}, err
		}
		executed, err := m.Execute(ctx, approved.UserID, approved.ID)
		if err != nil {
			return contracts.Action{}, err
		}
		if dec.ApprovalLevel == contracts.ApprovalExecuteAndNotify && m.notifier != nil {
			m.notifier.ExecutedPostHoc(ctx, executed)
		}
		return executed, nil
	default:
		return a, nil
	}
}

// Approve moves a PENDING action to USER_APPROVED. Any other state is a
// state conflict, including a repeat approve.
func (m *Manager) Approve(ctx context.Context, userID, actionID string) (contracts.Action, error) {
	return m.transition(ctx, actionID, func(cur contracts.Action) (contracts.Action, error) {
		if cur.UserID != userID {
			return cur, fmt.Errorf("action %q: %w", actionID, ErrNotOwner)
		}
		if cur.Status != contracts.StatusPending {
			return cur, m.conflict(cur, "approve")
		}
		cur.Status = contracts.StatusUserApproved
		return cur, nil
	})
}

// Reject moves a PENDING action to REJECTED, records the reason and feeds
// an override outcome into trust calibration.
func (m *Manager) Reject(ctx context.Context, userID, actionID, reason string) (contracts.Action, error) {
	a, err := m.transition(ctx, actionID, func(cur contracts.Action) (contracts.Action, error) {
		if cur.UserID != userID {
			return cur, fmt.Errorf("action %q: %w", actionID, ErrNotOwner)
		}
		if cur.Status != contracts.StatusPending {
			return cur, m.conflict(cur, "reject")
		}
		cur.Status = contracts.StatusRejected
		cur.RejectionReason = reason
		return cur, nil
	})
	if err != nil {
		return contracts.Action{}, err
	}
	m.record(ctx, a, contracts.OutcomeOverride)
	return a, nil
}

// Execute moves an approved action to EXECUTED and immediately on to
// UNDO_PENDING (reversible; deadline = executed_at + window, wall-clock,
// restart-safe because it is persisted) or COMPLETED (irreversible).
func (m *Manager) Execute(ctx context.Context, userID, actionID string) (contracts.Action, error) {
	a, err := m.transition(ctx, actionID, func(cur contracts.Action) (contracts.Action, error) {
		if cur.UserID != userID {
			return cur, fmt.Errorf("action %q: %w", actionID, ErrNotOwner)
		}
		if !cur.Status.Approved() {
			return cur, m.conflict(cur, "execute")
		}
		now := m.clock()
		cur.ExecutedAt = &now
		if cur.Reversible {
			deadline := now.Add(m.undoWindow)
			cur.UndoDeadline = &deadline
			cur.Status = contracts.StatusUndoPending
		} else {
			cur.Status = contracts.StatusCompleted
		}
		return cur, nil
	})
	if err != nil {
		return contracts.Action{}, err
	}
	if a.Status == contracts.StatusCompleted {
		m.record(ctx, a, contracts.OutcomeSuccess)
	}
	return a, nil
}

// RequestUndo rolls back an UNDO_PENDING action strictly before its
// deadline. At or past the deadline it fails with ErrUndoWindowExpired,
// never a silent no-op. The action is claimed as UNDOING before the
// compensating effect runs; if compensation fails the claim is released
// back to UNDO_PENDING so the caller can retry within the window.
func (m *Manager) RequestUndo(ctx context.Context, userID, actionID string) (contracts.Action, error) {
	// Claim the undo first. The CAS to UNDOING admits exactly one caller,
	// so the compensating effect can never fire twice for one action.
	claimed, err := m.transition(ctx, actionID, func(cur contracts.Action) (contracts.Action, error) {
		if cur.UserID != userID {
			return cur, fmt.Errorf("action %q: %w", actionID, ErrNotOwner)
		}
		if cur.Status != contracts.StatusUndoPending {
			return cur, m.conflict(cur, "undo")
		}
		if cur.UndoDeadline == nil || !m.clock().Before(*cur.UndoDeadline) {
			return cur, fmt.Errorf("action %q: %w", actionID, ErrUndoWindowExpired)
		}
		cur.Status = contracts.StatusUndoing
		return cur, nil
	})
	if err != nil {
		if errors.Is(err, ErrUndoWindowExpired) {
			m.countUndo(ctx, "expired")
		}
		return contracts.Action{}, err
	}

	if m.compensator != nil {
		if err := m.compensator.Compensate(ctx, claimed); err != nil {
			// Release the claim so a retry within the window can succeed.
			if _, revertErr := m.transition(ctx, actionID, func(cur contracts.Action) (contracts.Action, error) {
				if cur.Status != contracts.StatusUndoing {
					return cur, m.conflict(cur, "undo release")
				}
				cur.Status = contracts.StatusUndoPending
				return cur, nil
			}); revertErr != nil {
				m.logger.Error("undo claim release failed", "action_id", actionID, "error", revertErr)
			}
			m.countUndo(ctx, "compensation_failed")
			return contracts.Action{}, fmt.Errorf("compensation for action %q: %w", actionID, err)
		}
	}

	a, err := m.transition(ctx, actionID, func(cur contracts.Action) (contracts.Action, error) {
		if cur.Status != contracts.StatusUndoing {
			return cur, m.conflict(cur, "undo settle")
		}
		cur.Status = contracts.StatusUndone
		return cur, nil
	})
	if err != nil {
		return contracts.Action{}, err
	}
	m.countUndo(ctx, "undone")
	m.record(ctx, a, contracts.OutcomeOverride)
	return a, nil
}

// Resolve settles an UNDO_PENDING action whose window has lapsed to
// COMPLETED (success) or, given failed=true, to FAILED at any point in the
// window. Typically driven by a sweep.
func (m *Manager) Resolve(ctx context.Context, actionID string, failed bool) (contracts.Action, error) {
	a, err := m.transition(ctx, actionID, func(cur contracts.Action) (contracts.Action, error) {
		if cur.Status != contracts.StatusUndoPending {
			return cur, m.conflict(cur, "resolve")
		}
		if failed {
			cur.Status = contracts.StatusFailed
			return cur, nil
		}
		if cur.UndoDeadline != nil && m.clock().Before(*cur.UndoDeadline) {
			return cur, fmt.Errorf("action %q: undo window still open: %w", actionID, ErrInvalidTransition)
		}
		cur.Status = contracts.StatusCompleted
		return cur, nil
	})
	if err != nil {
		return contracts.Action{}, err
	}
	if failed {
		m.countUndo(ctx, "failed")
		m.record(ctx, a, contracts.OutcomeFailure)
	} else {
		m.countUndo(ctx, "completed")
		m.record(ctx, a, contracts.OutcomeSuccess)
	}
	return a, nil
}

// BatchItem is one per-id result of a batch approval.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type BatchItem struct {
	ActionID string
	Action   contracts.Action
	Err      error
}

// BatchApprove approves many ids independently: one bad id never aborts
// the rest. The result lists, in input order, which ids transitioned and
// which failed with what.
func (m *Manager) BatchApprove(ctx context.Context, userID string, actionIDs []string) []BatchItem {
	items := make([]BatchItem, 0, len(actionIDs))
	for _, id := range actionIDs {
		a, err := m.Approve(ctx, userID, id)
		items = append(items, BatchItem{ActionID: id, Action: a, Err: err})
	}
	return items
}

// Get returns the current action record.
func (m *Manager) Get(ctx context.Context, actionID string) (contracts.Action, error) {
	a, _, err := m.store.GetAction(ctx, actionID)
	return a, err
}

// transition runs one CAS-guarded state change. Version conflicts retry
// against the fresh record; state checks inside apply decide whether the
// transition is still legal.
func (m *Manager) transition(ctx context.Context, actionID string, apply func(contracts.Action) (contracts.Action, error)) (contracts.Action, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, version, err := m.store.GetAction(ctx, actionID)
		if err != nil {
			return contracts.Action{}, err
		}
		next, err := apply(cur)
		if err != nil {
			return contracts.Action{}, err
		}
		if err := m.store.CompareAndSwapAction(ctx, next, version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return contracts.Action{}, err
		}
		return next, nil
	}
	return contracts.Action{}, fmt.Errorf("action %q: retries exhausted: %w", actionID, lastErr)
}

func (m *Manager) countUndo(ctx context.Context, result string) {
	if m.metrics != nil {
		m.metrics.RecordUndo(ctx, result)
	}
}

func (m *Manager) conflict(cur contracts.Action, verb string) error {
	return fmt.Errorf("cannot %s action %q in status %s: %w", verb, cur.ID, cur.Status, ErrInvalidTransition)
}

// record feeds the outcome into trust calibration. A recording failure is
// logged, not propagated: the lifecycle transition already happened.
func (m *Manager) record(ctx context.Context, a contracts.Action, outcome contracts.Outcome) {
	if m.recorder == nil {
		return
	}
	if _, err := m.recorder.RecordOutcome(ctx, a.UserID, a.ActionType, outcome); err != nil {
		m.logger.ErrorContext(ctx, "outcome recording failed",
			"action_id", a.ID,
			"user_id", a.UserID,
			"category", string(a.ActionType),
			"outcome", string(outcome),
			"error", err)
	}
}
