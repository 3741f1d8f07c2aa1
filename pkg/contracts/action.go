package contracts

import "time"

// ActionStatus is the lifecycle state of an Action.
type ActionStatus string

const (
	StatusPending      ActionStatus = "PENDING"
	StatusAutoApproved ActionStatus = "AUTO_APPROVED"
	StatusUserApproved ActionStatus = "USER_APPROVED"
	StatusRejected     ActionStatus = "REJECTED"
	StatusExecuted     ActionStatus = "EXECUTED"
	StatusUndoPending  ActionStatus = "UNDO_PENDING"
	StatusUndoing      ActionStatus = "UNDOING"
	StatusCompleted    ActionStatus = "COMPLETED"
	StatusUndone       ActionStatus = "UNDONE"
	StatusFailed       ActionStatus = "FAILED"
)

// Terminal reports whether no further transition can leave the status.
func (s ActionStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusUndone, StatusFailed:
		return true
	default:
		return false
	}
}

// Approved reports whether the action has been cleared for execution.
func (s ActionStatus) Approved() bool {
	return s == StatusAutoApproved || s == StatusUserApproved
}

// Action is one governed unit of agent work. Actions are never deleted:
// terminal records stay in the store as audit history.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Action struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	ActionType      ActionKind    `json:"action_type"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	ApprovalLevel   ApprovalLevel `json:"approval_level"`
	Status          ActionStatus  `json:"status"`
	Reversible      bool          `json:"reversible"`
	CreatedAt       time.Time     `json:"created_at"`
	ExecutedAt      *time.Time    `json:"executed_at,omitempty"`
	UndoDeadline    *time.Time    `json:"undo_deadline,omitempty"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
}

// Outcome is the resolution signal fed back into trust calibration.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeOverride Outcome = "override"
)

// Proposal is the upstream reasoning collaborator's output: what an agent
// wants to do, to whom it is delegated and with which parameters.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Proposal struct {
	ActionName  string         `json:"action_name"`
	ActionKind  ActionKind     `json:"action_kind"`
	UserID      string         `json:"user_id"`
	TargetAgent string         `json:"target_agent,omitempty"`
	GoalID      string         `json:"goal_id,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Profile     *TaskProfile   `json:"profile,omitempty"` // explicit override; nil = kind default
}

// Decision is what the orchestration hook attaches to an in-flight proposal
// before handing it off to execution.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Decision struct {
	DecisionID      string           `json:"decision_id"`
	Proposal        Proposal         `json:"proposal"`
	Assessment      RiskAssessment   `json:"assessment"`
	ApprovalLevel   ApprovalLevel    `json:"approval_level"`
	TrustDegraded   bool             `json:"trust_degraded"`
	PolicyEscalated bool             `json:"policy_escalated,omitempty"`
	CapabilityToken *CapabilityToken `json:"capability_token,omitempty"`
	DecidedAt       time.Time        `json:"decided_at"`
}
