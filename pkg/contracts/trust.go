package contracts

import "time"

// TrustProfile is the per-(user, category) running reliability estimate.
// Created lazily at a neutral prior; mutated only by outcome recording.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TrustProfile struct {
	UserID            string     `json:"user_id"`
	Category          ActionKind `json:"category"`
	TrustScore        float64    `json:"trust_score"`
	SuccessfulActions int        `json:"successful_actions"`
	FailedActions     int        `json:"failed_actions"`
	OverrideCount     int        `json:"override_count"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// NeutralTrustScore is the prior for a freshly created profile.
const NeutralTrustScore = 0.5

// TrustChangeRecord is one append-only entry in the trust history chain.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TrustChangeRecord struct {
	UserID   string     `json:"user_id"`
	Category ActionKind `json:"category"`
	Outcome  Outcome    `json:"outcome"`
	OldScore float64    `json:"old_score"`
	NewScore float64    `json:"new_score"`
	At       time.Time  `json:"at"`
}

// SkillRiskLevel is the fixed risk class a skill declares at registration.
type SkillRiskLevel string

const (
	SkillRiskLow      SkillRiskLevel = "LOW"
	SkillRiskMedium   SkillRiskLevel = "MEDIUM"
	SkillRiskHigh     SkillRiskLevel = "HIGH"
	SkillRiskCritical SkillRiskLevel = "CRITICAL"
)

// SkillTrustRecord is the coarse counter-based trust state for one
// (user, skill) pair. SessionTrustGranted resets each session;
// GloballyApproved is sticky.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type SkillTrustRecord struct {
	UserID               string    `json:"user_id"`
	SkillID              string    `json:"skill_id"`
	SuccessfulExecutions int       `json:"successful_executions"`
	FailedExecutions     int       `json:"failed_executions"`
	SessionTrustGranted  bool      `json:"session_trust_granted"`
	GloballyApproved     bool      `json:"globally_approved"`
	UpdatedAt            time.Time `json:"updated_at"`
}
