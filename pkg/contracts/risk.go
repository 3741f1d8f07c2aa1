package contracts

// RiskLevel categorizes the scalar risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ThinkingEffort hints how much deliberation a task deserves.
type ThinkingEffort string

const (
	EffortRoutine  ThinkingEffort = "routine"
	EffortComplex  ThinkingEffort = "complex"
	EffortCritical ThinkingEffort = "critical"
)

// RiskAssessment is the derived view of a TaskProfile. It is computed fresh
// for every decision and never persisted.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type RiskAssessment struct {
	RiskScore      float64        `json:"risk_score"`
	ThinkingEffort ThinkingEffort `json:"thinking_effort"`
	ApprovalHint   ApprovalLevel  `json:"approval_hint"`
	RiskLevel      RiskLevel      `json:"risk_level"`
}
