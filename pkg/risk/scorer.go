// Package risk scores task profiles into a scalar risk score plus
// categorical labels (risk level, thinking effort, approval hint).
//
// Scoring is a total pure function: it never errors, never suspends and
// never touches a store. Validation of explicit profiles happens once at
// the Assess boundary.
package risk

import (
	"github.com/haldenlabs/mandate/pkg/contracts"
)

// Scoring weights. Verifiability and subjectivity deliberately carry no
// weight: they inform the explanation, not the scalar.
const (
	WeightCriticality     = 0.30
	WeightIrreversibility = 0.25
	WeightUncertainty     = 0.20
	WeightComplexity      = 0.15
	WeightContextuality   = 0.10
)

// defaultProfiles is the built-in default table per action kind.
var defaultProfiles = map[contracts.ActionKind]contracts.TaskProfile{
	contracts.KindResearch: {
		Complexity: 0.5, Criticality: 0.2, Uncertainty: 0.5,
		Reversibility: 1.0, Verifiability: 0.6, Subjectivity: 0.4, Contextuality: 0.3,
	},
	contracts.KindSearch: {
		Complexity: 0.2, Criticality: 0.1, Uncertainty: 0.3,
		Reversibility: 1.0, Verifiability: 0.8, Subjectivity: 0.2, Contextuality: 0.2,
	},
	contracts.KindCommunicate: {
		Complexity: 0.4, Criticality: 0.7, Uncertainty: 0.4,
		Reversibility: 0.2, Verifiability: 0.5, Subjectivity: 0.7, Contextuality: 0.8,
	},
	contracts.KindSchedule: {
		Complexity: 0.3, Criticality: 0.5, Uncertainty: 0.3,
		Reversibility: 0.7, Verifiability: 0.9, Subjectivity: 0.3, Contextuality: 0.6,
	},
	contracts.KindMonitor: {
		Complexity: 0.3, Criticality: 0.3, Uncertainty: 0.4,
		Reversibility: 1.0, Verifiability: 0.7, Subjectivity: 0.2, Contextuality: 0.4,
	},
	contracts.KindPlan: {
		Complexity: 0.7, Criticality: 0.4, Uncertainty: 0.6,
		Reversibility: 0.9, Verifiability: 0.4, Subjectivity: 0.6, Contextuality: 0.7,
	},
}

// Scorer resolves action kinds to task profiles and scores them.
// The default table can be overridden per kind from a governance profile.
type Scorer struct {
	defaults map[contracts.ActionKind]contracts.TaskProfile
}

// NewScorer creates a scorer with the built-in default table.
func NewScorer() *Scorer {
	defaults := make(map[contracts.ActionKind]contracts.TaskProfile, len(defaultProfiles))
	for k, v := range defaultProfiles {
		defaults[k] = v
	}
	return &Scorer{defaults: defaults}
}

// WithDefaults overlays per-kind default profiles, e.g. from a loaded
// governance profile. Unknown kinds in the overlay are ignored.
func (s *Scorer) WithDefaults(overrides map[contracts.ActionKind]contracts.TaskProfile) *Scorer {
	for k, v := range overrides {
		if k.IsKnown() {
			s.defaults[k] = v
		}
	}
	return s
}

// ProfileFor returns the default profile for a kind. Unknown kinds fall
// back to the neutral all-0.5 profile.
func (s *Scorer) ProfileFor(kind contracts.ActionKind) contracts.TaskProfile {
	if p, ok := s.defaults[kind]; ok {
		return p
	}
	return contracts.NeutralTaskProfile()
}

// Assess scores an explicit profile if given, else the kind's default.
// The only error is a malformed explicit profile.
func (s *Scorer) Assess(kind contracts.ActionKind, explicit *contracts.TaskProfile) (contracts.RiskAssessment, error) {
	p := s.ProfileFor(kind)
	if explicit != nil {
		if err := explicit.Validate(); err != nil {
			return contracts.RiskAssessment{}, err
		}
		p = *explicit
	}
	return Score(p), nil
}

// Score derives the risk assessment for a valid profile. Pure and total.
func Score(p contracts.TaskProfile) contracts.RiskAssessment {
	score := p.Criticality*WeightCriticality +
		(1-p.Reversibility)*WeightIrreversibility +
		p.Uncertainty*WeightUncertainty +
		p.Complexity*WeightComplexity +
		p.Contextuality*WeightContextuality

	return contracts.RiskAssessment{
		RiskScore:      score,
		ThinkingEffort: effortFor(score),
		RiskLevel:      levelFor(score),
		ApprovalHint:   hintFor(levelFor(score)),
	}
}

func effortFor(score float64) contracts.ThinkingEffort {
	switch {
	case score <= 0.4:
		return contracts.EffortRoutine
	case score <= 0.7:
		return contracts.EffortComplex
	default:
		return contracts.EffortCritical
	}
}

func levelFor(score float64) contracts.RiskLevel {
	switch {
	case score < 0.2:
		return contracts.RiskLow
	case score <= 0.5:
		return contracts.RiskMedium
	case score <= 0.75:
		return contracts.RiskHigh
	default:
		return contracts.RiskCritical
	}
}

// HintForScore mirrors the risk level thresholds onto the four approval
// levels. It is the stand-alone fallback used when trust lookup is degraded.
func HintForScore(score float64) contracts.ApprovalLevel {
	return hintFor(levelFor(score))
}

func hintFor(level contracts.RiskLevel) contracts.ApprovalLevel {
	switch level {
	case contracts.RiskLow:
		return contracts.ApprovalAutoExecute
	case contracts.RiskMedium:
		return contracts.ApprovalExecuteAndNotify
	case contracts.RiskHigh:
		return contracts.ApprovalApprovePlan
	default:
		return contracts.ApprovalApproveEach
	}
}
