// Package contracts defines the shared plain-data types exchanged between
// the governance components: task profiles, risk assessments, approval
// levels, capability tokens, actions and trust records.
//
// Types here are wire-stable (snake_case JSON) and carry no behavior beyond
// validation and ordering helpers. All mutation lives in the owning packages.
package contracts

import (
	"errors"
	"fmt"
)

// ErrDimensionOutOfRange is returned when a task profile dimension falls
// outside [0,1].
var ErrDimensionOutOfRange = errors.New("task profile dimension out of range")

// TaskProfile characterizes a task along seven dimensions, each in [0,1].
// A profile is immutable once attached to a task.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TaskProfile struct {
	Complexity    float64 `json:"complexity"`
	Criticality   float64 `json:"criticality"`
	Uncertainty   float64 `json:"uncertainty"`
	Reversibility float64 `json:"reversibility"`
	Verifiability float64 `json:"verifiability"`
	Subjectivity  float64 `json:"subjectivity"`
	Contextuality float64 `json:"contextuality"`
}

// NeutralTaskProfile is the all-0.5 profile used for unknown action kinds.
func NeutralTaskProfile() TaskProfile {
	return TaskProfile{
		Complexity:    0.5,
		Criticality:   0.5,
		Uncertainty:   0.5,
		Reversibility: 0.5,
		Verifiability: 0.5,
		Subjectivity:  0.5,
		Contextuality: 0.5,
	}
}

// Validate checks every dimension is within [0,1]. Validation happens once
// at the boundary; downstream scoring assumes a valid profile.
func (p TaskProfile) Validate() error {
	dims := []struct {
		name string
		v    float64
	}{
		{"complexity", p.Complexity},
		{"criticality", p.Criticality},
		{"uncertainty", p.Uncertainty},
		{"reversibility", p.Reversibility},
		{"verifiability", p.Verifiability},
		{"subjectivity", p.Subjectivity},
		{"contextuality", p.Contextuality},
	}
	for _, d := range dims {
		if d.v < 0 || d.v > 1 {
			return fmt.Errorf("%w: %s=%v", ErrDimensionOutOfRange, d.name, d.v)
		}
	}
	return nil
}

// ActionKind is a closed set of task categories with known default profiles.
type ActionKind string

const (
	KindResearch    ActionKind = "research"
	KindSearch      ActionKind = "search"
	KindCommunicate ActionKind = "communicate"
	KindSchedule    ActionKind = "schedule"
	KindMonitor     ActionKind = "monitor"
	KindPlan        ActionKind = "plan"
)

// IsKnown reports whether the kind has a default task profile.
func (k ActionKind) IsKnown() bool {
	switch k {
	case KindResearch, KindSearch, KindCommunicate, KindSchedule, KindMonitor, KindPlan:
		return true
	default:
		return false
	}
}
