package risk

import "github.com/haldenlabs/mandate/pkg/contracts"

// Contribution is one dimension's share of the risk score. Advisory
// dimensions (verifiability, subjectivity) carry zero weight but are still
// surfaced so a reviewer can see why a score feels off.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Contribution struct {
	Dimension string  `json:"dimension"`
	Value     float64 `json:"value"`
	Weight    float64 `json:"weight"`
	Weighted  float64 `json:"weighted"`
	Advisory  bool    `json:"advisory,omitempty"`
}

// Explain breaks a profile's score into per-dimension contributions,
// ordered by weight. Irreversibility is reported as 1-reversibility so the
// weighted column sums to the risk score.
func Explain(p contracts.TaskProfile) []Contribution {
	return []Contribution{
		{Dimension: "criticality", Value: p.Criticality, Weight: WeightCriticality, Weighted: p.Criticality * WeightCriticality},
		{Dimension: "irreversibility", Value: 1 - p.Reversibility, Weight: WeightIrreversibility, Weighted: (1 - p.Reversibility) * WeightIrreversibility},
		{Dimension: "uncertainty", Value: p.Uncertainty, Weight: WeightUncertainty, Weighted: p.Uncertainty * WeightUncertainty},
		{Dimension: "complexity", Value: p.Complexity, Weight: WeightComplexity, Weighted: p.Complexity * WeightComplexity},
		{Dimension: "contextuality", Value: p.Contextuality, Weight: WeightContextuality, Weighted: p.Contextuality * WeightContextuality},
		{Dimension: "verifiability", Value: p.Verifiability, Advisory: true},
		{Dimension: "subjectivity", Value: p.Subjectivity, Advisory: true},
	}
}
