package trust

import "github.com/haldenlabs/mandate/pkg/contracts"

// TrustBand collapses a trust score into three bands.
type TrustBand string

const (
	TrustHigh   TrustBand = "high"   // >= 0.8
	TrustMedium TrustBand = "medium" // [0.4, 0.8)
	TrustLow    TrustBand = "low"    // < 0.4
)

// RiskBand collapses a risk score into three bands. These are coarser than
// the scorer's four risk levels on purpose: the approval table is a 3x3 grid.
type RiskBand string

const (
	RiskBandLow    RiskBand = "low"    // < 0.3
	RiskBandMedium RiskBand = "medium" // [0.3, 0.6)
	RiskBandHigh   RiskBand = "high"   // >= 0.6
)

// BandForTrust maps a trust score to its band.
func BandForTrust(score float64) TrustBand {
	switch {
	case score >= 0.8:
		return TrustHigh
	case score >= 0.4:
		return TrustMedium
	default:
		return TrustLow
	}
}

// BandForRisk maps a risk score to its band.
func BandForRisk(score float64) RiskBand {
	switch {
	case score < 0.3:
		return RiskBandLow
	case score < 0.6:
		return RiskBandMedium
	default:
		return RiskBandHigh
	}
}

// approvalTable is the full 3x3 trust x risk grid. It is monotone both
// ways: raising trust never tightens, raising risk never loosens.
var approvalTable = map[TrustBand]map[RiskBand]contracts.ApprovalLevel{
	TrustHigh: {
		RiskBandLow:    contracts.ApprovalAutoExecute,
		RiskBandMedium: contracts.ApprovalExecuteAndNotify,
		RiskBandHigh:   contracts.ApprovalApprovePlan,
	},
	TrustMedium: {
		RiskBandLow:    contracts.ApprovalExecuteAndNotify,
		RiskBandMedium: contracts.ApprovalApprovePlan,
		RiskBandHigh:   contracts.ApprovalApproveEach,
	},
	TrustLow: {
		RiskBandLow:    contracts.ApprovalApprovePlan,
		RiskBandMedium: contracts.ApprovalApproveEach,
		RiskBandHigh:   contracts.ApprovalApproveEach,
	},
}

// ComputeApprovalLevel derives the approval level from a trust score and a
// risk score. Pure and deterministic.
func ComputeApprovalLevel(trustScore, riskScore float64) contracts.ApprovalLevel {
	return approvalTable[BandForTrust(trustScore)][BandForRisk(riskScore)]
}
