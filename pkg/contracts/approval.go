package contracts

// ApprovalLevel is the strictness tier governing human involvement before or
// after an action runs. Levels are totally ordered by strictness.
type ApprovalLevel string

const (
	ApprovalAutoExecute      ApprovalLevel = "AUTO_EXECUTE"
	ApprovalExecuteAndNotify ApprovalLevel = "EXECUTE_AND_NOTIFY"
	ApprovalApprovePlan      ApprovalLevel = "APPROVE_PLAN"
	ApprovalApproveEach      ApprovalLevel = "APPROVE_EACH"
)

// Strictness returns the level's position in the total order. Higher means
// more human involvement. Unknown levels rank strictest.
func (l ApprovalLevel) Strictness() int {
	switch l {
	case ApprovalAutoExecute:
		return 0
	case ApprovalExecuteAndNotify:
		return 1
	case ApprovalApprovePlan:
		return 2
	case ApprovalApproveEach:
		return 3
	default:
		return 4
	}
}

// Stricter reports whether l requires strictly more human involvement than o.
func (l ApprovalLevel) Stricter(o ApprovalLevel) bool {
	return l.Strictness() > o.Strictness()
}

// StricterOf returns whichever of the two levels is stricter.
func StricterOf(a, b ApprovalLevel) ApprovalLevel {
	if b.Stricter(a) {
		return b
	}
	return a
}
