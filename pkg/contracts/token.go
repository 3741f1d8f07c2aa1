package contracts

import "time"

// CapabilityToken is a short-lived, scoped delegation grant naming exactly
// which tool names a delegated agent may or may not invoke for one goal.
// Read-only after minting; it expires by time alone.
//
// An empty AllowedActions set means "no allow-list restriction": any tool
// not explicitly denied passes. DeniedActions always wins over
// AllowedActions.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type CapabilityToken struct {
	TokenID          string    `json:"token_id"`
	Delegatee        string    `json:"delegatee"`
	GoalID           string    `json:"goal_id"`
	AllowedActions   []string  `json:"allowed_actions,omitempty"`
	DeniedActions    []string  `json:"denied_actions,omitempty"`
	IssuedAt         time.Time `json:"issued_at"`
	TimeLimitSeconds int       `json:"time_limit_seconds"`
}

// ExpiresAt returns the instant after which the token is invalid.
func (t CapabilityToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.TimeLimitSeconds) * time.Second)
}

// Allows reports whether the token permits invoking tool. Deny wins over
// allow; an empty allow list restricts nothing.
func (t CapabilityToken) Allows(tool string) bool {
	for _, d := range t.DeniedActions {
		if d == tool {
			return false
		}
	}
	if len(t.AllowedActions) == 0 {
		return true
	}
	for _, a := range t.AllowedActions {
		if a == tool {
			return true
		}
	}
	return false
}
