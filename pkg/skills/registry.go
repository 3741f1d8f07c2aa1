// Package skills implements the coarse, counter-based trust ledger for
// externally-authored pluggable skills, plus the registry of statically
// known skills they must be declared in.
//
// Unlike the continuous per-category trust score, the bar here is a legible
// fixed number: a LOW-risk skill earns silent execution after 3 consecutive
// successes, MEDIUM after 10, HIGH and CRITICAL never.
package skills

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

var (
	// ErrSkillUnknown means the skill id is not registered.
	ErrSkillUnknown = errors.New("skill not registered")
	// ErrSkillInvalid rejects a malformed registration.
	ErrSkillInvalid = errors.New("invalid skill registration")
)

// Skill is one statically-registered pluggable skill. RiskLevel is fixed
// at registration and never derived at runtime.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Skill struct {
	ID        string                   `json:"id" yaml:"id"`
	Name      string                   `json:"name" yaml:"name"`
	Version   string                   `json:"version" yaml:"version"`
	RiskLevel contracts.SkillRiskLevel `json:"risk_level" yaml:"risk_level"`
}

// Registry holds the closed set of known skills, keyed by id.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds a skill. The version must parse as semver and the risk
// level must be one of the four classes.
func (r *Registry) Register(s Skill) error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrSkillInvalid)
	}
	switch s.RiskLevel {
	case contracts.SkillRiskLow, contracts.SkillRiskMedium, contracts.SkillRiskHigh, contracts.SkillRiskCritical:
	default:
		return fmt.Errorf("%w: risk level %q", ErrSkillInvalid, s.RiskLevel)
	}
	if _, err := semver.NewVersion(s.Version); err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrSkillInvalid, s.Version, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[s.ID]; ok {
		return fmt.Errorf("%w: id %q already registered", ErrSkillInvalid, s.ID)
	}
	r.skills[s.ID] = s
	return nil
}

// Get returns a registered skill.
func (r *Registry) Get(id string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	if !ok {
		return Skill{}, fmt.Errorf("skill %q: %w", id, ErrSkillUnknown)
	}
	return s, nil
}

// List returns all registered skills.
func (r *Registry) List() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	return out
}
