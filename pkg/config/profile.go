package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

// GovernanceProfile is the operator-tunable governance configuration:
// calibration parameters, undo window, mint limits, per-kind default task
// profiles, CEL guard rules and per-kind parameter schemas.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type GovernanceProfile struct {
	Name              string                 `yaml:"name" json:"name"`
	UndoWindowSeconds int                    `yaml:"undo_window_seconds" json:"undo_window_seconds"`
	Trust             TrustConfig            `yaml:"trust" json:"trust"`
	Mint              MintConfig             `yaml:"mint" json:"mint"`
	KindDefaults      map[string]KindProfile `yaml:"kind_defaults,omitempty" json:"kind_defaults,omitempty"`
	GuardRules        []GuardRule            `yaml:"guard_rules,omitempty" json:"guard_rules,omitempty"`
	ParameterSchemas  map[string]string      `yaml:"parameter_schemas,omitempty" json:"parameter_schemas,omitempty"`
}

// TrustConfig holds calibration parameters.
type TrustConfig struct {
	Alpha             float64 `yaml:"alpha" json:"alpha"`
	OverrideAlpha     float64 `yaml:"override_alpha" json:"override_alpha"`
	UpgradeThreshold  int     `yaml:"upgrade_threshold" json:"upgrade_threshold"`
	UpgradeFailureCut float64 `yaml:"upgrade_failure_cut" json:"upgrade_failure_cut"`
}

// MintConfig bounds capability token issuance.
type MintConfig struct {
	PerMinute         int `yaml:"per_minute" json:"per_minute"`
	Burst             int `yaml:"burst" json:"burst"`
	DefaultTTLSeconds int `yaml:"default_ttl_seconds" json:"default_ttl_seconds"`
}

// KindProfile is the YAML shape of a per-kind default task profile.
type KindProfile struct {
	Complexity    float64 `yaml:"complexity" json:"complexity"`
	Criticality   float64 `yaml:"criticality" json:"criticality"`
	Uncertainty   float64 `yaml:"uncertainty" json:"uncertainty"`
	Reversibility float64 `yaml:"reversibility" json:"reversibility"`
	Verifiability float64 `yaml:"verifiability" json:"verifiability"`
	Subjectivity  float64 `yaml:"subjectivity" json:"subjectivity"`
	Contextuality float64 `yaml:"contextuality" json:"contextuality"`
}

// GuardRule is the YAML shape of one CEL guard rule.
type GuardRule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
	Level      string `yaml:"level" json:"level"`
}

// DefaultGovernanceProfile returns the built-in profile.
func DefaultGovernanceProfile() *GovernanceProfile {
	return &GovernanceProfile{
		Name:              "default",
		UndoWindowSeconds: 300,
		Trust: TrustConfig{
			Alpha:             0.10,
			OverrideAlpha:     0.25,
			UpgradeThreshold:  10,
			UpgradeFailureCut: 0.2,
		},
		Mint: MintConfig{
			PerMinute:         60,
			Burst:             10,
			DefaultTTLSeconds: 300,
		},
	}
}

// LoadGovernanceProfile reads and validates a profile from a YAML file.
func LoadGovernanceProfile(path string) (*GovernanceProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %q: %w", path, err)
	}

	profile := DefaultGovernanceProfile()
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	return profile, nil
}

// Validate checks ranges and kind names.
func (p *GovernanceProfile) Validate() error {
	if p.UndoWindowSeconds <= 0 {
		return fmt.Errorf("undo_window_seconds must be positive, got %d", p.UndoWindowSeconds)
	}
	if p.Trust.Alpha <= 0 || p.Trust.Alpha > 1 {
		return fmt.Errorf("trust.alpha must be in (0,1], got %v", p.Trust.Alpha)
	}
	if p.Trust.OverrideAlpha <= 0 || p.Trust.OverrideAlpha > 1 {
		return fmt.Errorf("trust.override_alpha must be in (0,1], got %v", p.Trust.OverrideAlpha)
	}
	for kind, kp := range p.KindDefaults {
		if !contracts.ActionKind(kind).IsKnown() {
			return fmt.Errorf("kind_defaults: unknown kind %q", kind)
		}
		if err := kp.TaskProfile().Validate(); err != nil {
			return fmt.Errorf("kind_defaults[%s]: %w", kind, err)
		}
	}
	for _, r := range p.GuardRules {
		switch contracts.ApprovalLevel(r.Level) {
		case contracts.ApprovalAutoExecute, contracts.ApprovalExecuteAndNotify,
			contracts.ApprovalApprovePlan, contracts.ApprovalApproveEach:
		default:
			return fmt.Errorf("guard_rules[%s]: unknown level %q", r.Name, r.Level)
		}
	}
	return nil
}

// TaskProfile converts the YAML shape to the contract type.
func (kp KindProfile) TaskProfile() contracts.TaskProfile {
	return contracts.TaskProfile{
		Complexity:    kp.Complexity,
		Criticality:   kp.Criticality,
		Uncertainty:   kp.Uncertainty,
		Reversibility: kp.Reversibility,
		Verifiability: kp.Verifiability,
		Subjectivity:  kp.Subjectivity,
		Contextuality: kp.Contextuality,
	}
}

// KindDefaultProfiles converts the map into scorer overlay form.
func (p *GovernanceProfile) KindDefaultProfiles() map[contracts.ActionKind]contracts.TaskProfile {
	if len(p.KindDefaults) == 0 {
		return nil
	}
	out := make(map[contracts.ActionKind]contracts.TaskProfile, len(p.KindDefaults))
	for kind, kp := range p.KindDefaults {
		out[contracts.ActionKind(kind)] = kp.TaskProfile()
	}
	return out
}
