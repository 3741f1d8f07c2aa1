// Package policy evaluates operator-supplied CEL guard rules against a
// proposal during decision orchestration. A matching rule can only RAISE
// the required approval level, never lower it; the trust x risk table
// remains the floor. Expression errors fail closed to the strictest level.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/haldenlabs/mandate/pkg/contracts"
)

// Rule is one guard: when Expression evaluates true for a proposal, the
// decision must be at least Level strict.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Rule struct {
	Name       string                  `json:"name" yaml:"name"`
	Expression string                  `json:"expression" yaml:"expression"`
	Level      contracts.ApprovalLevel `json:"level" yaml:"level"`
}

// Guard compiles and caches guard rules.
type Guard struct {
	env    *cel.Env
	mu     sync.RWMutex
	cache  map[string]cel.Program
	rules  []Rule
	logger *slog.Logger
}

// NewGuard creates a guard over a fixed rule set. Rules are compiled
// lazily and cached by expression.
func NewGuard(rules []Rule) (*Guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("proposal", cel.DynType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("kind", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Guard{
		env:    env,
		cache:  make(map[string]cel.Program),
		rules:  rules,
		logger: slog.Default().With("component", "policy"),
	}, nil
}

// Apply returns the approval level after guard escalation: the input level
// when no rule fires, or the strictest demanded level otherwise. A rule
// that fails to compile or evaluate escalates to APPROVE_EACH (fail
// closed): a broken guard must never loosen governance.
func (g *Guard) Apply(ctx context.Context, proposal contracts.Proposal, assessment contracts.RiskAssessment, level contracts.ApprovalLevel) (contracts.ApprovalLevel, bool) {
	if len(g.rules) == 0 {
		return level, false
	}

	input := map[string]any{
		"proposal": map[string]any{
			"action_name":  proposal.ActionName,
			"target_agent": proposal.TargetAgent,
			"goal_id":      proposal.GoalID,
			"parameters":   proposal.Parameters,
		},
		"risk_score": assessment.RiskScore,
		"risk_level": string(assessment.RiskLevel),
		"kind":       string(proposal.ActionKind),
	}

	out := level
	escalated := false
	for _, rule := range g.rules {
		matched, err := g.evaluate(rule.Expression, input)
		if err != nil {
			g.logger.WarnContext(ctx, "guard rule failed, escalating",
				"rule", rule.Name, "error", err)
			return contracts.ApprovalApproveEach, true
		}
		if matched && rule.Level.Stricter(out) {
			out = rule.Level
			escalated = true
			g.logger.InfoContext(ctx, "guard rule escalated decision",
				"rule", rule.Name, "level", string(rule.Level))
		}
	}
	return out, escalated
}

func (g *Guard) evaluate(expr string, input map[string]any) (bool, error) {
	prg, err := g.program(expr)
	if err != nil {
		return false, err
	}
	val, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q is not boolean", expr)
	}
	return b, nil
}

func (g *Guard) program(expr string) (cel.Program, error) {
	g.mu.RLock()
	prg, ok := g.cache[expr]
	g.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := g.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}

	g.mu.Lock()
	g.cache[expr] = prg
	g.mu.Unlock()
	return prg, nil
}
