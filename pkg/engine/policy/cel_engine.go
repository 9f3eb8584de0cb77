package policy

import (
	"fmt"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/config"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// newFactsEnv declares every Facts variable for CEL programs.
func newFactsEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("repository", cel.StringType),
		cel.Variable("path", cel.StringType),
		cel.Variable("language", cel.StringType),
		cel.Variable("license", cel.StringType),
		cel.Variable("license_risk", cel.StringType),
		cel.Variable("vendor_lock_in", cel.BoolType),
		cel.Variable("dependencies", cel.ListType(cel.StringType)),
		cel.Variable("size", cel.IntType),
		cel.Variable("lines", cel.IntType),
		cel.Variable("stars", cel.IntType),
		cel.Variable("complexity", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return env, nil
}

func compile(env *cel.Env, id, expr string, want ...*cel.Type) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%s compilation error: %w", id, issues.Err())
	}
	ok := false
	for _, t := range want {
		if ast.OutputType().IsExactType(t) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%s must evaluate to %v, got %v", id, want, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%s program creation error: %w", id, err)
	}
	return prg, nil
}

// CELScorer evaluates one CEL expression per dimension. Dimensions without an
// expression fall back to the static score.
type CELScorer struct {
	fallback StaticScorer
	programs [4]cel.Program // strategic, technical, security, sustainability
}

// NewCELScorer compiles the configured expressions.
func NewCELScorer(cfg config.ScoringConfig) (*CELScorer, error) {
	env, err := newFactsEnv()
	if err != nil {
		return nil, err
	}
	s := &CELScorer{fallback: StaticScorer{Scores: cfg.Static}}
	exprs := [4]struct{ id, expr string }{
		{"strategic", cfg.Expressions.Strategic},
		{"technical", cfg.Expressions.Technical},
		{"security", cfg.Expressions.Security},
		{"sustainability", cfg.Expressions.Sustainability},
	}
	for i, e := range exprs {
		if e.expr == "" {
			continue
		}
		prg, err := compile(env, "scoring."+e.id, e.expr, cel.DoubleType, cel.IntType)
		if err != nil {
			return nil, &artifact.ConfigError{Field: "policy.scoring.expressions." + e.id, Reason: err.Error()}
		}
		s.programs[i] = prg
	}
	return s, nil
}

// Score evaluates the programs against f.
func (s *CELScorer) Score(f Facts) (artifact.AlignmentScore, error) {
	out, _ := s.fallback.Score(f)
	dims := [4]*float64{&out.Strategic, &out.Technical, &out.Security, &out.Sustainability}
	vars := f.vars()
	for i, prg := range s.programs {
		if prg == nil {
			continue
		}
		val, _, err := prg.Eval(vars)
		if err != nil {
			return artifact.AlignmentScore{}, fmt.Errorf("scoring expression %d: %w", i, err)
		}
		switch v := val.(type) {
		case types.Double:
			*dims[i] = clamp(float64(v))
		case types.Int:
			*dims[i] = clamp(float64(v))
		default:
			return artifact.AlignmentScore{}, fmt.Errorf("scoring expression %d returned %v", i, val.Type())
		}
	}
	return out, nil
}

type compiledRule struct {
	id  string
	prg cel.Program
}

// RuleSet holds boolean reject rules in configuration order.
type RuleSet struct {
	rules []compiledRule
}

// NewRuleSet compiles rules; a nil or empty list yields an empty set.
func NewRuleSet(rules []config.RuleConfig) (*RuleSet, error) {
	rs := &RuleSet{}
	if len(rules) == 0 {
		return rs, nil
	}
	env, err := newFactsEnv()
	if err != nil {
		return nil, err
	}
	for _, r := range rules {
		prg, err := compile(env, "rule "+r.ID, r.Condition, cel.BoolType)
		if err != nil {
			return nil, &artifact.ConfigError{Field: "policy.rules", Reason: err.Error()}
		}
		rs.rules = append(rs.rules, compiledRule{id: r.ID, prg: prg})
	}
	return rs, nil
}

// Evaluate returns the IDs of matching rules.
func (rs *RuleSet) Evaluate(f Facts) ([]string, error) {
	var matches []string
	vars := f.vars()
	for _, r := range rs.rules {
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("rule %s evaluation failed: %w", r.id, err)
		}
		if match, ok := out.Value().(bool); ok && match {
			matches = append(matches, r.id)
		}
	}
	return matches, nil
}
