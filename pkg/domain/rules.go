package domain

import (
	"context"
	"fmt"
	"strings"
)

// RuleView provides read-only access to ledger state for rule evaluation.
type RuleView interface {
	TransactionView
}

// Rule checks a staged change set before it commits.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine runs every registered rule against a staged transaction. Rules
// run in registration order and names are unique.
type RulesEngine struct {
	rules []Rule
	names map[string]struct{}
}

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{names: make(map[string]struct{})}
}

// Register adds rule to the engine. It panics on a nil rule or a name that
// is already registered.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		panic("domain: nil rule")
	}
	name := rule.Name()
	if _, dup := e.names[name]; dup {
		panic("domain: rule " + name + " registered twice")
	}
	if e.names == nil {
		e.names = make(map[string]struct{})
	}
	e.names[name] = struct{}{}
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in registration order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, rule := range e.rules {
		names = append(names, rule.Name())
	}
	return names
}

// Evaluate merges the violations of every rule. The first rule error aborts
// evaluation and is returned with the rule name attached.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}

// Blocking returns the violations that prevent a commit.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

func describeViolations(vs []Violation) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		part := v.Rule
		if v.EntityID != "" {
			part += "[" + string(v.Entity) + " " + v.EntityID + "]"
		}
		if v.Message != "" {
			part += ": " + v.Message
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "; ")
}
