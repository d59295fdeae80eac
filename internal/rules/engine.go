package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine holds the compiled fee rule dataset and answers match queries.
// The dataset is read-only between reloads, so Match is safe to call from
// any number of goroutines concurrently.
type Engine struct {
	mu     sync.RWMutex
	env    *cel.Env
	rules  []*CompiledRule // dataset order
	policy domain.MatchPolicy
}

// NewEngine creates a rule engine with the given match policy.
func NewEngine(policy domain.MatchPolicy) (*Engine, error) {
	if policy.Bounds == "" {
		policy.Bounds = domain.BoundsStrict
	}
	if policy.Selection == "" {
		policy.Selection = domain.SelectOrder
	}

	env, err := NewExpressionEnv()
	if err != nil {
		return nil, err
	}

	return &Engine{
		env:    env,
		policy: policy,
	}, nil
}

// Policy returns the engine's match policy.
func (e *Engine) Policy() domain.MatchPolicy {
	return e.policy
}

// ValidateRule compiles a rule without mutating the loaded dataset.
func (e *Engine) ValidateRule(rule *domain.FeeRule) error {
	if rule == nil {
		return fmt.Errorf("fee rule is required")
	}
	_, err := Compile(rule, e.policy, e.env)
	return err
}

// LoadRules compiles and installs the ordered dataset, replacing any
// previously loaded rules. A single unparseable rule fails the whole load;
// a dataset that cannot be fully interpreted must not be half-applied.
func (e *Engine) LoadRules(rules []*domain.FeeRule) error {
	compiled := make([]*CompiledRule, 0, len(rules))
	for i, rule := range rules {
		rule.Position = i
		c, err := Compile(rule, e.policy, e.env)
		if err != nil {
			return fmt.Errorf("rule %d: %w", rule.ID, err)
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// ReloadRules is LoadRules under its hot-reload name.
func (e *Engine) ReloadRules(rules []*domain.FeeRule) error {
	return e.LoadRules(rules)
}

// Match returns the fee rule that applies to the context, or false when no
// rule in the dataset matches. A missing match is a data-completeness gap
// surfaced to the caller; the engine never invents a default rule.
func (e *Engine) Match(tc *domain.TransactionContext) (*domain.FeeRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.policy.Selection == domain.SelectSpecific {
		return e.matchSpecific(tc)
	}

	for _, c := range e.rules {
		if c.Matches(tc) {
			return c.Rule, true
		}
	}
	return nil, false
}

// matchSpecific picks the matching rule with the most non-wildcard fields,
// dataset order breaking ties.
func (e *Engine) matchSpecific(tc *domain.TransactionContext) (*domain.FeeRule, bool) {
	var best *CompiledRule
	for _, c := range e.rules {
		if !c.Matches(tc) {
			continue
		}
		if best == nil || c.specificity > best.specificity {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Rule, true
}

// MatchAll returns every matching rule in dataset order. Used by the
// scenario engine and rule debugging endpoints.
func (e *Engine) MatchAll(tc *domain.TransactionContext) []*domain.FeeRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matched []*domain.FeeRule
	for _, c := range e.rules {
		if c.Matches(tc) {
			matched = append(matched, c.Rule)
		}
	}
	return matched
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Rules returns the loaded dataset in position order.
func (e *Engine) Rules() []*domain.FeeRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.FeeRule, len(e.rules))
	for i, c := range e.rules {
		out[i] = c.Rule
	}
	return out
}

// Close releases the loaded dataset.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

// CalculateFee computes the fee a matched rule charges on an amount:
//
//	fee = fixed_amount + rate*amount/10000
//
// No rounding is applied; presentation precision is the caller's concern.
func CalculateFee(amount float64, rule *domain.FeeRule) float64 {
	if rule == nil {
		return 0
	}
	return rule.FixedAmount + rule.Rate*amount/10000
}
