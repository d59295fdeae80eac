// Package scenario answers what-if questions against the rule dataset:
// given a transaction context, how would the fee change if a single
// dimension (card scheme or ACI) took a different value. Used to find
// the cheapest routing for otherwise identical transactions.
package scenario

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Dimension selects which context field a sweep varies.
type Dimension string

const (
	DimensionScheme Dimension = "card_scheme"
	DimensionACI    Dimension = "aci"
)

// Candidate is the outcome for one value of the swept dimension.
type Candidate struct {
	Value   string  `json:"value"`
	Matched bool    `json:"matched"`
	RuleID  *int64  `json:"rule_id,omitempty"`
	Fee     float64 `json:"fee"`
}

// Result is a completed sweep. Cheapest points into Candidates and is nil
// when no candidate matched any rule.
type Result struct {
	Dimension  Dimension   `json:"dimension"`
	Candidates []Candidate `json:"candidates"`
	Cheapest   *Candidate  `json:"cheapest,omitempty"`
}

// Analyzer sweeps alternative context values through the rule engine.
type Analyzer struct {
	engine *rules.Engine
}

// New creates a scenario analyzer backed by the shared rule engine.
func New(engine *rules.Engine) *Analyzer {
	return &Analyzer{engine: engine}
}

// Sweep evaluates the context once per candidate value of the dimension.
// The input context is not modified. An empty candidate list sweeps the
// full known value set for the dimension.
func (a *Analyzer) Sweep(tc *domain.TransactionContext, dim Dimension, values []string) (*Result, error) {
	if tc == nil {
		return nil, fmt.Errorf("scenario: nil context")
	}

	if len(values) == 0 {
		switch dim {
		case DimensionScheme:
			values = domain.CardSchemes
		case DimensionACI:
			values = domain.ACIs
		}
	}

	result := &Result{Dimension: dim, Candidates: make([]Candidate, 0, len(values))}

	for _, value := range values {
		probe := *tc
		switch dim {
		case DimensionScheme:
			probe.CardScheme = value
		case DimensionACI:
			probe.ACI = value
		default:
			return nil, fmt.Errorf("scenario: unknown dimension %q", dim)
		}

		cand := Candidate{Value: value}
		if rule, ok := a.engine.Match(&probe); ok {
			cand.Matched = true
			ruleID := rule.ID
			cand.RuleID = &ruleID
			cand.Fee = rules.CalculateFee(probe.EURAmount, rule)
		}
		result.Candidates = append(result.Candidates, cand)
	}

	// Cheapest matched candidate; earlier candidates win ties.
	for i := range result.Candidates {
		c := &result.Candidates[i]
		if !c.Matched {
			continue
		}
		if result.Cheapest == nil || c.Fee < result.Cheapest.Fee {
			result.Cheapest = c
		}
	}

	return result, nil
}
