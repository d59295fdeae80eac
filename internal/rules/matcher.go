package rules

import (
	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// CompiledRule is the load-time normalized form of a FeeRule. Dynamic
// encodings (null vs empty list, 0.0/1.0 booleans, string ranges) collapse
// into a uniform wildcard-or-value representation so the per-transaction
// match does no parsing and no form juggling.
type CompiledRule struct {
	Rule *domain.FeeRule

	scheme       string // "" = wildcard
	accountTypes map[string]struct{}
	mccs         map[int]struct{}
	isCredit     *bool
	acis         map[string]struct{}
	intracountry *bool
	captureDelay *captureDelaySpec
	volume       *Range
	fraudLevel   *Range
	program      cel.Program // nil = wildcard

	// specificity counts non-wildcard fields, used by the "specific"
	// selection policy.
	specificity int
}

// Compile normalizes a FeeRule into its matchable form. An unparseable
// range or capture-delay encoding rejects the whole rule (fail closed): a
// rule that cannot be interpreted must never match by accident.
func Compile(rule *domain.FeeRule, policy domain.MatchPolicy, env *cel.Env) (*CompiledRule, error) {
	c := &CompiledRule{Rule: rule}

	if rule.CardScheme != "" {
		c.scheme = rule.CardScheme
		c.specificity++
	}
	if len(rule.AccountTypes) > 0 {
		c.accountTypes = make(map[string]struct{}, len(rule.AccountTypes))
		for _, at := range rule.AccountTypes {
			c.accountTypes[at] = struct{}{}
		}
		c.specificity++
	}
	if len(rule.MerchantCategoryCodes) > 0 {
		c.mccs = make(map[int]struct{}, len(rule.MerchantCategoryCodes))
		for _, mcc := range rule.MerchantCategoryCodes {
			c.mccs[mcc] = struct{}{}
		}
		c.specificity++
	}
	if rule.IsCredit != nil {
		c.isCredit = rule.IsCredit
		c.specificity++
	}
	if len(rule.ACIs) > 0 {
		c.acis = make(map[string]struct{}, len(rule.ACIs))
		for _, aci := range rule.ACIs {
			c.acis[aci] = struct{}{}
		}
		c.specificity++
	}
	if rule.Intracountry != nil {
		c.intracountry = rule.Intracountry
		c.specificity++
	}

	if rule.CaptureDelay != "" {
		spec, err := parseCaptureDelay(rule.CaptureDelay, policy.Bounds)
		if err != nil {
			return nil, &ParseError{Field: "capture_delay", Input: rule.CaptureDelay, Err: err}
		}
		c.captureDelay = &spec
		c.specificity++
	}
	if rule.MonthlyVolume != "" {
		rng, err := ParseRange(rule.MonthlyVolume, policy.Bounds)
		if err != nil {
			return nil, &ParseError{Field: "monthly_volume", Input: rule.MonthlyVolume, Err: err}
		}
		c.volume = &rng
		c.specificity++
	}
	if rule.MonthlyFraudLevel != "" {
		rng, err := ParseRange(rule.MonthlyFraudLevel, policy.Bounds)
		if err != nil {
			return nil, &ParseError{Field: "monthly_fraud_level", Input: rule.MonthlyFraudLevel, Err: err}
		}
		c.fraudLevel = &rng
		c.specificity++
	}

	if rule.Expression != "" {
		if env == nil {
			var err error
			env, err = NewExpressionEnv()
			if err != nil {
				return nil, err
			}
		}
		program, err := compileExpression(env, rule.Expression)
		if err != nil {
			return nil, err
		}
		c.program = program
		c.specificity++
	}

	return c, nil
}

// Matches is the pure nine-predicate conjunction over a transaction
// context. Cheap categorical equality checks run first to fail fast; the
// optional CEL conjunct runs last. A rule with every field wildcarded
// matches every context.
func (c *CompiledRule) Matches(tc *domain.TransactionContext) bool {
	if c.scheme != "" && c.scheme != tc.CardScheme {
		return false
	}
	if c.accountTypes != nil {
		if _, ok := c.accountTypes[tc.AccountType]; !ok {
			return false
		}
	}
	if c.mccs != nil {
		if _, ok := c.mccs[tc.MerchantCategoryCode]; !ok {
			return false
		}
	}
	if c.isCredit != nil && *c.isCredit != tc.IsCredit {
		return false
	}
	if c.acis != nil {
		if _, ok := c.acis[tc.ACI]; !ok {
			return false
		}
	}
	if c.intracountry != nil && *c.intracountry != tc.Intracountry {
		return false
	}
	if c.captureDelay != nil && !c.captureDelay.matches(tc.CaptureDelay) {
		return false
	}
	if c.volume != nil && !c.volume.Contains(tc.MonthlyVolume) {
		return false
	}
	if c.fraudLevel != nil && !c.fraudLevel.Contains(tc.MonthlyFraudRate) {
		return false
	}
	if c.program != nil && !evalExpression(c.program, tc) {
		return false
	}
	return true
}

// Specificity returns the number of non-wildcard fields.
func (c *CompiledRule) Specificity() int {
	return c.specificity
}
