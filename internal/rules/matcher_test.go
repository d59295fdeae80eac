package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func boolPtr(b bool) *bool { return &b }

// baseContext is a context that every predicate of baseRule accepts.
func baseContext() *domain.TransactionContext {
	return &domain.TransactionContext{
		CardScheme:           "NexPay",
		IsCredit:             true,
		ACI:                  "A",
		Intracountry:         true,
		AccountType:          "F",
		MerchantCategoryCode: 5411,
		CaptureDelay:         "immediate",
		MonthlyVolume:        500_000,
		MonthlyFraudRate:     0.02,
		EURAmount:            200,
	}
}

// baseRule constrains all nine fields.
func baseRule() *domain.FeeRule {
	return &domain.FeeRule{
		ID:                    1,
		CardScheme:            "NexPay",
		AccountTypes:          []string{"F", "H"},
		MerchantCategoryCodes: []int{5411, 5412},
		IsCredit:              boolPtr(true),
		ACIs:                  []string{"A", "B"},
		Intracountry:          boolPtr(true),
		CaptureDelay:          "immediate",
		MonthlyVolume:         "100k-1m",
		MonthlyFraudLevel:     "<8.3%",
		FixedAmount:           0.1,
		Rate:                  15,
	}
}

func compileRule(t *testing.T, rule *domain.FeeRule) *CompiledRule {
	t.Helper()
	c, err := Compile(rule, domain.DefaultMatchPolicy(), nil)
	if err != nil {
		t.Fatalf("failed to compile rule %d: %v", rule.ID, err)
	}
	return c
}

func TestTotalWildcardRuleMatchesAnything(t *testing.T) {
	c := compileRule(t, &domain.FeeRule{ID: 99})

	contexts := []*domain.TransactionContext{
		baseContext(),
		{},
		{CardScheme: "SwiftCharge", ACI: "G", MerchantCategoryCode: 9999, MonthlyVolume: 1e12},
	}
	for i, tc := range contexts {
		if !c.Matches(tc) {
			t.Errorf("context %d: total wildcard rule must match every context", i)
		}
	}
	if c.Specificity() != 0 {
		t.Errorf("total wildcard rule specificity = %d, want 0", c.Specificity())
	}
}

func TestFullyConstrainedRuleMatches(t *testing.T) {
	c := compileRule(t, baseRule())
	if !c.Matches(baseContext()) {
		t.Fatal("base context should satisfy base rule")
	}
	if c.Specificity() != 9 {
		t.Errorf("specificity = %d, want 9", c.Specificity())
	}
}

// TestSingleFieldSensitivity flips each context field outside the rule's
// accepted set in turn and verifies the match flips to false.
func TestSingleFieldSensitivity(t *testing.T) {
	c := compileRule(t, baseRule())

	mutations := []struct {
		name   string
		mutate func(*domain.TransactionContext)
	}{
		{"card_scheme", func(tc *domain.TransactionContext) { tc.CardScheme = "GlobalCard" }},
		{"account_type", func(tc *domain.TransactionContext) { tc.AccountType = "R" }},
		{"mcc", func(tc *domain.TransactionContext) { tc.MerchantCategoryCode = 7999 }},
		{"is_credit", func(tc *domain.TransactionContext) { tc.IsCredit = false }},
		{"aci", func(tc *domain.TransactionContext) { tc.ACI = "G" }},
		{"intracountry", func(tc *domain.TransactionContext) { tc.Intracountry = false }},
		{"capture_delay", func(tc *domain.TransactionContext) { tc.CaptureDelay = "manual" }},
		{"monthly_volume", func(tc *domain.TransactionContext) { tc.MonthlyVolume = 50_000 }},
		{"monthly_fraud_rate", func(tc *domain.TransactionContext) { tc.MonthlyFraudRate = 0.09 }},
	}

	for _, m := range mutations {
		tc := baseContext()
		m.mutate(tc)
		if c.Matches(tc) {
			t.Errorf("%s: out-of-set value should break the match", m.name)
		}
	}
}

func TestCaptureDelayNumericRule(t *testing.T) {
	rule := baseRule()
	rule.CaptureDelay = "3-5"
	c := compileRule(t, rule)

	tc := baseContext()
	tc.CaptureDelay = "4"
	if !c.Matches(tc) {
		t.Error("merchant day count 4 should satisfy the 3-5 rule")
	}

	tc.CaptureDelay = "manual"
	if c.Matches(tc) {
		t.Error("categorical merchant value must never satisfy a numeric rule spec")
	}
}

func TestCompileRejectsUnparseableRange(t *testing.T) {
	rule := baseRule()
	rule.MonthlyVolume = "lots"
	if _, err := Compile(rule, domain.DefaultMatchPolicy(), nil); err == nil {
		t.Fatal("expected compile error for unparseable monthly_volume")
	}
}

func TestExpressionConjunct(t *testing.T) {
	rule := &domain.FeeRule{
		ID:         7,
		Expression: "eur_amount > 100.0 && card_scheme == 'NexPay'",
	}
	c := compileRule(t, rule)

	tc := baseContext()
	if !c.Matches(tc) {
		t.Error("expression should hold for the base context")
	}

	tc.EURAmount = 50
	if c.Matches(tc) {
		t.Error("expression should fail for a 50 EUR amount")
	}
}

func TestCompileRejectsNonBoolExpression(t *testing.T) {
	rule := &domain.FeeRule{ID: 8, Expression: "eur_amount * 2.0"}
	if _, err := Compile(rule, domain.DefaultMatchPolicy(), nil); err == nil {
		t.Fatal("expected compile error for non-boolean expression")
	}
}
