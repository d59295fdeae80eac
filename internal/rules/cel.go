package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// NewExpressionEnv creates the CEL environment for optional rule
// expressions. Every transaction context field is exposed as a top-level
// variable.
func NewExpressionEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("card_scheme", cel.StringType),
		cel.Variable("is_credit", cel.BoolType),
		cel.Variable("aci", cel.StringType),
		cel.Variable("intracountry", cel.BoolType),
		cel.Variable("account_type", cel.StringType),
		cel.Variable("mcc", cel.IntType),
		cel.Variable("capture_delay", cel.StringType),
		cel.Variable("monthly_volume", cel.DoubleType),
		cel.Variable("monthly_fraud_rate", cel.DoubleType),
		cel.Variable("eur_amount", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// compileExpression compiles a rule expression and checks it is a boolean
// predicate.
func compileExpression(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression %q: must return bool, got %s", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for expression %q: %w", expression, err)
	}
	return program, nil
}

// evalExpression runs a compiled predicate against a context. Evaluation
// errors fail closed: the rule does not match.
func evalExpression(program cel.Program, tc *domain.TransactionContext) bool {
	out, _, err := program.Eval(activation(tc))
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// activation maps a transaction context to CEL variables.
func activation(tc *domain.TransactionContext) map[string]any {
	return map[string]any{
		"card_scheme":        tc.CardScheme,
		"is_credit":          tc.IsCredit,
		"aci":                tc.ACI,
		"intracountry":       tc.Intracountry,
		"account_type":       tc.AccountType,
		"mcc":                int64(tc.MerchantCategoryCode),
		"capture_delay":      tc.CaptureDelay,
		"monthly_volume":     tc.MonthlyVolume,
		"monthly_fraud_rate": tc.MonthlyFraudRate,
		"eur_amount":         tc.EURAmount,
	}
}
