// Package assess runs the fee assessment pipeline: resolve the merchant
// profile, compute monthly aggregates, build the matching context, select
// a fee rule and price the transaction.
package assess

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// EngineVersion is stamped into assessment metadata.
const EngineVersion = "kestrel-1.0"

// Processor orchestrates a single transaction assessment.
type Processor struct {
	repo   domain.Repository
	stats  *stats.Service
	engine *rules.Engine
	tracer trace.Tracer
}

// NewProcessor creates an assessment processor.
func NewProcessor(repo domain.Repository, statsSvc *stats.Service, engine *rules.Engine) *Processor {
	return &Processor{
		repo:   repo,
		stats:  statsSvc,
		engine: engine,
		tracer: otel.Tracer("kestrel-assess"),
	}
}

// Input carries a transaction through the pipeline.
type Input struct {
	Tx        *domain.Transaction
	TraceID   string
	StartTime time.Time
}

// BuildContext assembles the matching context for a transaction from its
// merchant profile and the merchant's monthly aggregates.
func BuildContext(tx *domain.Transaction, merchant *domain.MerchantProfile, monthly *domain.MonthlyStats) *domain.TransactionContext {
	return &domain.TransactionContext{
		CardScheme:           tx.CardScheme,
		IsCredit:             tx.IsCredit,
		ACI:                  tx.ACI,
		Intracountry:         tx.Intracountry(),
		AccountType:          merchant.AccountType,
		MerchantCategoryCode: merchant.MerchantCategoryCode,
		CaptureDelay:         merchant.CaptureDelay,
		MonthlyVolume:        monthly.TotalVolume,
		MonthlyFraudRate:     monthly.FraudRate(),
		EURAmount:            tx.EURAmount,
	}
}

// Assess evaluates one transaction against the loaded rule dataset.
// A transaction no rule matches yields a NORULE assessment with zero fee,
// never a silently defaulted price.
func (p *Processor) Assess(ctx context.Context, input *Input) (*domain.Assessment, error) {
	tx := input.Tx
	if tx == nil {
		return nil, fmt.Errorf("assess: nil transaction")
	}

	ctx, span := p.tracer.Start(ctx, "assess",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("merchant.id", tx.MerchantID),
		))
	defer span.End()

	merchant, err := p.repo.GetMerchant(ctx, tx.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("assess: merchant %s: %w", tx.MerchantID, err)
	}

	statsStart := time.Now()
	monthly, err := p.stats.MonthlyStats(ctx, tx.MerchantID, tx.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("assess: monthly stats for %s: %w", tx.MerchantID, err)
	}
	statsMs := time.Since(statsStart).Milliseconds()

	tc := BuildContext(tx, merchant, monthly)

	matchStart := time.Now()
	rule, matched := p.engine.Match(tc)
	matchMs := time.Since(matchStart).Milliseconds()

	assessment := &domain.Assessment{
		ID:         uuid.New().String(),
		TxID:       tx.ID,
		MerchantID: tx.MerchantID,
		EURAmount:  tx.EURAmount,
		Context:    *tc,
		Timestamp:  time.Now().UTC(),
	}

	if matched {
		assessment.Status = domain.StatusMatched
		ruleID := rule.ID
		assessment.RuleID = &ruleID
		assessment.Fee = rules.CalculateFee(tx.EURAmount, rule)
		span.SetAttributes(attribute.Int64("rule.id", rule.ID))
	} else {
		assessment.Status = domain.StatusNoRule
	}
	span.SetAttributes(attribute.String("assessment.status", assessment.Status))

	startTime := input.StartTime
	if startTime.IsZero() {
		startTime = statsStart
	}
	assessment.Metadata = domain.AssessmentMetadata{
		TraceID:        input.TraceID,
		StatsMs:        statsMs,
		MatchMs:        matchMs,
		TotalMs:        time.Since(startTime).Milliseconds(),
		RulesEvaluated: p.engine.RulesCount(),
		EngineVersion:  EngineVersion,
	}

	return assessment, nil
}
