// Package worker provides async assessment processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Worker consumes ingested transactions from the EventBus, runs the
// assessment pipeline and publishes the outcome.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	stats     *stats.Service
	processor *assess.Processor

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, statsSvc *stats.Service, processor *assess.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		stats:     statsSvc,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the transaction ingest topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
	)
	return nil
}

// TransactionMessage is the payload published for each ingested transaction.
type TransactionMessage struct {
	Transaction *domain.Transaction `json:"transaction"`
	TraceID     string              `json:"trace_id,omitempty"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if txMsg.Transaction == nil {
		slog.Error("transaction message without transaction",
			"message_id", msg.ID,
		)
		return nil
	}

	tx := txMsg.Transaction
	traceID := txMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing transaction",
		"tx_id", tx.ID,
		"merchant_id", tx.MerchantID,
		"trace_id", traceID,
	)

	if err := w.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	// The new transaction changes the monthly picture for its merchant.
	w.stats.Invalidate(ctx, tx.MerchantID, tx.Timestamp)

	assessment, err := w.processor.Assess(ctx, &assess.Input{
		Tx:        tx,
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		slog.Error("assessment failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	if err := w.repo.SaveAssessment(ctx, assessment); err != nil {
		slog.Error("failed to save assessment",
			"assessment_id", assessment.ID,
			"tx_id", tx.ID,
			"error", err,
		)
	}

	resultPayload, _ := json.Marshal(assessment)
	if err := w.bus.Publish(ctx, domain.TopicAssessmentDone, resultPayload); err != nil {
		slog.Error("failed to publish assessment",
			"assessment_id", assessment.ID,
			"error", err,
		)
	}

	if assessment.Status == domain.StatusNoRule {
		if err := w.bus.Publish(ctx, domain.TopicAssessmentUnmatched, resultPayload); err != nil {
			slog.Error("failed to publish unmatched assessment",
				"assessment_id", assessment.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction assessed",
		"tx_id", tx.ID,
		"merchant_id", tx.MerchantID,
		"status", assessment.Status,
		"fee", assessment.Fee,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats describes the worker's active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
