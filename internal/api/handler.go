package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scenario"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	stats     *stats.Service
	processor *assess.Processor
	analyzer  *scenario.Analyzer
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, statsSvc *stats.Service, processor *assess.Processor, analyzer *scenario.Analyzer, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		stats:     statsSvc,
		processor: processor,
		analyzer:  analyzer,
		version:   version,
	}
}

// Assess handles POST /assess requests: synchronous fee assessment.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.MerchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "merchantId is required",
		})
		return
	}
	if req.CardScheme == "" || req.ACI == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "cardScheme and aci are required",
		})
		return
	}
	if req.EURAmount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "eurAmount must be positive",
		})
		return
	}

	tx := req.ToTransaction()
	tx.ID = uuid.New().String()

	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	// The new transaction is part of its own month's aggregates.
	h.stats.Invalidate(ctx, tx.MerchantID, tx.Timestamp)

	assessment, err := h.processor.Assess(ctx, &assess.Input{
		Tx:        tx,
		TraceID:   traceID,
		StartTime: start,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "merchant not found: " + tx.MerchantID,
			})
			return
		}
		slog.Error("assessment failed", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "assessment failed",
		})
		return
	}

	if err := h.repo.SaveAssessment(ctx, assessment); err != nil {
		slog.Error("failed to save assessment", "assessment_id", assessment.ID, "error", err)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(assessment)
		if err := h.bus.Publish(ctx, domain.TopicAssessmentDone, payload); err != nil {
			slog.Error("failed to publish assessment", "assessment_id", assessment.ID, "error", err)
		}
		if assessment.Status == domain.StatusNoRule {
			if err := h.bus.Publish(ctx, domain.TopicAssessmentUnmatched, payload); err != nil {
				slog.Error("failed to publish unmatched assessment", "assessment_id", assessment.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, assessment.ToResponse())
}

// GetAssessment retrieves an assessment by ID.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.repo.GetAssessment(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "assessment not found"})
			return
		}
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get assessment"})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
			return
		}
		slog.Error("failed to get transaction", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get transaction"})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns the rule dataset currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves one loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rule id must be an integer"})
		return
	}

	for _, rule := range h.engine.Rules() {
		if rule.ID == id {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{"error": "rule not found"})
}

// ReplaceRules handles POST /rules: the body is a full JSON rule dataset
// that replaces the current one. The swap is all-or-nothing; a dataset
// with any unparseable rule leaves the running dataset untouched.
func (h *Handler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	newRules, err := ingest.LoadFeeRules(bytes.NewReader(body))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.engine.LoadRules(newRules); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.repo.SaveFeeRules(ctx, newRules); err != nil {
		slog.Error("failed to persist rule dataset", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to persist rules"})
		return
	}

	h.publishRulesReloaded(ctx, len(newRules))

	slog.Info("rule dataset replaced", "count", len(newRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(newRules),
		"message": "rule dataset replaced",
	})
}

// ReloadRules reloads the rule dataset from the repository into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stored, err := h.repo.ListFeeRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from repository", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load rules"})
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reload rules: " + err.Error()})
		return
	}

	h.publishRulesReloaded(ctx, len(stored))

	slog.Info("rules reloaded", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(stored),
		"message": "rules reloaded",
	})
}

func (h *Handler) publishRulesReloaded(ctx context.Context, count int) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]int{"count": count})
	if err := h.bus.Publish(ctx, domain.TopicRulesReloaded, payload); err != nil {
		slog.Error("failed to publish rules reloaded event", "error", err)
	}
}

// ListMerchants returns all merchant profiles.
func (h *Handler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	merchants, err := h.repo.ListMerchants(r.Context())
	if err != nil {
		slog.Error("failed to list merchants", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list merchants"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchants": merchants,
		"count":     len(merchants),
	})
}

// GetMerchant retrieves a merchant profile by ID.
func (h *Handler) GetMerchant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.repo.GetMerchant(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "merchant not found"})
			return
		}
		slog.Error("failed to get merchant", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get merchant"})
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// UpsertMerchant handles PUT /merchants/{id}.
func (h *Handler) UpsertMerchant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var m domain.MerchantProfile
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	m.ID = id

	if m.AccountType == "" || m.CaptureDelay == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "accountType and captureDelay are required",
		})
		return
	}

	if err := h.repo.SaveMerchant(ctx, &m); err != nil {
		slog.Error("failed to save merchant", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save merchant"})
		return
	}

	slog.Info("merchant saved", "id", id, "account_type", m.AccountType)
	writeJSON(w, http.StatusOK, &m)
}

// GetMerchantStats returns monthly aggregates for a merchant. The month
// is taken from the "month" query parameter ("2006-01"), defaulting to
// the current month.
func (h *Handler) GetMerchantStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	ts := time.Now().UTC()
	if month := r.URL.Query().Get("month"); month != "" {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "month must be formatted YYYY-MM"})
			return
		}
		ts = parsed
	}

	if _, err := h.repo.GetMerchant(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "merchant not found"})
			return
		}
		slog.Error("failed to get merchant", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get merchant"})
		return
	}

	monthly, err := h.stats.MonthlyStats(ctx, id, ts)
	if err != nil {
		slog.Error("failed to compute stats", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"merchantId":  monthly.MerchantID,
		"month":       monthly.Month,
		"totalVolume": monthly.TotalVolume,
		"fraudVolume": monthly.FraudVolume,
		"fraudRate":   monthly.FraudRate(),
		"txCount":     monthly.TxCount,
	})
}

// ScenarioRequest is the request body for POST /scenario.
type ScenarioRequest struct {
	Context   domain.TransactionContext `json:"context"`
	Dimension scenario.Dimension        `json:"dimension"`
	Values    []string                  `json:"values,omitempty"`
}

// Scenario handles POST /scenario: a what-if sweep over one dimension.
func (h *Handler) Scenario(w http.ResponseWriter, r *http.Request) {
	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON request body"})
		return
	}
	if req.Dimension == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "dimension is required"})
		return
	}

	result, err := h.analyzer.Sweep(&req.Context, req.Dimension, req.Values)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready": true,
		"rules": h.engine.RulesCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
