package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scenario"
	"github.com/opensource-finance/kestrel/internal/stats"
)

func newTestServer(t *testing.T, ruleset ...*domain.FeeRule) (*Server, *repository.SQLRepository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(domain.DefaultMatchPolicy())
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	if err := engine.LoadRules(ruleset); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	if err := repo.SaveFeeRules(t.Context(), ruleset); err != nil {
		t.Fatalf("persist rules: %v", err)
	}

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	statsSvc := stats.New(repo, c, time.Minute)
	processor := assess.NewProcessor(repo, statsSvc, engine)
	analyzer := scenario.New(engine)

	srv := NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, repo, c, b, engine, statsSvc, processor, analyzer, "test")
	return srv, repo
}

func seedMerchant(t *testing.T, repo *repository.SQLRepository) {
	t.Helper()
	err := repo.SaveMerchant(t.Context(), &domain.MerchantProfile{
		ID:                   "Crossfit_Hanna",
		AccountType:          "F",
		MerchantCategoryCode: 7997,
		CaptureDelay:         "immediate",
	})
	if err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

var nexPayRule = &domain.FeeRule{
	ID:          42,
	CardScheme:  "NexPay",
	ACIs:        []string{"A", "B"},
	FixedAmount: 0.1,
	Rate:        15,
}

func assessRequest() domain.TransactionRequest {
	return domain.TransactionRequest{
		MerchantID:      "Crossfit_Hanna",
		CardScheme:      "NexPay",
		IsCredit:        true,
		ACI:             "A",
		IssuingCountry:  "NL",
		AcquirerCountry: "NL",
		EURAmount:       200,
		Timestamp:       "2023-03-15T12:00:00Z",
	}
}

func TestAssessEndpoint(t *testing.T) {
	srv, repo := newTestServer(t, nexPayRule)
	seedMerchant(t, repo)

	rec := doJSON(t, srv, http.MethodPost, "/assess", assessRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decode[domain.AssessmentResponse](t, rec)
	if resp.Status != domain.StatusMatched {
		t.Errorf("status = %s, want %s", resp.Status, domain.StatusMatched)
	}
	if resp.RuleID == nil || *resp.RuleID != 42 {
		t.Errorf("rule id = %v, want 42", resp.RuleID)
	}
	if math.Abs(resp.Fee-0.4) > 1e-12 {
		t.Errorf("fee = %v, want 0.4", resp.Fee)
	}
	if resp.Metadata.EngineVersion == "" {
		t.Error("missing engine version")
	}

	// The assessment is retrievable by ID.
	rec = doJSON(t, srv, http.MethodGet, "/assessments/"+resp.AssessmentID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get assessment status = %d", rec.Code)
	}
	stored := decode[domain.Assessment](t, rec)
	if stored.Fee != resp.Fee || stored.Status != resp.Status {
		t.Errorf("stored assessment mismatch: %+v", stored)
	}

	// So is the transaction.
	rec = doJSON(t, srv, http.MethodGet, "/transactions/"+resp.TxID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get transaction status = %d", rec.Code)
	}
}

func TestAssessNoRuleMatch(t *testing.T) {
	srv, repo := newTestServer(t) // empty dataset
	seedMerchant(t, repo)

	rec := doJSON(t, srv, http.MethodPost, "/assess", assessRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decode[domain.AssessmentResponse](t, rec)
	if resp.Status != domain.StatusNoRule {
		t.Errorf("status = %s, want %s", resp.Status, domain.StatusNoRule)
	}
	if resp.Fee != 0 || resp.RuleID != nil {
		t.Errorf("no-rule response should carry no fee: %+v", resp)
	}
}

func TestAssessUnknownMerchant(t *testing.T) {
	srv, _ := newTestServer(t, nexPayRule)

	rec := doJSON(t, srv, http.MethodPost, "/assess", assessRequest())
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAssessValidation(t *testing.T) {
	srv, repo := newTestServer(t, nexPayRule)
	seedMerchant(t, repo)

	req := assessRequest()
	req.MerchantID = ""
	if rec := doJSON(t, srv, http.MethodPost, "/assess", req); rec.Code != http.StatusBadRequest {
		t.Errorf("missing merchant: status = %d, want 400", rec.Code)
	}

	req = assessRequest()
	req.EURAmount = -5
	if rec := doJSON(t, srv, http.MethodPost, "/assess", req); rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount: status = %d, want 400", rec.Code)
	}

	req = assessRequest()
	req.CardScheme = ""
	if rec := doJSON(t, srv, http.MethodPost, "/assess", req); rec.Code != http.StatusBadRequest {
		t.Errorf("missing scheme: status = %d, want 400", rec.Code)
	}
}

func TestRulesEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nexPayRule)

	rec := doJSON(t, srv, http.MethodGet, "/rules", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list rules status = %d", rec.Code)
	}
	list := decode[map[string]json.RawMessage](t, rec)
	var count int
	json.Unmarshal(list["count"], &count)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	rec = doJSON(t, srv, http.MethodGet, "/rules/42", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get rule status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/rules/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing rule status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/rules/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-integer rule id status = %d, want 400", rec.Code)
	}
}

func TestReplaceRulesDataset(t *testing.T) {
	srv, _ := newTestServer(t, nexPayRule)

	dataset := `[
		{"id": 7, "card_scheme": "GlobalCard", "account_type": null, "merchant_category_code": null,
		 "is_credit": null, "aci": null, "intracountry": null, "capture_delay": null,
		 "monthly_volume": null, "monthly_fraud_level": null, "fixed_amount": 0.2, "rate": 10},
		{"id": 8, "card_scheme": null, "fixed_amount": 0.5, "rate": 25}
	]`
	req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBufferString(dataset))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Old rule 42 is gone, new dataset is live.
	if rec := doJSON(t, srv, http.MethodGet, "/rules/42", nil); rec.Code != http.StatusNotFound {
		t.Errorf("rule 42 should be replaced, status = %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/rules/7", nil); rec.Code != http.StatusOK {
		t.Errorf("rule 7 should be live, status = %d", rec.Code)
	}
}

func TestReplaceRulesRejectsBadDataset(t *testing.T) {
	srv, _ := newTestServer(t, nexPayRule)

	// Unparseable range: the running dataset must survive untouched.
	bad := `[{"id": 9, "monthly_volume": "not-a-range", "fixed_amount": 0, "rate": 0}]`
	req := httptest.NewRequest(http.MethodPost, "/rules", bytes.NewBufferString(bad))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad dataset status = %d, want 400", rec.Code)
	}

	if rec := doJSON(t, srv, http.MethodGet, "/rules/42", nil); rec.Code != http.StatusOK {
		t.Errorf("original dataset should survive a rejected replace, status = %d", rec.Code)
	}
}

func TestReloadRulesFromRepository(t *testing.T) {
	srv, repo := newTestServer(t, nexPayRule)

	// Change the persisted dataset behind the engine's back, then reload.
	if err := repo.SaveFeeRules(t.Context(), []*domain.FeeRule{{ID: 99, FixedAmount: 1}}); err != nil {
		t.Fatalf("save rules: %v", err)
	}

	rec := doJSON(t, srv, http.MethodPost, "/rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/rules/99", nil); rec.Code != http.StatusOK {
		t.Errorf("rule 99 should be live after reload, status = %d", rec.Code)
	}
}

func TestMerchantEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	m := domain.MerchantProfile{
		AccountType:          "R",
		MerchantCategoryCode: 5942,
		CaptureDelay:         "2",
	}
	rec := doJSON(t, srv, http.MethodPut, "/merchants/Belles_cookbook_store", m)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/merchants/Belles_cookbook_store", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decode[domain.MerchantProfile](t, rec)
	if got.AccountType != "R" || got.CaptureDelay != "2" {
		t.Errorf("merchant mismatch: %+v", got)
	}

	rec = doJSON(t, srv, http.MethodGet, "/merchants", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/merchants/nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing merchant status = %d, want 404", rec.Code)
	}

	// Missing required fields rejected.
	rec = doJSON(t, srv, http.MethodPut, "/merchants/x", domain.MerchantProfile{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid upsert status = %d, want 400", rec.Code)
	}
}

func TestMerchantStatsEndpoint(t *testing.T) {
	srv, repo := newTestServer(t)
	seedMerchant(t, repo)

	txs := []*domain.Transaction{
		{ID: "s1", MerchantID: "Crossfit_Hanna", EURAmount: 1000, Timestamp: time.Date(2023, 3, 5, 0, 0, 0, 0, time.UTC)},
		{ID: "s2", MerchantID: "Crossfit_Hanna", EURAmount: 100, HasFraudulentDispute: true, Timestamp: time.Date(2023, 3, 20, 0, 0, 0, 0, time.UTC)},
	}
	for _, tx := range txs {
		tx.CardScheme = "NexPay"
		tx.ACI = "A"
		tx.IssuingCountry = "NL"
		tx.AcquirerCountry = "NL"
		if err := repo.SaveTransaction(t.Context(), tx); err != nil {
			t.Fatalf("save tx: %v", err)
		}
	}

	rec := doJSON(t, srv, http.MethodGet, "/merchants/Crossfit_Hanna/stats?month=2023-03", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d, body = %s", rec.Code, rec.Body.String())
	}
	out := decode[map[string]any](t, rec)
	if out["totalVolume"].(float64) != 1100 {
		t.Errorf("total volume = %v, want 1100", out["totalVolume"])
	}
	if math.Abs(out["fraudRate"].(float64)-100.0/1100.0) > 1e-9 {
		t.Errorf("fraud rate = %v", out["fraudRate"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/merchants/Crossfit_Hanna/stats?month=20-3", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad month status = %d, want 400", rec.Code)
	}
}

func TestScenarioEndpoint(t *testing.T) {
	srv, _ := newTestServer(t,
		&domain.FeeRule{ID: 1, CardScheme: "NexPay", FixedAmount: 0.5, Rate: 30},
		&domain.FeeRule{ID: 2, CardScheme: "GlobalCard", FixedAmount: 0.1, Rate: 10},
	)

	req := ScenarioRequest{
		Context: domain.TransactionContext{
			CardScheme:           "NexPay",
			ACI:                  "A",
			AccountType:          "F",
			MerchantCategoryCode: 5411,
			CaptureDelay:         "immediate",
			EURAmount:            100,
		},
		Dimension: scenario.DimensionScheme,
	}
	rec := doJSON(t, srv, http.MethodPost, "/scenario", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scenario status = %d, body = %s", rec.Code, rec.Body.String())
	}
	result := decode[scenario.Result](t, rec)
	if result.Cheapest == nil || result.Cheapest.Value != "GlobalCard" {
		t.Errorf("cheapest = %+v, want GlobalCard", result.Cheapest)
	}

	rec = doJSON(t, srv, http.MethodPost, "/scenario", ScenarioRequest{Context: req.Context})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing dimension status = %d, want 400", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, nexPayRule)

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	health := decode[map[string]string](t, rec)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}

	rec = doJSON(t, srv, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status = %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("request id header not set")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/assess", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestAssessCheapestSchemeFlow(t *testing.T) {
	// An assessment followed by a scenario sweep finds a cheaper scheme
	// for the same transaction profile.
	srv, repo := newTestServer(t,
		&domain.FeeRule{ID: 1, CardScheme: "NexPay", FixedAmount: 0.5, Rate: 30},
		&domain.FeeRule{ID: 2, CardScheme: "GlobalCard", FixedAmount: 0.1, Rate: 10},
	)
	seedMerchant(t, repo)

	rec := doJSON(t, srv, http.MethodPost, "/assess", assessRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("assess status = %d", rec.Code)
	}
	resp := decode[domain.AssessmentResponse](t, rec)

	rec = doJSON(t, srv, http.MethodGet, "/assessments/"+resp.AssessmentID, nil)
	stored := decode[domain.Assessment](t, rec)

	sweep := doJSON(t, srv, http.MethodPost, "/scenario", ScenarioRequest{
		Context:   stored.Context,
		Dimension: scenario.DimensionScheme,
	})
	result := decode[scenario.Result](t, sweep)
	if result.Cheapest == nil {
		t.Fatal("expected a cheapest candidate")
	}
	if result.Cheapest.Fee >= resp.Fee {
		t.Errorf("cheapest fee %v should undercut assessed fee %v", result.Cheapest.Fee, resp.Fee)
	}
	if result.Cheapest.Value != "GlobalCard" {
		t.Errorf("cheapest scheme = %q, want GlobalCard", result.Cheapest.Value)
	}
}
