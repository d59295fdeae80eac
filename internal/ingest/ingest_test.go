package ingest

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFeeRulesNormalizesWildcards(t *testing.T) {
	data := `[
		{"id": 1, "card_scheme": "NexPay", "account_type": ["F", "H"], "merchant_category_code": [5411],
		 "is_credit": true, "aci": ["A"], "intracountry": 1.0, "capture_delay": "<3",
		 "monthly_volume": "100k-1m", "monthly_fraud_level": "<8.3%", "fixed_amount": 0.1, "rate": 15},
		{"id": 2, "card_scheme": null, "account_type": [], "merchant_category_code": null,
		 "is_credit": null, "aci": null, "intracountry": null, "capture_delay": null,
		 "monthly_volume": null, "monthly_fraud_level": null, "fixed_amount": 0.05, "rate": 99},
		{"id": 3, "intracountry": false, "fixed_amount": 1, "rate": 0}
	]`

	rules, err := LoadFeeRules(strings.NewReader(data))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}

	r1 := rules[0]
	if r1.ID != 1 || r1.CardScheme != "NexPay" || len(r1.AccountTypes) != 2 {
		t.Errorf("rule 1 mismatch: %+v", r1)
	}
	if r1.Intracountry == nil || !*r1.Intracountry {
		t.Error("rule 1: intracountry 1.0 should normalize to true")
	}
	if r1.Position != 0 {
		t.Errorf("rule 1 position = %d, want 0", r1.Position)
	}

	// Rule 2 is a total wildcard regardless of null-vs-empty encoding.
	r2 := rules[1]
	if r2.CardScheme != "" || len(r2.AccountTypes) != 0 || len(r2.MerchantCategoryCodes) != 0 {
		t.Errorf("rule 2 should be wildcard: %+v", r2)
	}
	if r2.IsCredit != nil || r2.Intracountry != nil {
		t.Error("rule 2: null booleans should stay nil")
	}
	if r2.MonthlyVolume != "" || r2.MonthlyFraudLevel != "" || r2.CaptureDelay != "" {
		t.Errorf("rule 2: null strings should be empty: %+v", r2)
	}
	if r2.Position != 1 {
		t.Errorf("rule 2 position = %d, want 1", r2.Position)
	}

	r3 := rules[2]
	if r3.Intracountry == nil || *r3.Intracountry {
		t.Error("rule 3: intracountry false should normalize to *false")
	}
}

func TestLoadFeeRulesRejectsBadIntracountry(t *testing.T) {
	data := `[{"id": 1, "intracountry": 0.5, "fixed_amount": 0, "rate": 0}]`
	if _, err := LoadFeeRules(strings.NewReader(data)); err == nil {
		t.Error("expected error for intracountry 0.5")
	}

	data = `[{"id": 2, "intracountry": "yes", "fixed_amount": 0, "rate": 0}]`
	if _, err := LoadFeeRules(strings.NewReader(data)); err == nil {
		t.Error("expected error for string intracountry")
	}
}

func TestLoadFeeRulesMalformedJSON(t *testing.T) {
	if _, err := LoadFeeRules(strings.NewReader(`{"not": "an array"}`)); err == nil {
		t.Error("expected error for non-array input")
	}
}

func TestLoadMerchants(t *testing.T) {
	data := `merchant,account_type,merchant_category_code,capture_delay
Crossfit_Hanna,F,7997,manual
Belles_cookbook_store,R,5942,1
`
	merchants, err := LoadMerchants(strings.NewReader(data))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(merchants) != 2 {
		t.Fatalf("got %d merchants, want 2", len(merchants))
	}

	m := merchants[0]
	if m.ID != "Crossfit_Hanna" || m.AccountType != "F" || m.MerchantCategoryCode != 7997 || m.CaptureDelay != "manual" {
		t.Errorf("merchant mismatch: %+v", m)
	}
	if merchants[1].CaptureDelay != "1" {
		t.Errorf("numeric capture delay should stay a string: %q", merchants[1].CaptureDelay)
	}
}

func TestLoadMerchantsReorderedColumns(t *testing.T) {
	data := `capture_delay,merchant,merchant_category_code,account_type
immediate,Golfclub_Baron_Friso,7993,F
`
	merchants, err := LoadMerchants(strings.NewReader(data))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if merchants[0].ID != "Golfclub_Baron_Friso" || merchants[0].CaptureDelay != "immediate" {
		t.Errorf("column mapping wrong: %+v", merchants[0])
	}
}

func TestLoadMerchantsMissingColumn(t *testing.T) {
	data := "merchant,account_type\nm1,F\n"
	if _, err := LoadMerchants(strings.NewReader(data)); err == nil {
		t.Error("expected error for missing columns")
	}
}

func TestLoadTransactions(t *testing.T) {
	data := `id,merchant,timestamp,card_scheme,is_credit,aci,issuing_country,acquirer_country,eur_amount,has_fraudulent_dispute
tx-1,Crossfit_Hanna,2023-03-15T12:00:00Z,NexPay,true,A,NL,NL,120.50,false
tx-2,Crossfit_Hanna,2023-03-16T08:30:00Z,GlobalCard,false,C,BE,NL,42.00,true
`
	txs, err := LoadTransactions(strings.NewReader(data))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}

	tx := txs[0]
	if tx.ID != "tx-1" || tx.CardScheme != "NexPay" || !tx.IsCredit || tx.EURAmount != 120.50 {
		t.Errorf("transaction mismatch: %+v", tx)
	}
	if !tx.Timestamp.Equal(time.Date(2023, 3, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", tx.Timestamp)
	}
	if !tx.Intracountry() {
		t.Error("tx-1 NL->NL should be intracountry")
	}

	if txs[1].Intracountry() {
		t.Error("tx-2 BE->NL should not be intracountry")
	}
	if !txs[1].HasFraudulentDispute {
		t.Error("tx-2 should carry its fraud flag")
	}
}

func TestLoadTransactionsBadTimestamp(t *testing.T) {
	data := `id,merchant,timestamp,card_scheme,is_credit,aci,issuing_country,acquirer_country,eur_amount,has_fraudulent_dispute
tx-1,m1,15/03/2023,NexPay,true,A,NL,NL,10,false
`
	if _, err := LoadTransactions(strings.NewReader(data)); err == nil {
		t.Error("expected error for non-RFC3339 timestamp")
	}
}
