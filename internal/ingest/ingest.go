// Package ingest loads rule datasets and merchant/transaction data from
// their external formats. Rule datasets arrive as JSON arrays in which
// wildcards are written inconsistently (null, absent, or an empty list)
// and intracountry may be encoded as a boolean, a 0.0/1.0 float, or null;
// the loader normalizes all of these before the engine sees them.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ruleRecord mirrors the raw JSON shape of one fee rule.
type ruleRecord struct {
	ID                    int64           `json:"id"`
	CardScheme            *string         `json:"card_scheme"`
	AccountTypes          []string        `json:"account_type"`
	MerchantCategoryCodes []int           `json:"merchant_category_code"`
	IsCredit              *bool           `json:"is_credit"`
	ACIs                  []string        `json:"aci"`
	Intracountry          json.RawMessage `json:"intracountry"`
	CaptureDelay          *string         `json:"capture_delay"`
	MonthlyVolume         *string         `json:"monthly_volume"`
	MonthlyFraudLevel     *string         `json:"monthly_fraud_level"`
	Expression            *string         `json:"expression"`
	FixedAmount           float64         `json:"fixed_amount"`
	Rate                  float64         `json:"rate"`
}

// LoadFeeRules decodes a JSON rule dataset, preserving dataset order.
// Position is assigned from array index.
func LoadFeeRules(r io.Reader) ([]*domain.FeeRule, error) {
	var records []ruleRecord
	dec := json.NewDecoder(r)
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode fee rules: %w", err)
	}

	rules := make([]*domain.FeeRule, 0, len(records))
	for i, rec := range records {
		rule := &domain.FeeRule{
			ID:                    rec.ID,
			AccountTypes:          rec.AccountTypes,
			MerchantCategoryCodes: rec.MerchantCategoryCodes,
			IsCredit:              rec.IsCredit,
			ACIs:                  rec.ACIs,
			FixedAmount:           rec.FixedAmount,
			Rate:                  rec.Rate,
			Position:              i,
		}
		if rec.CardScheme != nil {
			rule.CardScheme = *rec.CardScheme
		}
		if rec.CaptureDelay != nil {
			rule.CaptureDelay = *rec.CaptureDelay
		}
		if rec.MonthlyVolume != nil {
			rule.MonthlyVolume = *rec.MonthlyVolume
		}
		if rec.MonthlyFraudLevel != nil {
			rule.MonthlyFraudLevel = *rec.MonthlyFraudLevel
		}
		if rec.Expression != nil {
			rule.Expression = *rec.Expression
		}

		intracountry, err := parseIntracountry(rec.Intracountry)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", rec.ID, err)
		}
		rule.Intracountry = intracountry

		rules = append(rules, rule)
	}
	return rules, nil
}

// parseIntracountry accepts true/false, 1.0/0.0, and null. Any other
// value is rejected rather than treated as a wildcard.
func parseIntracountry(raw json.RawMessage) (*bool, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		switch f {
		case 0:
			b = false
		case 1:
			b = true
		default:
			return nil, fmt.Errorf("intracountry value %v is not 0 or 1", f)
		}
		return &b, nil
	}

	return nil, fmt.Errorf("intracountry value %s is not boolean", raw)
}

// LoadMerchants reads merchant profiles from CSV with a header row:
// merchant,account_type,merchant_category_code,capture_delay
func LoadMerchants(r io.Reader) ([]*domain.MerchantProfile, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read merchants header: %w", err)
	}
	col, err := columnIndex(header, "merchant", "account_type", "merchant_category_code", "capture_delay")
	if err != nil {
		return nil, err
	}

	var out []*domain.MerchantProfile
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read merchants line %d: %w", line, err)
		}

		mcc, err := strconv.Atoi(record[col["merchant_category_code"]])
		if err != nil {
			return nil, fmt.Errorf("merchants line %d: bad mcc: %w", line, err)
		}

		out = append(out, &domain.MerchantProfile{
			ID:                   record[col["merchant"]],
			Name:                 record[col["merchant"]],
			AccountType:          record[col["account_type"]],
			MerchantCategoryCode: mcc,
			CaptureDelay:         record[col["capture_delay"]],
		})
	}
	return out, nil
}

// LoadTransactions reads transactions from CSV with a header row:
// id,merchant,timestamp,card_scheme,is_credit,aci,issuing_country,acquirer_country,eur_amount,has_fraudulent_dispute
func LoadTransactions(r io.Reader) ([]*domain.Transaction, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read transactions header: %w", err)
	}
	col, err := columnIndex(header, "id", "merchant", "timestamp", "card_scheme", "is_credit",
		"aci", "issuing_country", "acquirer_country", "eur_amount", "has_fraudulent_dispute")
	if err != nil {
		return nil, err
	}

	var out []*domain.Transaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read transactions line %d: %w", line, err)
		}

		ts, err := time.Parse(time.RFC3339, record[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("transactions line %d: bad timestamp: %w", line, err)
		}
		isCredit, err := strconv.ParseBool(record[col["is_credit"]])
		if err != nil {
			return nil, fmt.Errorf("transactions line %d: bad is_credit: %w", line, err)
		}
		amount, err := strconv.ParseFloat(record[col["eur_amount"]], 64)
		if err != nil {
			return nil, fmt.Errorf("transactions line %d: bad eur_amount: %w", line, err)
		}
		fraud, err := strconv.ParseBool(record[col["has_fraudulent_dispute"]])
		if err != nil {
			return nil, fmt.Errorf("transactions line %d: bad has_fraudulent_dispute: %w", line, err)
		}

		out = append(out, &domain.Transaction{
			ID:                   record[col["id"]],
			MerchantID:           record[col["merchant"]],
			CardScheme:           record[col["card_scheme"]],
			IsCredit:             isCredit,
			ACI:                  record[col["aci"]],
			IssuingCountry:       record[col["issuing_country"]],
			AcquirerCountry:      record[col["acquirer_country"]],
			EURAmount:            amount,
			HasFraudulentDispute: fraud,
			Timestamp:            ts.UTC(),
		})
	}
	return out, nil
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return col, nil
}
