// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"time"
)

// Transaction is a single card payment to be assessed for fees.
type Transaction struct {
	ID         string `json:"id"`
	MerchantID string `json:"merchantId"`

	CardScheme string `json:"cardScheme"`
	IsCredit   bool   `json:"isCredit"`
	ACI        string `json:"aci"`

	IssuingCountry  string `json:"issuingCountry"`
	AcquirerCountry string `json:"acquirerCountry"`

	EURAmount float64 `json:"eurAmount"`

	// HasFraudulentDispute marks the transaction as fraud volume for the
	// monthly fraud-rate aggregate.
	HasFraudulentDispute bool `json:"hasFraudulentDispute"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Intracountry reports whether the issuing and acquirer countries match.
func (t *Transaction) Intracountry() bool {
	return t.IssuingCountry == t.AcquirerCountry
}

// MerchantProfile holds the static merchant attributes that feed the
// transaction context. Read once at context assembly.
type MerchantProfile struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name,omitempty"`
	AccountType          string    `json:"accountType"`
	MerchantCategoryCode int       `json:"merchantCategoryCode"`
	CaptureDelay         string    `json:"captureDelay"`
	CreatedAt            time.Time `json:"createdAt,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt,omitempty"`
}

// MonthlyStats aggregates one merchant's transactions over a natural
// calendar month. The fraud rate is volume-based: fraudulent EUR volume
// over total EUR volume, never a transaction-count ratio.
type MonthlyStats struct {
	MerchantID  string  `json:"merchantId"`
	Month       string  `json:"month"` // "2006-01"
	TotalVolume float64 `json:"totalVolume"`
	FraudVolume float64 `json:"fraudVolume"`
	TxCount     int64   `json:"txCount"`
}

// FraudRate returns the volume-based fraud ratio in [0,1].
// Zero volume yields zero.
func (s *MonthlyStats) FraudRate() float64 {
	if s.TotalVolume <= 0 {
		return 0
	}
	return s.FraudVolume / s.TotalVolume
}

// TransactionRequest is the API request payload for fee assessment.
type TransactionRequest struct {
	MerchantID           string  `json:"merchantId"`
	CardScheme           string  `json:"cardScheme"`
	IsCredit             bool    `json:"isCredit"`
	ACI                  string  `json:"aci"`
	IssuingCountry       string  `json:"issuingCountry"`
	AcquirerCountry      string  `json:"acquirerCountry"`
	EURAmount            float64 `json:"eurAmount"`
	HasFraudulentDispute bool    `json:"hasFraudulentDispute,omitempty"`
	Timestamp            string  `json:"timestamp,omitempty"` // RFC 3339, defaults to now
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	now := time.Now().UTC()
	ts := now
	if r.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, r.Timestamp); err == nil {
			ts = parsed.UTC()
		}
	}
	return &Transaction{
		MerchantID:           r.MerchantID,
		CardScheme:           r.CardScheme,
		IsCredit:             r.IsCredit,
		ACI:                  r.ACI,
		IssuingCountry:       r.IssuingCountry,
		AcquirerCountry:      r.AcquirerCountry,
		EURAmount:            r.EURAmount,
		HasFraudulentDispute: r.HasFraudulentDispute,
		Timestamp:            ts,
		CreatedAt:            now,
	}
}
