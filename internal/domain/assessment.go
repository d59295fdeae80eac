package domain

import (
	"time"
)

// Assessment is the persisted result of matching one transaction against
// the fee rule dataset.
type Assessment struct {
	ID         string `json:"id"`
	TxID       string `json:"txId"`
	MerchantID string `json:"merchantId"`

	// Status is MATCHED when a rule applied, NORULE when no rule in the
	// dataset matched. The engine never falls back to a default rule; a
	// NORULE assessment carries no fee.
	Status string `json:"status"`

	// RuleID is the matched rule, nil for NORULE.
	RuleID *int64 `json:"ruleId,omitempty"`

	EURAmount float64 `json:"eurAmount"`
	Fee       float64 `json:"fee"`

	// Context is the evaluated transaction context, kept for audit.
	Context TransactionContext `json:"context"`

	Timestamp time.Time          `json:"timestamp"`
	Metadata  AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	StatsMs        int64  `json:"statsMs"`
	MatchMs        int64  `json:"matchMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// Assessment status constants.
const (
	StatusMatched = "MATCHED"
	StatusNoRule  = "NORULE"
)

// AssessmentResponse is the API response for a fee assessment.
type AssessmentResponse struct {
	AssessmentID string             `json:"assessmentId"`
	TxID         string             `json:"txId"`
	Status       string             `json:"status"`
	RuleID       *int64             `json:"ruleId,omitempty"`
	Fee          float64            `json:"fee"`
	Metadata     AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *AssessmentResponse {
	return &AssessmentResponse{
		AssessmentID: a.ID,
		TxID:         a.TxID,
		Status:       a.Status,
		RuleID:       a.RuleID,
		Fee:          a.Fee,
		Metadata:     a.Metadata,
	}
}
