// Package repository provides persistent storage for merchants,
// transactions, fee rule datasets and assessments. Two backends are
// supported: SQLite (community tier) and PostgreSQL (pro tier). Both
// share the same SQL shape; placeholder rebinding bridges the dialects.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository over database/sql.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a repository for the configured driver.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return newSQLite(cfg)
	case "postgres":
		return newPostgres(cfg)
	default:
		return nil, fmt.Errorf("unknown repository driver: %s", cfg.Driver)
	}
}

// rebind converts ? placeholders to $n for postgres. SQLite takes ? as-is.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLRepository) initSchema() error {
	for _, stmt := range AllSchemas() {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SaveMerchant upserts a merchant profile.
func (r *SQLRepository) SaveMerchant(ctx context.Context, m *domain.MerchantProfile) error {
	if m == nil || m.ID == "" {
		return ErrInvalidInput
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	query := r.rebind(`
		INSERT INTO merchants (id, name, account_type, merchant_category_code, capture_delay, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			account_type = excluded.account_type,
			merchant_category_code = excluded.merchant_category_code,
			capture_delay = excluded.capture_delay,
			updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.Name, m.AccountType, m.MerchantCategoryCode, m.CaptureDelay, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save merchant: %w", err)
	}
	return nil
}

// GetMerchant fetches a merchant by ID.
func (r *SQLRepository) GetMerchant(ctx context.Context, id string) (*domain.MerchantProfile, error) {
	query := r.rebind(`
		SELECT id, name, account_type, merchant_category_code, capture_delay, created_at, updated_at
		FROM merchants WHERE id = ?`)
	var m domain.MerchantProfile
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.Name, &m.AccountType, &m.MerchantCategoryCode, &m.CaptureDelay, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return &m, nil
}

// ListMerchants returns all merchants sorted by ID.
func (r *SQLRepository) ListMerchants(ctx context.Context) ([]*domain.MerchantProfile, error) {
	query := `
		SELECT id, name, account_type, merchant_category_code, capture_delay, created_at, updated_at
		FROM merchants ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	defer rows.Close()

	var out []*domain.MerchantProfile
	for rows.Next() {
		var m domain.MerchantProfile
		if err := rows.Scan(&m.ID, &m.Name, &m.AccountType, &m.MerchantCategoryCode, &m.CaptureDelay, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" || tx.MerchantID == "" {
		return ErrInvalidInput
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	query := r.rebind(`
		INSERT INTO transactions (id, merchant_id, card_scheme, is_credit, aci, issuing_country,
			acquirer_country, eur_amount, has_fraudulent_dispute, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.MerchantID, tx.CardScheme, tx.IsCredit, tx.ACI, tx.IssuingCountry,
		tx.AcquirerCountry, tx.EURAmount, tx.HasFraudulentDispute, tx.Timestamp, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

// GetTransaction fetches a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := r.rebind(`
		SELECT id, merchant_id, card_scheme, is_credit, aci, issuing_country,
			acquirer_country, eur_amount, has_fraudulent_dispute, timestamp, created_at
		FROM transactions WHERE id = ?`)
	var tx domain.Transaction
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&tx.ID, &tx.MerchantID, &tx.CardScheme, &tx.IsCredit, &tx.ACI, &tx.IssuingCountry,
		&tx.AcquirerCountry, &tx.EURAmount, &tx.HasFraudulentDispute, &tx.Timestamp, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

// GetMerchantTransactions returns a merchant's transactions within [from, to).
func (r *SQLRepository) GetMerchantTransactions(ctx context.Context, merchantID string, from, to time.Time) ([]*domain.Transaction, error) {
	query := r.rebind(`
		SELECT id, merchant_id, card_scheme, is_credit, aci, issuing_country,
			acquirer_country, eur_amount, has_fraudulent_dispute, timestamp, created_at
		FROM transactions
		WHERE merchant_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp`)
	rows, err := r.db.QueryContext(ctx, query, merchantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list merchant transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(&tx.ID, &tx.MerchantID, &tx.CardScheme, &tx.IsCredit, &tx.ACI,
			&tx.IssuingCountry, &tx.AcquirerCountry, &tx.EURAmount, &tx.HasFraudulentDispute,
			&tx.Timestamp, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, &tx)
	}
	return out, rows.Err()
}

// MonthlyVolume aggregates a merchant's volume and fraud volume over [from, to).
// The fraud figure sums the amounts of disputed transactions, not their count.
func (r *SQLRepository) MonthlyVolume(ctx context.Context, merchantID string, from, to time.Time) (*domain.MonthlyStats, error) {
	query := r.rebind(`
		SELECT
			COALESCE(SUM(eur_amount), 0),
			COALESCE(SUM(CASE WHEN has_fraudulent_dispute THEN eur_amount ELSE 0 END), 0),
			COUNT(*)
		FROM transactions
		WHERE merchant_id = ? AND timestamp >= ? AND timestamp < ?`)
	stats := &domain.MonthlyStats{
		MerchantID: merchantID,
		Month:      from.Format("2006-01"),
	}
	err := r.db.QueryRowContext(ctx, query, merchantID, from, to).Scan(
		&stats.TotalVolume, &stats.FraudVolume, &stats.TxCount)
	if err != nil {
		return nil, fmt.Errorf("monthly volume: %w", err)
	}
	return stats, nil
}

// SaveFeeRules replaces the entire rule dataset atomically. Dataset order
// is preserved in the position column.
func (r *SQLRepository) SaveFeeRules(ctx context.Context, rules []*domain.FeeRule) error {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rules tx: %w", err)
	}
	defer dbtx.Rollback()

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM fee_rules`); err != nil {
		return fmt.Errorf("clear fee rules: %w", err)
	}

	query := r.rebind(`
		INSERT INTO fee_rules (id, position, card_scheme, account_types, mccs, is_credit, acis,
			intracountry, capture_delay, monthly_volume, monthly_fraud_level, expression,
			fixed_amount, rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	stmt, err := dbtx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare rules insert: %w", err)
	}
	defer stmt.Close()

	for i, rule := range rules {
		accountTypes, err := json.Marshal(rule.AccountTypes)
		if err != nil {
			return fmt.Errorf("encode account types: %w", err)
		}
		mccs, err := json.Marshal(rule.MerchantCategoryCodes)
		if err != nil {
			return fmt.Errorf("encode mccs: %w", err)
		}
		acis, err := json.Marshal(rule.ACIs)
		if err != nil {
			return fmt.Errorf("encode acis: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, rule.ID, i, rule.CardScheme,
			string(accountTypes), string(mccs), nullableBool(rule.IsCredit), string(acis),
			nullableBool(rule.Intracountry), rule.CaptureDelay, rule.MonthlyVolume,
			rule.MonthlyFraudLevel, rule.Expression, rule.FixedAmount, rule.Rate); err != nil {
			return fmt.Errorf("insert fee rule %d: %w", rule.ID, err)
		}
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit rules tx: %w", err)
	}
	return nil
}

// ListFeeRules returns the rule dataset in position order.
func (r *SQLRepository) ListFeeRules(ctx context.Context) ([]*domain.FeeRule, error) {
	query := `
		SELECT id, position, card_scheme, account_types, mccs, is_credit, acis,
			intracountry, capture_delay, monthly_volume, monthly_fraud_level, expression,
			fixed_amount, rate
		FROM fee_rules ORDER BY position`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list fee rules: %w", err)
	}
	defer rows.Close()

	var out []*domain.FeeRule
	for rows.Next() {
		var (
			rule                     domain.FeeRule
			accountTypes, mccs, acis string
			isCredit, intracountry   sql.NullBool
		)
		if err := rows.Scan(&rule.ID, &rule.Position, &rule.CardScheme, &accountTypes, &mccs,
			&isCredit, &acis, &intracountry, &rule.CaptureDelay, &rule.MonthlyVolume,
			&rule.MonthlyFraudLevel, &rule.Expression, &rule.FixedAmount, &rule.Rate); err != nil {
			return nil, fmt.Errorf("scan fee rule: %w", err)
		}
		if err := json.Unmarshal([]byte(accountTypes), &rule.AccountTypes); err != nil {
			return nil, fmt.Errorf("decode account types: %w", err)
		}
		if err := json.Unmarshal([]byte(mccs), &rule.MerchantCategoryCodes); err != nil {
			return nil, fmt.Errorf("decode mccs: %w", err)
		}
		if err := json.Unmarshal([]byte(acis), &rule.ACIs); err != nil {
			return nil, fmt.Errorf("decode acis: %w", err)
		}
		if isCredit.Valid {
			v := isCredit.Bool
			rule.IsCredit = &v
		}
		if intracountry.Valid {
			v := intracountry.Bool
			rule.Intracountry = &v
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}

// SaveAssessment stores a completed assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a == nil || a.ID == "" {
		return ErrInvalidInput
	}
	contextJSON, err := json.Marshal(a.Context)
	if err != nil {
		return fmt.Errorf("encode assessment context: %w", err)
	}
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode assessment metadata: %w", err)
	}
	query := r.rebind(`
		INSERT INTO assessments (id, tx_id, merchant_id, status, rule_id, eur_amount, fee, context, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	var ruleID any
	if a.RuleID != nil {
		ruleID = *a.RuleID
	}
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.TxID, a.MerchantID, a.Status, ruleID, a.EURAmount, a.Fee,
		string(contextJSON), a.Timestamp, string(metaJSON))
	if err != nil {
		return fmt.Errorf("save assessment: %w", err)
	}
	return nil
}

// GetAssessment fetches an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.Assessment, error) {
	query := r.rebind(`
		SELECT id, tx_id, merchant_id, status, rule_id, eur_amount, fee, context, timestamp, metadata
		FROM assessments WHERE id = ?`)
	var (
		a                     domain.Assessment
		ruleID                sql.NullInt64
		contextJSON, metaJSON string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.TxID, &a.MerchantID, &a.Status, &ruleID, &a.EURAmount, &a.Fee,
		&contextJSON, &a.Timestamp, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if ruleID.Valid {
		v := ruleID.Int64
		a.RuleID = &v
	}
	if err := json.Unmarshal([]byte(contextJSON), &a.Context); err != nil {
		return nil, fmt.Errorf("decode assessment context: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &a.Metadata); err != nil {
		return nil, fmt.Errorf("decode assessment metadata: %w", err)
	}
	return &a, nil
}

// Ping verifies database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
