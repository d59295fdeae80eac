package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Merchant profile operations
	SaveMerchant(ctx context.Context, m *MerchantProfile) error
	GetMerchant(ctx context.Context, merchantID string) (*MerchantProfile, error)
	ListMerchants(ctx context.Context) ([]*MerchantProfile, error)

	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetMerchantTransactions(ctx context.Context, merchantID string, from, to time.Time) ([]*Transaction, error)

	// MonthlyVolume aggregates total and fraudulent EUR volume for a
	// merchant over [from, to). Callers pass natural calendar month bounds.
	MonthlyVolume(ctx context.Context, merchantID string, from, to time.Time) (*MonthlyStats, error)

	// Fee rule dataset operations. SaveFeeRules replaces the whole ordered
	// dataset; ListFeeRules returns it in position order.
	SaveFeeRules(ctx context.Context, rules []*FeeRule) error
	ListFeeRules(ctx context.Context) ([]*FeeRule, error)

	// Assessment results
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
