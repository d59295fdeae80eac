package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    id TEXT PRIMARY KEY,
    name TEXT,
    account_type TEXT NOT NULL,
    merchant_category_code INTEGER NOT NULL,
    capture_delay TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merchants_account_type ON merchants(account_type);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    card_scheme TEXT NOT NULL,
    is_credit BOOLEAN NOT NULL,
    aci TEXT NOT NULL,
    issuing_country TEXT NOT NULL,
    acquirer_country TEXT NOT NULL,
    eur_amount REAL NOT NULL,
    has_fraudulent_dispute BOOLEAN NOT NULL DEFAULT FALSE,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant_ts ON transactions(merchant_id, timestamp);
`

// fee_rules holds the ordered rule dataset. position is the dataset order
// and is the selection priority; matching fields keep their original string
// and JSON encodings, the engine compiles them at load.
const schemaFeeRules = `
CREATE TABLE IF NOT EXISTS fee_rules (
    id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    card_scheme TEXT,
    account_types TEXT,
    mccs TEXT,
    is_credit BOOLEAN,
    acis TEXT,
    intracountry BOOLEAN,
    capture_delay TEXT,
    monthly_volume TEXT,
    monthly_fraud_level TEXT,
    expression TEXT,
    fixed_amount REAL NOT NULL DEFAULT 0,
    rate REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (id)
);

CREATE INDEX IF NOT EXISTS idx_fee_rules_position ON fee_rules(position);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    status TEXT NOT NULL,
    rule_id INTEGER,
    eur_amount REAL NOT NULL,
    fee REAL NOT NULL,
    context TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tx ON assessments(tx_id);
CREATE INDEX IF NOT EXISTS idx_assessments_merchant ON assessments(merchant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_status ON assessments(status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaMerchants,
		schemaTransactions,
		schemaFeeRules,
		schemaAssessments,
	}
}
