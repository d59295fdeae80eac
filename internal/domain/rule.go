package domain

// FeeRule is one entry of the fee rule dataset. A nil or empty field is a
// wildcard and matches any context value. Rules are immutable after load;
// Position records the dataset order, which is the selection priority.
type FeeRule struct {
	ID int64 `json:"id"`

	// Matching fields. String-encoded ranges (MonthlyVolume,
	// MonthlyFraudLevel, CaptureDelay) are parsed once at load time by the
	// rules package, never per match.
	CardScheme            string   `json:"card_scheme,omitempty"`
	AccountTypes          []string `json:"account_type,omitempty"`
	MerchantCategoryCodes []int    `json:"merchant_category_code,omitempty"`
	IsCredit              *bool    `json:"is_credit,omitempty"`
	ACIs                  []string `json:"aci,omitempty"`
	Intracountry          *bool    `json:"intracountry,omitempty"`
	CaptureDelay          string   `json:"capture_delay,omitempty"`
	MonthlyVolume         string   `json:"monthly_volume,omitempty"`
	MonthlyFraudLevel     string   `json:"monthly_fraud_level,omitempty"`

	// Expression is an optional CEL predicate over the transaction context,
	// an extra conjunct for conditions the field predicates cannot express.
	// Empty means wildcard.
	Expression string `json:"expression,omitempty"`

	// Fee formula components: fee = FixedAmount + Rate*amount/10000.
	FixedAmount float64 `json:"fixed_amount"`
	Rate        float64 `json:"rate"`

	// Position is the zero-based index in the dataset order.
	Position int `json:"-"`
}

// TransactionContext is the flat record a rule is matched against: merchant
// static attributes, transaction fields, and precomputed monthly aggregates.
// Contexts are constructed per transaction and discarded after evaluation.
type TransactionContext struct {
	CardScheme           string  `json:"card_scheme"`
	IsCredit             bool    `json:"is_credit"`
	ACI                  string  `json:"aci"`
	Intracountry         bool    `json:"intracountry"`
	AccountType          string  `json:"account_type"`
	MerchantCategoryCode int     `json:"merchant_category_code"`
	CaptureDelay         string  `json:"capture_delay"`
	MonthlyVolume        float64 `json:"monthly_volume"`
	MonthlyFraudRate     float64 `json:"monthly_fraud_rate"`
	EURAmount            float64 `json:"eur_amount"`
}

// BoundsPolicy fixes whether ">" and "<" range bounds are strict or
// inclusive. The source datasets are not self-describing here, so the
// choice is configuration rather than a hard-coded guess.
type BoundsPolicy string

const (
	// BoundsStrict treats ">5" as (5, +inf) and "<3" as (-inf, 3).
	BoundsStrict BoundsPolicy = "strict"

	// BoundsInclusive treats ">5" as [5, +inf) and "<3" as (-inf, 3].
	BoundsInclusive BoundsPolicy = "inclusive"
)

// SelectionPolicy resolves multiple matching rules.
type SelectionPolicy string

const (
	// SelectOrder picks the first match in dataset order. The dataset order
	// IS the priority order; this is the default contract.
	SelectOrder SelectionPolicy = "order"

	// SelectSpecific picks the match with the most non-wildcard fields,
	// falling back to dataset order on ties.
	SelectSpecific SelectionPolicy = "specific"
)

// MatchPolicy bundles the configurable matching semantics.
type MatchPolicy struct {
	Bounds    BoundsPolicy    `json:"bounds"`
	Selection SelectionPolicy `json:"selection"`
}

// DefaultMatchPolicy returns strict bounds and dataset-order selection.
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{
		Bounds:    BoundsStrict,
		Selection: SelectOrder,
	}
}

// Closed value sets observed in the scheme datasets. Used by the scenario
// engine for what-if sweeps; the matcher itself does not validate against
// them.
var (
	CardSchemes = []string{"NexPay", "GlobalCard", "SwiftCharge", "TransactPlus"}
	ACIs        = []string{"A", "B", "C", "D", "E", "F", "G"}
)

// Capture delay categorical tokens. Any other merchant value is a
// numeric day count encoded as a string.
const (
	CaptureImmediate = "immediate"
	CaptureManual    = "manual"
)
