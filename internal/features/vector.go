package features

import "time"

// Per-event static feature names.
const (
	Amount                  = "amount"
	AmountZ                 = "amt_z"
	CounterpartyRisk        = "counterparty_risk"
	CounterpartyIsHighRisk  = "counterparty_is_high_risk"
	IsLargeTxAbs            = "is_large_tx_abs"
	IsCash                  = "is_cash"
	IsSwift                 = "is_swift"
	IsTransfer              = "is_transfer"
	IsInternational         = "is_international"
	IsOut                   = "is_out"
	AttrChannel             = "channel"
	AttrTxType              = "tx_type"
	AttrDirection           = "direction"
	AttrCounterpartyCountry = "counterparty_country"
)

// Per-entity snapshot feature names.
const (
	Tx90d                  = "tx_90d"
	IntlRate90d            = "intl_rate_90d"
	HRCHits90d             = "hrc_hits_90d"
	SwiftOut90d            = "swift_out_90d"
	CashStructuringHits30d = "cash_structuring_hits_30d"
	LargeValueRate180d     = "large_value_rate_180d"
	GeoDiversity180d       = "geo_diversity_180d"

	TenureDays                = "tenure_days"
	ResidencyCountryRiskScore = "residency_country_risk_score"
	ResidencyCountryIsHigh    = "residency_country_is_high"
	PEPFlag                   = "pep_flag"
	AttrOccupationGroup       = "occupation_group"

	AttrClientName       = "client_name"
	AttrResidencyCountry = "residency_country"
	AttrOccupation       = "occupation"
)

// Watchlist screening features set by the KYC pipeline.
const (
	PEPMatch       = "pep_match"
	SanctionMatch  = "sanction_match"
	NameSimilarity = "name_similarity"
)

// BehaviorFeatures lists the snapshot aggregates in output order.
var BehaviorFeatures = []string{
	Tx90d, IntlRate90d, HRCHits90d, SwiftOut90d,
	CashStructuringHits30d, LargeValueRate180d, GeoDiversity180d,
}

// AnomalyColumns returns the isolation-forest inputs for per-event rows.
// Window-dependent columns are included only for configured windows.
func AnomalyColumns(windows []Window) []string {
	has := make(map[string]bool, len(windows))
	for _, w := range windows {
		has[w.Label] = true
	}

	cols := []string{Amount, AmountZ}
	for _, w := range windows {
		cols = append(cols, RollCount(w.Label))
	}
	for _, label := range []string{"7d", "30d"} {
		if has[label] {
			cols = append(cols, RollAmountSum(label))
		}
	}
	for _, label := range []string{"7d", "30d"} {
		if has[label] {
			cols = append(cols, RollHRCCount(label))
		}
	}
	if has["7d"] {
		cols = append(cols, RollCashCount("7d"), RollSwiftCount("7d"))
	}
	return append(cols, CounterpartyRisk, IsInternational, IsCash, IsSwift, IsTransfer)
}

// Occupation groups.
const (
	GroupCashIntensive    = "Cash_Intensive"
	GroupFinancialMarkets = "Financial_Markets"
	GroupOther            = "Other"
)

// Thresholds shared by feature flags and the default rule catalogs.
const (
	LargeValueAmount     = 100000
	StructuringMinAmount = 8000
	StructuringMaxAmount = 9999
)

// Vector is the feature row for one entity at one point in time.
type Vector struct {
	EntityID   string
	EventID    string
	Timestamp  time.Time
	Values     map[string]float64
	Attributes map[string]string
}

// Value returns a named feature or 0 when absent.
func (v Vector) Value(name string) float64 {
	return v.Values[name]
}
