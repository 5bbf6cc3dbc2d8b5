package rules

// DefaultAMLCatalog returns the per-event monitoring rules.
func DefaultAMLCatalog() Catalog {
	return Catalog{
		Name:    "aml",
		Version: "1.0",
		Rules: []Rule{
			{
				Name:       "large_value",
				Label:      "Large-value transaction",
				Expression: `feature.amount >= 100000.0`,
				Weight:     2.0,
			},
			{
				Name:       "swift_out_high_risk",
				Label:      "Outbound SWIFT to high-risk country",
				Expression: `feature.is_swift == 1.0 && attr.direction == "out" && feature.counterparty_is_high_risk == 1.0`,
				Weight:     3.0,
			},
			{
				Name:       "cash_structuring",
				Label:      "Cash just below reporting threshold",
				Expression: `feature.is_cash == 1.0 && feature.amount >= 8000.0 && feature.amount <= 9999.0`,
				Weight:     1.5,
			},
			{
				Name:       "amount_spike",
				Label:      "Amount spike vs client history",
				Expression: `feature.amt_z >= 3.0`,
				Weight:     2.0,
			},
			{
				Name:       "burst_activity_7d",
				Label:      "Burst of activity (7d)",
				Expression: `feature.roll_cnt_7d >= 10.0`,
				Weight:     1.5,
			},
			{
				Name:       "hrc_exposure_30d",
				Label:      "Repeated high-risk country exposure (30d)",
				Expression: `feature.roll_hrc_cnt_30d >= 3.0`,
				Weight:     1.8,
			},
		},
	}
}

// DefaultKYCCatalog returns the client scorecard conditions. Weights are zero
// here and come from the policy via WithWeights.
func DefaultKYCCatalog() Catalog {
	return Catalog{
		Name:    "kyc",
		Version: "1.0",
		Thresholds: map[string]float64{
			"intl_rate_90d_high":         0.5,
			"large_value_rate_180d_high": 0.2,
			"geo_diversity_180d_high":    8,
		},
		Rules: []Rule{
			{Name: "pep_flag", Label: "PEP flag", Expression: `feature.pep_flag == 1.0`},
			{Name: "pep_match", Label: "Watchlist PEP match", Expression: `feature.pep_match == 1.0`},
			{Name: "sanction_match", Label: "Watchlist sanction match", Expression: `feature.sanction_match == 1.0`},
			{Name: "residency_country_high", Label: "High-risk residency", Expression: `feature.residency_country_is_high == 1.0`},
			{Name: "occupation_cash_intensive", Label: "Cash-intensive occupation", Expression: `attr.occupation_group == "Cash_Intensive"`},
			{Name: "intl_rate_90d_high", Label: "High cross-border activity (90d)", Expression: `feature.intl_rate_90d > threshold.intl_rate_90d_high`},
			{Name: "hrc_hits_90d_ge_2", Label: "Multiple HRC counterparties (90d)", Expression: `feature.hrc_hits_90d >= 2.0`},
			{Name: "swift_out_90d_ge_2", Label: "Multiple SWIFT out wires (90d)", Expression: `feature.swift_out_90d >= 2.0`},
			{Name: "cash_structuring_hits_30d_ge_2", Label: "Cash structuring pattern (30d)", Expression: `feature.cash_structuring_hits_30d >= 2.0`},
			{Name: "large_value_rate_180d_high", Label: "High share of large-value tx (180d)", Expression: `feature.large_value_rate_180d >= threshold.large_value_rate_180d_high`},
			{Name: "geo_diversity_180d_high", Label: "High geographic diversity (180d)", Expression: `feature.geo_diversity_180d >= threshold.geo_diversity_180d_high`},
		},
	}
}
