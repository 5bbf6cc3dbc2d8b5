// Package quality flags non-fatal data-quality issues on client records.
package quality

import (
	"slices"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/refdata"
)

// Flag names.
const (
	BirthYearInvalid        = "birth_year_invalid"
	OnboardDateInvalid      = "onboard_date_invalid"
	ResidencyCountryUnknown = "residency_country_unknown"
	PEPFlagMissing          = "pep_flag_missing"
)

// Plausible birth years, inclusive.
const (
	MinBirthYear = 1900
	MaxBirthYear = 2025
)

// Check returns the sorted, de-duplicated flags of one entity.
// An empty onboarding date is not flagged; an unparseable one is.
func Check(e domain.Entity, countries *refdata.CountryTable) []string {
	var flags []string

	if e.BirthYear == nil || *e.BirthYear < MinBirthYear || *e.BirthYear > MaxBirthYear {
		flags = append(flags, BirthYearInvalid)
	}
	if e.OnboardDateRaw != "" && e.OnboardDate == nil {
		flags = append(flags, OnboardDateInvalid)
	}
	if !countries.Known(e.ResidencyCountry) {
		flags = append(flags, ResidencyCountryUnknown)
	}
	if e.PEPFlag == nil {
		flags = append(flags, PEPFlagMissing)
	}

	slices.Sort(flags)
	return slices.Compact(flags)
}

// Join renders flags as a comma-separated string.
func Join(flags []string) string {
	return strings.Join(flags, ",")
}

// Summary counts entities with at least one flag.
func Summary(flags [][]string) domain.DQSummary {
	var s domain.DQSummary
	for _, f := range flags {
		if len(f) > 0 {
			s.WithIssues++
		}
	}
	return s
}
