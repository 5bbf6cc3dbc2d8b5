package features

import (
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/refdata"
)

// Snapshot windows in days.
const (
	window30  = 30
	window90  = 90
	window180 = 180
)

// MaxTimestamp returns the latest event timestamp, or the zero time.
func MaxTimestamp(events []domain.Event) time.Time {
	var latest time.Time
	for _, ev := range events {
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}
	return latest
}

type behaviorAcc struct {
	n90, intl90, hrc90, swiftOut90 int
	structuring30                  int
	n180, large180                 int
	countries180                   map[string]struct{}
}

// Behavior computes the per-entity aggregates as of asOf.
//
// Windows are day-granular: an event falls in the D-day window when its UTC
// calendar date is on or after date(asOf) minus D days and its timestamp is
// not after asOf. Only entities with at least one event get an entry.
func (b *Builder) Behavior(events []domain.Event, asOf time.Time) map[string]map[string]float64 {
	day := truncateDay(asOf)
	cutoff30 := day.AddDate(0, 0, -window30)
	cutoff90 := day.AddDate(0, 0, -window90)
	cutoff180 := day.AddDate(0, 0, -window180)

	accs := make(map[string]*behaviorAcc)
	for _, ev := range events {
		acc, ok := accs[ev.EntityID]
		if !ok {
			acc = &behaviorAcc{countries180: make(map[string]struct{})}
			accs[ev.EntityID] = acc
		}
		if ev.Timestamp.After(asOf) {
			continue
		}

		d := truncateDay(ev.Timestamp)
		if !d.Before(cutoff90) {
			acc.n90++
			if b.crossBorder(ev) {
				acc.intl90++
			}
			if _, high := b.countries.Risk(ev.CounterpartyCountry); high {
				acc.hrc90++
			}
			if ev.Channel == domain.ChannelSwift && ev.Direction == domain.DirectionOut {
				acc.swiftOut90++
			}
		}
		if !d.Before(cutoff30) && isStructuring(ev) {
			acc.structuring30++
		}
		if !d.Before(cutoff180) {
			acc.n180++
			if isLarge(ev) {
				acc.large180++
			}
			acc.countries180[refdata.NormalizeCountry(ev.CounterpartyCountry)] = struct{}{}
		}
	}

	out := make(map[string]map[string]float64, len(accs))
	for id, acc := range accs {
		out[id] = map[string]float64{
			Tx90d:                  float64(acc.n90),
			IntlRate90d:            rate(acc.intl90, acc.n90),
			HRCHits90d:             float64(acc.hrc90),
			SwiftOut90d:            float64(acc.swiftOut90),
			CashStructuringHits30d: float64(acc.structuring30),
			LargeValueRate180d:     rate(acc.large180, acc.n180),
			GeoDiversity180d:       float64(len(acc.countries180)),
		}
	}
	return out
}

// crossBorder compares the counterparty country with the entity's residency,
// ignoring the event's own is_international flag.
func (b *Builder) crossBorder(ev domain.Event) bool {
	return refdata.NormalizeCountry(ev.CounterpartyCountry) != refdata.NormalizeCountry(b.residency[ev.EntityID])
}

// EntityFeatures returns the static KYC features and attributes of one entity.
// tenure_days is omitted when the onboarding date is unknown or asOf is zero.
func (b *Builder) EntityFeatures(e domain.Entity, asOf time.Time) (map[string]float64, map[string]string) {
	risk, high := b.countries.Risk(e.ResidencyCountry)
	values := map[string]float64{
		ResidencyCountryRiskScore: risk,
		ResidencyCountryIsHigh:    boolToFloat(high),
		PEPFlag:                   boolToFloat(e.PEPFlag != nil && *e.PEPFlag),
	}
	if e.OnboardDate != nil && !asOf.IsZero() {
		values[TenureDays] = math.Floor(asOf.Sub(*e.OnboardDate).Hours() / 24)
	}

	attrs := map[string]string{
		AttrClientName:       e.Name,
		AttrResidencyCountry: e.ResidencyCountry,
		AttrOccupation:       e.Occupation,
		AttrOccupationGroup:  OccupationGroup(e.Occupation),
	}
	return values, attrs
}

// EntityVectors builds one vector per entity, in input order, combining the
// static features with the behavioral aggregates. Entities without events get
// zero aggregates.
func (b *Builder) EntityVectors(entities []domain.Entity, events []domain.Event, asOf time.Time) []Vector {
	behavior := b.Behavior(events, asOf)

	out := make([]Vector, len(entities))
	for i, e := range entities {
		values, attrs := b.EntityFeatures(e, asOf)
		beh := behavior[e.ID]
		for _, name := range BehaviorFeatures {
			values[name] = beh[name]
		}
		out[i] = Vector{
			EntityID:   e.ID,
			Timestamp:  asOf,
			Values:     values,
			Attributes: attrs,
		}
	}
	return out
}

var (
	cashIntensiveKeywords    = []string{"real estate", "importer", "export", "trader", "retail"}
	financialMarketsKeywords = []string{"fund", "investor", "trader"}
)

// OccupationGroup buckets a free-text occupation by keyword. Cash-intensive
// keywords are checked first.
func OccupationGroup(occupation string) string {
	oc := strings.ToLower(occupation)
	if oc == "" {
		return GroupOther
	}
	for _, k := range cashIntensiveKeywords {
		if strings.Contains(oc, k) {
			return GroupCashIntensive
		}
	}
	for _, k := range financialMarketsKeywords {
		if strings.Contains(oc, k) {
			return GroupFinancialMarkets
		}
	}
	return GroupOther
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
