package features

import (
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/refdata"
	"github.com/shopspring/decimal"
)

// Builder computes feature vectors against fixed reference data.
// It holds no per-run state and may be reused.
type Builder struct {
	countries *refdata.CountryTable
	residency map[string]string
	windows   []Window
}

// NewBuilder creates a feature builder. A nil windows slice uses DefaultWindows.
func NewBuilder(countries *refdata.CountryTable, entities []domain.Entity, windows []Window) *Builder {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	residency := make(map[string]string, len(entities))
	for _, e := range entities {
		residency[e.ID] = e.ResidencyCountry
	}
	return &Builder{
		countries: countries,
		residency: residency,
		windows:   windows,
	}
}

// Windows returns the configured per-event windows.
func (b *Builder) Windows() []Window {
	return b.windows
}

// EventFeatures emits one vector per event, in input order.
//
// For each window W the rolling aggregates of an event at time T cover the
// entity's events in (T-W, T]. Events sharing a timestamp are all inside
// each other's windows. amt_z is the one exception to the look-back rule: it
// standardises the amount against the entity's full history.
func (b *Builder) EventFeatures(events []domain.Event) []Vector {
	out := make([]Vector, len(events))
	for i := range events {
		out[i] = b.eventStatic(events[i])
	}

	for _, idx := range groupByEntity(events) {
		b.rollEntity(events, idx, out)
	}

	return out
}

// groupByEntity returns per-entity event positions, each stably sorted by
// (timestamp, input position). Groups appear in first-seen order.
func groupByEntity(events []domain.Event) [][]int {
	pos := make(map[string]int)
	var groups [][]int
	for i, ev := range events {
		g, ok := pos[ev.EntityID]
		if !ok {
			g = len(groups)
			pos[ev.EntityID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	for _, idx := range groups {
		sort.SliceStable(idx, func(a, b int) bool {
			return events[idx[a]].Timestamp.Before(events[idx[b]].Timestamp)
		})
	}
	return groups
}

func (b *Builder) rollEntity(events []domain.Event, idx []int, out []Vector) {
	n := len(idx)

	// Prefix sums over the sorted sequence
	amt := make([]decimal.Decimal, n+1)
	hrc := make([]int, n+1)
	cash := make([]int, n+1)
	swift := make([]int, n+1)
	amt[0] = decimal.Zero
	for k, i := range idx {
		v := out[i].Values
		amt[k+1] = amt[k].Add(events[i].Amount)
		hrc[k+1] = hrc[k] + int(v[CounterpartyIsHighRisk])
		cash[k+1] = cash[k] + int(v[IsCash])
		swift[k+1] = swift[k] + int(v[IsSwift])
	}

	ts := func(k int) time.Time { return events[idx[k]].Timestamp }

	for _, w := range b.windows {
		lo, hi := 0, 0
		for k := 0; k < n; k++ {
			t := ts(k)
			if hi < k {
				hi = k
			}
			for hi+1 < n && !ts(hi+1).After(t) {
				hi++
			}
			start := t.Add(-w.Duration)
			for lo < n && !ts(lo).After(start) {
				lo++
			}

			cnt := hi - lo + 1
			sum := amt[hi+1].Sub(amt[lo])
			mean := sum.Div(decimal.NewFromInt(int64(cnt)))

			v := out[idx[k]].Values
			v[RollCount(w.Label)] = float64(cnt)
			v[RollAmountSum(w.Label)] = sum.InexactFloat64()
			v[RollAmountMean(w.Label)] = mean.InexactFloat64()
			v[RollHRCCount(w.Label)] = float64(hrc[hi+1] - hrc[lo])
			v[RollCashCount(w.Label)] = float64(cash[hi+1] - cash[lo])
			v[RollSwiftCount(w.Label)] = float64(swift[hi+1] - swift[lo])
		}
	}

	// Amount z-score over the entity's full history, population std.
	mean := amt[n].Div(decimal.NewFromInt(int64(n))).InexactFloat64()
	var ss float64
	for _, i := range idx {
		d := events[i].Amount.InexactFloat64() - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(n))
	if std == 0 {
		std = 1
	}
	for _, i := range idx {
		z := (events[i].Amount.InexactFloat64() - mean) / std
		out[i].Values[AmountZ] = clip(z, -5, 10)
	}
}

// eventStatic computes the per-event joins and flags.
func (b *Builder) eventStatic(ev domain.Event) Vector {
	risk, high := b.countries.Risk(ev.CounterpartyCountry)

	values := map[string]float64{
		Amount:                 ev.Amount.InexactFloat64(),
		CounterpartyRisk:       risk,
		CounterpartyIsHighRisk: boolToFloat(high),
		IsLargeTxAbs:           boolToFloat(isLarge(ev)),
		IsCash:                 boolToFloat(ev.Channel == domain.ChannelCash),
		IsSwift:                boolToFloat(ev.Channel == domain.ChannelSwift),
		IsTransfer:             boolToFloat(ev.Type == domain.TypeTransfer),
		IsInternational:        boolToFloat(b.isInternational(ev)),
		IsOut:                  boolToFloat(ev.Direction == domain.DirectionOut),
	}

	return Vector{
		EntityID:  ev.EntityID,
		EventID:   ev.ID,
		Timestamp: ev.Timestamp,
		Values:    values,
		Attributes: map[string]string{
			AttrChannel:             ev.Channel,
			AttrTxType:              ev.Type,
			AttrDirection:           ev.Direction,
			AttrCounterpartyCountry: ev.CounterpartyCountry,
		},
	}
}

// isInternational prefers the input flag, then compares the counterparty
// country with the entity's residency. Unknown entities count as domestic.
func (b *Builder) isInternational(ev domain.Event) bool {
	if ev.IsInternational != nil {
		return *ev.IsInternational
	}
	res, ok := b.residency[ev.EntityID]
	if !ok || res == "" {
		return false
	}
	return refdata.NormalizeCountry(ev.CounterpartyCountry) != refdata.NormalizeCountry(res)
}

var (
	largeValue     = decimal.NewFromInt(LargeValueAmount)
	structuringMin = decimal.NewFromInt(StructuringMinAmount)
	structuringMax = decimal.NewFromInt(StructuringMaxAmount)
)

func isLarge(ev domain.Event) bool {
	return ev.Amount.GreaterThanOrEqual(largeValue)
}

func isStructuring(ev domain.Event) bool {
	return ev.Channel == domain.ChannelCash &&
		ev.Amount.GreaterThanOrEqual(structuringMin) &&
		ev.Amount.LessThanOrEqual(structuringMax)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
