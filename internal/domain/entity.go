package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entity is a monitored client. It is read-only input for a run.
type Entity struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ResidencyCountry string `json:"residencyCountry"`
	Occupation       string `json:"occupation"`

	// OnboardDateRaw keeps the input text so quality checks can flag it.
	OnboardDateRaw string     `json:"onboardDateRaw,omitempty"`
	OnboardDate    *time.Time `json:"onboardDate,omitempty"`

	BirthYear *int  `json:"birthYear,omitempty"`
	PEPFlag   *bool `json:"pepFlag,omitempty"`
}

// Event is a single transaction in the append-only input log.
type Event struct {
	ID                  string          `json:"id"`
	EntityID            string          `json:"entityId"`
	Timestamp           time.Time       `json:"timestamp"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency,omitempty"`
	Channel             string          `json:"channel"`
	Type                string          `json:"type"`
	Direction           string          `json:"direction"`
	CounterpartyCountry string          `json:"counterpartyCountry"`

	// IsInternational is nil when the input carried no flag.
	IsInternational *bool `json:"isInternational,omitempty"`

	// Label is the injected ground truth, used only by rule backtests.
	Label *int `json:"label,omitempty"`
}

// Channel and direction values the feature builder recognises.
const (
	ChannelCash  = "cash"
	ChannelSwift = "swift"
	ChannelWire  = "wire"

	TypeTransfer = "transfer"

	DirectionIn  = "in"
	DirectionOut = "out"
)

// CountryRisk is one row of the country reference table.
type CountryRisk struct {
	Country    string  `json:"country"`
	RiskScore  float64 `json:"riskScore"`
	IsHighRisk bool    `json:"isHighRisk"`
}

// WatchlistType classifies a watchlist entry.
type WatchlistType string

const (
	WatchlistPEP      WatchlistType = "PEP"
	WatchlistSanction WatchlistType = "SANCTION"
)

// WatchlistEntry is a screened name with up to two aliases.
type WatchlistEntry struct {
	Name   string        `json:"name"`
	Alias1 string        `json:"alias1,omitempty"`
	Alias2 string        `json:"alias2,omitempty"`
	Type   WatchlistType `json:"type"`
}

// Names returns the non-empty name fields in column order.
func (w WatchlistEntry) Names() []string {
	names := make([]string, 0, 3)
	for _, n := range []string{w.Name, w.Alias1, w.Alias2} {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}
