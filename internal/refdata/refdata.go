// Package refdata holds the read-only reference tables a run is scored against.
package refdata

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// DefaultCountryRisk is the score assumed for a country missing from the table.
const DefaultCountryRisk = 5.0

// CountryTable maps a country code to its risk row.
type CountryTable struct {
	byCode map[string]domain.CountryRisk
}

// NewCountryTable indexes rows by normalized country code. Later rows win.
func NewCountryTable(rows []domain.CountryRisk) *CountryTable {
	t := &CountryTable{byCode: make(map[string]domain.CountryRisk, len(rows))}
	for _, r := range rows {
		code := NormalizeCountry(r.Country)
		if code == "" {
			continue
		}
		r.Country = code
		t.byCode[code] = r
	}
	return t
}

// NormalizeCountry trims and upper-cases a country code.
func NormalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Lookup returns the row for a country and whether it is known.
func (t *CountryTable) Lookup(code string) (domain.CountryRisk, bool) {
	if t == nil {
		return domain.CountryRisk{}, false
	}
	r, ok := t.byCode[NormalizeCountry(code)]
	return r, ok
}

// Risk returns the risk score and high-risk flag, falling back to
// DefaultCountryRisk and false for unknown countries.
func (t *CountryTable) Risk(code string) (float64, bool) {
	r, ok := t.Lookup(code)
	if !ok {
		return DefaultCountryRisk, false
	}
	return r.RiskScore, r.IsHighRisk
}

// Known reports whether the country is in the table.
func (t *CountryTable) Known(code string) bool {
	_, ok := t.Lookup(code)
	return ok
}

// Len returns the number of countries.
func (t *CountryTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byCode)
}

// Watchlist is an immutable list of screened names.
type Watchlist struct {
	entries     []domain.WatchlistEntry
	fingerprint string
}

// NewWatchlist copies entries and computes a content fingerprint.
// Entry types are upper-cased.
func NewWatchlist(entries []domain.WatchlistEntry) *Watchlist {
	cp := make([]domain.WatchlistEntry, len(entries))
	for i, e := range entries {
		e.Type = domain.WatchlistType(strings.ToUpper(strings.TrimSpace(string(e.Type))))
		cp[i] = e
	}
	return &Watchlist{entries: cp, fingerprint: fingerprint(cp)}
}

// Entries returns the entries in input order. Callers must not modify them.
func (w *Watchlist) Entries() []domain.WatchlistEntry {
	if w == nil {
		return nil
	}
	return w.entries
}

// Len returns the number of entries.
func (w *Watchlist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.entries)
}

// Fingerprint identifies the watchlist content. Equal lists share a fingerprint
// regardless of row order.
func (w *Watchlist) Fingerprint() string {
	if w == nil {
		return fingerprint(nil)
	}
	return w.fingerprint
}

func fingerprint(entries []domain.WatchlistEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = strings.Join([]string{
			strings.ToLower(strings.TrimSpace(e.Name)),
			strings.ToLower(strings.TrimSpace(e.Alias1)),
			strings.ToLower(strings.TrimSpace(e.Alias2)),
			string(e.Type),
		}, "\x1f")
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
