// Package ingest reads the flat input tables and writes scored output.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// Required columns per table.
var (
	EventColumns       = []string{"tx_id", "client_id", "ts", "amount_usd", "channel", "tx_type", "direction", "counterparty_country"}
	EntityColumns      = []string{"client_id", "client_name", "residency_country"}
	CountryRiskColumns = []string{"country", "risk_score", "is_high_risk"}
	WatchlistColumns   = []string{"name", "type"}
)

// table is a CSV file with its header mapped to column positions.
type table struct {
	name     string
	colIndex map[string]int
	reader   *csv.Reader
	row      int
}

func openTable(name string, r io.Reader, required []string) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// Read header
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: %s: empty file", domain.ErrSchema, name)
		}
		return nil, fmt.Errorf("failed to read %s header: %w", name, err)
	}

	// Map column indices
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		if _, dup := colIndex[col]; !dup {
			colIndex[col] = i
		}
	}

	var missing []string
	for _, col := range required {
		if _, ok := colIndex[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing columns %s", domain.ErrSchema, name, strings.Join(missing, ", "))
	}

	return &table{name: name, colIndex: colIndex, reader: reader, row: 1}, nil
}

// next returns the next record or io.EOF.
func (t *table) next() ([]string, error) {
	record, err := t.reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%s row %d: %w", t.name, t.row+1, err)
	}
	t.row++
	return record, nil
}

// get returns a trimmed cell, or "" when the column is absent or short.
func (t *table) get(record []string, col string) string {
	i, ok := t.colIndex[col]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (t *table) rowErr(col string, err error) error {
	return fmt.Errorf("%s row %d column %s: %w", t.name, t.row, col, err)
}

// ReadEvents parses the events table. Unparseable timestamps or amounts
// abort with the offending row number.
func ReadEvents(r io.Reader) ([]domain.Event, error) {
	t, err := openTable("events", r, EventColumns)
	if err != nil {
		return nil, err
	}

	var events []domain.Event
	for {
		record, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		ts, err := ParseTimestamp(t.get(record, "ts"))
		if err != nil {
			return nil, t.rowErr("ts", err)
		}
		amount, err := decimal.NewFromString(t.get(record, "amount_usd"))
		if err != nil {
			return nil, t.rowErr("amount_usd", err)
		}

		ev := domain.Event{
			ID:                  t.get(record, "tx_id"),
			EntityID:            t.get(record, "client_id"),
			Timestamp:           ts,
			Amount:              amount,
			Currency:            t.get(record, "currency"),
			Channel:             strings.ToLower(t.get(record, "channel")),
			Type:                strings.ToLower(t.get(record, "tx_type")),
			Direction:           strings.ToLower(t.get(record, "direction")),
			CounterpartyCountry: t.get(record, "counterparty_country"),
			IsInternational:     parseOptionalBool(t.get(record, "is_international")),
		}
		if v := t.get(record, "label_suspicious_injected"); v != "" {
			if label, ok := parseOptionalInt(v); ok {
				ev.Label = &label
			}
		}

		events = append(events, ev)
	}

	return events, nil
}

// ReadEntities parses the client table. Optional cells that fail to parse
// are left nil so data-quality checks can flag them.
func ReadEntities(r io.Reader) ([]domain.Entity, error) {
	t, err := openTable("entities", r, EntityColumns)
	if err != nil {
		return nil, err
	}

	var entities []domain.Entity
	for {
		record, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		e := domain.Entity{
			ID:               t.get(record, "client_id"),
			Name:             t.get(record, "client_name"),
			ResidencyCountry: t.get(record, "residency_country"),
			Occupation:       t.get(record, "occupation"),
			OnboardDateRaw:   t.get(record, "onboard_date"),
			PEPFlag:          parseOptionalBool(t.get(record, "pep_flag")),
		}
		if e.OnboardDateRaw != "" {
			if d, err := ParseTimestamp(e.OnboardDateRaw); err == nil {
				e.OnboardDate = &d
			}
		}
		if by, ok := parseOptionalInt(t.get(record, "birth_year")); ok {
			e.BirthYear = &by
		}

		entities = append(entities, e)
	}

	return entities, nil
}

// ReadCountryRisk parses the country reference table.
func ReadCountryRisk(r io.Reader) ([]domain.CountryRisk, error) {
	t, err := openTable("country_risk", r, CountryRiskColumns)
	if err != nil {
		return nil, err
	}

	var rows []domain.CountryRisk
	for {
		record, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		score, err := strconv.ParseFloat(t.get(record, "risk_score"), 64)
		if err != nil {
			return nil, t.rowErr("risk_score", err)
		}
		high := parseOptionalBool(t.get(record, "is_high_risk"))

		rows = append(rows, domain.CountryRisk{
			Country:    t.get(record, "country"),
			RiskScore:  score,
			IsHighRisk: high != nil && *high,
		})
	}

	return rows, nil
}

// ReadWatchlist parses the watchlist table.
func ReadWatchlist(r io.Reader) ([]domain.WatchlistEntry, error) {
	t, err := openTable("watchlist", r, WatchlistColumns)
	if err != nil {
		return nil, err
	}

	var entries []domain.WatchlistEntry
	for {
		record, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		entries = append(entries, domain.WatchlistEntry{
			Name:   t.get(record, "name"),
			Alias1: t.get(record, "alias_1"),
			Alias2: t.get(record, "alias_2"),
			Type:   domain.WatchlistType(strings.ToUpper(t.get(record, "type"))),
		})
	}

	return entries, nil
}

// LoadEvents opens path and reads events from it.
func LoadEvents(path string) ([]domain.Event, error) {
	return loadFile(path, ReadEvents)
}

// LoadEntities opens path and reads entities from it.
func LoadEntities(path string) ([]domain.Entity, error) {
	return loadFile(path, ReadEntities)
}

// LoadCountryRisk opens path and reads country risk rows from it.
func LoadCountryRisk(path string) ([]domain.CountryRisk, error) {
	return loadFile(path, ReadCountryRisk)
}

// LoadWatchlist opens path and reads watchlist entries from it.
// An empty path means no watchlist.
func LoadWatchlist(path string) ([]domain.WatchlistEntry, error) {
	if path == "" {
		return nil, nil
	}
	return loadFile(path, ReadWatchlist)
}

func loadFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// ParseTimestamp accepts RFC 3339, "YYYY-MM-DD hh:mm:ss[.fff]" and plain dates.
// Values without a zone are taken as UTC. The result is always in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// parseOptionalBool reads 1/0, true/false, yes/no. Anything else is nil.
func parseOptionalBool(s string) *bool {
	var v bool
	switch strings.ToLower(s) {
	case "1", "1.0", "true", "t", "yes", "y":
		v = true
	case "0", "0.0", "false", "f", "no", "n":
		v = false
	default:
		return nil
	}
	return &v
}

// parseOptionalInt accepts integers and integral floats such as "1984.0".
func parseOptionalInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
