package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestReadEvents(t *testing.T) {
	input := `tx_id,client_id,ts,amount_usd,channel,tx_type,direction,counterparty_country,is_international,label_suspicious_injected
t1,c1,2024-03-01 10:00:00,8500.00,Cash,deposit,in,US,0,1
t2,c1,2024-03-02T11:30:00Z,120000,swift,transfer,OUT,IR,,
`
	events, err := ReadEvents(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	e := events[0]
	if e.ID != "t1" || e.EntityID != "c1" {
		t.Errorf("unexpected ids: %+v", e)
	}
	if e.Channel != domain.ChannelCash {
		t.Errorf("expected channel lower-cased, got %q", e.Channel)
	}
	if e.Amount.String() != "8500" {
		t.Errorf("unexpected amount %s", e.Amount)
	}
	if e.IsInternational == nil || *e.IsInternational {
		t.Errorf("expected is_international=false, got %v", e.IsInternational)
	}
	if e.Label == nil || *e.Label != 1 {
		t.Errorf("expected label 1, got %v", e.Label)
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Errorf("expected %v, got %v", want, e.Timestamp)
	}

	if events[1].Direction != domain.DirectionOut {
		t.Errorf("expected direction out, got %q", events[1].Direction)
	}
	if events[1].IsInternational != nil {
		t.Error("expected missing is_international to be nil")
	}
	if events[1].Label != nil {
		t.Error("expected missing label to be nil")
	}
}

func TestReadEvents_MissingColumns(t *testing.T) {
	input := "tx_id,client_id,ts,amount_usd\nt1,c1,2024-01-01,10\n"
	_, err := ReadEvents(strings.NewReader(input))
	if !errors.Is(err, domain.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	for _, col := range []string{"channel", "tx_type", "direction", "counterparty_country"} {
		if !strings.Contains(err.Error(), col) {
			t.Errorf("expected error to name %q: %v", col, err)
		}
	}
}

func TestReadEvents_BadCells(t *testing.T) {
	header := "tx_id,client_id,ts,amount_usd,channel,tx_type,direction,counterparty_country\n"

	tests := []struct {
		name string
		row  string
		col  string
	}{
		{"bad timestamp", "t1,c1,yesterday,10,cash,deposit,in,US", "ts"},
		{"bad amount", "t1,c1,2024-01-01,ten,cash,deposit,in,US", "amount_usd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadEvents(strings.NewReader(header + tt.row + "\n"))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "row 2") || !strings.Contains(err.Error(), tt.col) {
				t.Errorf("expected row and column in error, got %v", err)
			}
		})
	}
}

func TestReadEntities(t *testing.T) {
	input := `client_id,client_name,residency_country,pep_flag,birth_year,onboard_date,occupation
c1,Robert Mugabe,ZW,1,1924.0,2019-05-01,Politician
c2,Jane Doe,US,,abc,not-a-date,Retail owner
`
	entities, err := ReadEntities(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadEntities failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}

	c1 := entities[0]
	if c1.PEPFlag == nil || !*c1.PEPFlag {
		t.Error("expected pep flag true")
	}
	if c1.BirthYear == nil || *c1.BirthYear != 1924 {
		t.Errorf("expected birth year 1924, got %v", c1.BirthYear)
	}
	if c1.OnboardDate == nil {
		t.Error("expected parsed onboard date")
	}

	c2 := entities[1]
	if c2.PEPFlag != nil || c2.BirthYear != nil || c2.OnboardDate != nil {
		t.Errorf("expected unparseable optionals to be nil: %+v", c2)
	}
	if c2.OnboardDateRaw != "not-a-date" {
		t.Errorf("expected raw onboard date kept, got %q", c2.OnboardDateRaw)
	}
}

func TestReadWatchlistAndCountries(t *testing.T) {
	wl, err := ReadWatchlist(strings.NewReader("name,alias_1,alias_2,type\nRobert Mugabe,R. Mugabe,,pep\n"))
	if err != nil {
		t.Fatalf("ReadWatchlist failed: %v", err)
	}
	if len(wl) != 1 || wl[0].Type != domain.WatchlistPEP || wl[0].Alias1 != "R. Mugabe" {
		t.Errorf("unexpected watchlist: %+v", wl)
	}

	cr, err := ReadCountryRisk(strings.NewReader("country,risk_score,is_high_risk\nIR,9.5,1\nUS,2,0\n"))
	if err != nil {
		t.Fatalf("ReadCountryRisk failed: %v", err)
	}
	if len(cr) != 2 || !cr[0].IsHighRisk || cr[1].IsHighRisk || cr[0].RiskScore != 9.5 {
		t.Errorf("unexpected country risk: %+v", cr)
	}

	if _, err := ReadWatchlist(strings.NewReader("alias_1\nx\n")); !errors.Is(err, domain.ErrSchema) {
		t.Errorf("expected ErrSchema for watchlist without name, got %v", err)
	}
}

func TestWriteScores_KYC(t *testing.T) {
	records := []domain.ScoreRecord{
		{
			EntityID:     "c1",
			Score:        65,
			Tier:         domain.TierHigh,
			Factors:      []string{"PEP flag", "Watchlist sanction match"},
			Match:        &domain.MatchResult{SanctionMatch: true, Similarity: 1},
			QualityFlags: []string{"birth_year_invalid", "pep_flag_missing"},
			Features:     map[string]float64{"tx_90d": 4, "pep_match": 0, "sanction_match": 1, "name_similarity": 1},
			Attributes: map[string]string{
				"occupation_group":  "Other",
				"client_name":       "Robert Mugabe",
				"residency_country": "IR",
				"occupation":        "Real Estate Agent",
			},
		},
	}

	var buf bytes.Buffer
	if err := WriteScores(&buf, domain.RunKindKYC, records); err != nil {
		t.Fatalf("WriteScores failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to read back CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}

	wantHeader := []string{
		"client_id", "client_name", "residency_country", "occupation",
		"risk_score", "risk_tier", "top_factors", "pep_match", "sanction_match", "name_similarity", "qc_flags",
		"occupation_group", "tx_90d",
	}
	if !slices.Equal(rows[0], wantHeader) {
		t.Errorf("header = %v, want %v", rows[0], wantHeader)
	}

	got := make(map[string]string)
	for i, col := range rows[0] {
		got[col] = rows[1][i]
	}
	checks := map[string]string{
		"client_id":        "c1",
		"client_name":      "Robert Mugabe",
		"risk_score":       "65",
		"risk_tier":        "High",
		"top_factors":      "PEP flag, Watchlist sanction match",
		"pep_match":        "0",
		"sanction_match":   "1",
		"name_similarity":  "1",
		"qc_flags":         "birth_year_invalid,pep_flag_missing",
		"tx_90d":           "4",
		"occupation_group": "Other",
	}
	for col, want := range checks {
		if got[col] != want {
			t.Errorf("column %s = %q, want %q", col, got[col], want)
		}
	}
}

func TestWriteOutputs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	anomaly := 0.42
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []domain.ScoreRecord{
		{RowIndex: 0, EventID: "t1", EntityID: "c1", Timestamp: &ts, Score: 1.2, RuleScore: 2, AnomalyScore: &anomaly, Tier: domain.TierMedium, Factors: []string{"large_value"}},
	}
	m := &domain.Manifest{RunID: "r1", Kind: domain.RunKindAML, Rows: 1, TierCounts: map[domain.Tier]int{domain.TierMedium: 1}}

	path, err := WriteOutputs(dir, domain.RunKindAML, records, m)
	if err != nil {
		t.Fatalf("WriteOutputs failed: %v", err)
	}
	if filepath.Base(path) != AMLScoresFile {
		t.Errorf("unexpected scores path %s", path)
	}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if !strings.Contains(string(data), `"runId": "r1"`) {
		t.Errorf("unexpected manifest: %s", data)
	}

	scores, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("scores not written: %v", err)
	}
	if !strings.Contains(string(scores), "t1,c1,2024-01-01T00:00:00Z,2,0.42,1.2,Medium,large_value") {
		t.Errorf("unexpected scores: %s", scores)
	}
}
