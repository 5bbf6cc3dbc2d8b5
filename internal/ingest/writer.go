package ingest

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Output file names inside the configured output directory.
const (
	AMLScoresFile = "aml_scores.csv"
	KYCScoresFile = "client_risk_scores.csv"
	ManifestFile  = "run_manifest.json"
)

// Fixed leading columns of the scored tables.
var (
	amlColumns = []string{"row_index", "tx_id", "client_id", "ts", "rule_score", "iforest_score", "hybrid_score", "tier", "rule_hits"}
	kycColumns = []string{"client_id", "client_name", "residency_country", "occupation", "risk_score", "risk_tier", "top_factors", "pep_match", "sanction_match", "name_similarity", "qc_flags"}
)

func fixedColumns(kind domain.RunKind) []string {
	if kind == domain.RunKindAML {
		return amlColumns
	}
	return kycColumns
}

// ScoreColumns returns the header for a scored table. Feature and attribute
// columns follow the fixed ones in sorted order; a feature or attribute named
// like a fixed column is written once, in the fixed position.
func ScoreColumns(kind domain.RunKind, records []domain.ScoreRecord) []string {
	fixed := fixedColumns(kind)
	cols := slices.Clone(fixed)
	return append(cols, extraColumns(records, fixed)...)
}

func extraColumns(records []domain.ScoreRecord, fixed []string) []string {
	feats := make(map[string]struct{})
	attrs := make(map[string]struct{})
	for _, r := range records {
		for k := range r.Features {
			feats[k] = struct{}{}
		}
		for k := range r.Attributes {
			attrs[k] = struct{}{}
		}
	}
	for _, col := range fixed {
		delete(feats, col)
		delete(attrs, col)
	}
	for k := range attrs {
		delete(feats, k)
	}
	return append(sortedKeys(attrs), sortedKeys(feats)...)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteScores writes records as CSV, one row per record in slice order.
func WriteScores(w io.Writer, kind domain.RunKind, records []domain.ScoreRecord) error {
	writer := csv.NewWriter(w)

	cols := ScoreColumns(kind, records)
	if err := writer.Write(cols); err != nil {
		return err
	}

	fixed := len(fixedColumns(kind))

	row := make([]string, len(cols))
	for _, r := range records {
		if kind == domain.RunKindAML {
			row[0] = strconv.Itoa(r.RowIndex)
			row[1] = r.EventID
			row[2] = r.EntityID
			row[3] = formatTime(r.Timestamp)
			row[4] = formatFloat(r.RuleScore)
			row[5] = formatOptionalFloat(r.AnomalyScore)
			row[6] = formatFloat(r.Score)
			row[7] = string(r.Tier)
			row[8] = strings.Join(r.Factors, ", ")
		} else {
			var m domain.MatchResult
			if r.Match != nil {
				m = *r.Match
			}
			row[0] = r.EntityID
			row[1] = r.Attributes["client_name"]
			row[2] = r.Attributes["residency_country"]
			row[3] = r.Attributes["occupation"]
			row[4] = formatFloat(r.Score)
			row[5] = string(r.Tier)
			row[6] = strings.Join(r.Factors, ", ")
			row[7] = formatBool(m.PEPMatch)
			row[8] = formatBool(m.SanctionMatch)
			row[9] = formatFloat(m.Similarity)
			row[10] = strings.Join(r.QualityFlags, ",")
		}

		for i := fixed; i < len(cols); i++ {
			col := cols[i]
			if v, ok := r.Attributes[col]; ok {
				row[i] = v
			} else if v, ok := r.Features[col]; ok {
				row[i] = formatFloat(v)
			} else {
				row[i] = ""
			}
		}

		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteManifest writes the manifest as indented JSON.
func WriteManifest(w io.Writer, m *domain.Manifest) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(m)
}

// WriteOutputs writes the scored table and manifest into dir, creating it if needed.
// It returns the path of the scored table.
func WriteOutputs(dir string, kind domain.RunKind, records []domain.ScoreRecord, m *domain.Manifest) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := KYCScoresFile
	if kind == domain.RunKindAML {
		name = AMLScoresFile
	}
	scoresPath := filepath.Join(dir, name)

	if err := writeFile(scoresPath, func(w io.Writer) error {
		return WriteScores(w, kind, records)
	}); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
		return WriteManifest(w, m)
	}); err != nil {
		return "", err
	}

	return scoresPath, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
