package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/anomaly"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/ingest"
	"github.com/opensource-finance/heron/internal/quality"
	"github.com/opensource-finance/heron/internal/refdata"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/watchlist"
	"go.opentelemetry.io/otel/attribute"
)

// Model names recorded in the manifest.
const (
	ModelAML = "aml_hybrid"
	ModelKYC = "kyc_risk_scorecard"
)

// Scored is the deterministic part of a run: everything except ids and clocks.
type Scored struct {
	Kind     domain.RunKind
	Model    string
	Records  []domain.ScoreRecord
	Backtest []domain.RuleBacktest
	DQ       domain.DQSummary
}

// ScoreAML scores every event: rolling features, the rule catalog, the
// isolation forest and the hybrid blend. Records keep input order.
func ScoreAML(ctx context.Context, in *Inputs, policy domain.Policy) (*Scored, error) {
	windows, err := features.ParseWindows(policy.Windows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPolicy, err)
	}
	hybrid, err := scoring.NewHybrid(policy.Hybrid.Alpha)
	if err != nil {
		return nil, err
	}
	tierer, err := scoring.NewTierer(policy.Hybrid.Tiers)
	if err != nil {
		return nil, err
	}
	catalog, err := CatalogFor(domain.RunKindAML, policy)
	if err != nil {
		return nil, err
	}
	engine, err := rules.NewEngineWithCatalog(catalog, policy.Thresholds)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	countries := refdata.NewCountryTable(in.Countries)
	builder := features.NewBuilder(countries, in.Entities, windows)

	_, span := tracer.Start(ctx, "features.events")
	vectors := builder.EventFeatures(in.Events)
	span.SetAttributes(attribute.Int("rows", len(vectors)))
	span.End()
	slog.Debug("event features built", "rows", len(vectors), "windows", len(windows))

	_, span = tracer.Start(ctx, "rules.evaluate")
	results := engine.EvaluateAll(ruleInputs(vectors))
	span.End()

	_, span = tracer.Start(ctx, "anomaly.iforest")
	values := make([]map[string]float64, len(vectors))
	for i, v := range vectors {
		values[i] = v.Values
	}
	cfg := anomaly.Config{Trees: policy.Anomaly.Trees, SampleSize: policy.Anomaly.SampleSize}
	anomalies, err := anomaly.FitScore(anomaly.Matrix(values, features.AnomalyColumns(windows)), cfg, anomaly.NewRand(policy.Anomaly.Seed))
	span.End()
	if err != nil {
		return nil, fmt.Errorf("anomaly scoring: %w", err)
	}

	records := make([]domain.ScoreRecord, len(vectors))
	labels := make([]*int, len(vectors))
	for i, v := range vectors {
		ts := v.Timestamp
		a := anomalies[i]
		score := hybrid.Combine(a, results[i].Score)
		records[i] = domain.ScoreRecord{
			RowIndex:     i,
			EntityID:     v.EntityID,
			EventID:      v.EventID,
			Timestamp:    &ts,
			Score:        score,
			RuleScore:    results[i].Score,
			AnomalyScore: &a,
			Tier:         tierer.Tier(score),
			Factors:      results[i].Factors,
			Features:     v.Values,
			Attributes:   v.Attributes,
			Label:        in.Events[i].Label,
		}
		labels[i] = in.Events[i].Label
	}

	return &Scored{
		Kind:     domain.RunKindAML,
		Model:    ModelAML,
		Records:  records,
		Backtest: rules.Backtest(engine.Catalog().Names(), results, labels, policy.Hybrid.FlagThreshold),
	}, nil
}

// ScoreKYC scores every entity as of asOf: data-quality flags, the snapshot
// features, watchlist screening and the additive scorecard. A zero asOf
// means the latest event timestamp. Records keep entity input order.
func ScoreKYC(ctx context.Context, in *Inputs, policy domain.Policy, asOf time.Time, cache domain.Cache) (*Scored, error) {
	tierer, err := scoring.NewTierer(policy.Tiers)
	if err != nil {
		return nil, err
	}
	catalog, err := CatalogFor(domain.RunKindKYC, policy)
	if err != nil {
		return nil, err
	}
	engine, err := rules.NewEngineWithCatalog(catalog, policy.Thresholds)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	matchCfg, err := watchlist.ConfigFromPolicy(policy.FuzzyMatch)
	if err != nil {
		return nil, err
	}
	matcher, err := watchlist.NewMatcher(refdata.NewWatchlist(in.Watchlist), matchCfg, cache)
	if err != nil {
		return nil, err
	}

	if asOf.IsZero() {
		asOf = features.MaxTimestamp(in.Events)
	}

	countries := refdata.NewCountryTable(in.Countries)
	builder := features.NewBuilder(countries, in.Entities, nil)

	_, span := tracer.Start(ctx, "features.snapshot")
	vectors := builder.EntityVectors(in.Entities, in.Events, asOf)
	span.SetAttributes(attribute.Int("rows", len(vectors)), attribute.String("as_of", asOf.Format(time.RFC3339)))
	span.End()

	screenCtx, span := tracer.Start(ctx, "watchlist.screen")
	matches := make([]domain.MatchResult, len(in.Entities))
	for i, e := range in.Entities {
		m := matcher.Screen(screenCtx, e.Name)
		matches[i] = m
		vectors[i].Values[features.PEPMatch] = boolFeature(m.PEPMatch)
		vectors[i].Values[features.SanctionMatch] = boolFeature(m.SanctionMatch)
		vectors[i].Values[features.NameSimilarity] = m.Similarity
	}
	span.End()

	flags := make([][]string, len(in.Entities))
	for i, e := range in.Entities {
		flags[i] = quality.Check(e, countries)
	}

	_, span = tracer.Start(ctx, "scorecard.score")
	results := scoring.NewScorecard(engine, tierer).ScoreAll(ruleInputs(vectors))
	span.End()

	records := make([]domain.ScoreRecord, len(vectors))
	for i, v := range vectors {
		m := matches[i]
		records[i] = domain.ScoreRecord{
			RowIndex:     i,
			EntityID:     v.EntityID,
			Score:        results[i].Score,
			RuleScore:    results[i].Score,
			Tier:         results[i].Tier,
			Factors:      results[i].Factors,
			Match:        &m,
			QualityFlags: flags[i],
			Features:     v.Values,
			Attributes:   v.Attributes,
		}
	}

	return &Scored{
		Kind:    domain.RunKindKYC,
		Model:   ModelKYC,
		Records: records,
		DQ:      quality.Summary(flags),
	}, nil
}

// ParseAsOf parses the configured snapshot time. Empty means zero.
func ParseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := ingest.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: as-of %q: %v", domain.ErrInvalidPolicy, s, err)
	}
	return t, nil
}

// CatalogFor returns the catalog a run of the given kind scores with: the
// policy's catalog file when set, else the built-in one. KYC weights always
// come from the policy.
func CatalogFor(kind domain.RunKind, policy domain.Policy) (rules.Catalog, error) {
	switch kind {
	case domain.RunKindAML:
		return loadCatalog(policy.RuleCatalog, rules.DefaultAMLCatalog)
	case domain.RunKindKYC:
		c, err := loadCatalog(policy.ScorecardCatalog, rules.DefaultKYCCatalog)
		if err != nil {
			return rules.Catalog{}, err
		}
		return c.WithWeights(policy.Weights), nil
	}
	return rules.Catalog{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func loadCatalog(path string, fallback func() rules.Catalog) (rules.Catalog, error) {
	if path == "" {
		return fallback(), nil
	}
	return rules.LoadCatalogFile(path)
}

func ruleInputs(vectors []features.Vector) []rules.Input {
	out := make([]rules.Input, len(vectors))
	for i, v := range vectors {
		out[i] = rules.Input{Features: v.Values, Attributes: v.Attributes}
	}
	return out
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
