// Package pipeline composes the scoring components into AML and KYC runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/ingest"
	"github.com/opensource-finance/heron/internal/scoring"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("heron-pipeline")

// ErrUnknownKind is returned for a run kind other than aml or kyc.
var ErrUnknownKind = errors.New("unknown run kind")

// Pipeline executes runs against one configuration. Repository, cache and
// bus are optional; without them a run only writes its output files.
type Pipeline struct {
	cfg   *domain.Config
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
	now   func() time.Time

	configPath string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRepository persists runs and score records.
func WithRepository(repo domain.Repository) Option {
	return func(p *Pipeline) { p.repo = repo }
}

// WithCache memoizes watchlist screening.
func WithCache(cache domain.Cache) Option {
	return func(p *Pipeline) { p.cache = cache }
}

// WithEventBus publishes run completion and high-tier alerts.
func WithEventBus(b domain.EventBus) Option {
	return func(p *Pipeline) { p.bus = b }
}

// WithConfigPath records the configuration file in run manifests.
func WithConfigPath(path string) Option {
	return func(p *Pipeline) { p.configPath = path }
}

// New creates a pipeline.
func New(cfg *domain.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is a finished run.
type Result struct {
	Manifest   *domain.Manifest
	Records    []domain.ScoreRecord
	ScoresPath string
}

// Run loads the configured inputs, scores them and publishes the outcome.
// An empty runID gets a fresh UUID. Failed runs are persisted and announced
// too, with the error message.
func (p *Pipeline) Run(ctx context.Context, kind domain.RunKind, runID string) (*Result, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	started := p.now()

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.kind", string(kind)),
	)

	logger := slog.With("run_id", runID, "kind", kind)
	logger.Info("run started")

	res, err := p.run(ctx, kind, runID, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("run failed", "error", err)
		p.fail(ctx, kind, runID, started, err)
		return nil, err
	}

	logger.Info("run completed",
		"rows", res.Manifest.Rows,
		"high", res.Manifest.TierCounts[domain.TierHigh],
		"duration_ms", res.Manifest.DurationMs,
	)
	p.finish(ctx, &domain.Run{
		ID:        runID,
		Kind:      kind,
		Status:    domain.RunStatusCompleted,
		CreatedAt: started,
		Manifest:  res.Manifest,
	}, res.Records)

	return res, nil
}

// Fail persists and announces a run that failed before Run could be
// called, such as a queued request whose config did not load.
func (p *Pipeline) Fail(ctx context.Context, kind domain.RunKind, runID string, err error) {
	p.fail(ctx, kind, runID, p.now(), err)
}

func (p *Pipeline) fail(ctx context.Context, kind domain.RunKind, runID string, started time.Time, err error) {
	p.finish(ctx, &domain.Run{
		ID:        runID,
		Kind:      kind,
		Status:    domain.RunStatusFailed,
		Error:     err.Error(),
		CreatedAt: started,
	}, nil)
}

func (p *Pipeline) run(ctx context.Context, kind domain.RunKind, runID string, started time.Time) (*Result, error) {
	if kind != domain.RunKindAML && kind != domain.RunKindKYC {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	loadCtx, span := tracer.Start(ctx, "inputs.load")
	in, err := LoadInputs(loadCtx, p.cfg.Pipeline, kind)
	span.End()
	if err != nil {
		return nil, err
	}
	slog.Debug("inputs loaded",
		"events", len(in.Events),
		"entities", len(in.Entities),
		"countries", len(in.Countries),
		"watchlist", len(in.Watchlist),
	)

	var scored *Scored
	switch kind {
	case domain.RunKindAML:
		scored, err = ScoreAML(ctx, in, p.cfg.Policy)
	case domain.RunKindKYC:
		var asOf time.Time
		asOf, err = ParseAsOf(p.cfg.Pipeline.AsOf)
		if err == nil {
			scored, err = ScoreKYC(ctx, in, p.cfg.Policy, asOf, p.cache)
		}
	}
	if err != nil {
		return nil, err
	}

	m := p.manifest(runID, started, scored)

	res := &Result{Manifest: m, Records: scored.Records}
	if p.cfg.Pipeline.OutputDir != "" {
		res.ScoresPath, err = ingest.WriteOutputs(p.cfg.Pipeline.OutputDir, kind, scored.Records, m)
		if err != nil {
			return nil, fmt.Errorf("write outputs: %w", err)
		}
	}
	return res, nil
}

func (p *Pipeline) manifest(runID string, started time.Time, s *Scored) *domain.Manifest {
	return &domain.Manifest{
		RunID:         runID,
		Kind:          s.Kind,
		Model:         s.Model,
		PolicyVersion: p.cfg.Policy.Version,
		CreatedAt:     started,
		Rows:          len(s.Records),
		TierCounts:    scoring.TierCounts(s.Records),
		DQSummary:     s.DQ,
		Backtest:      s.Backtest,
		ConfigPath:    p.configPath,
		DurationMs:    p.now().Sub(started).Milliseconds(),
	}
}

// finish persists the run and publishes it. Both are best effort: the
// output files are the primary result.
func (p *Pipeline) finish(ctx context.Context, run *domain.Run, records []domain.ScoreRecord) {
	if p.repo != nil {
		if err := p.repo.SaveRun(ctx, run); err != nil {
			slog.Error("failed to save run", "run_id", run.ID, "error", err)
		} else if records != nil {
			if err := p.repo.SaveScores(ctx, run.ID, records); err != nil {
				slog.Error("failed to save scores", "run_id", run.ID, "error", err)
			}
		}
	}

	if p.bus == nil {
		return
	}

	for _, r := range records {
		if r.Tier != domain.TierHigh {
			continue
		}
		alert := domain.HighRiskAlert{
			RunID:    run.ID,
			EntityID: r.EntityID,
			EventID:  r.EventID,
			Score:    r.Score,
			Factors:  r.Factors,
		}
		if err := bus.PublishJSON(ctx, p.bus, domain.TopicAlertHigh, alert); err != nil {
			slog.Warn("failed to publish alert", "run_id", run.ID, "entity_id", r.EntityID, "error", err)
		}
	}

	completed := domain.RunCompleted{
		RunID:  run.ID,
		Kind:   run.Kind,
		Status: run.Status,
		Error:  run.Error,
	}
	if err := bus.PublishJSON(ctx, p.bus, domain.TopicRunCompleted, completed); err != nil {
		slog.Warn("failed to publish run completion", "run_id", run.ID, "error", err)
	}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() *domain.Config {
	return p.cfg
}
