package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/ingest"
	"golang.org/x/sync/errgroup"
)

// Inputs are the in-memory tables of one run.
type Inputs struct {
	Events    []domain.Event
	Entities  []domain.Entity
	Countries []domain.CountryRisk
	Watchlist []domain.WatchlistEntry
}

// LoadInputs reads the tables a run of the given kind needs, in parallel.
// Events are always required and KYC also requires entities. Country risk
// and the watchlist are optional: a configured file that does not exist is
// logged and read as empty. AML reads entities only when configured, for the
// residency fallback of is_international.
func LoadInputs(ctx context.Context, cfg domain.PipelineConfig, kind domain.RunKind) (*Inputs, error) {
	in := &Inputs{}
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		events, err := ingest.LoadEvents(cfg.Events)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		in.Events = events
		return nil
	})

	if cfg.CountryRisk != "" {
		g.Go(func() error {
			countries, err := ingest.LoadCountryRisk(cfg.CountryRisk)
			if missingReference(err, "country risk", cfg.CountryRisk) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load country risk: %w", err)
			}
			in.Countries = countries
			return nil
		})
	}

	if kind == domain.RunKindKYC || cfg.Entities != "" {
		g.Go(func() error {
			entities, err := ingest.LoadEntities(cfg.Entities)
			if err != nil {
				return fmt.Errorf("load entities: %w", err)
			}
			in.Entities = entities
			return nil
		})
	}

	if kind == domain.RunKindKYC {
		g.Go(func() error {
			entries, err := ingest.LoadWatchlist(cfg.Watchlist)
			if missingReference(err, "watchlist", cfg.Watchlist) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("load watchlist: %w", err)
			}
			in.Watchlist = entries
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// missingReference reports whether err means an optional reference file is
// absent, logging it when so.
func missingReference(err error, table, path string) bool {
	if !errors.Is(err, fs.ErrNotExist) {
		return false
	}
	slog.Warn("optional reference file not found, continuing without it",
		"table", table,
		"path", path,
	)
	return true
}
