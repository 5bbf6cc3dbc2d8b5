// Heron - Explainable AML and KYC risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/telemetry"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const usage = `Usage:
  heron run   -kind aml|kyc [-config heron.yaml] [-run-id ID]
  heron serve [-config heron.yaml]
  heron version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "serve":
		err = serveCommand(os.Args[2:])
	case "version":
		fmt.Printf("heron %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		slog.Error("heron failed", "error", err)
		os.Exit(1)
	}
}

// setupLogger installs the default slog logger. HERON_DEBUG=true forces debug.
func setupLogger(cfg domain.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("HERON_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// components holds the shared infrastructure of one process.
type components struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus
}

func openComponents(cfg *domain.Config) (*components, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		cacheImpl.Close()
		repo.Close()
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	return &components{repo: repo, cache: cacheImpl, bus: busImpl}, nil
}

func (c *components) Close() {
	if err := c.bus.Close(); err != nil {
		slog.Warn("failed to close event bus", "error", err)
	}
	if err := c.cache.Close(); err != nil {
		slog.Warn("failed to close cache", "error", err)
	}
	if err := c.repo.Close(); err != nil {
		slog.Warn("failed to close repository", "error", err)
	}
}

func (c *components) pipeline(cfg *domain.Config, configPath string) *pipeline.Pipeline {
	return pipeline.New(cfg,
		pipeline.WithRepository(c.repo),
		pipeline.WithCache(c.cache),
		pipeline.WithEventBus(c.bus),
		pipeline.WithConfigPath(configPath),
	)
}

func flushTraces(shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	kind := fs.String("kind", "", "run kind: aml or kyc")
	configPath := fs.String("config", "", "configuration file (default: heron.yaml)")
	runID := fs.String("run-id", "", "run identifier (default: random UUID)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer flushTraces(shutdownTracing)

	comps, err := openComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	res, err := comps.pipeline(cfg, *configPath).Run(ctx, domain.RunKind(*kind), *runID)
	if err != nil {
		return err
	}

	m := res.Manifest
	fmt.Printf("run %s (%s): %d rows, High=%d Medium=%d Low=%d, %d with data-quality issues\n",
		m.RunID, m.Kind, m.Rows,
		m.TierCounts[domain.TierHigh], m.TierCounts[domain.TierMedium], m.TierCounts[domain.TierLow],
		m.DQSummary.WithIssues,
	)
	if res.ScoresPath != "" {
		fmt.Printf("scores written to %s\n", res.ScoresPath)
	}
	return nil
}

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "configuration file (default: heron.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	setupLogger(cfg.Logging)

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer flushTraces(shutdownTracing)

	comps, err := openComponents(cfg)
	if err != nil {
		return err
	}
	defer comps.Close()

	p := comps.pipeline(cfg, *configPath)
	opts := []api.HandlerOption{api.WithRunner(p)}

	var runWorker *worker.Worker
	if cfg.Worker.Enabled {
		factory := func(path string) (worker.Runner, error) {
			reqCfg, err := config.Load(path)
			if err != nil {
				return nil, err
			}
			return comps.pipeline(reqCfg, path), nil
		}
		runWorker = worker.NewWorker(comps.bus, p, factory, worker.WithConfigDir(cfg.Worker.ConfigDir))
		if err := runWorker.Start(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		opts = append(opts, api.WithAsyncRuns(cfg.Worker.ConfigDir))
	}

	handler := api.NewHandler(comps.repo, comps.cache, comps.bus, cfg.Policy, Version, opts...)
	srv := api.NewServer(cfg.Server, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"worker", cfg.Worker.Enabled,
	)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	// Stop the worker first so no run starts during shutdown.
	if runWorker != nil {
		if err := runWorker.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
	return nil
}
