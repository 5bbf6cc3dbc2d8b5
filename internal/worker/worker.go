// Package worker executes pipeline runs requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
)

// Runner executes one run. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, kind domain.RunKind, runID string) (*pipeline.Result, error)
	// Fail persists and announces a run that failed before it could start.
	Fail(ctx context.Context, kind domain.RunKind, runID string, err error)
}

// RunnerFactory builds a Runner for a request that names its own config file.
type RunnerFactory func(configPath string) (Runner, error)

// ErrNoFactory is returned for requests with a config path when the worker
// has no RunnerFactory.
var ErrNoFactory = errors.New("worker cannot load per-request config")

// ErrConfigPath is returned for a per-request config outside the allowed
// directory.
var ErrConfigPath = errors.New("config path not allowed")

// ResolveConfigPath maps a per-request config name to a YAML file inside dir.
// Absolute names and names leaving dir are rejected, and so is every name
// when dir is empty.
func ResolveConfigPath(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: per-request configs are disabled", ErrConfigPath)
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q is not inside the config directory", ErrConfigPath, name)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
	default:
		return "", fmt.Errorf("%w: %q is not a YAML file", ErrConfigPath, name)
	}
	return filepath.Join(dir, name), nil
}

// Worker consumes run requests from the EventBus.
// Requests on one subscription are handled one at a time.
type Worker struct {
	bus       domain.EventBus
	runner    Runner
	factory   RunnerFactory
	configDir string

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64
	ctx           context.Context
	cancel        context.CancelFunc
}

// Option configures a Worker.
type Option func(*Worker)

// WithConfigDir sets the directory per-request config names resolve in.
// Without it, requests naming a config file fail.
func WithConfigDir(dir string) Option {
	return func(w *Worker) { w.configDir = dir }
}

// NewWorker creates a worker. factory may be nil.
func NewWorker(bus domain.EventBus, runner Runner, factory RunnerFactory, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		bus:     bus,
		runner:  runner,
		factory: factory,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes to run requests.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicRunRequested)
	return nil
}

// handleMessage decodes a RunRequest and executes it. Requests that fail
// before the run starts are still recorded as failed runs, so a run id
// handed out by POST /runs always resolves.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		err = fmt.Errorf("invalid run request: %w", err)
		w.reject(ctx, req.Kind, msg.ID, err)
		return err
	}

	runID := req.RunID
	if runID == "" {
		runID = msg.ID
	}

	slog.Debug("processing run request",
		"run_id", runID,
		"kind", req.Kind,
		"config_path", req.ConfigPath,
	)

	runner := w.runner
	if req.ConfigPath != "" {
		r, err := w.runnerFor(req.ConfigPath)
		if err != nil {
			slog.Error("failed to load run config",
				"run_id", runID,
				"config_path", req.ConfigPath,
				"error", err,
			)
			w.reject(ctx, req.Kind, runID, err)
			return err
		}
		runner = r
	}

	// The pipeline persists and announces the outcome itself.
	res, err := runner.Run(ctx, req.Kind, runID)
	w.record(err)
	if err != nil {
		return err
	}

	slog.Info("run request processed",
		"run_id", runID,
		"kind", req.Kind,
		"rows", res.Manifest.Rows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) runnerFor(name string) (Runner, error) {
	if w.factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, name)
	}
	path, err := ResolveConfigPath(w.configDir, name)
	if err != nil {
		return nil, err
	}
	return w.factory(path)
}

// reject records a request that never reached the pipeline.
func (w *Worker) reject(ctx context.Context, kind domain.RunKind, runID string, err error) {
	w.record(err)
	w.runner.Fail(ctx, kind, runID, err)
}

func (w *Worker) record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.processed++
	if err != nil {
		w.failed++
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats holds worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Failed:            w.failed,
	}
}
