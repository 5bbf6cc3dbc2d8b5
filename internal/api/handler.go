package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/worker"
)

// maxScoresPage bounds GET /runs/{id}/scores.
const maxScoresPage = 1000

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	runner    worker.Runner
	policy    domain.Policy
	async     bool
	configDir string
	version   string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRunner lets POST /runs execute runs in the request.
func WithRunner(r worker.Runner) HandlerOption {
	return func(h *Handler) { h.runner = r }
}

// WithAsyncRuns makes POST /runs publish a run request instead of running
// in the request. A worker must be consuming the bus. configDir is the
// directory a request's configPath must name a file in; empty rejects
// every configPath.
func WithAsyncRuns(configDir string) HandlerOption {
	return func(h *Handler) {
		h.async = true
		h.configDir = configDir
	}
}

// NewHandler creates a new API handler. Every dependency may be nil; the
// endpoints needing a missing one answer 503.
func NewHandler(repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, policy domain.Policy, version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		repo:    repo,
		cache:   cache,
		bus:     eventBus,
		policy:  policy,
		version: version,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunRequest is the request body for POST /runs.
type RunRequest struct {
	Kind       domain.RunKind `json:"kind"`
	RunID      string         `json:"runId,omitempty"`
	ConfigPath string         `json:"configPath,omitempty"`
}

// RunResponse is the response for POST /runs.
type RunResponse struct {
	RunID    string           `json:"runId"`
	Status   string           `json:"status"`
	Manifest *domain.Manifest `json:"manifest,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// runStatusQueued is reported for runs handed to the worker.
const runStatusQueued = "queued"

// StartRun handles POST /runs.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Kind != domain.RunKindAML && req.Kind != domain.RunKindKYC {
		writeError(w, http.StatusBadRequest, "kind must be aml or kyc")
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	resp := RunResponse{RunID: req.RunID}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	if h.async {
		if h.bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		if req.ConfigPath != "" {
			if _, err := worker.ResolveConfigPath(h.configDir, req.ConfigPath); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		msg := domain.RunRequest{RunID: req.RunID, Kind: req.Kind, ConfigPath: req.ConfigPath}
		if err := bus.PublishJSON(ctx, h.bus, domain.TopicRunRequested, msg); err != nil {
			slog.Error("failed to publish run request", "run_id", req.RunID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue run")
			return
		}
		resp.Status = runStatusQueued
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if req.ConfigPath != "" {
		writeError(w, http.StatusBadRequest, "configPath requires the run worker")
		return
	}
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	res, err := h.runner.Run(ctx, req.Kind, req.RunID)
	if err != nil {
		writeError(w, runErrorStatus(err), err.Error())
		return
	}

	resp.Status = domain.RunStatusCompleted
	resp.Manifest = res.Manifest
	writeJSON(w, http.StatusOK, resp)
}

// runErrorStatus maps pipeline failures to HTTP statuses.
func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSchema), errors.Is(err, domain.ErrInvalidPolicy):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Ready reports whether the repository, cache and bus answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			slog.Warn("readiness check failed", "component", name, "error", err)
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

// ListRuns returns the most recent runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a run and its manifest by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	run, err := h.repo.GetRun(r.Context(), runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.Error("failed to get run", "id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListScores returns a run's score records, optionally narrowed to one tier.
func (h *Handler) ListScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	filter := domain.ScoreFilter{Tier: domain.Tier(r.URL.Query().Get("tier"))}
	switch filter.Tier {
	case "", domain.TierLow, domain.TierMedium, domain.TierHigh:
	default:
		writeError(w, http.StatusBadRequest, "tier must be Low, Medium or High")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if limit == 0 || limit > maxScoresPage {
		limit = maxScoresPage
	}
	filter.Limit = limit

	if _, err := h.repo.GetRun(ctx, runID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		slog.Error("failed to get run", "id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	records, err := h.repo.ListScores(ctx, runID, filter)
	if err != nil {
		slog.Error("failed to list scores", "id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list scores")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":   runID,
		"records": records,
		"count":   len(records),
	})
}

// ListRules returns the AML rule catalog and the KYC scorecard in force.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	aml, err := pipeline.CatalogFor(domain.RunKindAML, h.policy)
	if err != nil {
		slog.Error("failed to load rule catalog", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rule catalog")
		return
	}
	kyc, err := pipeline.CatalogFor(domain.RunKindKYC, h.policy)
	if err != nil {
		slog.Error("failed to load scorecard catalog", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load scorecard catalog")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"aml":        aml,
		"kyc":        kyc,
		"thresholds": h.policy.Thresholds,
		"count":      len(aml.Rules) + len(kyc.Rules),
	})
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
