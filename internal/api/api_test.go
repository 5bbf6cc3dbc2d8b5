package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
)

// stubRunner answers every run with a fixed manifest or error.
type stubRunner struct {
	err   error
	calls []domain.RunKind
}

func (s *stubRunner) Run(ctx context.Context, kind domain.RunKind, runID string) (*pipeline.Result, error) {
	s.calls = append(s.calls, kind)
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.Result{
		Manifest: &domain.Manifest{RunID: runID, Kind: kind, Rows: 2},
	}, nil
}

func (s *stubRunner) Fail(ctx context.Context, kind domain.RunKind, runID string, err error) {}

// failingPinger is a bus whose health check fails.
type failingPinger struct {
	domain.EventBus
}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("connection refused") }

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seedRun stores one completed KYC run with three records.
func seedRun(t *testing.T, repo domain.Repository, id string) {
	t.Helper()
	ctx := context.Background()
	run := &domain.Run{
		ID:        id,
		Kind:      domain.RunKindKYC,
		Status:    domain.RunStatusCompleted,
		CreatedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Manifest:  &domain.Manifest{RunID: id, Kind: domain.RunKindKYC, Rows: 3},
	}
	if err := repo.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	records := []domain.ScoreRecord{
		{RowIndex: 0, EntityID: "C1", Score: 105, Tier: domain.TierHigh, Factors: []string{"PEP flag"}},
		{RowIndex: 1, EntityID: "C2", Score: 0, Tier: domain.TierLow, Factors: []string{}},
		{RowIndex: 2, EntityID: "C3", Score: 35, Tier: domain.TierMedium, Factors: []string{"High-risk residency"}},
	}
	if err := repo.SaveScores(ctx, id, records); err != nil {
		t.Fatalf("SaveScores failed: %v", err)
	}
}

func serve(s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func newTestServer(h *Handler) *Server {
	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return NewServer(cfg, h)
}

func TestHealthAndReady(t *testing.T) {
	repo := newTestRepo(t)
	b := bus.NewChannelBus(10)
	defer b.Close()

	t.Run("Health", func(t *testing.T) {
		s := newTestServer(NewHandler(nil, nil, nil, domain.DefaultPolicy(), "test-v1"))
		rr := serve(s, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}
	})

	t.Run("Ready", func(t *testing.T) {
		s := newTestServer(NewHandler(repo, nil, b, domain.DefaultPolicy(), "test-v1"))
		rr := serve(s, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("NotReady", func(t *testing.T) {
		s := newTestServer(NewHandler(repo, nil, failingPinger{b}, domain.DefaultPolicy(), "test-v1"))
		rr := serve(s, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
		var resp struct {
			Ready  bool              `json:"ready"`
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Ready {
			t.Error("expected ready=false")
		}
		if resp.Checks["repository"] != "ok" {
			t.Errorf("expected repository ok, got %q", resp.Checks["repository"])
		}
		if resp.Checks["eventBus"] == "ok" {
			t.Error("expected eventBus check to fail")
		}
	})
}

func TestRunsEndpoints(t *testing.T) {
	repo := newTestRepo(t)
	seedRun(t, repo, "run-001")
	s := newTestServer(NewHandler(repo, nil, nil, domain.DefaultPolicy(), "test-v1"))

	t.Run("ListRuns", func(t *testing.T) {
		rr := serve(s, http.MethodGet, "/runs", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Runs  []domain.Run `json:"runs"`
			Count int          `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || resp.Runs[0].ID != "run-001" {
			t.Errorf("unexpected runs: %+v", resp)
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		rr := serve(s, http.MethodGet, "/runs?limit=abc", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GetRun", func(t *testing.T) {
		rr := serve(s, http.MethodGet, "/runs/run-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var run domain.Run
		if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if run.Manifest == nil || run.Manifest.Rows != 3 {
			t.Errorf("expected manifest with 3 rows, got %+v", run.Manifest)
		}
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		rr := serve(s, http.MethodGet, "/runs/missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListScores", func(t *testing.T) {
		tests := []struct {
			query string
			want  []string
		}{
			{"", []string{"C1", "C2", "C3"}},
			{"?tier=High", []string{"C1"}},
			{"?tier=Medium", []string{"C3"}},
			{"?limit=2", []string{"C1", "C2"}},
		}
		for _, tt := range tests {
			t.Run(tt.query, func(t *testing.T) {
				rr := serve(s, http.MethodGet, "/runs/run-001/scores"+tt.query, nil)
				if rr.Code != http.StatusOK {
					t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
				}
				var resp struct {
					Records []domain.ScoreRecord `json:"records"`
				}
				if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to parse response: %v", err)
				}
				var got []string
				for _, rec := range resp.Records {
					got = append(got, rec.EntityID)
				}
				if fmt.Sprint(got) != fmt.Sprint(tt.want) {
					t.Errorf("expected %v, got %v", tt.want, got)
				}
			})
		}
	})

	t.Run("ListScoresInvalidTier", func(t *testing.T) {
		rr := serve(s, http.MethodGet, "/runs/run-001/scores?tier=Severe", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ListScoresUnknownRun", func(t *testing.T) {
		rr := serve(s, http.MethodGet, "/runs/missing/scores", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("NoRepository", func(t *testing.T) {
		bare := newTestServer(NewHandler(nil, nil, nil, domain.DefaultPolicy(), "test-v1"))
		rr := serve(bare, http.MethodGet, "/runs", nil)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestStartRun(t *testing.T) {
	t.Run("Synchronous", func(t *testing.T) {
		runner := &stubRunner{}
		s := newTestServer(NewHandler(nil, nil, nil, domain.DefaultPolicy(), "test-v1", WithRunner(runner)))

		rr := serve(s, http.MethodPost, "/runs", []byte(`{"kind":"kyc","runId":"run-42"}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp RunResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RunID != "run-42" || resp.Status != domain.RunStatusCompleted {
			t.Errorf("unexpected response: %+v", resp)
		}
		if resp.Manifest == nil || resp.Manifest.Rows != 2 {
			t.Errorf("expected manifest with 2 rows, got %+v", resp.Manifest)
		}
		if resp.Metadata.Version != "test-v1" || resp.Metadata.TraceID == "" {
			t.Errorf("unexpected metadata: %+v", resp.Metadata)
		}
		if len(runner.calls) != 1 || runner.calls[0] != domain.RunKindKYC {
			t.Errorf("expected one kyc run, got %v", runner.calls)
		}
	})

	t.Run("GeneratesRunID", func(t *testing.T) {
		s := newTestServer(NewHandler(nil, nil, nil, domain.DefaultPolicy(), "test-v1", WithRunner(&stubRunner{})))
		rr := serve(s, http.MethodPost, "/runs", []byte(`{"kind":"aml"}`))
		var resp RunResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RunID == "" {
			t.Error("expected generated runId")
		}
	})

	t.Run("Asynchronous", func(t *testing.T) {
		b := bus.NewChannelBus(10)
		defer b.Close()

		received := make(chan domain.RunRequest, 1)
		_, err := b.Subscribe(context.Background(), domain.TopicRunRequested, func(ctx context.Context, msg *domain.Message) error {
			var req domain.RunRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return err
			}
			received <- req
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		s := newTestServer(NewHandler(nil, nil, b, domain.DefaultPolicy(), "test-v1", WithAsyncRuns("/etc/heron")))
		rr := serve(s, http.MethodPost, "/runs", []byte(`{"kind":"aml","configPath":"alt.yaml"}`))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		select {
		case req := <-received:
			if req.Kind != domain.RunKindAML || req.ConfigPath != "alt.yaml" || req.RunID == "" {
				t.Errorf("unexpected run request: %+v", req)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for run request")
		}
	})

	t.Run("ConfigPathOutsideConfigDir", func(t *testing.T) {
		b := bus.NewChannelBus(10)
		defer b.Close()

		for _, body := range []string{
			`{"kind":"aml","configPath":"../../home/ops/prod.yaml"}`,
			`{"kind":"aml","configPath":"/etc/heron/heron.yaml"}`,
			`{"kind":"aml","configPath":"alt.json"}`,
		} {
			s := newTestServer(NewHandler(nil, nil, b, domain.DefaultPolicy(), "test-v1", WithAsyncRuns("/etc/heron")))
			if rr := serve(s, http.MethodPost, "/runs", []byte(body)); rr.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", body, rr.Code)
			}
		}

		s := newTestServer(NewHandler(nil, nil, b, domain.DefaultPolicy(), "test-v1", WithAsyncRuns("")))
		if rr := serve(s, http.MethodPost, "/runs", []byte(`{"kind":"aml","configPath":"alt.yaml"}`)); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 without a config directory, got %d", rr.Code)
		}
	})

	errorTests := []struct {
		name       string
		body       string
		runner     *stubRunner
		wantStatus int
	}{
		{"InvalidJSON", "not-json", &stubRunner{}, http.StatusBadRequest},
		{"UnknownKind", `{"kind":"fraud"}`, &stubRunner{}, http.StatusBadRequest},
		{"ConfigPathWithoutWorker", `{"kind":"aml","configPath":"x.yaml"}`, &stubRunner{}, http.StatusBadRequest},
		{"SchemaError", `{"kind":"aml"}`, &stubRunner{err: fmt.Errorf("events: %w", domain.ErrSchema)}, http.StatusUnprocessableEntity},
		{"InvalidPolicy", `{"kind":"kyc"}`, &stubRunner{err: fmt.Errorf("tiers: %w", domain.ErrInvalidPolicy)}, http.StatusUnprocessableEntity},
		{"InternalError", `{"kind":"kyc"}`, &stubRunner{err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tt := range errorTests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(NewHandler(nil, nil, nil, domain.DefaultPolicy(), "test-v1", WithRunner(tt.runner)))
			rr := serve(s, http.MethodPost, "/runs", []byte(tt.body))
			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}

	t.Run("NoRunner", func(t *testing.T) {
		s := newTestServer(NewHandler(nil, nil, nil, domain.DefaultPolicy(), "test-v1"))
		rr := serve(s, http.MethodPost, "/runs", []byte(`{"kind":"aml"}`))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestListRules(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.Weights["sanction_match"] = 99

	s := newTestServer(NewHandler(nil, nil, nil, policy, "test-v1"))
	rr := serve(s, http.MethodGet, "/rules", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		AML struct {
			Rules []struct {
				Name string `json:"name"`
			} `json:"rules"`
		} `json:"aml"`
		KYC struct {
			Rules []struct {
				Name   string  `json:"name"`
				Weight float64 `json:"weight"`
			} `json:"rules"`
		} `json:"kyc"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.AML.Rules) == 0 || len(resp.KYC.Rules) == 0 {
		t.Fatalf("expected both catalogs, got %+v", resp)
	}
	if resp.Count != len(resp.AML.Rules)+len(resp.KYC.Rules) {
		t.Errorf("count %d does not match catalogs", resp.Count)
	}
	found := false
	for _, r := range resp.KYC.Rules {
		if r.Name == "sanction_match" {
			found = true
			if r.Weight != 99 {
				t.Errorf("expected policy weight 99, got %v", r.Weight)
			}
		}
	}
	if !found {
		t.Error("expected sanction_match in KYC catalog")
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(NewHandler(nil, nil, nil, domain.DefaultPolicy(), "test-v1"))

	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.com" {
		t.Errorf("expected origin to be allowed, got %q", got)
	}
}
