package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heron.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := domain.DefaultConfig()
	if cfg.Server.Port != want.Server.Port {
		t.Errorf("expected port %d, got %d", want.Server.Port, cfg.Server.Port)
	}
	if cfg.Repository.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
	}
	if cfg.Policy.Tiers != want.Policy.Tiers {
		t.Errorf("expected tiers %+v, got %+v", want.Policy.Tiers, cfg.Policy.Tiers)
	}
	if cfg.Policy.Weights["sanction_match"] != 40 {
		t.Errorf("expected sanction weight 40, got %v", cfg.Policy.Weights["sanction_match"])
	}
	if cfg.Policy.FuzzyMatch.CacheTTL != 24*time.Hour {
		t.Errorf("expected cache ttl 24h, got %v", cfg.Policy.FuzzyMatch.CacheTTL)
	}
	if len(cfg.Policy.Windows) != 3 {
		t.Errorf("expected 3 windows, got %v", cfg.Policy.Windows)
	}
	if cfg.Policy.Anomaly.Seed != 42 {
		t.Errorf("expected seed 42, got %d", cfg.Policy.Anomaly.Seed)
	}
}

func TestLoad_FileOverridesSingleKeys(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
policy:
  version: "2024-q3"
  weights:
    pep_flag: 30
  tiers:
    high: 60
    medium: 25
  fuzzyMatch:
    mode: per_type
    cacheTtl: 1h
  windows: ["1d", "14d"]
pipeline:
  asOf: "2024-06-30"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Policy.Version != "2024-q3" {
		t.Errorf("expected version override, got %s", cfg.Policy.Version)
	}
	if cfg.Policy.Weights["pep_flag"] != 30 {
		t.Errorf("expected pep_flag 30, got %v", cfg.Policy.Weights["pep_flag"])
	}
	if cfg.Policy.Weights["sanction_match"] != 40 {
		t.Errorf("expected untouched sanction_match 40, got %v", cfg.Policy.Weights["sanction_match"])
	}
	if cfg.Policy.Tiers.High != 60 || cfg.Policy.Tiers.Medium != 25 {
		t.Errorf("unexpected tiers %+v", cfg.Policy.Tiers)
	}
	if cfg.Policy.FuzzyMatch.Mode != domain.FuzzyModePerType {
		t.Errorf("expected per_type mode, got %s", cfg.Policy.FuzzyMatch.Mode)
	}
	if cfg.Policy.FuzzyMatch.CacheTTL != time.Hour {
		t.Errorf("expected 1h ttl, got %v", cfg.Policy.FuzzyMatch.CacheTTL)
	}
	if cfg.Policy.FuzzyMatch.SimilarityThreshold != 0.88 {
		t.Errorf("expected default threshold, got %v", cfg.Policy.FuzzyMatch.SimilarityThreshold)
	}
	if len(cfg.Policy.Windows) != 2 || cfg.Policy.Windows[1] != "14d" {
		t.Errorf("unexpected windows %v", cfg.Policy.Windows)
	}
	if cfg.Pipeline.AsOf != "2024-06-30" {
		t.Errorf("expected asOf override, got %q", cfg.Pipeline.AsOf)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HERON_SERVER_PORT", "7070")
	t.Setenv("HERON_REPOSITORY_DRIVER", "postgres")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070 from env, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "postgres" {
		t.Errorf("expected postgres from env, got %s", cfg.Repository.Driver)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level from file, got %s", cfg.Logging.Level)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_RejectsInvalidPolicy(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"InvertedTiers", "policy:\n  tiers:\n    high: 10\n    medium: 20\n"},
		{"AlphaAboveOne", "policy:\n  hybrid:\n    alpha: 1.2\n"},
		{"ThresholdAboveOne", "policy:\n  fuzzyMatch:\n    similarityThreshold: 1.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, domain.ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}
