package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventBus" json:"eventBus"`
	Worker     WorkerConfig     `mapstructure:"worker" json:"worker"`

	// Batch inputs, outputs and scoring policy
	Pipeline PipelineConfig `mapstructure:"pipeline" json:"pipeline"`
	Policy   Policy         `mapstructure:"policy" json:"policy"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `mapstructure:"writeTimeout" json:"writeTimeout"` // seconds
}

// WorkerConfig controls the bus-driven run worker.
type WorkerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// ConfigDir holds the config files POST /runs may name. Empty disables
	// per-request configs.
	ConfigDir string `mapstructure:"configDir" json:"configDir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings. Spans are exported over
// OTLP/gRPC; an empty Endpoint falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled"`
	ServiceName string  `mapstructure:"serviceName" json:"serviceName"`
	Endpoint    string  `mapstructure:"endpoint" json:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" json:"insecure"`
	SampleRatio float64 `mapstructure:"sampleRatio" json:"sampleRatio"`
}

// PipelineConfig locates the flat input tables and the output directory.
type PipelineConfig struct {
	Events      string `mapstructure:"events" json:"events"`
	Entities    string `mapstructure:"entities" json:"entities"`
	CountryRisk string `mapstructure:"countryRisk" json:"countryRisk"`
	Watchlist   string `mapstructure:"watchlist" json:"watchlist"`
	OutputDir   string `mapstructure:"outputDir" json:"outputDir"`

	// AsOf pins the KYC snapshot time (RFC 3339 or YYYY-MM-DD).
	// Empty means the latest event timestamp.
	AsOf string `mapstructure:"asOf" json:"asOf"`
}

// Policy is the scoring document: weights, thresholds, cutoffs and model knobs.
type Policy struct {
	Version string `mapstructure:"version" json:"version"`

	// Scorecard weights and numeric thresholds keyed by condition name.
	Weights    map[string]float64 `mapstructure:"weights" json:"weights"`
	Thresholds map[string]float64 `mapstructure:"thresholds" json:"thresholds"`
	Tiers      TierCutoffs        `mapstructure:"tiers" json:"tiers"`

	FuzzyMatch FuzzyMatchConfig `mapstructure:"fuzzyMatch" json:"fuzzyMatch"`
	Hybrid     HybridConfig     `mapstructure:"hybrid" json:"hybrid"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly" json:"anomaly"`

	// Trailing windows for per-event features, e.g. "1d", "7d", "30d".
	Windows []string `mapstructure:"windows" json:"windows"`

	// Optional YAML catalogs replacing the built-in ones.
	RuleCatalog      string `mapstructure:"ruleCatalog" json:"ruleCatalog"`
	ScorecardCatalog string `mapstructure:"scorecardCatalog" json:"scorecardCatalog"`
}

// TierCutoffs maps a score to a tier: >= High is High, >= Medium is Medium.
type TierCutoffs struct {
	High   float64 `mapstructure:"high" json:"high"`
	Medium float64 `mapstructure:"medium" json:"medium"`
}

// Validate rejects inverted cutoffs.
func (t TierCutoffs) Validate() error {
	if t.Medium > t.High {
		return fmt.Errorf("%w: medium cutoff %.4g above high cutoff %.4g", ErrInvalidPolicy, t.Medium, t.High)
	}
	return nil
}

// Watchlist fuzzy modes.
const (
	// FuzzyModeBestOverall keeps the single best row overall; its type decides the flag.
	FuzzyModeBestOverall = "best_overall"
	// FuzzyModePerType searches PEP and SANCTION entries independently.
	FuzzyModePerType = "per_type"

	BlockingNone    = "none"
	BlockingSoundex = "soundex"
)

// FuzzyMatchConfig controls watchlist fuzzy screening.
type FuzzyMatchConfig struct {
	Enabled             bool          `mapstructure:"enabled" json:"enabled"`
	SimilarityThreshold float64       `mapstructure:"similarityThreshold" json:"similarityThreshold"`
	Mode                string        `mapstructure:"mode" json:"mode"`
	Blocking            string        `mapstructure:"blocking" json:"blocking"`
	CacheTTL            time.Duration `mapstructure:"cacheTtl" json:"cacheTtl"`
}

// HybridConfig blends anomaly and rule scores for per-event monitoring.
type HybridConfig struct {
	Alpha float64     `mapstructure:"alpha" json:"alpha"`
	Tiers TierCutoffs `mapstructure:"tiers" json:"tiers"`

	// FlagThreshold is the rule score at which a row counts as flagged in backtests.
	FlagThreshold float64 `mapstructure:"flagThreshold" json:"flagThreshold"`
}

// AnomalyConfig configures the isolation forest.
type AnomalyConfig struct {
	Trees      int   `mapstructure:"trees" json:"trees"`
	SampleSize int   `mapstructure:"sampleSize" json:"sampleSize"`
	Seed       int64 `mapstructure:"seed" json:"seed"`
}

// DefaultPolicy returns the built-in scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		Version: "1.0",
		Weights: map[string]float64{
			"pep_flag":                       20,
			"pep_match":                      25,
			"sanction_match":                 40,
			"residency_country_high":         15,
			"occupation_cash_intensive":      10,
			"intl_rate_90d_high":             10,
			"hrc_hits_90d_ge_2":              12,
			"swift_out_90d_ge_2":             8,
			"cash_structuring_hits_30d_ge_2": 15,
			"large_value_rate_180d_high":     10,
			"geo_diversity_180d_high":        8,
		},
		Thresholds: map[string]float64{
			"intl_rate_90d_high":         0.5,
			"large_value_rate_180d_high": 0.2,
			"geo_diversity_180d_high":    8,
		},
		Tiers: TierCutoffs{High: 55, Medium: 30},
		FuzzyMatch: FuzzyMatchConfig{
			Enabled:             true,
			SimilarityThreshold: 0.88,
			Mode:                FuzzyModeBestOverall,
			Blocking:            BlockingNone,
			CacheTTL:            24 * time.Hour,
		},
		Hybrid: HybridConfig{
			Alpha:         0.6,
			Tiers:         TierCutoffs{High: 2.0, Medium: 1.0},
			FlagThreshold: 1.5,
		},
		Anomaly: AnomalyConfig{
			Trees:      200,
			SampleSize: 256,
			Seed:       42,
		},
		Windows: []string{"1d", "7d", "30d"},
	}
}

// DefaultConfig returns a configuration for a single-node deployment:
// SQLite, in-memory cache and the channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pipeline: PipelineConfig{
			Events:      "./data/transactions.csv",
			Entities:    "./data/clients.csv",
			CountryRisk: "./data/country_risk.csv",
			Watchlist:   "./data/watchlist.csv",
			OutputDir:   "./outputs",
		},
		Policy: DefaultPolicy(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
			SampleRatio: 1.0,
		},
	}
}
