// Package config loads the Heron configuration document.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. HERON_SERVER_PORT.
const EnvPrefix = "HERON"

// Load reads configuration from path, or from heron.yaml in the working
// directory or ./configs when path is empty. Environment variables override
// file values and every key has a default from domain.DefaultConfig.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	setDefaults(v, domain.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("heron")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects policies that cannot produce scores.
func Validate(cfg *domain.Config) error {
	p := cfg.Policy
	if err := p.Tiers.Validate(); err != nil {
		return fmt.Errorf("policy.tiers: %w", err)
	}
	if err := p.Hybrid.Tiers.Validate(); err != nil {
		return fmt.Errorf("policy.hybrid.tiers: %w", err)
	}
	if math.IsNaN(p.Hybrid.Alpha) || p.Hybrid.Alpha < 0 || p.Hybrid.Alpha > 1 {
		return fmt.Errorf("%w: policy.hybrid.alpha %v outside [0, 1]", domain.ErrInvalidPolicy, p.Hybrid.Alpha)
	}
	if t := p.FuzzyMatch.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: policy.fuzzyMatch.similarityThreshold %v outside [0, 1]", domain.ErrInvalidPolicy, t)
	}
	if p.Anomaly.Trees < 0 || p.Anomaly.SampleSize < 0 {
		return fmt.Errorf("%w: policy.anomaly sizes must not be negative", domain.ErrInvalidPolicy)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *domain.Config) {
	// Server
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.readTimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", d.Server.WriteTimeout)

	// Repository
	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlitePath", d.Repository.SQLitePath)
	v.SetDefault("repository.postgresHost", "localhost")
	v.SetDefault("repository.postgresPort", 5432)
	v.SetDefault("repository.postgresUser", "")
	v.SetDefault("repository.postgresPassword", "")
	v.SetDefault("repository.postgresDb", "heron")
	v.SetDefault("repository.postgresSslMode", "disable")
	v.SetDefault("repository.maxOpenConns", 0)
	v.SetDefault("repository.maxIdleConns", 0)
	v.SetDefault("repository.connMaxLifetime", "0s")

	// Cache
	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.localMaxSize", d.Cache.LocalMaxSize)
	v.SetDefault("cache.localTtl", d.Cache.LocalTTL)
	v.SetDefault("cache.redisAddr", "localhost:6379")
	v.SetDefault("cache.redisPassword", "")
	v.SetDefault("cache.redisDb", 0)
	v.SetDefault("cache.enableTwoPhase", false)

	// Event bus
	v.SetDefault("eventBus.type", d.EventBus.Type)
	v.SetDefault("eventBus.channelBufferSize", d.EventBus.ChannelBufferSize)
	v.SetDefault("eventBus.natsUrl", "nats://localhost:4222")
	v.SetDefault("eventBus.natsToken", "")
	v.SetDefault("eventBus.natsMaxReconnects", 10)
	v.SetDefault("eventBus.natsReconnectWait", 5)

	v.SetDefault("worker.enabled", d.Worker.Enabled)
	v.SetDefault("worker.configDir", d.Worker.ConfigDir)

	// Pipeline inputs and outputs
	v.SetDefault("pipeline.events", d.Pipeline.Events)
	v.SetDefault("pipeline.entities", d.Pipeline.Entities)
	v.SetDefault("pipeline.countryRisk", d.Pipeline.CountryRisk)
	v.SetDefault("pipeline.watchlist", d.Pipeline.Watchlist)
	v.SetDefault("pipeline.outputDir", d.Pipeline.OutputDir)
	v.SetDefault("pipeline.asOf", d.Pipeline.AsOf)

	// Policy
	p := d.Policy
	v.SetDefault("policy.version", p.Version)
	v.SetDefault("policy.weights", anyMap(p.Weights))
	v.SetDefault("policy.thresholds", anyMap(p.Thresholds))
	v.SetDefault("policy.tiers.high", p.Tiers.High)
	v.SetDefault("policy.tiers.medium", p.Tiers.Medium)
	v.SetDefault("policy.fuzzyMatch.enabled", p.FuzzyMatch.Enabled)
	v.SetDefault("policy.fuzzyMatch.similarityThreshold", p.FuzzyMatch.SimilarityThreshold)
	v.SetDefault("policy.fuzzyMatch.mode", p.FuzzyMatch.Mode)
	v.SetDefault("policy.fuzzyMatch.blocking", p.FuzzyMatch.Blocking)
	v.SetDefault("policy.fuzzyMatch.cacheTtl", p.FuzzyMatch.CacheTTL)
	v.SetDefault("policy.hybrid.alpha", p.Hybrid.Alpha)
	v.SetDefault("policy.hybrid.tiers.high", p.Hybrid.Tiers.High)
	v.SetDefault("policy.hybrid.tiers.medium", p.Hybrid.Tiers.Medium)
	v.SetDefault("policy.hybrid.flagThreshold", p.Hybrid.FlagThreshold)
	v.SetDefault("policy.anomaly.trees", p.Anomaly.Trees)
	v.SetDefault("policy.anomaly.sampleSize", p.Anomaly.SampleSize)
	v.SetDefault("policy.anomaly.seed", p.Anomaly.Seed)
	v.SetDefault("policy.windows", p.Windows)
	v.SetDefault("policy.ruleCatalog", "")
	v.SetDefault("policy.scorecardCatalog", "")

	// Observability
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.serviceName", d.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.sampleRatio", d.Tracing.SampleRatio)
}

// anyMap lets viper flatten map defaults so a file can override single keys.
func anyMap(m map[string]float64) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out
}
