// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for run persistence.
type Repository interface {
	// Run operations
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Score operations
	SaveScores(ctx context.Context, runID string, records []ScoreRecord) error
	ListScores(ctx context.Context, runID string, filter ScoreFilter) ([]ScoreRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ScoreFilter narrows ListScores.
type ScoreFilter struct {
	Tier  Tier
	Limit int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort" json:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser" json:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword" json:"-"`
	PostgresDB       string `mapstructure:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `mapstructure:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime" json:"connMaxLifetime"`
}
