// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun inserts a run or updates its status and manifest.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	var manifest sql.NullString
	if run.Manifest != nil {
		data, err := json.Marshal(run.Manifest)
		if err != nil {
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		manifest = sql.NullString{String: string(data), Valid: true}
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO runs (id, kind, status, error, created_at, manifest)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			manifest = excluded.manifest
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, string(run.Kind), run.Status, run.Error,
		formatTime(createdAt), manifest,
	)
	return err
}

// GetRun retrieves a run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	query := `
		SELECT id, kind, status, error, created_at, manifest
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, kind, status, error, created_at, manifest
		FROM runs
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveScores replaces the score rows of a run in a single transaction.
func (r *SQLRepository) SaveScores(ctx context.Context, runID string, records []domain.ScoreRecord) error {
	if runID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM score_records WHERE run_id = ?`), runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO score_records (
			run_id, row_index, entity_id, event_id, ts,
			score, rule_score, anomaly_score, tier,
			factors, match_result, quality_flags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]

		factors, err := json.Marshal(nonNil(rec.Factors))
		if err != nil {
			return err
		}

		var ts, match, flags sql.NullString
		if rec.Timestamp != nil {
			ts = sql.NullString{String: formatTime(*rec.Timestamp), Valid: true}
		}
		if rec.Match != nil {
			data, err := json.Marshal(rec.Match)
			if err != nil {
				return err
			}
			match = sql.NullString{String: string(data), Valid: true}
		}
		if len(rec.QualityFlags) > 0 {
			flags = sql.NullString{String: strings.Join(rec.QualityFlags, ";"), Valid: true}
		}

		var anomaly sql.NullFloat64
		if rec.AnomalyScore != nil {
			anomaly = sql.NullFloat64{Float64: *rec.AnomalyScore, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			runID, rec.RowIndex, rec.EntityID, rec.EventID, ts,
			rec.Score, rec.RuleScore, anomaly, string(rec.Tier),
			string(factors), match, flags,
		); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", rec.RowIndex, err)
		}
	}

	return tx.Commit()
}

// ListScores returns score rows of a run in row order.
func (r *SQLRepository) ListScores(ctx context.Context, runID string, filter domain.ScoreFilter) ([]domain.ScoreRecord, error) {
	query := `
		SELECT row_index, entity_id, event_id, ts, score, rule_score,
			   anomaly_score, tier, factors, match_result, quality_flags
		FROM score_records
		WHERE run_id = ?
	`
	args := []any{runID}

	if filter.Tier != "" {
		query += " AND tier = ?"
		args = append(args, string(filter.Tier))
	}
	query += " ORDER BY row_index"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ScoreRecord
	for rows.Next() {
		var rec domain.ScoreRecord
		var eventID, ts, match, flags sql.NullString
		var anomaly sql.NullFloat64
		var tier, factors string

		if err := rows.Scan(
			&rec.RowIndex, &rec.EntityID, &eventID, &ts, &rec.Score, &rec.RuleScore,
			&anomaly, &tier, &factors, &match, &flags,
		); err != nil {
			return nil, err
		}

		rec.EventID = eventID.String
		rec.Tier = domain.Tier(tier)
		if ts.Valid {
			t, err := time.Parse(time.RFC3339Nano, ts.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse timestamp of row %d: %w", rec.RowIndex, err)
			}
			rec.Timestamp = &t
		}
		if anomaly.Valid {
			v := anomaly.Float64
			rec.AnomalyScore = &v
		}
		if err := json.Unmarshal([]byte(factors), &rec.Factors); err != nil {
			return nil, fmt.Errorf("failed to parse factors of row %d: %w", rec.RowIndex, err)
		}
		if match.Valid {
			rec.Match = &domain.MatchResult{}
			if err := json.Unmarshal([]byte(match.String), rec.Match); err != nil {
				return nil, fmt.Errorf("failed to parse match of row %d: %w", rec.RowIndex, err)
			}
		}
		if flags.Valid && flags.String != "" {
			rec.QualityFlags = strings.Split(flags.String, ";")
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var kind, createdAt string
	var runErr, manifest sql.NullString

	if err := row.Scan(&run.ID, &kind, &run.Status, &runErr, &createdAt, &manifest); err != nil {
		return nil, err
	}

	run.Kind = domain.RunKind(kind)
	run.Error = runErr.String

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for run %s: %w", run.ID, err)
	}
	run.CreatedAt = t

	if manifest.Valid && manifest.String != "" {
		run.Manifest = &domain.Manifest{}
		if err := json.Unmarshal([]byte(manifest.String), run.Manifest); err != nil {
			return nil, fmt.Errorf("failed to parse manifest for run %s: %w", run.ID, err)
		}
	}

	return &run, nil
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
