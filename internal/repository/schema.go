package repository

// Schema definitions for the Heron run store.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    created_at TEXT NOT NULL,
    manifest TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// schemaScoreRecords holds one row per scored event or entity.
// List-valued columns are stored as JSON text.
const schemaScoreRecords = `
CREATE TABLE IF NOT EXISTS score_records (
    run_id TEXT NOT NULL,
    row_index INTEGER NOT NULL,
    entity_id TEXT NOT NULL,
    event_id TEXT,
    ts TEXT,
    score REAL NOT NULL,
    rule_score REAL NOT NULL,
    anomaly_score REAL,
    tier TEXT NOT NULL,
    factors TEXT NOT NULL,
    match_result TEXT,
    quality_flags TEXT,
    PRIMARY KEY (run_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_score_records_tier ON score_records(run_id, tier);
CREATE INDEX IF NOT EXISTS idx_score_records_entity ON score_records(run_id, entity_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaScoreRecords,
	}
}
