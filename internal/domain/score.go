package domain

import "time"

// Tier is a discrete risk bucket derived from a score.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// Rank orders tiers so that Low < Medium < High.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// MatchResult is the outcome of screening one name against the watchlist.
type MatchResult struct {
	PEPMatch      bool    `json:"pepMatch"`
	SanctionMatch bool    `json:"sanctionMatch"`
	Similarity    float64 `json:"similarity"`
	Exact         bool    `json:"exact"`
	MatchedName   string  `json:"matchedName,omitempty"`
}

// Matched reports whether any watchlist type was hit.
func (m MatchResult) Matched() bool {
	return m.PEPMatch || m.SanctionMatch
}

// ScoreRecord is one row of the scored output table.
type ScoreRecord struct {
	RowIndex  int        `json:"rowIndex"`
	EntityID  string     `json:"entityId"`
	EventID   string     `json:"eventId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	Score        float64  `json:"score"`
	RuleScore    float64  `json:"ruleScore"`
	AnomalyScore *float64 `json:"anomalyScore,omitempty"`
	Tier         Tier     `json:"tier"`
	Factors      []string `json:"factors"`

	Match        *MatchResult `json:"match,omitempty"`
	QualityFlags []string     `json:"qualityFlags,omitempty"`

	Features   map[string]float64 `json:"features,omitempty"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	Label      *int               `json:"label,omitempty"`
}

// RunKind selects the pipeline flavour.
type RunKind string

const (
	RunKindAML RunKind = "aml"
	RunKindKYC RunKind = "kyc"
)

// Run status values.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Manifest summarises a completed run.
type Manifest struct {
	RunID         string         `json:"runId"`
	Kind          RunKind        `json:"kind"`
	Model         string         `json:"model"`
	PolicyVersion string         `json:"policyVersion"`
	CreatedAt     time.Time      `json:"createdAtUtc"`
	Rows          int            `json:"rows"`
	TierCounts    map[Tier]int   `json:"tierCounts"`
	DQSummary     DQSummary      `json:"dqSummary"`
	Backtest      []RuleBacktest `json:"backtest,omitempty"`
	ConfigPath    string         `json:"configPath,omitempty"`
	DurationMs    int64          `json:"durationMs"`
}

// DQSummary counts rows carrying data-quality flags.
type DQSummary struct {
	WithIssues int `json:"withIssues"`
}

// Run is a persisted pipeline execution.
type Run struct {
	ID        string    `json:"id"`
	Kind      RunKind   `json:"kind"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Manifest  *Manifest `json:"manifest,omitempty"`
}

// RuleBacktest compares one rule (or the combined flag) to labels.
// Precision and Recall are nil when their denominator is zero.
type RuleBacktest struct {
	Rule      string   `json:"rule"`
	TP        int      `json:"tp"`
	FP        int      `json:"fp"`
	FN        int      `json:"fn"`
	TN        int      `json:"tn"`
	Precision *float64 `json:"precision"`
	Recall    *float64 `json:"recall"`
}
