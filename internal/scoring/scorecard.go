package scoring

import (
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// Scorecard is an additive scorecard: the score is the sum of the weights of
// fired catalog conditions, tiered with static cutoffs.
type Scorecard struct {
	engine *rules.Engine
	tierer *Tierer
}

// ScorecardResult is one scored row.
type ScorecardResult struct {
	Score   float64
	Tier    domain.Tier
	Factors []string
	Rules   rules.Result
}

// NewScorecard combines a loaded rule engine with tier cutoffs.
func NewScorecard(engine *rules.Engine, tierer *Tierer) *Scorecard {
	return &Scorecard{engine: engine, tierer: tierer}
}

// Score evaluates one row.
func (s *Scorecard) Score(in rules.Input) ScorecardResult {
	res := s.engine.Evaluate(in)
	return ScorecardResult{
		Score:   res.Score,
		Tier:    s.tierer.Tier(res.Score),
		Factors: res.Factors,
		Rules:   res,
	}
}

// ScoreAll evaluates rows in order.
func (s *Scorecard) ScoreAll(rows []rules.Input) []ScorecardResult {
	results := s.engine.EvaluateAll(rows)
	out := make([]ScorecardResult, len(results))
	for i, res := range results {
		out[i] = ScorecardResult{
			Score:   res.Score,
			Tier:    s.tierer.Tier(res.Score),
			Factors: res.Factors,
			Rules:   res,
		}
	}
	return out
}
