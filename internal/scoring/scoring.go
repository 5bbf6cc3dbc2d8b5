// Package scoring blends rule and anomaly scores and maps scores to tiers.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/heron/internal/domain"
)

// Tierer maps a score to a tier with static cutoffs.
type Tierer struct {
	cutoffs domain.TierCutoffs
}

// NewTierer rejects a medium cutoff above the high cutoff.
func NewTierer(c domain.TierCutoffs) (*Tierer, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Tierer{cutoffs: c}, nil
}

// Tier returns High at or above the high cutoff, Medium at or above the
// medium cutoff, Low otherwise. NaN is Low.
func (t *Tierer) Tier(score float64) domain.Tier {
	switch {
	case score >= t.cutoffs.High:
		return domain.TierHigh
	case score >= t.cutoffs.Medium:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

// Cutoffs returns the configured cutoffs.
func (t *Tierer) Cutoffs() domain.TierCutoffs {
	return t.cutoffs
}

// Hybrid blends anomaly and rule scores: alpha*anomaly + (1-alpha)*rule.
type Hybrid struct {
	alpha float64
}

// NewHybrid rejects alpha outside [0, 1].
func NewHybrid(alpha float64) (*Hybrid, error) {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("%w: hybrid alpha %v outside [0, 1]", domain.ErrInvalidPolicy, alpha)
	}
	return &Hybrid{alpha: alpha}, nil
}

// Combine returns the blended score.
func (h *Hybrid) Combine(anomaly, rule float64) float64 {
	return h.alpha*anomaly + (1-h.alpha)*rule
}

// Alpha returns the anomaly weight.
func (h *Hybrid) Alpha() float64 {
	return h.alpha
}

// TierCounts tallies records per tier. All three tiers are always present.
func TierCounts(records []domain.ScoreRecord) map[domain.Tier]int {
	counts := map[domain.Tier]int{
		domain.TierLow:    0,
		domain.TierMedium: 0,
		domain.TierHigh:   0,
	}
	for _, r := range records {
		counts[r.Tier]++
	}
	return counts
}
