package rules

import "github.com/opensource-finance/heron/internal/domain"

// CombinedRuleName is the backtest row for the whole catalog's flag.
const CombinedRuleName = "ALL_RULES_COMBINED"

// Backtest compares each rule, and the combined flag score >= flagThreshold,
// with ground-truth labels. Rows without a label are skipped. It returns nil
// when no row is labelled. Precision and recall are nil when undefined.
func Backtest(names []string, results []Result, labels []*int, flagThreshold float64) []domain.RuleBacktest {
	n := min(len(results), len(labels))

	labelled := 0
	for i := 0; i < n; i++ {
		if labels[i] != nil {
			labelled++
		}
	}
	if labelled == 0 {
		return nil
	}

	out := make([]domain.RuleBacktest, 0, len(names)+1)
	for j, name := range names {
		out = append(out, confusion(name, n, labels, func(i int) bool {
			return j < len(results[i].Fired) && results[i].Fired[j]
		}))
	}
	out = append(out, confusion(CombinedRuleName, n, labels, func(i int) bool {
		return results[i].Score >= flagThreshold
	}))
	return out
}

func confusion(name string, n int, labels []*int, predicted func(int) bool) domain.RuleBacktest {
	bt := domain.RuleBacktest{Rule: name}
	for i := 0; i < n; i++ {
		if labels[i] == nil {
			continue
		}
		actual := *labels[i] == 1
		switch p := predicted(i); {
		case p && actual:
			bt.TP++
		case p && !actual:
			bt.FP++
		case !p && actual:
			bt.FN++
		default:
			bt.TN++
		}
	}
	bt.Precision = ratio(bt.TP, bt.TP+bt.FP)
	bt.Recall = ratio(bt.TP, bt.TP+bt.FN)
	return bt
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	r := float64(num) / float64(den)
	return &r
}
