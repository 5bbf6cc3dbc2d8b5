// Package anomaly scores rows with an isolation forest.
package anomaly

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Defaults match the common isolation forest setup.
const (
	DefaultTrees      = 200
	DefaultSampleSize = 256

	// NoSignal is returned for every row when there is too little data to fit.
	NoSignal = 0.5
)

const eulerGamma = 0.5772156649015329

// Config configures a forest.
type Config struct {
	Trees      int
	SampleSize int
}

func (c Config) withDefaults() Config {
	if c.Trees <= 0 {
		c.Trees = DefaultTrees
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	return c
}

// Forest is a fitted isolation forest.
type Forest struct {
	trees    []*node
	psi      int
	cPsi     float64
	features int
}

type node struct {
	feature     int
	split       float64
	left, right *node
	size        int // leaf only
}

func (n *node) leaf() bool { return n.left == nil }

// Fit grows cfg.Trees trees, each on a subsample of min(SampleSize, n) rows
// drawn without replacement, with height limit ceil(log2 psi). Every random
// choice comes from rng. X must be non-empty and rectangular.
func Fit(X [][]float64, cfg Config, rng *rand.Rand) (*Forest, error) {
	cfg = cfg.withDefaults()
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot fit on zero rows")
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
		}
	}

	psi := min(cfg.SampleSize, len(X))
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	f := &Forest{
		trees:    make([]*node, cfg.Trees),
		psi:      psi,
		cPsi:     averagePathLength(psi),
		features: width,
	}

	for t := range f.trees {
		idx := rng.Perm(len(X))[:psi]
		f.trees[t] = grow(X, idx, 0, limit, rng)
	}
	return f, nil
}

// grow builds a subtree. A node becomes a leaf at the height limit, with at
// most one row, or when every feature is constant over its rows.
func grow(X [][]float64, idx []int, depth, limit int, rng *rand.Rand) *node {
	if depth >= limit || len(idx) <= 1 {
		return &node{size: len(idx)}
	}

	for _, feat := range rng.Perm(len(X[0])) {
		lo, hi := X[idx[0]][feat], X[idx[0]][feat]
		for _, i := range idx[1:] {
			v := X[i][feat]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if lo == hi {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)

		// Partition in place: rows <= split go left.
		p := 0
		for k, i := range idx {
			if X[i][feat] <= split {
				idx[p], idx[k] = idx[k], idx[p]
				p++
			}
		}

		return &node{
			feature: feat,
			split:   split,
			left:    grow(X, idx[:p], depth+1, limit, rng),
			right:   grow(X, idx[p:], depth+1, limit, rng),
		}
	}

	return &node{size: len(idx)}
}

// Score returns 2^(-E[h(x)]/c(psi)). Higher is more anomalous; values near
// 0.5 carry no signal.
func (f *Forest) Score(x []float64) float64 {
	var total float64
	for _, t := range f.trees {
		total += pathLength(x, t, 0)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/f.cPsi)
}

func pathLength(x []float64, n *node, depth int) float64 {
	for !n.leaf() {
		if x[n.feature] <= n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST
// search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// FitScore fits a forest on X and scores every row of X.
// Zero rows yield an empty slice; fewer than two rows, or no columns,
// yield NoSignal for every row.
func FitScore(X [][]float64, cfg Config, rng *rand.Rand) ([]float64, error) {
	scores := make([]float64, len(X))
	if len(X) == 0 {
		return scores, nil
	}
	if len(X) < 2 || len(X[0]) == 0 {
		for i := range scores {
			scores[i] = NoSignal
		}
		return scores, nil
	}

	f, err := Fit(X, cfg, rng)
	if err != nil {
		return nil, err
	}
	for i, row := range X {
		scores[i] = f.Score(row)
	}
	return scores, nil
}

// NewRand returns the generator used for a fit with the given seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// Matrix extracts cols from each row. Missing, NaN and infinite values
// become 0.
func Matrix(rows []map[string]float64, cols []string) [][]float64 {
	X := make([][]float64, len(rows))
	for i, r := range rows {
		x := make([]float64, len(cols))
		for j, c := range cols {
			v := r[c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			x[j] = v
		}
		X[i] = x
	}
	return X
}
