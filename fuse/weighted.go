package fuse

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
)

// WeightedConfig controls the combined ranking score.
type WeightedConfig struct {
	// Alpha weights the pure rank term 1/(K+rank).
	Alpha float64
	// Beta weights the score term normalized/(K+rank).
	Beta float64
	// K smooths the reciprocal rank. Zero selects the default of 60.
	K int
	// TopK truncates the output when positive.
	TopK int
}

// DefaultWeightedConfig returns the conventional weights.
func DefaultWeightedConfig() WeightedConfig {
	return WeightedConfig{
		Alpha: 0.5,
		Beta:  0.5,
		K:     60,
	}
}

// CombinedRankingScore is alpha/(k+rank) + beta*normalized/(k+rank).
func CombinedRankingScore(alpha, beta float64, k, rank int, normalized float64) float64 {
	denom := float64(k + rank)
	return alpha/denom + beta*normalized/denom
}

// WeightedFuse fuses all sets into one table keyed by path.
//
// Scores are min-max scaled across the whole concatenated table with
// MinMaxOrZero, so a table whose scores are all equal contributes only the
// rank term. Rows sharing a path sum their combined ranking scores; id, frame
// and source come from the first row seen for that path. The empty path means
// "no result" and is dropped.
func WeightedFuse(sets []CandidateSet, cfg WeightedConfig) ([]Result, error) {
	if len(sets) == 0 {
		return []Result{}, fmt.Errorf("%w: no candidate sets", ErrInvalidInput)
	}
	if cfg.K == 0 {
		cfg.K = DefaultWeightedConfig().K
	}
	if cfg.K < 0 {
		return []Result{}, fmt.Errorf("%w: k %d must not be negative", ErrInvalidInput, cfg.K)
	}
	if cfg.TopK < 0 {
		return []Result{}, fmt.Errorf("%w: topk must not be negative", ErrInvalidInput)
	}

	n := totalCandidates(sets)
	if n == 0 {
		return []Result{}, nil
	}

	rows := make([]Candidate, 0, n)
	sources := make([]string, 0, n)
	scores := make([]float64, 0, n)
	denoms := make([]float64, 0, n)
	for _, set := range sets {
		for _, c := range set.Candidates {
			if c.Rank < 1 {
				return []Result{}, fmt.Errorf("%w: source %q id %d has rank %d", ErrInvalidInput, set.Source, c.ID, c.Rank)
			}
			if cfg.K > math.MaxInt-c.Rank {
				return []Result{}, fmt.Errorf("%w: k %d + rank %d overflows", ErrInvalidInput, cfg.K, c.Rank)
			}
			rows = append(rows, c)
			sources = append(sources, set.source(c))
			scores = append(scores, c.Score)
			denoms = append(denoms, float64(cfg.K+c.Rank))
		}
	}

	// crs = (alpha + beta*normalized) / (k+rank)
	crs := MinMaxOrZero(scores)
	vek.MulNumber_Inplace(crs, cfg.Beta)
	vek.AddNumber_Inplace(crs, cfg.Alpha)
	vek.Div_Inplace(crs, denoms)

	acc := newAccumulator[string](n)
	for i, c := range rows {
		acc.Add(c.Path, c, sources[i], crs[i])
	}

	fused := acc.Results(func(path string) bool { return path == "" })
	sortResults(fused)

	if cfg.TopK > 0 && len(fused) > cfg.TopK {
		fused = fused[:cfg.TopK]
	}
	return fused, nil
}
