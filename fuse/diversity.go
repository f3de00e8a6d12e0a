package fuse

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
)

// DiversityConfig controls maximal marginal relevance selection.
type DiversityConfig struct {
	// Lambda balances relevance (1.0) against novelty (0.0).
	Lambda float64
	// TopK is the number of candidates to select.
	TopK int
}

// DefaultDiversityConfig returns an even relevance/novelty balance.
func DefaultDiversityConfig() DiversityConfig {
	return DiversityConfig{
		Lambda: 0.5,
		TopK:   5,
	}
}

// Validate reports whether the config can select from n candidates.
func (c DiversityConfig) Validate(n int) error {
	if math.IsNaN(c.Lambda) || c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("%w: lambda %v outside [0,1]", ErrInvalidInput, c.Lambda)
	}
	if c.TopK < 1 {
		return fmt.Errorf("%w: top_k must be positive", ErrInvalidInput)
	}
	if c.TopK > n {
		return fmt.Errorf("%w: top_k %d exceeds %d candidates", ErrInvalidInput, c.TopK, n)
	}
	return nil
}

// SelectDiverse greedily picks cfg.TopK distinct indices into docs using
// maximal marginal relevance:
//
//	mmr(i) = lambda*cos(query, doc_i) - (1-lambda)*max_{s in picked} cos(doc_i, doc_s)
//
// The first pick is the most relevant document. Ties go to the lowest index.
func SelectDiverse(query []float64, docs [][]float64, cfg DiversityConfig) ([]int, error) {
	n := len(docs)
	if n == 0 {
		return nil, fmt.Errorf("%w: no candidate embeddings", ErrInvalidInput)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrInvalidInput)
	}
	for i, d := range docs {
		if len(d) != len(query) {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, query has %d", ErrInvalidInput, i, len(d), len(query))
		}
	}
	if err := cfg.Validate(n); err != nil {
		return nil, err
	}

	q := unit(query)
	units := make([][]float64, n)
	for i, d := range docs {
		units[i] = unit(d)
	}

	relevance := make([]float64, n)
	for i, u := range units {
		relevance[i] = vek.Dot(q, u)
	}
	sim := pairwiseSimilarity(units)

	picked := make([]int, 0, cfg.TopK)
	taken := make([]bool, n)
	// redundancy[i] is the max similarity of i to any picked candidate.
	redundancy := make([]float64, n)

	first := argmax(relevance, taken)
	picked = append(picked, first)
	taken[first] = true
	for i := range redundancy {
		redundancy[i] = sim[i][first]
	}

	scores := make([]float64, n)
	for len(picked) < cfg.TopK {
		for i := range scores {
			scores[i] = cfg.Lambda*relevance[i] - (1-cfg.Lambda)*redundancy[i]
		}
		next := argmax(scores, taken)
		picked = append(picked, next)
		taken[next] = true
		for i := range redundancy {
			if s := sim[i][next]; s > redundancy[i] {
				redundancy[i] = s
			}
		}
	}
	return picked, nil
}

// Rerank reorders fused results with SelectDiverse and also returns the picked
// indices. embeddings[i] belongs to results[i].
func Rerank(results []Result, query []float64, embeddings [][]float64, cfg DiversityConfig) ([]Result, []int, error) {
	if len(results) != len(embeddings) {
		return nil, nil, fmt.Errorf("%w: %d results and %d embeddings", ErrInvalidInput, len(results), len(embeddings))
	}
	order, err := SelectDiverse(query, embeddings, cfg)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Result, len(order))
	for i, idx := range order {
		out[i] = results[idx]
	}
	return out, order, nil
}

// unit returns v scaled to unit length; a zero vector stays zero.
func unit(v []float64) []float64 {
	norm := vek.Norm(v)
	if norm == 0 {
		return make([]float64, len(v))
	}
	return vek.DivNumber(v, norm)
}

func pairwiseSimilarity(units [][]float64) [][]float64 {
	n := len(units)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		sim[i][i] = vek.Dot(units[i], units[i])
		for j := i + 1; j < n; j++ {
			s := vek.Dot(units[i], units[j])
			sim[i][j] = s
			sim[j][i] = s
		}
	}
	return sim
}

// argmax returns the lowest index holding the maximum among untaken entries.
func argmax(values []float64, taken []bool) int {
	best := -1
	for i, v := range values {
		if taken[i] {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return best
}
