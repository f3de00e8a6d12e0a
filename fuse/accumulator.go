package fuse

import "fmt"

type entry[K comparable] struct {
	key   K
	first Candidate
	src   string
	score float64
}

// accumulator sums scores per key and remembers the first candidate seen for
// each key. Iteration follows insertion order.
type accumulator[K comparable] struct {
	index   map[K]int
	entries []entry[K]
}

func newAccumulator[K comparable](capacity int) *accumulator[K] {
	return &accumulator[K]{
		index:   make(map[K]int, capacity),
		entries: make([]entry[K], 0, capacity),
	}
}

// Add adds score to key. A key holding 0 is present and accumulates.
func (a *accumulator[K]) Add(key K, c Candidate, source string, score float64) {
	if idx, exists := a.index[key]; exists {
		a.entries[idx].score += score
		return
	}
	a.index[key] = len(a.entries)
	a.entries = append(a.entries, entry[K]{
		key:   key,
		first: c,
		src:   source,
		score: score,
	})
}

// Score returns the accumulated score for key.
func (a *accumulator[K]) Score(key K) (float64, error) {
	idx, exists := a.index[key]
	if !exists {
		return 0, fmt.Errorf("%w: %v", ErrMissingKey, key)
	}
	return a.entries[idx].score, nil
}

func (a *accumulator[K]) Len() int {
	return len(a.entries)
}

// Results returns one Result per key in insertion order, skipping keys for
// which skip reports true.
func (a *accumulator[K]) Results(skip func(K) bool) []Result {
	out := make([]Result, 0, len(a.entries))
	for _, e := range a.entries {
		if skip != nil && skip(e.key) {
			continue
		}
		out = append(out, resultFrom(e.first, e.src, e.score))
	}
	return out
}
