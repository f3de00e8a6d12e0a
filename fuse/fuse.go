package fuse

import (
	"fmt"
	"sort"
)

// Candidate represents a ranked item returned by a single retrieval source.
type Candidate struct {
	ID         int64
	Path       string
	FrameIndex int
	Score      float64
	// Rank is the 1-based position within the candidate's own source.
	Rank   int
	Source string
}

// CandidateSet represents the ordered results from a single source.
type CandidateSet struct {
	Source     string
	Candidates []Candidate
}

// Result is one row of a fused ranking.
type Result struct {
	ID         int64
	Path       string
	FrameIndex int
	Score      float64
	Source     string
}

// FromColumns builds a CandidateSet from parallel arrays. Scores and ids are
// required; paths, frames and ranks may be nil. A nil ranks slice yields
// positional ranks.
func FromColumns(source string, scores []float64, ids []int64, paths []string, frames []int, ranks []int) (CandidateSet, error) {
	n := len(scores)
	if len(ids) != n {
		return CandidateSet{}, fmt.Errorf("%w: source %q has %d scores and %d ids", ErrInvalidInput, source, n, len(ids))
	}
	if paths != nil && len(paths) != n {
		return CandidateSet{}, fmt.Errorf("%w: source %q has %d scores and %d paths", ErrInvalidInput, source, n, len(paths))
	}
	if frames != nil && len(frames) != n {
		return CandidateSet{}, fmt.Errorf("%w: source %q has %d scores and %d frame indices", ErrInvalidInput, source, n, len(frames))
	}
	if ranks != nil && len(ranks) != n {
		return CandidateSet{}, fmt.Errorf("%w: source %q has %d scores and %d ranks", ErrInvalidInput, source, n, len(ranks))
	}

	set := CandidateSet{
		Source:     source,
		Candidates: make([]Candidate, n),
	}
	for i := 0; i < n; i++ {
		c := Candidate{
			ID:     ids[i],
			Score:  scores[i],
			Rank:   i + 1,
			Source: source,
		}
		if paths != nil {
			c.Path = paths[i]
		}
		if frames != nil {
			c.FrameIndex = frames[i]
		}
		if ranks != nil {
			c.Rank = ranks[i]
		}
		set.Candidates[i] = c
	}
	return set, nil
}

// Scores returns the score column of the set.
func (s CandidateSet) Scores() []float64 {
	out := make([]float64, len(s.Candidates))
	for i, c := range s.Candidates {
		out[i] = c.Score
	}
	return out
}

func (s CandidateSet) source(c Candidate) string {
	if c.Source != "" {
		return c.Source
	}
	return s.Source
}

func resultFrom(c Candidate, source string, score float64) Result {
	return Result{
		ID:         c.ID,
		Path:       c.Path,
		FrameIndex: c.FrameIndex,
		Score:      score,
		Source:     source,
	}
}

// sortResults orders results by descending score. Equal scores keep their
// incoming order.
func sortResults(items []Result) {
	if len(items) <= 1 {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}

func totalCandidates(sets []CandidateSet) int {
	n := 0
	for _, s := range sets {
		n += len(s.Candidates)
	}
	return n
}
