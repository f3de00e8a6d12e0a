package fuse

import "fmt"

// AdditiveFuse sums per-source min-max normalized scores by id.
//
// A single set is returned exactly as given, unnormalized and in input order.
// With two or more sets each source is scaled with MinMaxNormalize
// (ε = DefaultEpsilon); an id absent from a source contributes nothing for it.
// Path, frame and source of a row come from the id's first occurrence.
func AdditiveFuse(sets []CandidateSet) ([]Result, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no candidate sets", ErrInvalidInput)
	}
	if len(sets) == 1 {
		set := sets[0]
		out := make([]Result, len(set.Candidates))
		for i, c := range set.Candidates {
			out[i] = resultFrom(c, set.source(c), c.Score)
		}
		return out, nil
	}

	acc := newAccumulator[int64](totalCandidates(sets))
	for _, set := range sets {
		normalized := MinMaxNormalize(set.Scores(), DefaultEpsilon)
		for i, c := range set.Candidates {
			acc.Add(c.ID, c, set.source(c), normalized[i])
		}
	}

	fused := acc.Results(nil)
	sortResults(fused)
	return fused, nil
}
