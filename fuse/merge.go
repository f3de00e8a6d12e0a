package fuse

import "fmt"

// MergeByIdentity L2-normalizes each source independently, concatenates the
// sources and keeps the highest-scoring occurrence of every id. Exact ties
// resolve to the earlier position in the concatenation.
func MergeByIdentity(sets []CandidateSet) ([]Result, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no candidate sets", ErrInvalidInput)
	}

	all := make([]Result, 0, totalCandidates(sets))
	for _, set := range sets {
		normalized, err := L2Normalize(set.Scores())
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", set.Source, err)
		}
		for i, c := range set.Candidates {
			all = append(all, resultFrom(c, set.source(c), normalized[i]))
		}
	}

	sortResults(all)

	seen := make(map[int64]struct{}, len(all))
	merged := all[:0]
	for _, r := range all {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		merged = append(merged, r)
	}
	return merged, nil
}
