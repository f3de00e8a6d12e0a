package fuse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdditiveFuseSingleSourceUnchanged(t *testing.T) {
	set := mustColumns(t, "clip", []float64{0.9, 0.1}, []int64{5, 7}, nil)

	fused, err := AdditiveFuse([]CandidateSet{set})
	require.NoError(t, err)
	require.Len(t, fused, 2)
	assert.Equal(t, []int64{5, 7}, ids(fused))
	assert.Equal(t, 0.9, fused[0].Score)
	assert.Equal(t, 0.1, fused[1].Score)
}

func TestAdditiveFuseSingleSourceKeepsInputOrder(t *testing.T) {
	set := mustColumns(t, "clip", []float64{0.1, 0.9}, []int64{7, 5}, nil)

	fused, err := AdditiveFuse([]CandidateSet{set})
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 5}, ids(fused))
}

func TestAdditiveFuseTwoSources(t *testing.T) {
	a := mustColumns(t, "a", []float64{1, 2}, []int64{1, 2}, nil)
	b := mustColumns(t, "b", []float64{3, 4}, []int64{1, 2}, nil)

	fused, err := AdditiveFuse([]CandidateSet{a, b})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, ids(fused))
	assert.InDelta(t, 2.0, fused[0].Score, 1e-5)
	assert.InDelta(t, 0.0, fused[1].Score, 1e-12)
}

func TestAdditiveFuseZeroScoreStillAccumulates(t *testing.T) {
	// id 1 is the minimum of source a (normalized 0) and the maximum of b.
	a := mustColumns(t, "a", []float64{0.2, 0.8}, []int64{1, 2}, nil)
	b := mustColumns(t, "b", []float64{0.9, 0.1}, []int64{1, 3}, nil)

	fused, err := AdditiveFuse([]CandidateSet{a, b})
	require.NoError(t, err)

	scores := map[int64]float64{}
	for _, r := range fused {
		scores[r.ID] = r.Score
	}
	na := MinMaxNormalize(a.Scores(), DefaultEpsilon)
	nb := MinMaxNormalize(b.Scores(), DefaultEpsilon)
	assert.InDelta(t, na[0]+nb[0], scores[1], 1e-12)
	assert.InDelta(t, na[1], scores[2], 1e-12)
	assert.InDelta(t, nb[1], scores[3], 1e-12)
	assertNonIncreasing(t, fused)
}

func TestAdditiveFuseAbsentIDNotPenalized(t *testing.T) {
	a := mustColumns(t, "a", []float64{0, 10}, []int64{1, 2}, nil)
	b := mustColumns(t, "b", []float64{0, 10}, []int64{3, 4}, nil)

	fused, err := AdditiveFuse([]CandidateSet{a, b})
	require.NoError(t, err)
	require.Len(t, fused, 4)
	assert.Equal(t, []int64{2, 4, 1, 3}, ids(fused))
}

func TestAdditiveFuseCarriesFirstOccurrence(t *testing.T) {
	a := mustColumns(t, "a", []float64{1, 2}, []int64{1, 2}, []string{"a1", "a2"})
	b := mustColumns(t, "b", []float64{3, 4}, []int64{2, 1}, []string{"b2", "b1"})

	fused, err := AdditiveFuse([]CandidateSet{a, b})
	require.NoError(t, err)
	for _, r := range fused {
		assert.Equal(t, "a", r.Source)
	}
}

func TestAdditiveFuseEmpty(t *testing.T) {
	_, err := AdditiveFuse(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}
