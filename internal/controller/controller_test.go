package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchforge/rankfusion/fuse"
	"github.com/searchforge/rankfusion/internal/contract"
	"github.com/searchforge/rankfusion/internal/logging"
	"github.com/searchforge/rankfusion/policy"
)

func newController(t *testing.T, mutate func(*Config)) *Controller {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := New(cfg)
	require.NoError(t, err)
	return ctrl
}

func twoSourceRequest(strategy string) contract.FuseRequest {
	return contract.FuseRequest{
		Strategy: strategy,
		Sources: []contract.SourceColumns{
			{Source: "clip", Scores: []float64{0.9, 0.1}, IDs: []int64{1, 2}, Paths: []string{"p1", "p2"}},
			{Source: "ocr", Scores: []float64{0.5, 0.3}, IDs: []int64{7, 1}, Paths: []string{"p3", "p1"}},
		},
	}
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestNewRejectsBadDefaults(t *testing.T) {
	_, err := New(Config{DefaultStrategy: "rrf"})
	require.Error(t, err)

	_, err = New(Config{Diversity: fuse.DiversityConfig{Lambda: 2}})
	require.Error(t, err)

	_, err = New(Config{Diversity: fuse.DiversityConfig{Lambda: math.NaN()}})
	require.Error(t, err)

	_, err = New(Config{Weighted: fuse.WeightedConfig{K: -1}})
	require.Error(t, err)

	ctrl, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxBatchQueries, ctrl.MaxBatchQueries())
}

func TestFuseStrategies(t *testing.T) {
	ctrl := newController(t, nil)
	ctx := logging.ContextWithTraceID(context.Background(), "trace-1")

	for _, strategy := range []string{contract.StrategyMerge, contract.StrategyAdditive, contract.StrategyWeighted} {
		t.Run(strategy, func(t *testing.T) {
			resp, err := ctrl.Fuse(ctx, twoSourceRequest(strategy))
			require.NoError(t, err)
			assert.Equal(t, strategy, resp.Strategy)
			assert.Equal(t, contract.RetOK, resp.RetCode)
			assert.Equal(t, "trace-1", resp.TraceID)
			assert.NotEmpty(t, resp.Items)
			for i := 1; i < len(resp.Items); i++ {
				assert.GreaterOrEqual(t, resp.Items[i-1].Score, resp.Items[i].Score)
			}
		})
	}
}

func TestFuseDefaultStrategy(t *testing.T) {
	ctrl := newController(t, func(c *Config) { c.DefaultStrategy = contract.StrategyAdditive })

	resp, err := ctrl.Fuse(context.Background(), twoSourceRequest(""))
	require.NoError(t, err)
	assert.Equal(t, contract.StrategyAdditive, resp.Strategy)
}

func TestFuseRequestOverridesWeightedDefaults(t *testing.T) {
	ctrl := newController(t, nil)
	req := twoSourceRequest(contract.StrategyWeighted)
	req.TopK = intPtr(1)
	req.Alpha = floatPtr(0.4)
	req.Beta = floatPtr(0.6)
	req.K = intPtr(10)

	resp, err := ctrl.Fuse(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "p1", resp.Items[0].Path)

	norm := func(s float64) float64 { return (s - 0.1) / 0.8 }
	want := fuse.CombinedRankingScore(0.4, 0.6, 10, 1, norm(0.9)) + fuse.CombinedRankingScore(0.4, 0.6, 10, 2, norm(0.3))
	assert.InDelta(t, want, resp.Items[0].Score, 1e-12)
}

func TestFuseNormalizesSourceLabels(t *testing.T) {
	ctrl := newController(t, nil)
	req := contract.FuseRequest{
		Strategy: contract.StrategyMerge,
		Sources: []contract.SourceColumns{
			{Source: "  ＣＬＩＰ  model ", Scores: []float64{1}, IDs: []int64{1}},
		},
	}

	resp, err := ctrl.Fuse(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "CLIP model", resp.Items[0].Source)
}

func TestFuseCandidateLimit(t *testing.T) {
	ctrl := newController(t, func(c *Config) { c.MaxCandidates = 3 })

	resp, err := ctrl.Fuse(context.Background(), twoSourceRequest(contract.StrategyMerge))
	require.ErrorIs(t, err, fuse.ErrInvalidInput)
	assert.Equal(t, contract.RetBadRequest, resp.RetCode)
}

func TestFuseErrorsCarryRetCode(t *testing.T) {
	ctrl := newController(t, nil)

	resp, err := ctrl.Fuse(context.Background(), contract.FuseRequest{Strategy: contract.StrategyMerge})
	require.ErrorIs(t, err, fuse.ErrInvalidInput)
	assert.Equal(t, contract.RetBadRequest, resp.RetCode)

	resp, err = ctrl.Fuse(context.Background(), contract.FuseRequest{
		Strategy: contract.StrategyMerge,
		Sources:  []contract.SourceColumns{{Source: "a", Scores: []float64{0, 0}, IDs: []int64{1, 2}}},
	})
	require.ErrorIs(t, err, fuse.ErrNumericDegenerate)
	assert.Equal(t, contract.RetDegenerate, resp.RetCode)
}

func TestFuseUsesCache(t *testing.T) {
	ctrl := newController(t, func(c *Config) { c.CacheTTL = time.Minute })
	req := twoSourceRequest(contract.StrategyWeighted)

	first, err := ctrl.Fuse(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Timings.CacheHit)

	second, err := ctrl.Fuse(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Timings.CacheHit)
	assert.Equal(t, first.Items, second.Items)

	req.TopK = intPtr(1)
	third, err := ctrl.Fuse(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.Timings.CacheHit)
	assert.Len(t, third.Items, 1)
}

func mmrFixture() contract.MMRRequest {
	return contract.MMRRequest{
		Query: []float64{1, 0, 0},
		Embeddings: [][]float64{
			{0.9, 0.1, 0},
			{0.95, 0.05, 0},
			{0.5, 0, 0.5},
			{0, 1, 0},
			{0.8, 0.2, 0.1},
		},
	}
}

func TestRerank(t *testing.T) {
	ctrl := newController(t, func(c *Config) { c.CacheTTL = time.Minute })
	req := mmrFixture()
	req.Lambda = floatPtr(0.5)
	req.TopK = intPtr(2)
	req.Items = []contract.Item{
		{ID: 10, Path: "v/10.jpg", FrameIndex: 3, Score: 0.9, Source: "clip"},
		{ID: 11, Path: "v/11.jpg", FrameIndex: 4, Score: 0.8, Source: "clip"},
		{ID: 12, Path: "v/12.jpg", FrameIndex: 5, Score: 0.7, Source: "ocr"},
		{ID: 13},
		{ID: 14},
	}

	resp, err := ctrl.Rerank(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, resp.Indices)
	assert.Equal(t, []contract.Item{req.Items[1], req.Items[2]}, resp.Items)

	again, err := ctrl.Rerank(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, again.Timings.CacheHit)
	assert.Equal(t, resp.Indices, again.Indices)
	assert.Equal(t, resp.Items, again.Items)

	// same embeddings with different items must not reuse the cached items
	req.Items[1].Path = "v/other.jpg"
	third, err := ctrl.Rerank(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, third.Timings.CacheHit)
	assert.Equal(t, "v/other.jpg", third.Items[0].Path)
}

func TestRerankDefaults(t *testing.T) {
	ctrl := newController(t, func(c *Config) { c.Diversity = fuse.DiversityConfig{Lambda: 1, TopK: 3} })

	resp, err := ctrl.Rerank(context.Background(), mmrFixture())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 4}, resp.Indices)
	assert.Empty(t, resp.Items)
}

func TestRerankRejects(t *testing.T) {
	ctrl := newController(t, func(c *Config) { c.MaxMMRCandidates = 4 })

	resp, err := ctrl.Rerank(context.Background(), mmrFixture())
	require.ErrorIs(t, err, fuse.ErrInvalidInput)
	assert.Equal(t, contract.RetBadRequest, resp.RetCode)

	ctrl = newController(t, nil)
	req := mmrFixture()
	req.Items = []contract.Item{{ID: 1}}
	_, err = ctrl.Rerank(context.Background(), req)
	require.ErrorIs(t, err, fuse.ErrInvalidInput)

	req = mmrFixture()
	req.Lambda = floatPtr(-1)
	_, err = ctrl.Rerank(context.Background(), req)
	require.ErrorIs(t, err, fuse.ErrInvalidInput)
}

func TestNormalize(t *testing.T) {
	ctrl := newController(t, nil)

	resp, err := ctrl.Normalize(context.Background(), contract.NormalizeRequest{Mode: "minmax_zero", Scores: []float64{2, 2}})
	require.NoError(t, err)
	assert.Equal(t, "minmax_zero", resp.Mode)
	assert.Equal(t, []float64{0, 0}, resp.Scores)

	resp, err = ctrl.Normalize(context.Background(), contract.NormalizeRequest{Mode: "nope"})
	require.ErrorIs(t, err, fuse.ErrInvalidInput)
	assert.Equal(t, contract.RetBadRequest, resp.RetCode)
}

func TestFuseBatch(t *testing.T) {
	ctrl := newController(t, nil)
	bad := contract.FuseRequest{
		Strategy: contract.StrategyMerge,
		Sources:  []contract.SourceColumns{{Source: "a", Scores: []float64{0}, IDs: []int64{1}}},
	}
	req := contract.BatchRequest{Queries: []contract.FuseRequest{
		twoSourceRequest(contract.StrategyWeighted),
		bad,
		twoSourceRequest(contract.StrategyMerge),
	}}

	resp, err := ctrl.FuseBatch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, contract.RetOK, resp.RetCode)
	assert.True(t, resp.Degraded)

	for i, r := range resp.Results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, contract.StrategyWeighted, resp.Results[0].Response.Strategy)
	assert.Equal(t, contract.RetDegenerate, resp.Results[1].RetCode)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Equal(t, contract.StrategyMerge, resp.Results[2].Response.Strategy)
}

func TestFuseBatchBudgetExhausted(t *testing.T) {
	ctrl := newController(t, nil)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	resp, err := ctrl.FuseBatch(ctx, contract.BatchRequest{Queries: []contract.FuseRequest{
		twoSourceRequest(contract.StrategyMerge),
		twoSourceRequest(contract.StrategyAdditive),
	}})
	require.NoError(t, err)
	assert.Equal(t, contract.RetBudgetExceeded, resp.RetCode)
	assert.True(t, resp.Degraded)
	for _, r := range resp.Results {
		assert.Equal(t, contract.RetBudgetExceeded, r.RetCode)
		assert.Nil(t, r.Response)
	}
}

func TestFuseBatchTooManyQueries(t *testing.T) {
	ctrl := newController(t, func(c *Config) { c.MaxBatchQueries = 1 })

	_, err := ctrl.FuseBatch(context.Background(), contract.BatchRequest{Queries: []contract.FuseRequest{
		twoSourceRequest(contract.StrategyMerge),
		twoSourceRequest(contract.StrategyMerge),
	}})
	require.ErrorIs(t, err, fuse.ErrInvalidInput)
}

func TestPing(t *testing.T) {
	ctrl := newController(t, nil)
	require.NoError(t, ctrl.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, ctrl.Ping(ctx))
}

func TestRetCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, contract.RetOK},
		{fmt.Errorf("wrap: %w", fuse.ErrInvalidInput), contract.RetBadRequest},
		{fuse.ErrMissingKey, contract.RetBadRequest},
		{fuse.ErrNumericDegenerate, contract.RetDegenerate},
		{policy.ErrBudgetExceeded, contract.RetBudgetExceeded},
		{context.DeadlineExceeded, contract.RetBudgetExceeded},
		{policy.ErrRateLimited, contract.RetRateLimited},
		{errors.New("boom"), contract.RetInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RetCode(tt.err), "%v", tt.err)
	}
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "", normalizeLabel("   "))
	assert.Equal(t, "clip", normalizeLabel("clip"))
	assert.Equal(t, "ABC 1", normalizeLabel(" ＡＢＣ　１ "))
}
