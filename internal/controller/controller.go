package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/searchforge/rankfusion/fuse"
	"github.com/searchforge/rankfusion/internal/contract"
	"github.com/searchforge/rankfusion/internal/logging"
	"github.com/searchforge/rankfusion/obs"
	"github.com/searchforge/rankfusion/policy"
)

const tracerName = "github.com/searchforge/rankfusion/internal/controller"

// Config groups controller defaults and limits.
type Config struct {
	DefaultStrategy string
	Weighted        fuse.WeightedConfig
	Diversity       fuse.DiversityConfig
	// MaxCandidates caps rows per fusion request.
	MaxCandidates int
	// MaxMMRCandidates caps embeddings per re-rank request.
	MaxMMRCandidates int
	CacheTTL         time.Duration
	CacheMaxEntries  int
	BatchBudgetMS    int
	BatchConcurrency int
	MaxBatchQueries  int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy:  contract.StrategyWeighted,
		Weighted:         fuse.DefaultWeightedConfig(),
		Diversity:        fuse.DefaultDiversityConfig(),
		MaxCandidates:    20000,
		MaxMMRCandidates: 1000,
		BatchBudgetMS:    600,
		BatchConcurrency: 8,
		MaxBatchQueries:  64,
	}
}

// Controller validates requests, dispatches fusion strategies and caches results.
type Controller struct {
	cfg   Config
	cache *Cache
}

// New constructs a controller. Zero-valued limits fall back to DefaultConfig.
func New(cfg Config) (*Controller, error) {
	def := DefaultConfig()
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = def.DefaultStrategy
	}
	switch cfg.DefaultStrategy {
	case contract.StrategyMerge, contract.StrategyAdditive, contract.StrategyWeighted:
	default:
		return nil, fmt.Errorf("unknown default strategy %q", cfg.DefaultStrategy)
	}
	if cfg.Weighted.K == 0 {
		cfg.Weighted.K = def.Weighted.K
	}
	if cfg.Weighted.K < 0 {
		return nil, fmt.Errorf("default k must not be negative")
	}
	if cfg.Weighted.TopK < 0 {
		return nil, fmt.Errorf("default topk must not be negative")
	}
	if cfg.Diversity.TopK <= 0 {
		cfg.Diversity.TopK = def.Diversity.TopK
	}
	if math.IsNaN(cfg.Diversity.Lambda) || cfg.Diversity.Lambda < 0 || cfg.Diversity.Lambda > 1 {
		return nil, fmt.Errorf("default lambda %v outside [0,1]", cfg.Diversity.Lambda)
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.MaxMMRCandidates <= 0 {
		cfg.MaxMMRCandidates = def.MaxMMRCandidates
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.MaxBatchQueries <= 0 {
		cfg.MaxBatchQueries = def.MaxBatchQueries
	}

	return &Controller{
		cfg:   cfg,
		cache: NewCache(cfg.CacheTTL, cfg.CacheMaxEntries),
	}, nil
}

// Cache exposes the result cache for maintenance.
func (c *Controller) Cache() *Cache {
	return c.cache
}

// MaxBatchQueries reports the batch size limit.
func (c *Controller) MaxBatchQueries() int {
	return c.cfg.MaxBatchQueries
}

// Ping runs a small fixed fusion to confirm the numeric core is healthy.
func (c *Controller) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := fuse.FromColumns("probe", []float64{0.9, 0.1}, []int64{1, 2}, []string{"a", "b"}, nil, nil)
	if err != nil {
		return err
	}
	out, err := fuse.WeightedFuse([]fuse.CandidateSet{probe}, c.cfg.Weighted)
	if err != nil {
		return err
	}
	if len(out) == 0 || out[0].Path != "a" {
		return fmt.Errorf("probe fusion returned unexpected order")
	}
	return nil
}

// Fuse runs one fusion request.
func (c *Controller) Fuse(ctx context.Context, req contract.FuseRequest) (contract.FuseResponse, error) {
	start := time.Now()
	strategy := req.Strategy
	if strategy == "" {
		strategy = c.cfg.DefaultStrategy
	}
	resp := contract.FuseResponse{
		Strategy: strategy,
		RetCode:  contract.RetOK,
		TraceID:  logging.TraceIDFromContext(ctx),
	}

	if err := req.Validate(); err != nil {
		resp.RetCode = RetCode(err)
		return resp, err
	}
	if n := req.CandidateCount(); n > c.cfg.MaxCandidates {
		err := fmt.Errorf("%w: %d candidates exceeds max (%d)", fuse.ErrInvalidInput, n, c.cfg.MaxCandidates)
		resp.RetCode = RetCode(err)
		return resp, err
	}

	wcfg := c.weightedConfig(req)
	key := BuildCacheKey("fuse", struct {
		Strategy string
		Sources  []contract.SourceColumns
		Weighted fuse.WeightedConfig
	}{strategy, req.Sources, wcfg})
	if entry, ok := c.cache.Get(key); ok {
		resp.Items = entry.Items
		resp.Timings.CacheHit = true
		resp.Timings.TotalMS = elapsedMS(start)
		return resp, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "fuse."+strategy)
	defer span.End()
	span.SetAttributes(
		attribute.String("fusion.strategy", strategy),
		attribute.Int("fusion.sources", len(req.Sources)),
		attribute.Int("fusion.candidates", req.CandidateCount()),
	)

	sets, err := req.CandidateSets(normalizeLabel)
	if err != nil {
		return c.fail(ctx, span, resp, strategy, req.CandidateCount(), start, err)
	}

	computeStart := time.Now()
	var results []fuse.Result
	switch strategy {
	case contract.StrategyMerge:
		results, err = fuse.MergeByIdentity(sets)
	case contract.StrategyAdditive:
		results, err = fuse.AdditiveFuse(sets)
	default:
		results, err = fuse.WeightedFuse(sets, wcfg)
	}
	compute := time.Since(computeStart)
	resp.Timings.ComputeUS = compute.Microseconds()
	if err != nil {
		return c.fail(ctx, span, resp, strategy, req.CandidateCount(), start, err)
	}

	obs.ObserveFusion(strategy, "ok", req.CandidateCount(), compute)
	resp.Items = contract.ItemsFromResults(results)
	resp.Timings.TotalMS = elapsedMS(start)
	span.SetAttributes(attribute.Int("fusion.results", len(results)))

	c.cache.Set(key, CacheEntry{Strategy: strategy, Items: resp.Items})

	logging.Ctx(ctx).Debug().
		Str("strategy", strategy).
		Int("sources", len(sets)).
		Int("results", len(results)).
		Dur("compute", compute).
		Msg("fusion complete")
	return resp, nil
}

// Rerank applies maximal marginal relevance to a shortlist.
func (c *Controller) Rerank(ctx context.Context, req contract.MMRRequest) (contract.MMRResponse, error) {
	start := time.Now()
	resp := contract.MMRResponse{
		RetCode: contract.RetOK,
		TraceID: logging.TraceIDFromContext(ctx),
	}

	if err := req.Validate(); err != nil {
		resp.RetCode = RetCode(err)
		return resp, err
	}
	if n := len(req.Embeddings); n > c.cfg.MaxMMRCandidates {
		err := fmt.Errorf("%w: %d embeddings exceeds max (%d)", fuse.ErrInvalidInput, n, c.cfg.MaxMMRCandidates)
		resp.RetCode = RetCode(err)
		return resp, err
	}

	dcfg := c.cfg.Diversity
	if req.Lambda != nil {
		dcfg.Lambda = *req.Lambda
	}
	if req.TopK != nil {
		dcfg.TopK = *req.TopK
	}

	key := BuildCacheKey("mmr", struct {
		Query      []float64
		Embeddings [][]float64
		Items      []contract.Item
		Diversity  fuse.DiversityConfig
	}{req.Query, req.Embeddings, req.Items, dcfg})

	if entry, ok := c.cache.Get(key); ok {
		resp.Indices = entry.Indices
		resp.Items = entry.Items
		resp.Timings.CacheHit = true
		resp.Timings.TotalMS = elapsedMS(start)
		return resp, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rerank.mmr")
	defer span.End()
	span.SetAttributes(
		attribute.Int("mmr.candidates", len(req.Embeddings)),
		attribute.Int("mmr.top_k", dcfg.TopK),
		attribute.Float64("mmr.lambda", dcfg.Lambda),
	)

	computeStart := time.Now()
	var (
		picked []int
		err    error
	)
	if len(req.Items) > 0 {
		var reranked []fuse.Result
		reranked, picked, err = fuse.Rerank(contract.ResultsFromItems(req.Items), req.Query, req.Embeddings, dcfg)
		if err == nil {
			resp.Items = contract.ItemsFromResults(reranked)
		}
	} else {
		picked, err = fuse.SelectDiverse(req.Query, req.Embeddings, dcfg)
	}
	compute := time.Since(computeStart)
	resp.Timings.ComputeUS = compute.Microseconds()
	if err != nil {
		obs.ObserveFusion("mmr", outcome(err), len(req.Embeddings), compute)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		resp.RetCode = RetCode(err)
		logging.Ctx(ctx).Warn().Err(err).Msg("rerank rejected")
		return resp, err
	}
	obs.ObserveFusion("mmr", "ok", len(req.Embeddings), compute)

	resp.Indices = picked
	c.cache.Set(key, CacheEntry{Strategy: "mmr", Items: resp.Items, Indices: picked})
	resp.Timings.TotalMS = elapsedMS(start)
	return resp, nil
}

// Normalize rescales a single score vector.
func (c *Controller) Normalize(ctx context.Context, req contract.NormalizeRequest) (contract.NormalizeResponse, error) {
	resp := contract.NormalizeResponse{Mode: req.Mode, RetCode: contract.RetOK}
	mode, err := fuse.ParseNormalizeMode(req.Mode)
	if err != nil {
		resp.RetCode = RetCode(err)
		return resp, err
	}
	resp.Mode = mode.String()
	scores, err := fuse.Normalize(mode, req.Scores)
	if err != nil {
		resp.RetCode = RetCode(err)
		logging.Ctx(ctx).Warn().Err(err).Str("mode", resp.Mode).Msg("normalize rejected")
		return resp, err
	}
	resp.Scores = scores
	return resp, nil
}

// FuseBatch fuses independent queries concurrently under a shared budget.
// A failing query does not fail the batch; queries not started before the
// budget runs out report BUDGET_EXCEEDED.
func (c *Controller) FuseBatch(ctx context.Context, req contract.BatchRequest) (contract.BatchResponse, error) {
	start := time.Now()
	resp := contract.BatchResponse{
		RetCode: contract.RetOK,
		TraceID: logging.TraceIDFromContext(ctx),
	}
	if err := req.Validate(c.cfg.MaxBatchQueries); err != nil {
		resp.RetCode = RetCode(err)
		return resp, err
	}

	budgetMS := c.cfg.BatchBudgetMS
	if req.BudgetMS != nil {
		budgetMS = *req.BudgetMS
	}
	ctx, cancel, budget := policy.BudgetArbiter(ctx, budgetMS)
	defer cancel()

	results := make([]contract.BatchResult, len(req.Queries))
	var g errgroup.Group
	g.SetLimit(c.cfg.BatchConcurrency)
	for i := range req.Queries {
		g.Go(func() error {
			results[i] = c.runBatchQuery(ctx, i, req.Queries[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.RetCode != contract.RetOK {
			resp.Degraded = true
			break
		}
	}
	budgetHit := budget.Hit() || errors.Is(ctx.Err(), context.DeadlineExceeded)
	if budgetHit {
		resp.RetCode = contract.RetBudgetExceeded
	}
	resp.Results = results
	resp.Timings.TotalMS = elapsedMS(start)

	logging.Ctx(ctx).Debug().
		Int("queries", len(req.Queries)).
		Bool("degraded", resp.Degraded).
		Bool("budget_hit", budgetHit).
		Msg("batch complete")
	return resp, nil
}

func (c *Controller) runBatchQuery(ctx context.Context, idx int, q contract.FuseRequest) contract.BatchResult {
	if err := ctx.Err(); err != nil {
		return contract.BatchResult{
			Index:   idx,
			Error:   policy.ErrBudgetExceeded.Error(),
			RetCode: contract.RetBudgetExceeded,
		}
	}
	out, err := c.Fuse(ctx, q)
	if err != nil {
		return contract.BatchResult{Index: idx, Error: err.Error(), RetCode: out.RetCode}
	}
	return contract.BatchResult{Index: idx, Response: &out, RetCode: out.RetCode}
}

func (c *Controller) weightedConfig(req contract.FuseRequest) fuse.WeightedConfig {
	cfg := c.cfg.Weighted
	if req.Alpha != nil {
		cfg.Alpha = *req.Alpha
	}
	if req.Beta != nil {
		cfg.Beta = *req.Beta
	}
	if req.K != nil {
		cfg.K = *req.K
	}
	if req.TopK != nil {
		cfg.TopK = *req.TopK
	}
	return cfg
}

func (c *Controller) fail(ctx context.Context, sp trace.Span, resp contract.FuseResponse, strategy string, candidates int, start time.Time, err error) (contract.FuseResponse, error) {
	obs.ObserveFusion(strategy, outcome(err), candidates, time.Since(start))
	sp.RecordError(err)
	sp.SetStatus(codes.Error, err.Error())
	resp.RetCode = RetCode(err)
	resp.Timings.TotalMS = elapsedMS(start)
	logging.Ctx(ctx).Warn().Err(err).Str("strategy", strategy).Msg("fusion rejected")
	return resp, err
}

// RetCode maps an error to its wire return code.
func RetCode(err error) string {
	switch {
	case err == nil:
		return contract.RetOK
	case errors.Is(err, fuse.ErrInvalidInput), errors.Is(err, fuse.ErrMissingKey):
		return contract.RetBadRequest
	case errors.Is(err, fuse.ErrNumericDegenerate):
		return contract.RetDegenerate
	case errors.Is(err, policy.ErrBudgetExceeded), errors.Is(err, context.DeadlineExceeded):
		return contract.RetBudgetExceeded
	case errors.Is(err, policy.ErrRateLimited):
		return contract.RetRateLimited
	default:
		return contract.RetInternal
	}
}

func outcome(err error) string {
	return strings.ToLower(RetCode(err))
}

// normalizeLabel folds source labels to NFKC with collapsed whitespace so
// "ＣＬＩＰ " and "CLIP" report the same source.
func normalizeLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return label
	}
	label = norm.NFKC.String(label)
	return strings.Join(strings.Fields(label), " ")
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
