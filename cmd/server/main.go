package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/searchforge/rankfusion/fuse"
	"github.com/searchforge/rankfusion/internal/api"
	"github.com/searchforge/rankfusion/internal/config"
	"github.com/searchforge/rankfusion/internal/controller"
	"github.com/searchforge/rankfusion/internal/logging"
	"github.com/searchforge/rankfusion/obs"
	"github.com/searchforge/rankfusion/policy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("config")
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	shutdown, err := obs.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio)
	if err != nil {
		logging.Warn().Err(err).Msg("obs: tracer init failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("tracer shutdown error")
		}
	}()

	ctrl, err := controller.New(controller.Config{
		DefaultStrategy: cfg.Fusion.Strategy,
		Weighted: fuse.WeightedConfig{
			Alpha: cfg.Fusion.Alpha,
			Beta:  cfg.Fusion.Beta,
			K:     cfg.Fusion.K,
			TopK:  cfg.Fusion.TopK,
		},
		Diversity: fuse.DiversityConfig{
			Lambda: cfg.Diversity.Lambda,
			TopK:   cfg.Diversity.TopK,
		},
		MaxCandidates:    cfg.Fusion.MaxCandidates,
		MaxMMRCandidates: cfg.Diversity.MaxCandidates,
		CacheTTL:         cfg.Cache.TTL,
		CacheMaxEntries:  cfg.Cache.MaxEntries,
		BatchBudgetMS:    cfg.Batch.BudgetMS,
		BatchConcurrency: cfg.Batch.Concurrency,
		MaxBatchQueries:  cfg.Batch.MaxQueries,
	})
	if err != nil {
		logging.Error().Err(err).Msg("controller")
		os.Exit(1)
	}

	limiter := policy.NewKeyedLimiter(policy.RateLimitConfig{
		Capacity:     cfg.RateLimit.Capacity,
		RefillTokens: cfg.RateLimit.Refill,
		RefillEvery:  cfg.RateLimit.Interval,
	})

	router, err := api.NewRouter(ctrl, limiter)
	if err != nil {
		logging.Error().Err(err).Msg("router")
		os.Exit(1)
	}
	router.Handle("/metrics", promhttp.Handler())

	root := chi.NewRouter()
	root.Mount("/", router)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	if cfg.Cache.TTL > 0 {
		go sweepCache(janitorCtx, ctrl.Cache(), cfg.Cache.TTL)
	}
	if limiter != nil {
		go sweepLimiter(janitorCtx, limiter, cfg.RateLimit.Interval)
	}

	go func() {
		logging.Info().
			Int("port", cfg.Server.Port).
			Str("strategy", cfg.Fusion.Strategy).
			Bool("rate_limited", limiter != nil).
			Msg("rankfusion listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("listen")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("shutdown error")
	}
}

func sweepCache(ctx context.Context, cache *controller.Cache, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := cache.Sweep(); n > 0 {
				logging.Debug().Int("removed", n).Msg("cache sweep")
			}
		}
	}
}

func sweepLimiter(ctx context.Context, limiter *policy.KeyedLimiter, every time.Duration) {
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := limiter.Sweep(now); n > 0 {
				logging.Debug().Int("removed", n).Msg("rate limiter sweep")
			}
		}
	}
}
