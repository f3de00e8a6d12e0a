package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config files searched in order; the first found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/rankfusion/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

const envPrefix = "RANKFUSION_"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7070,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Fusion: FusionConfig{
			Strategy:      "weighted",
			Alpha:         0.5,
			Beta:          0.5,
			K:             60,
			TopK:          0,
			MaxCandidates: 20000,
		},
		Diversity: DiversityConfig{
			Lambda:        0.5,
			TopK:          5,
			MaxCandidates: 1000,
		},
		Cache: CacheConfig{
			TTL:        30 * time.Second,
			MaxEntries: 1024,
		},
		Batch: BatchConfig{
			BudgetMS:    600,
			Concurrency: 8,
			MaxQueries:  64,
		},
		RateLimit: RateLimitConfig{
			Capacity: 0,
			Refill:   10,
			Interval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "rankfusion",
			SampleRatio: 0.3,
		},
	}
}

// Load builds the configuration: defaults, then the config file, then env.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps RANKFUSION_* suffixes to koanf keys. Section names contain
// underscores, so a blind "_" to "." swap is ambiguous.
var envMappings = map[string]string{
	"port":                    "server.port",
	"server_port":             "server.port",
	"server_read_timeout":     "server.read_timeout",
	"server_write_timeout":    "server.write_timeout",
	"server_idle_timeout":     "server.idle_timeout",
	"server_shutdown_timeout": "server.shutdown_timeout",

	"fusion_strategy":       "fusion.strategy",
	"fusion_alpha":          "fusion.alpha",
	"fusion_beta":           "fusion.beta",
	"fusion_k":              "fusion.k",
	"fusion_topk":           "fusion.topk",
	"fusion_max_candidates": "fusion.max_candidates",

	"diversity_lambda":         "diversity.lambda",
	"diversity_top_k":          "diversity.top_k",
	"diversity_max_candidates": "diversity.max_candidates",

	"cache_ttl":         "cache.ttl",
	"cache_max_entries": "cache.max_entries",

	"batch_budget_ms":   "batch.budget_ms",
	"batch_concurrency": "batch.concurrency",
	"batch_max_queries": "batch.max_queries",

	"rate_limit_capacity": "rate_limit.capacity",
	"rate_limit_refill":   "rate_limit.refill",
	"rate_limit_interval": "rate_limit.interval",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"tracing_service_name": "tracing.service_name",
	"tracing_sample_ratio": "tracing.sample_ratio",
}

// envTransformFunc returns "" for unknown variables, which koanf skips.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	return envMappings[key]
}
