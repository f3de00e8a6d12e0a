// Package config loads service configuration from defaults, an optional YAML
// file and RANKFUSION_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Fusion    FusionConfig    `koanf:"fusion"`
	Diversity DiversityConfig `koanf:"diversity"`
	Cache     CacheConfig     `koanf:"cache"`
	Batch     BatchConfig     `koanf:"batch"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Logging   LoggingConfig   `koanf:"logging"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// FusionConfig holds defaults for requests that omit fusion parameters.
type FusionConfig struct {
	// Strategy is used when a request names none.
	Strategy string  `koanf:"strategy" validate:"oneof=merge additive weighted"`
	Alpha    float64 `koanf:"alpha"`
	Beta     float64 `koanf:"beta"`
	K        int     `koanf:"k" validate:"gte=1"`
	TopK     int     `koanf:"topk" validate:"gte=0"`
	// MaxCandidates caps the total rows accepted in one request.
	MaxCandidates int `koanf:"max_candidates" validate:"gte=1"`
}

// DiversityConfig holds MMR defaults.
type DiversityConfig struct {
	Lambda        float64 `koanf:"lambda" validate:"gte=0,lte=1"`
	TopK          int     `koanf:"top_k" validate:"gte=1"`
	MaxCandidates int     `koanf:"max_candidates" validate:"gte=1"`
}

// CacheConfig configures the result cache; zero TTL disables it.
type CacheConfig struct {
	TTL        time.Duration `koanf:"ttl" validate:"gte=0"`
	MaxEntries int           `koanf:"max_entries" validate:"gte=1"`
}

// BatchConfig bounds batch fusion.
type BatchConfig struct {
	BudgetMS    int `koanf:"budget_ms" validate:"gte=0"`
	Concurrency int `koanf:"concurrency" validate:"gte=1"`
	MaxQueries  int `koanf:"max_queries" validate:"gte=1"`
}

// RateLimitConfig configures per-client token buckets; zero capacity disables limiting.
type RateLimitConfig struct {
	Capacity int           `koanf:"capacity" validate:"gte=0"`
	Refill   int           `koanf:"refill" validate:"gte=0"`
	Interval time.Duration `koanf:"interval" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	ServiceName string  `koanf:"service_name" validate:"required"`
	SampleRatio float64 `koanf:"sample_ratio" validate:"gte=0,lte=1"`
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
