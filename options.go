package hbase

import (
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/wanghsingmin/hbase/metacache"
)

type config struct {
	maxAttempts     int
	metaMaxAttempts int
	sink            metacache.MetricsSink
	logger          *zap.Logger
	newBackoff      func() backoff.BackOff
}

// Option is a function that sets a value in a config.
type Option func(*config) error

func getOpts(opts []Option) (config, error) {
	var cfg config
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %w", i, err)
		}
	}
	return cfg, nil
}

// WithMaxAttempts bounds the number of attempts per logical operation,
// including the first one. Batched operations share this budget across all
// their targets.
func WithMaxAttempts(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("max attempts must be positive, got %d", n)
		}
		cfg.maxAttempts = n
		return nil
	}
}

// WithMetaMaxAttempts bounds catalog lookup retries, separately from the
// data call budget.
func WithMetaMaxAttempts(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("meta max attempts must be positive, got %d", n)
		}
		cfg.metaMaxAttempts = n
		return nil
	}
}

// WithMetrics routes cache events to sink. See metrics.NewCacheMetrics for a
// prometheus-backed implementation.
func WithMetrics(sink metacache.MetricsSink) Option {
	return func(cfg *config) error {
		cfg.sink = sink
		return nil
	}
}

// WithLogger sets the logger used by the client's components.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// WithBackoff sets the factory for the per-operation backoff policy pacing
// retries.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(cfg *config) error {
		cfg.newBackoff = newBackoff
		return nil
	}
}
