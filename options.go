package cluster

import (
	"github.com/LucasCzechia/discord-cluster/internal/hooks"
	"github.com/LucasCzechia/discord-cluster/internal/logging"
	"github.com/LucasCzechia/discord-cluster/internal/metrics"
	"github.com/LucasCzechia/discord-cluster/types"
)

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	hooks   types.Hooks
	metrics types.MetricsCollector
	logger  types.Logger
}

func defaultOptions() *managerOptions {
	return &managerOptions{
		hooks:   hooks.NewNop(),
		metrics: metrics.NewNop(),
		logger:  logging.NewNop(),
	}
}

// WithHooks sets lifecycle event callbacks.
//
// All hooks are optional; nil fields are simply never called. Hooks run in
// background goroutines and must not block for long.
//
// Parameters:
//   - h: Hooks struct with the desired callbacks set
//
// Returns:
//   - Option: Functional option for NewManager
func WithHooks(h types.Hooks) Option {
	return func(o *managerOptions) {
		o.hooks = h
	}
}

// WithMetrics sets the metrics collector.
//
// Defaults to a no-op collector. Use metrics.NewPrometheus for a
// Prometheus-backed implementation.
//
// Parameters:
//   - m: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
func WithMetrics(m types.MetricsCollector) Option {
	return func(o *managerOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger sets the structured logger.
//
// Defaults to a no-op logger. Use logging.NewSlogDefault for slog output.
//
// Parameters:
//   - l: Logger implementation
//
// Returns:
//   - Option: Functional option for NewManager
func WithLogger(l types.Logger) Option {
	return func(o *managerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
