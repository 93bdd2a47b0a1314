package runtime

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/knotgate/internal/config"
	"github.com/tjfontaine/knotgate/internal/core/ports"
	"github.com/tjfontaine/knotgate/internal/pipeline"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig resolves configuration from the YAML file at path and the
// environment. A missing file leaves the defaults in place.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfig uses an already resolved configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithContextStore sets the store for completed request contexts instead of
// opening the configured one. The caller keeps ownership and closes it.
func WithContextStore(store ports.ContextStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithHandlerRegistry sets the registry used to build route pipelines, for
// custom handler types.
func WithHandlerRegistry(reg *pipeline.Registry) Option {
	return func(g *Gateway) error {
		g.registry = reg
		return nil
	}
}

// WithMetricsRegistry registers gateway metrics with reg and serves it on /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(g *Gateway) error {
		g.registerer = reg
		g.gatherer = reg
		return nil
	}
}
