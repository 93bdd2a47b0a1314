// Package runtime assembles the gateway: configuration, storage, the admission
// dispatcher, route pipelines, the control plane and the HTTP server.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/knotgate/internal/api/controlplane"
	"github.com/tjfontaine/knotgate/internal/config"
	"github.com/tjfontaine/knotgate/internal/core/ports"
	"github.com/tjfontaine/knotgate/internal/pipeline"
	"github.com/tjfontaine/knotgate/internal/server"
	"github.com/tjfontaine/knotgate/internal/storage"
	"github.com/tjfontaine/knotgate/internal/telemetry"
)

// Gateway is the main entry point for running knotgate.
// It owns the configuration, the context store, the dispatcher and the HTTP
// server lifecycle, and can be embedded in larger applications.
type Gateway struct {
	// Dependencies (injected via options)
	cfg        *config.Config
	store      ports.ContextStore
	ownStore   bool
	registry   *pipeline.Registry
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	logger     *slog.Logger

	// Assembled components
	dispatcher *server.Dispatcher
	server     *server.Server

	// Lifecycle management
	mu             sync.Mutex
	cancel         context.CancelFunc
	group          *errgroup.Group
	shutdownTracer func(context.Context) error
}

// New creates a Gateway with the given options. The configuration is required;
// the handler registry, metrics registry and context store default from it.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.cfg == nil {
		return nil, errors.New("configuration required (use WithFileConfig or WithConfig)")
	}
	if gw.registry == nil {
		gw.registry = pipeline.DefaultRegistry()
	}
	if gw.registerer == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gw.registerer = reg
		gw.gatherer = reg
	}
	if gw.store == nil {
		store, err := storage.Open(gw.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		gw.store = store
		gw.ownStore = true
	}

	if err := gw.assemble(); err != nil {
		gw.closeStore()
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) assemble() error {
	cfg := g.cfg

	policy, err := cfg.Admission.Policy()
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}

	g.dispatcher = server.NewDispatcher(server.DispatcherConfig{
		Admission:         policy,
		FailureStatusCode: cfg.Pipeline.FailureStatusCode,
		Store:             g.store,
		Registerer:        g.registerer,
		Logger:            g.logger,
	})

	routes := make([]server.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		exec, err := pipeline.NewExecutorFromConfig(rc, g.registry, g.logger)
		if err != nil {
			return fmt.Errorf("route %s: %w", rc.Path, err)
		}
		routes = append(routes, server.Route{Path: rc.Path, Methods: rc.Methods, Executor: exec})
		g.logger.Debug("route configured",
			slog.String("path", rc.Path),
			slog.Any("handlers", exec.HandlerIDs()),
		)
	}

	g.server = server.New(cfg.Server.Port, cfg.Server.RequestTimeout, g.logger)
	g.server.MountOps(g.dispatcher.Policy(), g.gatherer)
	g.server.Router.Mount("/admin", controlplane.NewServer(cfg, g.store, g.dispatcher.Policy(), g.logger))
	g.server.MountRoutes(g.dispatcher, routes)
	return nil
}

// Handler returns the root HTTP handler. It serves requests only after Start,
// since buffered requests need the dispatch workers.
func (g *Gateway) Handler() http.Handler {
	return g.server.Router
}

// Config returns the resolved configuration.
func (g *Gateway) Config() *config.Config {
	return g.cfg
}

// Start initializes tracing and starts the dispatch workers and the HTTP server.
// It returns once they are running; use Wait to observe a failure.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.group != nil {
		return errors.New("gateway already started")
	}

	shutdown, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName: g.cfg.Telemetry.ServiceName,
		Exporter:    g.cfg.Telemetry.Exporter,
		Endpoint:    g.cfg.Telemetry.Endpoint,
		SampleRate:  g.cfg.Telemetry.SampleRate,
	}, g.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	g.shutdownTracer = shutdown

	ctx, g.cancel = context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	g.group = group

	group.Go(func() error {
		return g.dispatcher.Run(ctx)
	})
	group.Go(g.server.Start)

	stats := g.dispatcher.Policy().Stats()
	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Server.Port),
		slog.Int("routes", len(g.cfg.Routes)),
		slog.Bool("drop_requests", stats.Enabled),
		slog.String("strategy", stats.Strategy.String()),
		slog.String("storage", g.cfg.Storage.Type),
	)
	return nil
}

// Wait blocks until the server and the dispatcher have stopped and returns the
// first error either reported.
func (g *Gateway) Wait() error {
	g.mu.Lock()
	group := g.group
	g.mu.Unlock()

	if group == nil {
		return errors.New("gateway not started")
	}
	return group.Wait()
}

// Shutdown gracefully stops the gateway. In-flight requests, including buffered
// ones, are served before the workers stop.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	var errs []error
	if g.group != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		g.cancel()
		if err := g.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := g.closeStore(); err != nil {
		g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if g.shutdownTracer != nil {
		if err := g.shutdownTracer(ctx); err != nil {
			g.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

func (g *Gateway) closeStore() error {
	if !g.ownStore || g.store == nil {
		return nil
	}
	store := g.store
	g.store = nil
	return store.Close()
}
