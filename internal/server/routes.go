package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/knotgate/internal/core/ports"
)

// Route is a configured path served by a handler pipeline.
type Route struct {
	Path     string
	Methods  []string // empty means any method
	Executor ports.PipelineExecutor
}

// MountRoutes registers pipeline routes behind the dispatcher.
func (s *Server) MountRoutes(d *Dispatcher, routes []Route) {
	for _, rt := range routes {
		h := d.Handler(rt.Path, rt.Executor)
		if len(rt.Methods) == 0 {
			s.Router.Handle(rt.Path, h)
			continue
		}
		for _, m := range rt.Methods {
			s.Router.Method(strings.ToUpper(m), rt.Path, h)
		}
	}
}

// MountOps registers the health, readiness and metrics endpoints. A nil gatherer
// leaves /metrics unmounted.
func (s *Server) MountOps(ac AdmissionController, gatherer prometheus.Gatherer) {
	s.Router.Method(http.MethodGet, "/healthz", HealthHandler())
	s.Router.Method(http.MethodGet, "/readyz", ReadyHandler(ac))
	if gatherer != nil {
		s.Router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}
