// Package gateway provides the public API for embedding knotgate.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/knotgate/internal/runtime"
)

// Gateway is the main entry point for running knotgate.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Storage
	WithContextStore = runtime.WithContextStore

	// Pipelines
	WithHandlerRegistry = runtime.WithHandlerRegistry

	// Observability
	WithLogger          = runtime.WithLogger
	WithMetricsRegistry = runtime.WithMetricsRegistry
)
