// Package ports defines the core interfaces for the gateway.
// This file contains the handler pipeline interfaces.
package ports

import (
	"context"

	"github.com/tjfontaine/knotgate/internal/core/domain"
)

// Handler is one stage of a request-processing pipeline.
//
// A handler reports its outcome on the request context (Success, Failure or Fatal).
// Returning a non-nil error is shorthand for reporting a Failure with the error text.
type Handler interface {
	// ID returns the identifier recorded in the outcome ledger.
	ID() string
	// Handle processes the request context.
	Handle(ctx context.Context, rc *domain.RequestContext) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	Name string
	Fn   func(ctx context.Context, rc *domain.RequestContext) error
}

func (h HandlerFunc) ID() string { return h.Name }

func (h HandlerFunc) Handle(ctx context.Context, rc *domain.RequestContext) error {
	return h.Fn(ctx, rc)
}

// PipelineExecutor runs an ordered handler pipeline against one request context.
type PipelineExecutor interface {
	// Run executes the handlers in order. It returns an error only when the run
	// was interrupted (for example by context cancellation); handler outcomes are
	// recorded on rc.
	Run(ctx context.Context, rc *domain.RequestContext) error
}
