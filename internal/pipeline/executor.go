package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/knotgate/internal/core/domain"
	"github.com/tjfontaine/knotgate/internal/core/ports"
)

const tracerName = "github.com/tjfontaine/knotgate/internal/pipeline"

// Executor runs an ordered list of handlers sequentially.
type Executor struct {
	handlers []ports.Handler
	tracer   trace.Tracer
	logger   *slog.Logger
}

// ExecutorConfig configures an executor.
type ExecutorConfig struct {
	Handlers []HandlerConfig
	Logger   *slog.Logger
}

// HandlerConfig places a handler in the pipeline.
type HandlerConfig struct {
	Order   int
	Handler ports.Handler
}

// NewExecutor creates an executor. Handlers run by ascending Order; equal orders
// keep their configured sequence.
func NewExecutor(cfg ExecutorConfig) *Executor {
	sorted := make([]HandlerConfig, len(cfg.Handlers))
	copy(sorted, cfg.Handlers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		handlers: make([]ports.Handler, len(sorted)),
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	for i, h := range sorted {
		e.handlers[i] = h.Handler
	}
	return e
}

// Run executes the handlers in order against rc. Execution continues after a
// FAILURE and stops after the first FATAL. The returned error is non-nil only
// when ctx ended the run early.
func (e *Executor) Run(ctx context.Context, rc *domain.RequestContext) error {
	for _, h := range e.handlers {
		if err := ctx.Err(); err != nil {
			return &InterruptedError{HandlerID: h.ID(), Err: err}
		}

		e.runHandler(ctx, h, rc)

		if rc.HasFatal() {
			break
		}
	}
	return nil
}

func (e *Executor) runHandler(ctx context.Context, h ports.Handler, rc *domain.RequestContext) {
	id := h.ID()
	ctx, span := e.tracer.Start(ctx, "handler "+id, trace.WithAttributes(
		attribute.String("knotgate.handler.id", id),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked",
				slog.String("handler", id),
				slog.Any("panic", r),
			)
			rc.Fatal(id)
			span.SetStatus(codes.Error, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := h.Handle(ctx, rc); err != nil {
		rc.Failure(id, err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	if entries := rc.Entries(); len(entries) > 0 {
		last := entries[len(entries)-1]
		span.SetAttributes(attribute.String("knotgate.handler.outcome", string(last.Status)))
		if last.Status == domain.OutcomeFatal {
			span.SetStatus(codes.Error, "fatal")
		}
	}
}

// Len returns the number of handlers.
func (e *Executor) Len() int {
	return len(e.handlers)
}

// HandlerIDs returns the handler ids in execution order.
func (e *Executor) HandlerIDs() []string {
	ids := make([]string, len(e.handlers))
	for i, h := range e.handlers {
		ids[i] = h.ID()
	}
	return ids
}

// InterruptedError is returned when the context ends a run before a handler starts.
type InterruptedError struct {
	HandlerID string
	Err       error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("pipeline interrupted before %s: %v", e.HandlerID, e.Err)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}

// Ensure Executor implements the interface.
var _ ports.PipelineExecutor = (*Executor)(nil)
