package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/knotgate/internal/admission"
	"github.com/tjfontaine/knotgate/internal/core/domain"
	"github.com/tjfontaine/knotgate/internal/core/ports"
)

// maxBodyBytes caps the request body decoded into the event payload.
const maxBodyBytes = 1 << 20

// job is one admitted request waiting for a worker. The request context is
// created by whoever runs the job, so requests dropped from the buffer never get one.
type job struct {
	ctx   context.Context
	event domain.RequestEvent
	exec  ports.PipelineExecutor
	done  chan result // buffered; receives exactly one result
}

type result struct {
	rc      *domain.RequestContext
	err     error
	evicted bool
}

// DispatcherConfig configures a dispatcher.
type DispatcherConfig struct {
	Admission         admission.Config
	FailureStatusCode int
	Store             ports.ContextStore    // nil disables recording
	Registerer        prometheus.Registerer // nil disables metrics
	Logger            *slog.Logger
}

// Dispatcher admits HTTP requests, runs their pipelines and writes the
// resulting responses.
type Dispatcher struct {
	policy            *admission.Policy[*job]
	store             ports.ContextStore
	failureStatusCode int
	logger            *slog.Logger
	completed         *prometheus.CounterVec
}

// NewDispatcher creates a dispatcher. The admission configuration must be valid.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	failureCode := cfg.FailureStatusCode
	if failureCode == 0 {
		failureCode = http.StatusInternalServerError
	}

	d := &Dispatcher{
		store:             cfg.Store,
		failureStatusCode: failureCode,
		logger:            logger,
	}

	var opts []admission.Option
	if cfg.Registerer != nil {
		opts = append(opts, admission.WithMetrics(admission.NewMetrics(cfg.Registerer)))
		d.completed = promauto.With(cfg.Registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "knotgate_requests_completed_total",
			Help: "Requests that ran through a pipeline, by aggregate status.",
		}, []string{"route", "status"})
	}
	d.policy = admission.New[*job](cfg.Admission, opts...)
	return d
}

// Policy exposes the admission policy for administration.
func (d *Dispatcher) Policy() AdmissionController {
	return d.policy
}

// AdmissionController is the administrative view of the admission policy.
type AdmissionController interface {
	Stats() admission.Stats
	Faulted() bool
	Reset()
}

// Run drains the admission buffer with the configured number of workers until
// ctx is done. In pass-through mode there is nothing to drain and Run just waits.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.policy.Enabled() {
		<-ctx.Done()
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.policy.Config().Workers; i++ {
		g.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		j, err := d.policy.Next(ctx)
		if err != nil {
			return
		}
		j.done <- d.execute(j)
	}
}

func (d *Dispatcher) execute(j *job) result {
	// The client may have gone away while the job sat in the buffer.
	if err := j.ctx.Err(); err != nil {
		return result{err: err}
	}
	rc := domain.NewRequestContext(j.event)
	err := j.exec.Run(j.ctx, rc)
	return result{rc: rc, err: err}
}

// Handler returns the HTTP handler for one route.
func (d *Dispatcher) Handler(route string, exec ports.PipelineExecutor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		AddLogField(ctx, "route", route)

		event, err := requestEvent(r)
		if err != nil {
			AddError(ctx, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		j := &job{ctx: ctx, event: event, exec: exec, done: make(chan result, 1)}
		decision, err := d.policy.Offer(j)
		AddLogField(ctx, "admission", string(decision.Reason))
		if errors.Is(err, admission.ErrBufferOverflow) {
			d.logger.Error("admission buffer overflow, stream faulted until reset",
				slog.String("route", route),
				slog.Int("capacity", d.policy.Config().BufferCapacity),
			)
		}
		if decision.HasEvicted {
			decision.Evicted.done <- result{evicted: true}
		}
		if !decision.Admitted {
			d.drop(w)
			return
		}

		var res result
		if decision.Buffered {
			select {
			case res = <-j.done:
			case <-ctx.Done():
				AddError(ctx, ctx.Err())
				d.writeInterrupted(w, ctx.Err())
				return
			}
		} else {
			res = d.execute(j)
		}

		if res.evicted {
			AddLogField(ctx, "admission", string(admission.ReasonEvictedOldest))
			d.drop(w)
			return
		}
		if res.rc == nil {
			AddError(ctx, res.err)
			d.writeInterrupted(w, res.err)
			return
		}

		d.respond(w, r, route, res)
	})
}

// drop writes the configured drop response. No body is produced.
func (d *Dispatcher) drop(w http.ResponseWriter) {
	w.WriteHeader(d.policy.Config().DropResponseCode)
}

func (d *Dispatcher) writeInterrupted(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}
	// Client cancelled; whatever is written here goes nowhere.
	w.WriteHeader(http.StatusServiceUnavailable)
}

func (d *Dispatcher) respond(w http.ResponseWriter, r *http.Request, route string, res result) {
	ctx := r.Context()
	rc := res.rc
	status := rc.Status()
	draft := rc.Response()

	if res.err != nil {
		AddError(ctx, res.err)
		if errors.Is(res.err, context.DeadlineExceeded) && draft.StatusCode < 400 {
			draft.StatusCode = http.StatusGatewayTimeout
		}
	}
	if status.Failed() && draft.StatusCode < 400 {
		draft.StatusCode = d.failureStatusCode
	}

	AddLogField(ctx, "outcome", status.String())
	if d.completed != nil {
		label := "ok"
		if status.Failed() {
			label = "failed"
		}
		d.completed.WithLabelValues(route, label).Inc()
	}

	d.record(ctx, rc, draft.StatusCode)

	if err := draft.Write(w); err != nil {
		AddError(ctx, fmt.Errorf("write response: %w", err))
	}
}

func (d *Dispatcher) record(ctx context.Context, rc *domain.RequestContext, statusCode int) {
	if d.store == nil {
		return
	}

	id := GetRequestID(ctx)
	if id == "" {
		id = uuid.New().String()
	}
	rec := ports.NewContextRecord(id, rc)
	rec.StatusCode = statusCode

	// Recording must not fail the request, and must outlive a cancelled client.
	if err := d.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("failed to record request context",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
}

// requestEvent builds the event handed to the pipeline. A JSON object body
// becomes the payload; any other non-empty body is stored under "body".
func requestEvent(r *http.Request) (domain.RequestEvent, error) {
	params := r.URL.Query()
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			if key == "*" || key == "" {
				continue
			}
			params.Set(key, rctx.URLParams.Values[i])
		}
	}

	event := domain.NewRequestEvent(domain.ClientRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Params:  params,
	})

	if r.Body == nil {
		return event, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return event, fmt.Errorf("read body: %w", err)
	}
	if len(raw) > maxBodyBytes {
		return event, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return event, nil
	}

	if !isJSON(r.Header.Get("Content-Type")) {
		event.Payload["body"] = string(raw)
		return event, nil
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return event, fmt.Errorf("invalid JSON body: %w", err)
	}
	if obj, ok := body.(map[string]any); ok {
		event.Payload = obj
	} else {
		event.Payload["body"] = body
	}
	return event, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}
