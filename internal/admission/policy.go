package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrBufferOverflow is returned by Offer when the buffer is full under the
	// ERROR strategy. The policy is faulted afterwards.
	ErrBufferOverflow = errors.New("admission buffer overflow")

	// ErrFaulted is returned by Offer while the policy is faulted.
	ErrFaulted = errors.New("admission stream faulted")
)

// Reason explains an admission decision. Values are lowercase and stable so they
// can be used as metric labels.
type Reason string

const (
	ReasonPassThrough   Reason = "pass_through"
	ReasonAdmitted      Reason = "admitted"
	ReasonEvictedOldest Reason = "evicted_oldest"
	ReasonBufferFull    Reason = "buffer_full"
	ReasonOverflow      Reason = "overflow"
	ReasonFaulted       Reason = "faulted"
)

// Decision is the result of offering one request to the policy.
type Decision[T any] struct {
	// Admitted is true when the request will be processed.
	Admitted bool

	// Buffered is true when the request was enqueued and must be taken with Next.
	// Pass-through admissions are not buffered; the caller processes them inline.
	Buffered bool

	Reason Reason

	// Evicted holds the request dropped to make room under DROP_OLDEST.
	Evicted    T
	HasEvicted bool
}

// Stats is a point-in-time view of the policy.
type Stats struct {
	Enabled  bool             `json:"enabled"`
	Strategy OverflowStrategy `json:"strategy"`
	Buffered int              `json:"buffered"`
	Capacity int              `json:"capacity"`
	Faulted  bool             `json:"faulted"`
}

// Option configures a Policy.
type Option func(*options)

type options struct {
	metrics *Metrics
}

// WithMetrics records decisions and buffer depth.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Policy decides whether incoming requests are admitted, buffers admitted requests
// and hands them to workers in FIFO order.
//
// Offer never blocks. Accept and reject decisions are made under one lock, so
// concurrent offers can never push occupancy past the configured capacity, and a
// DROP_OLDEST eviction plus insertion is observed as a single step.
type Policy[T any] struct {
	cfg     Config
	metrics *Metrics

	mu      sync.Mutex
	buf     *ring[T]
	faulted bool

	// ready holds one token per buffered item not yet claimed by a worker.
	ready chan struct{}
}

// New creates a policy. It panics if cfg is invalid; validate configuration
// at load time.
func New[T any](cfg Config, opts ...Option) *Policy[T] {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("admission: invalid config: %v", err))
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	p := &Policy[T]{
		cfg:     cfg,
		metrics: o.metrics,
	}
	if cfg.DropRequests {
		p.buf = newRing[T](cfg.BufferCapacity)
		p.ready = make(chan struct{}, cfg.BufferCapacity)
	}
	return p
}

// Config returns the configuration the policy was built with.
func (p *Policy[T]) Config() Config {
	return p.cfg
}

// Enabled reports whether buffering and dropping is active.
func (p *Policy[T]) Enabled() bool {
	return p.cfg.DropRequests
}

// Offer submits a request for admission.
//
// A non-nil error is the fault signal of the ERROR strategy (ErrBufferOverflow,
// then ErrFaulted until Reset). It affects the whole admission stream, not just
// this request. DROP_LATEST rejections are reported through the decision alone.
func (p *Policy[T]) Offer(item T) (Decision[T], error) {
	if !p.cfg.DropRequests {
		p.metrics.observe(ReasonPassThrough)
		return Decision[T]{Admitted: true, Reason: ReasonPassThrough}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.faulted {
		p.metrics.observe(ReasonFaulted)
		return Decision[T]{Reason: ReasonFaulted}, ErrFaulted
	}

	if !p.buf.full() {
		p.buf.push(item)
		p.ready <- struct{}{}
		p.metrics.observe(ReasonAdmitted)
		p.metrics.setDepth(p.buf.len())
		return Decision[T]{Admitted: true, Buffered: true, Reason: ReasonAdmitted}, nil
	}

	switch p.cfg.Strategy {
	case StrategyDropOldest:
		// Occupancy is unchanged, so the ready token count stays as is.
		evicted, _ := p.buf.pop()
		p.buf.push(item)
		p.metrics.observe(ReasonEvictedOldest)
		return Decision[T]{
			Admitted:   true,
			Buffered:   true,
			Reason:     ReasonEvictedOldest,
			Evicted:    evicted,
			HasEvicted: true,
		}, nil
	case StrategyError:
		p.faulted = true
		p.metrics.observe(ReasonOverflow)
		p.metrics.setFaulted(true)
		return Decision[T]{Reason: ReasonOverflow}, ErrBufferOverflow
	default:
		p.metrics.observe(ReasonBufferFull)
		return Decision[T]{Reason: ReasonBufferFull}, nil
	}
}

// Next blocks until a buffered request is available or ctx is done, then removes
// and returns the oldest one. Only dispatch workers call Next; offering callers
// never wait.
func (p *Policy[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if !p.cfg.DropRequests {
		return zero, errors.New("admission: buffering disabled")
	}

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-p.ready:
		}

		if item, ok := p.take(); ok {
			return item, nil
		}
	}
}

// TryNext returns the oldest buffered request without waiting.
func (p *Policy[T]) TryNext() (T, bool) {
	var zero T
	if !p.cfg.DropRequests {
		return zero, false
	}

	select {
	case <-p.ready:
		return p.take()
	default:
		return zero, false
	}
}

func (p *Policy[T]) take() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	item, ok := p.buf.pop()
	if ok {
		p.metrics.setDepth(p.buf.len())
	}
	return item, ok
}

// Len returns the number of buffered requests.
func (p *Policy[T]) Len() int {
	if !p.cfg.DropRequests {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Buffered returns the buffered requests from oldest to newest.
func (p *Policy[T]) Buffered() []T {
	if !p.cfg.DropRequests {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.snapshot()
}

// Faulted reports whether an ERROR overflow has latched the policy.
func (p *Policy[T]) Faulted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faulted
}

// Reset clears the fault latch so new requests are offered again. Buffered
// requests are kept.
func (p *Policy[T]) Reset() {
	p.mu.Lock()
	p.faulted = false
	p.mu.Unlock()
	p.metrics.setFaulted(false)
}

// Stats returns a snapshot of the policy state.
func (p *Policy[T]) Stats() Stats {
	return Stats{
		Enabled:  p.cfg.DropRequests,
		Strategy: p.cfg.Strategy,
		Buffered: p.Len(),
		Capacity: p.cfg.BufferCapacity,
		Faulted:  p.Faulted(),
	}
}
