package pipeline

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tjfontaine/knotgate/internal/config"
	"github.com/tjfontaine/knotgate/internal/core/ports"
)

// Factory builds a handler from its configuration.
type Factory func(cfg config.HandlerConfig) (ports.Handler, error)

// Registry maps handler types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in handler types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("payload", newPayloadHandler)
	r.Register("headers", newHeadersHandler)
	r.Register("status", newStatusHandler)
	r.Register("body", newBodyHandler)
	r.Register("require-header", newRequireHeaderHandler)
	r.Register("webhook", newWebhookHandlerFromConfig)
	return r
}

// Register adds or replaces the factory for a handler type.
func (r *Registry) Register(handlerType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[handlerType] = f
}

// Types returns the registered handler types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build creates a handler. An empty id defaults to the handler type.
func (r *Registry) Build(cfg config.HandlerConfig) (ports.Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown handler type %q", cfg.Type)
	}
	if cfg.ID == "" {
		cfg.ID = cfg.Type
	}
	return f(cfg)
}

// NewExecutorFromConfig creates a pipeline executor for a route.
func NewExecutorFromConfig(route config.RouteConfig, reg *Registry, logger *slog.Logger) (*Executor, error) {
	handlers := make([]HandlerConfig, 0, len(route.Handlers))

	for _, hc := range route.Handlers {
		h, err := reg.Build(hc)
		if err != nil {
			name := hc.ID
			if name == "" {
				name = hc.Type
			}
			return nil, fmt.Errorf("handler %s: %w", name, err)
		}
		handlers = append(handlers, HandlerConfig{Order: hc.Order, Handler: h})
	}

	return NewExecutor(ExecutorConfig{Handlers: handlers, Logger: logger}), nil
}

func newPayloadHandler(cfg config.HandlerConfig) (ports.Handler, error) {
	values := make(map[string]string, len(cfg.Options))
	for k, v := range cfg.Options {
		values[k] = v
	}
	return &payloadHandler{id: cfg.ID, values: values}, nil
}

func newHeadersHandler(cfg config.HandlerConfig) (ports.Handler, error) {
	headers := make(http.Header, len(cfg.Options))
	for k, v := range cfg.Options {
		headers.Add(k, v)
	}
	return &headersHandler{id: cfg.ID, headers: headers}, nil
}

func newStatusHandler(cfg config.HandlerConfig) (ports.Handler, error) {
	code, err := strconv.Atoi(cfg.Options["code"])
	if err != nil {
		return nil, fmt.Errorf("invalid code %q: %w", cfg.Options["code"], err)
	}
	if code < 100 || code > 599 {
		return nil, fmt.Errorf("code %d is not a valid HTTP status", code)
	}
	return &statusHandler{id: cfg.ID, code: code}, nil
}

func newBodyHandler(cfg config.HandlerConfig) (ports.Handler, error) {
	h := &bodyHandler{
		id:          cfg.ID,
		text:        cfg.Options["text"],
		contentType: cfg.Options["contentType"],
	}
	switch mode := cfg.Options["mode"]; mode {
	case "", "static":
	case "echo":
		h.echo = true
	default:
		return nil, fmt.Errorf("invalid mode %q (must be 'static' or 'echo')", mode)
	}
	return h, nil
}

func newRequireHeaderHandler(cfg config.HandlerConfig) (ports.Handler, error) {
	header := cfg.Options["header"]
	if header == "" {
		return nil, fmt.Errorf("option header is required")
	}
	fatal, err := parseBool(cfg.Options, "fatal")
	if err != nil {
		return nil, err
	}
	return &requireHeaderHandler{id: cfg.ID, header: header, fatal: fatal}, nil
}

func newWebhookHandlerFromConfig(cfg config.HandlerConfig) (ports.Handler, error) {
	url := cfg.Options["url"]
	if url == "" {
		return nil, fmt.Errorf("option url is required")
	}

	timeout := 5 * time.Second // Default
	if v := cfg.Options["timeout"]; v != "" {
		var err error
		timeout, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", v, err)
		}
	}

	retries := 0
	if v := cfg.Options["retries"]; v != "" {
		var err error
		retries, err = strconv.Atoi(v)
		if err != nil || retries < 0 {
			return nil, fmt.Errorf("invalid retries %q", v)
		}
	}

	var onError WebhookOutcome
	switch cfg.Options["onError"] {
	case "", "failure":
		onError = WebhookFailure
	case "fatal":
		onError = WebhookFatal
	default:
		return nil, fmt.Errorf("invalid onError %q (must be 'failure' or 'fatal')", cfg.Options["onError"])
	}

	return NewWebhookHandler(WebhookConfig{
		ID:      cfg.ID,
		URL:     url,
		Timeout: timeout,
		OnError: onError,
		Retries: retries,
		Headers: webhookHeaders(cfg.Options),
	}), nil
}
