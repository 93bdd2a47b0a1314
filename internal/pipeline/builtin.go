package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/tjfontaine/knotgate/internal/core/domain"
)

// payloadHandler copies its options into the request event payload.
type payloadHandler struct {
	id     string
	values map[string]string
}

func (h *payloadHandler) ID() string { return h.id }

func (h *payloadHandler) Handle(_ context.Context, rc *domain.RequestContext) error {
	event := rc.RequestEvent()
	keys := make([]string, 0, len(h.values))
	for k := range h.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		event = event.WithPayload(k, h.values[k])
	}
	rc.Success(h.id, event)
	return nil
}

// headersHandler adds its options as response headers.
type headersHandler struct {
	id      string
	headers http.Header
}

func (h *headersHandler) ID() string { return h.id }

func (h *headersHandler) Handle(_ context.Context, rc *domain.RequestContext) error {
	rc.AddHeaders(h.headers)
	rc.Success(h.id, rc.RequestEvent())
	return nil
}

// statusHandler sets the response status code.
type statusHandler struct {
	id   string
	code int
}

func (h *statusHandler) ID() string { return h.id }

func (h *statusHandler) Handle(_ context.Context, rc *domain.RequestContext) error {
	rc.SetStatusCode(h.code)
	rc.Success(h.id, rc.RequestEvent())
	return nil
}

// bodyHandler sets a static body or echoes the request event as JSON.
type bodyHandler struct {
	id          string
	text        string
	echo        bool
	contentType string
}

func (h *bodyHandler) ID() string { return h.id }

func (h *bodyHandler) Handle(_ context.Context, rc *domain.RequestContext) error {
	event := rc.RequestEvent()

	body := []byte(h.text)
	contentType := h.contentType
	if h.echo {
		b, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode request event: %w", err)
		}
		body = b
		if contentType == "" {
			contentType = "application/json"
		}
	}
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	if rc.Response().Header.Get("Content-Type") == "" {
		rc.AddHeaders(http.Header{"Content-Type": {contentType}})
	}
	rc.SetBody(body)
	rc.Success(h.id, event)
	return nil
}

// requireHeaderHandler reports a failure, or a fatal outcome, when a request
// header is absent.
type requireHeaderHandler struct {
	id     string
	header string
	fatal  bool
}

func (h *requireHeaderHandler) ID() string { return h.id }

func (h *requireHeaderHandler) Handle(_ context.Context, rc *domain.RequestContext) error {
	event := rc.RequestEvent()
	if event.Request.Headers.Get(h.header) != "" {
		rc.Success(h.id, event)
		return nil
	}
	if h.fatal {
		rc.Fatal(h.id)
		return nil
	}
	rc.Failure(h.id, fmt.Sprintf("missing required header %s", h.header))
	return nil
}

func parseBool(opts map[string]string, key string) (bool, error) {
	v, ok := opts[key]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
