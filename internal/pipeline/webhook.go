package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/knotgate/internal/core/domain"
	"github.com/tjfontaine/knotgate/internal/core/ports"
)

// WebhookOutcome is the outcome a webhook reports.
type WebhookOutcome string

const (
	WebhookSuccess WebhookOutcome = "success"
	WebhookFailure WebhookOutcome = "failure"
	WebhookFatal   WebhookOutcome = "fatal"
)

// WebhookOutput is the response body expected from a webhook.
type WebhookOutput struct {
	Outcome        WebhookOutcome       `json:"outcome"`
	RequestEvent   *domain.RequestEvent `json:"requestEvent,omitempty"`
	StatusCode     int                  `json:"statusCode,omitempty"`
	Headers        http.Header          `json:"headers,omitempty"`
	ReplaceHeaders bool                 `json:"replaceHeaders,omitempty"`
	Body           *string              `json:"body,omitempty"`
	ErrorMessage   string               `json:"errorMessage,omitempty"`
}

// WebhookHandler calls an external HTTP endpoint with the serialized request
// context and applies the outcome it returns.
type WebhookHandler struct {
	id      string
	url     string
	onError WebhookOutcome // outcome reported when the call fails
	retries int
	headers map[string]string
	client  *http.Client
}

// WebhookConfig configures a webhook handler.
type WebhookConfig struct {
	ID      string
	URL     string
	Timeout time.Duration
	OnError WebhookOutcome // "failure" or "fatal" (default: failure)
	Retries int
	Headers map[string]string

	// Transport overrides the HTTP transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	onError := cfg.OnError
	if onError == "" {
		onError = WebhookFailure
	}

	return &WebhookHandler{
		id:      cfg.ID,
		url:     cfg.URL,
		onError: onError,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
	}
}

// ID returns the handler identifier.
func (h *WebhookHandler) ID() string {
	return h.id
}

// Handle executes the webhook call and reports its outcome on rc.
func (h *WebhookHandler) Handle(ctx context.Context, rc *domain.RequestContext) error {
	var lastErr error

	attempts := h.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := h.doRequest(ctx, rc.ToSerializable())
		if err == nil {
			h.apply(rc, output)
			return nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}

	if h.onError == WebhookFatal {
		rc.Fatal(h.id)
		return nil
	}
	rc.Failure(h.id, fmt.Sprintf("webhook error: %v", lastErr))
	return nil
}

func (h *WebhookHandler) doRequest(ctx context.Context, in domain.SerializedContext) (*WebhookOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request context: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var output WebhookOutput
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("unmarshal webhook output: %w", err)
	}

	switch output.Outcome {
	case WebhookSuccess, WebhookFailure, WebhookFatal:
	case "":
		output.Outcome = WebhookSuccess
	default:
		return nil, fmt.Errorf("invalid outcome from webhook: %s", output.Outcome)
	}

	return &output, nil
}

func (h *WebhookHandler) apply(rc *domain.RequestContext, out *WebhookOutput) {
	rc.SetStatusCode(out.StatusCode)
	if out.ReplaceHeaders {
		rc.SetHeaders(out.Headers)
	} else {
		rc.AddHeaders(out.Headers)
	}
	if out.Body != nil {
		rc.SetBody([]byte(*out.Body))
	}

	switch out.Outcome {
	case WebhookFatal:
		rc.Fatal(h.id)
	case WebhookFailure:
		msg := out.ErrorMessage
		if msg == "" {
			msg = "failed by webhook " + h.id
		}
		rc.Failure(h.id, msg)
	default:
		event := rc.RequestEvent()
		if out.RequestEvent != nil {
			event = *out.RequestEvent
		}
		rc.Success(h.id, event)
	}
}

// webhookHeaders extracts "header:<Name>" options.
func webhookHeaders(opts map[string]string) map[string]string {
	headers := make(map[string]string)
	for k, v := range opts {
		if name, ok := strings.CutPrefix(k, "header:"); ok && name != "" {
			headers[name] = v
		}
	}
	return headers
}

// Ensure WebhookHandler implements the interface.
var _ ports.Handler = (*WebhookHandler)(nil)
