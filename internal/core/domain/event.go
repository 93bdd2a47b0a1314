package domain

import (
	"maps"
	"net/http"
	"net/url"
)

// ClientRequest is the transport-independent view of the incoming request.
type ClientRequest struct {
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Headers http.Header `json:"headers,omitempty"`
	Params  url.Values  `json:"params,omitempty"`
}

// RequestEvent is the state handed from handler to handler. The request context only stores
// and replaces it; handlers own its contents.
type RequestEvent struct {
	Request ClientRequest  `json:"clientRequest"`
	Payload map[string]any `json:"payload"`
}

// NewRequestEvent creates an event with an empty payload.
func NewRequestEvent(req ClientRequest) RequestEvent {
	return RequestEvent{
		Request: req,
		Payload: make(map[string]any),
	}
}

// WithPayload returns a copy of the event with key set in the payload.
// The receiver's payload map is left untouched.
func (e RequestEvent) WithPayload(key string, value any) RequestEvent {
	payload := make(map[string]any, len(e.Payload)+1)
	maps.Copy(payload, e.Payload)
	payload[key] = value
	e.Payload = payload
	return e
}
