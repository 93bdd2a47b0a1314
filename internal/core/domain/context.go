package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// RequestContext tracks one in-flight request through the handler pipeline.
// It owns the current request event, the outcome ledger and the response draft.
//
// A context is created after admission, mutated by each handler, read once by the
// dispatcher and then discarded. All methods are safe for concurrent use so handlers
// may run in parallel on the same request.
type RequestContext struct {
	mu       sync.Mutex
	event    RequestEvent
	response ResponseDraft
	log      *Ledger
}

// NewRequestContext creates a context with an empty ledger and a 200 response draft.
func NewRequestContext(event RequestEvent) *RequestContext {
	return &RequestContext{
		event:    event,
		response: newResponseDraft(),
		log:      &Ledger{},
	}
}

// RequestEvent returns the current request event.
func (c *RequestContext) RequestEvent() RequestEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.event
}

// Response returns a snapshot of the response draft.
func (c *RequestContext) Response() ResponseDraft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response.Clone()
}

// Entries returns the ledger entries in insertion order.
func (c *RequestContext) Entries() []Entry {
	return c.log.Entries()
}

// HasFatal reports whether a handler reported FATAL.
func (c *RequestContext) HasFatal() bool {
	return c.log.HasFatal()
}

// Status returns the aggregate status derived from the ledger.
func (c *RequestContext) Status() Status {
	return c.log.AggregateStatus()
}

// Success replaces the request event and records a SUCCESS outcome.
func (c *RequestContext) Success(handlerID string, event RequestEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Append(handlerID, OutcomeSuccess, "")
	c.event = event
}

// Failure records a recoverable FAILURE. The response draft and request event are unchanged.
func (c *RequestContext) Failure(handlerID, errorMessage string) {
	c.log.Append(handlerID, OutcomeFailure, errorMessage)
}

// Fatal records a FATAL outcome and forces the response status code to 500,
// overriding whatever was set before. Later SetStatusCode calls still apply.
func (c *RequestContext) Fatal(handlerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Append(handlerID, OutcomeFatal, "")
	c.response.StatusCode = http.StatusInternalServerError
}

// SetStatusCode sets the response status code. Zero leaves the current code in place.
func (c *RequestContext) SetStatusCode(code int) {
	if code == 0 {
		return
	}
	c.mu.Lock()
	c.response.StatusCode = code
	c.mu.Unlock()
}

// AddHeaders merges headers into the response draft, keeping existing values.
// A nil or empty header is a no-op.
func (c *RequestContext) AddHeaders(headers http.Header) {
	if len(headers) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.response.Header == nil {
		c.response.Header = make(http.Header, len(headers))
	}
	for k, vs := range headers {
		for _, v := range vs {
			c.response.Header.Add(k, v)
		}
	}
}

// SetHeaders replaces the response headers. A nil header is a no-op.
func (c *RequestContext) SetHeaders(headers http.Header) {
	if headers == nil {
		return
	}

	replaced := make(http.Header, len(headers))
	for k, vs := range headers {
		for _, v := range vs {
			replaced.Add(k, v)
		}
	}

	c.mu.Lock()
	c.response.Header = replaced
	c.mu.Unlock()
}

// SetBody replaces the response body. A nil body is a no-op; an empty non-nil
// body clears it.
func (c *RequestContext) SetBody(body []byte) {
	if body == nil {
		return
	}
	c.mu.Lock()
	c.response.Body = bytes.Clone(body)
	c.mu.Unlock()
}

// SerializedContext is the structured form of a request context used for
// persistence, logging and debugging. The response draft is not part of it.
type SerializedContext struct {
	RequestEvent RequestEvent `json:"requestEvent"`
	Log          []Entry      `json:"log"`
}

// ToSerializable captures the request event and ledger.
func (c *RequestContext) ToSerializable() SerializedContext {
	c.mu.Lock()
	event := c.event
	c.mu.Unlock()

	return SerializedContext{
		RequestEvent: event,
		Log:          c.log.Entries(),
	}
}

// FromSerializable rebuilds a context from its structured form. The response draft
// starts from its defaults.
func FromSerializable(s SerializedContext) (*RequestContext, error) {
	for i, e := range s.Log {
		if e.HandlerID == "" {
			return nil, fmt.Errorf("log entry %d: empty handler id", i)
		}
		if !e.Status.Valid() {
			return nil, fmt.Errorf("log entry %d: unknown status %q", i, e.Status)
		}
	}

	c := NewRequestContext(s.RequestEvent)
	c.log = NewLedger(s.Log...)
	return c, nil
}

// MarshalJSON encodes the serializable form.
func (c *RequestContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToSerializable())
}

// UnmarshalJSON decodes the serializable form into c, replacing its event and ledger
// and resetting the response draft.
func (c *RequestContext) UnmarshalJSON(data []byte) error {
	var s SerializedContext
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	restored, err := FromSerializable(s)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.event = restored.event
	c.response = restored.response
	c.log = restored.log
	return nil
}

func (c *RequestContext) String() string {
	c.mu.Lock()
	code := c.response.StatusCode
	c.mu.Unlock()
	return fmt.Sprintf("RequestContext{status=%s, code=%d, entries=%d}", c.Status(), code, c.log.Len())
}
