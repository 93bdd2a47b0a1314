package domain

import (
	"bytes"
	"net/http"
)

// ResponseDraft accumulates the status code, headers and body of the eventual client response.
// Header keys are canonicalized by net/http, so lookups are case-insensitive.
type ResponseDraft struct {
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
}

func newResponseDraft() ResponseDraft {
	return ResponseDraft{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
	}
}

// Clone returns a deep copy of the draft.
func (d ResponseDraft) Clone() ResponseDraft {
	out := ResponseDraft{StatusCode: d.StatusCode}
	if d.Header != nil {
		out.Header = d.Header.Clone()
	}
	if d.Body != nil {
		out.Body = bytes.Clone(d.Body)
	}
	return out
}

// Write emits the draft to w.
func (d ResponseDraft) Write(w http.ResponseWriter) error {
	h := w.Header()
	for k, vs := range d.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	w.WriteHeader(d.StatusCode)
	if len(d.Body) == 0 {
		return nil
	}
	_, err := w.Write(d.Body)
	return err
}
