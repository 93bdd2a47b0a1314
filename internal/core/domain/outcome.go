package domain

import "sync"

// OutcomeStatus is the result a handler reports for one invocation.
type OutcomeStatus string

const (
	// OutcomeSuccess means the handler completed and may have replaced the request event.
	OutcomeSuccess OutcomeStatus = "SUCCESS"
	// OutcomeFailure is a recoverable failure; the pipeline may continue.
	OutcomeFailure OutcomeStatus = "FAILURE"
	// OutcomeFatal is an unrecoverable failure; the response is forced to 500.
	OutcomeFatal OutcomeStatus = "FATAL"
)

// Valid reports whether s is one of the known outcome statuses.
func (s OutcomeStatus) Valid() bool {
	switch s {
	case OutcomeSuccess, OutcomeFailure, OutcomeFatal:
		return true
	default:
		return false
	}
}

// Entry records the outcome of a single handler invocation.
// Entries are values; the ledger hands out copies so they cannot be altered after append.
type Entry struct {
	// HandlerID identifies the pipeline stage that produced this entry.
	HandlerID string `json:"handlerId"`

	// Status is the reported outcome.
	Status OutcomeStatus `json:"status"`

	// ErrorMessage is only set for FAILURE and FATAL entries.
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Ledger is the append-only, insertion-ordered record of handler outcomes for one request.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewLedger creates a ledger pre-populated with entries, in order.
func NewLedger(entries ...Entry) *Ledger {
	l := &Ledger{}
	for _, e := range entries {
		l.Append(e.HandlerID, e.Status, e.ErrorMessage)
	}
	return l
}

// Append records an outcome. Handler ids are not required to be unique.
// It panics if handlerID is empty or status is unknown.
func (l *Ledger) Append(handlerID string, status OutcomeStatus, errorMessage string) {
	if handlerID == "" {
		panic("domain: ledger append with empty handler id")
	}
	if !status.Valid() {
		panic("domain: ledger append with unknown status " + string(status))
	}
	if status == OutcomeSuccess {
		errorMessage = ""
	}

	l.mu.Lock()
	l.entries = append(l.entries, Entry{
		HandlerID:    handlerID,
		Status:       status,
		ErrorMessage: errorMessage,
	})
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries in insertion order.
// The result is never nil.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// HasFatal reports whether any handler reported FATAL.
func (l *Ledger) HasFatal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.entries {
		if e.Status == OutcomeFatal {
			return true
		}
	}
	return false
}

// AggregateStatus derives the request verdict. The cause of a failed status is the
// earliest non-SUCCESS entry, not the most severe one.
func (l *Ledger) AggregateStatus() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.entries {
		if e.Status != OutcomeSuccess {
			return StatusFailed{Cause: e}
		}
	}
	return StatusOK{}
}
