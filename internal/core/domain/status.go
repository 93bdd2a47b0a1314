package domain

import "fmt"

// Status is the aggregate verdict for a request, derived from its ledger.
// It is implemented only by StatusOK and StatusFailed.
type Status interface {
	// Failed reports whether any handler reported a non-SUCCESS outcome.
	Failed() bool
	fmt.Stringer

	status()
}

// StatusOK means every recorded handler outcome was SUCCESS (or nothing was recorded).
type StatusOK struct{}

func (StatusOK) Failed() bool { return false }
func (StatusOK) String() string { return "OK" }
func (StatusOK) status() {}

// StatusFailed carries the first non-SUCCESS entry in insertion order.
type StatusFailed struct {
	Cause Entry
}

func (StatusFailed) Failed() bool { return true }

func (s StatusFailed) String() string {
	if s.Cause.ErrorMessage == "" {
		return fmt.Sprintf("FAILED(%s %s)", s.Cause.HandlerID, s.Cause.Status)
	}
	return fmt.Sprintf("FAILED(%s %s: %s)", s.Cause.HandlerID, s.Cause.Status, s.Cause.ErrorMessage)
}

func (StatusFailed) status() {}

// FailureCause returns the cause of a failed status.
func FailureCause(s Status) (Entry, bool) {
	if f, ok := s.(StatusFailed); ok {
		return f.Cause, true
	}
	return Entry{}, false
}
