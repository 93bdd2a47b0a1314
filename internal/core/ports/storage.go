package ports

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/knotgate/internal/core/domain"
)

// ErrNotFound is returned when a stored record does not exist.
var ErrNotFound = errors.New("not found")

// ContextStore persists completed request contexts for debugging and auditing.
type ContextStore interface {
	// Save stores a completed request context record.
	Save(ctx context.Context, rec *ContextRecord) error

	// Get retrieves a record by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*ContextRecord, error)

	// List returns records, newest first.
	List(ctx context.Context, opts ListOptions) ([]*ContextRecord, error)

	// Close closes the storage connection
	Close() error
}

// ContextRecord is the stored form of one completed request.
type ContextRecord struct {
	ID         string                   `json:"id"`
	Method     string                   `json:"method"`
	Path       string                   `json:"path"`
	Failed     bool                     `json:"failed"`
	StatusCode int                      `json:"status_code"`
	Context    domain.SerializedContext `json:"context"`
	CreatedAt  time.Time                `json:"created_at"`
}

// NewContextRecord snapshots a request context after the pipeline completed.
func NewContextRecord(id string, rc *domain.RequestContext) *ContextRecord {
	s := rc.ToSerializable()
	return &ContextRecord{
		ID:         id,
		Method:     s.RequestEvent.Request.Method,
		Path:       s.RequestEvent.Request.Path,
		Failed:     rc.Status().Failed(),
		StatusCode: rc.Response().StatusCode,
		Context:    s,
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

// ListOptions contains options for listing records
type ListOptions struct {
	Limit      int
	FailedOnly bool
}
