package sqldb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/knotgate/internal/core/domain"
	"github.com/tjfontaine/knotgate/internal/core/ports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(id string, failed bool, createdAt time.Time) *ports.ContextRecord {
	rc := domain.NewRequestContext(domain.NewRequestEvent(domain.ClientRequest{
		Method: http.MethodPost,
		Path:   "/orders",
	}))
	rc.Success("enrich", rc.RequestEvent().WithPayload("tier", "gold"))
	if failed {
		rc.Failure("validate", "missing field")
	}

	rec := ports.NewContextRecord(id, rc)
	rec.CreatedAt = createdAt
	return rec
}

func TestSQLDBStore_SaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := testRecord("ctx-1", true, created)

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "ctx-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got.Method != http.MethodPost || got.Path != "/orders" {
		t.Errorf("Method/Path = %s %s", got.Method, got.Path)
	}
	if !got.Failed {
		t.Error("Failed = false, want true")
	}
	if got.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", got.StatusCode)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if diff := cmp.Diff(rec.Context.Log, got.Context.Log); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}
	if got.Context.RequestEvent.Payload["tier"] != "gold" {
		t.Errorf("payload = %v", got.Context.RequestEvent.Payload)
	}
}

func TestSQLDBStore_SaveReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("ctx-1", false, time.Now().UTC())
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	rec.StatusCode = http.StatusTeapot
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() second error = %v", err)
	}

	got, err := store.Get(ctx, "ctx-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StatusCode != http.StatusTeapot {
		t.Errorf("StatusCode = %d, want 418", got.StatusCode)
	}
}

func TestSQLDBStore_GetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSQLDBStore_List(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, failed := range []bool{false, true, false, true} {
		rec := testRecord(fmt.Sprintf("ctx-%d", i), failed, base.Add(time.Duration(i)*time.Minute))
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	ids := func(recs []*ports.ContextRecord) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	all, err := store.List(ctx, ports.ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if diff := cmp.Diff([]string{"ctx-3", "ctx-2", "ctx-1", "ctx-0"}, ids(all)); diff != "" {
		t.Errorf("List() order mismatch (-want +got):\n%s", diff)
	}

	failed, err := store.List(ctx, ports.ListOptions{FailedOnly: true})
	if err != nil {
		t.Fatalf("List(FailedOnly) error = %v", err)
	}
	if diff := cmp.Diff([]string{"ctx-3", "ctx-1"}, ids(failed)); diff != "" {
		t.Errorf("List(FailedOnly) mismatch (-want +got):\n%s", diff)
	}

	limited, err := store.List(ctx, ports.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List(Limit) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(Limit=2) returned %d records", len(limited))
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
