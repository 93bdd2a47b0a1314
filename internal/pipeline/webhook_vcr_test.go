package pipeline

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/knotgate/internal/core/domain"
	"github.com/tjfontaine/knotgate/internal/testutil"
)

func newRecordedWebhook(t *testing.T, id, path string) *WebhookHandler {
	t.Helper()
	r := testutil.NewVCRRecorder(t, "webhook_enrich", "X-Api-Key")
	return NewWebhookHandler(WebhookConfig{
		ID:        id,
		URL:       "http://enrich.knotgate.test" + path,
		Timeout:   time.Second,
		Headers:   map[string]string{"X-Api-Key": "test-key"},
		Transport: r,
	})
}

func TestWebhookHandler_RecordedEnrichment(t *testing.T) {
	h := newRecordedWebhook(t, "enrich", "/hooks/enrich")
	rc := newTestContext()

	if err := h.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	want := map[string]any{
		"tier":     "gold",
		"customer": map[string]any{"id": "c-42"},
	}
	if diff := cmp.Diff(want, rc.RequestEvent().Payload); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
	resp := rc.Response()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("StatusCode = %d, want 202", resp.StatusCode)
	}
	if resp.Header.Get("X-Enriched-By") != "enrich" {
		t.Errorf("X-Enriched-By = %q", resp.Header.Get("X-Enriched-By"))
	}
	if rc.Status().Failed() {
		t.Errorf("status = %s, want OK", rc.Status())
	}
}

func TestWebhookHandler_RecordedRejection(t *testing.T) {
	h := newRecordedWebhook(t, "verify", "/hooks/verify")
	rc := newTestContext()

	if err := h.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	cause, ok := domain.FailureCause(rc.Status())
	if !ok {
		t.Fatal("expected failed status")
	}
	want := domain.Entry{HandlerID: "verify", Status: domain.OutcomeFailure, ErrorMessage: "customer is suspended"}
	if diff := cmp.Diff(want, cause); diff != "" {
		t.Errorf("cause mismatch (-want +got):\n%s", diff)
	}
	resp := rc.Response()
	if resp.StatusCode != http.StatusForbidden || string(resp.Body) != "suspended" {
		t.Errorf("response = %d %q", resp.StatusCode, resp.Body)
	}
}
