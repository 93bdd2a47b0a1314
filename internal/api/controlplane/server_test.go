package controlplane

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/knotgate/internal/admission"
	"github.com/tjfontaine/knotgate/internal/config"
	"github.com/tjfontaine/knotgate/internal/core/domain"
	"github.com/tjfontaine/knotgate/internal/core/ports"
	"github.com/tjfontaine/knotgate/internal/storage/memory"
)

// fakeAdmission is a test helper for the admission controls.
type fakeAdmission struct {
	stats  admission.Stats
	resets int
}

func (f *fakeAdmission) Stats() admission.Stats { return f.stats }

func (f *fakeAdmission) Reset() {
	f.resets++
	f.stats.Faulted = false
}

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New(0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok := domain.NewRequestContext(domain.NewRequestEvent(domain.ClientRequest{Method: "GET", Path: "/items"}))
	ok.Success("render", ok.RequestEvent())
	okRec := ports.NewContextRecord("ok-1", ok)
	okRec.CreatedAt = base

	failed := domain.NewRequestContext(domain.NewRequestEvent(domain.ClientRequest{Method: "POST", Path: "/orders"}))
	failed.Failure("validate", "missing field")
	failedRec := ports.NewContextRecord("failed-1", failed)
	failedRec.CreatedAt = base.Add(time.Second)
	failedRec.StatusCode = http.StatusInternalServerError

	for _, rec := range []*ports.ContextRecord{okRec, failedRec} {
		if err := store.Save(context.Background(), rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	return store
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_ListContexts(t *testing.T) {
	s := NewServer(nil, seedStore(t), &fakeAdmission{}, nil)

	rec := get(t, s, http.MethodGet, "/contexts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ContextListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []ContextSummary{
		{ID: "failed-1", Method: "POST", Path: "/orders", Status: "FAILED(validate FAILURE: missing field)", StatusCode: 500, Entries: 1, CreatedAt: time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC).Unix()},
		{ID: "ok-1", Method: "GET", Path: "/items", Status: "OK", StatusCode: 200, Entries: 1, CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()},
	}
	if diff := cmp.Diff(want, resp.Contexts); diff != "" {
		t.Errorf("contexts mismatch (-want +got):\n%s", diff)
	}

	rec = get(t, s, http.MethodGet, "/contexts?failed=true")
	resp = ContextListResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Contexts) != 1 || resp.Contexts[0].ID != "failed-1" {
		t.Errorf("failed filter = %+v", resp.Contexts)
	}
}

func TestServer_ContextDetail(t *testing.T) {
	s := NewServer(nil, seedStore(t), &fakeAdmission{}, nil)

	rec := get(t, s, http.MethodGet, "/contexts/failed-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var detail ContextDetail
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wantLog := []domain.Entry{{HandlerID: "validate", Status: domain.OutcomeFailure, ErrorMessage: "missing field"}}
	if diff := cmp.Diff(wantLog, detail.Context.Log); diff != "" {
		t.Errorf("log mismatch (-want +got):\n%s", diff)
	}

	if rec := get(t, s, http.MethodGet, "/contexts/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("missing context status = %d, want 404", rec.Code)
	}
}

func TestServer_NoStore(t *testing.T) {
	s := NewServer(nil, nil, &fakeAdmission{}, nil)

	for _, path := range []string{"/contexts", "/contexts/x"} {
		if rec := get(t, s, http.MethodGet, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestServer_Admission(t *testing.T) {
	adm := &fakeAdmission{stats: admission.Stats{
		Enabled:  true,
		Strategy: admission.StrategyError,
		Buffered: 3,
		Capacity: 3,
		Faulted:  true,
	}}
	s := NewServer(nil, nil, adm, nil)

	rec := get(t, s, http.MethodGet, "/admission")
	var stats admission.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !stats.Faulted || stats.Strategy != admission.StrategyError {
		t.Errorf("stats = %+v", stats)
	}

	if rec := get(t, s, http.MethodGet, "/admission/reset"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET reset status = %d, want 405", rec.Code)
	}

	rec = get(t, s, http.MethodPost, "/admission/reset")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", rec.Code)
	}
	if adm.resets != 1 {
		t.Errorf("resets = %d, want 1", adm.resets)
	}
	stats = admission.Stats{}
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Faulted {
		t.Error("stats still faulted after reset")
	}
}

func TestServer_Overview(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Type: "memory"},
		Routes: []config.RouteConfig{{
			Path:    "/api/*",
			Methods: []string{"GET"},
			Handlers: []config.HandlerConfig{
				{Type: "payload", Order: 1},
				{ID: "reply", Type: "body", Order: 2},
			},
		}},
	}
	s := NewServer(cfg, memory.New(0), &fakeAdmission{}, nil)

	rec := get(t, s, http.MethodGet, "/overview")
	var resp OverviewResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !resp.Storage.Enabled || resp.Storage.Type != "memory" {
		t.Errorf("storage = %+v", resp.Storage)
	}
	want := []HandlerSummary{{ID: "payload", Type: "payload", Order: 1}, {ID: "reply", Type: "body", Order: 2}}
	if len(resp.Routes) != 1 {
		t.Fatalf("routes = %+v", resp.Routes)
	}
	if diff := cmp.Diff(want, resp.Routes[0].Handlers); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}
}
