package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/knotgate/internal/admission"
	"github.com/tjfontaine/knotgate/internal/core/ports"
	"github.com/tjfontaine/knotgate/internal/storage/memory"
)

const testConfig = `
server:
  port: %PORT%
storage:
  type: memory
admission:
  dropRequests: true
  backpressureBufferCapacity: 4
  workers: 2
routes:
  - path: /orders
    methods: [POST]
    handlers:
      - type: payload
        options:
          source: knotgate
      - type: status
        options:
          code: "201"
      - type: body
        options:
          mode: echo
  - path: /guarded
    handlers:
      - type: require-header
        options:
          header: Authorization
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, port int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := strings.ReplaceAll(testConfig, "%PORT%", strconv.Itoa(port))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestGateway_New_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("expected error without configuration")
	}
	if !strings.Contains(err.Error(), "configuration required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGateway_New_InvalidRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "routes:\n  - path: /x\n    handlers:\n      - type: nope\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := New(WithFileConfig(path), WithLogger(discardLogger()))
	if err == nil || !strings.Contains(err.Error(), "unknown handler type") {
		t.Errorf("err = %v, want unknown handler type", err)
	}
}

func TestGateway_StartServeShutdown(t *testing.T) {
	store := memory.New(0)
	reg := prometheus.NewRegistry()
	gw, err := New(
		WithFileConfig(writeConfig(t, freePort(t))),
		WithContextStore(store),
		WithMetricsRegistry(reg),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if gw.Config().Admission.BackpressureBufferCapacity != 4 {
		t.Errorf("capacity = %d, want 4", gw.Config().Admission.BackpressureBufferCapacity)
	}

	ctx := context.Background()
	if err := gw.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := gw.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}

	h := gw.Handler()

	t.Run("pipeline route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"sku":"A-1"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", rec.Code)
		}
		var event struct {
			Payload map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if event.Payload["sku"] != "A-1" || event.Payload["source"] != "knotgate" {
			t.Errorf("payload = %v", event.Payload)
		}
	})

	t.Run("failed route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})

	t.Run("contexts recorded", func(t *testing.T) {
		recs, err := store.List(context.Background(), ports.ListOptions{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("records = %d, want 2", len(recs))
		}
		for _, rec := range recs {
			if wantFailed := rec.Path == "/guarded"; rec.Failed != wantFailed {
				t.Errorf("record %s failed = %v, want %v", rec.Path, rec.Failed, wantFailed)
			}
		}
	})

	t.Run("admin admission", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/admission", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var stats admission.Stats
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !stats.Enabled || stats.Capacity != 4 || stats.Strategy != admission.StrategyDropLatest {
			t.Errorf("stats = %+v", stats)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if !strings.Contains(rec.Body.String(), "knotgate_requests_completed_total") {
			t.Errorf("metrics missing completed counter:\n%s", rec.Body.String())
		}
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := gw.Wait(); err != nil {
		t.Errorf("Wait() after shutdown = %v", err)
	}
}
