// Package controlplane serves the administrative API: runtime stats, the
// configured routes, recorded request contexts and the admission policy.
package controlplane

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/knotgate/internal/admission"
	"github.com/tjfontaine/knotgate/internal/config"
	"github.com/tjfontaine/knotgate/internal/core/domain"
	"github.com/tjfontaine/knotgate/internal/core/ports"
)

// Admission is the part of the admission policy the control plane manages.
type Admission interface {
	Stats() admission.Stats
	Reset()
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	cfg       *config.Config
	store     ports.ContextStore
	admission Admission
	logger    *slog.Logger
}

// NewServer creates the control plane. store may be nil when recording is disabled.
func NewServer(cfg *config.Config, store ports.ContextStore, adm Admission, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		cfg:       cfg,
		store:     store,
		admission: adm,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/overview", s.handleOverview)
	s.router.Get("/contexts", s.handleListContexts)
	s.router.Get("/contexts/{context_id}", s.handleContextDetail)
	s.router.Get("/admission", s.handleAdmission)
	s.router.Post("/admission/reset", s.handleAdmissionReset)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Memory       MemoryStats `json:"memory"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, StatsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

type OverviewResponse struct {
	Storage   StorageSummary  `json:"storage"`
	Admission admission.Stats `json:"admission"`
	Routes    []RouteSummary  `json:"routes"`
}

type StorageSummary struct {
	Enabled bool   `json:"enabled"`
	Type    string `json:"type"`
	Driver  string `json:"driver,omitempty"`
}

type RouteSummary struct {
	Path     string           `json:"path"`
	Methods  []string         `json:"methods,omitempty"`
	Handlers []HandlerSummary `json:"handlers"`
}

type HandlerSummary struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Order int    `json:"order"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	resp := OverviewResponse{
		Admission: s.admission.Stats(),
		Routes:    []RouteSummary{},
	}

	if s.cfg != nil {
		resp.Storage = StorageSummary{
			Enabled: s.store != nil,
			Type:    s.cfg.Storage.Type,
		}
		if s.cfg.Storage.Type == "sql" {
			resp.Storage.Driver = s.cfg.Storage.Database.Driver
		}

		for _, route := range s.cfg.Routes {
			summary := RouteSummary{
				Path:     route.Path,
				Methods:  route.Methods,
				Handlers: make([]HandlerSummary, 0, len(route.Handlers)),
			}
			for _, h := range route.Handlers {
				id := h.ID
				if id == "" {
					id = h.Type
				}
				summary.Handlers = append(summary.Handlers, HandlerSummary{ID: id, Type: h.Type, Order: h.Order})
			}
			resp.Routes = append(resp.Routes, summary)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ContextSummary is a list view of a recorded request context.
type ContextSummary struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	Status     string `json:"status"`
	StatusCode int    `json:"status_code"`
	Entries    int    `json:"entries"`
	CreatedAt  int64  `json:"created_at"`
}

type ContextListResponse struct {
	Contexts []ContextSummary `json:"contexts"`
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "context storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}
	failedOnly, _ := strconv.ParseBool(r.URL.Query().Get("failed"))

	records, err := s.store.List(r.Context(), ports.ListOptions{Limit: limit, FailedOnly: failedOnly})
	if err != nil {
		s.logger.Error("failed to list contexts", slog.String("error", err.Error()))
		http.Error(w, "failed to list contexts", http.StatusInternalServerError)
		return
	}

	resp := ContextListResponse{Contexts: make([]ContextSummary, 0, len(records))}
	for _, rec := range records {
		resp.Contexts = append(resp.Contexts, ContextSummary{
			ID:         rec.ID,
			Method:     rec.Method,
			Path:       rec.Path,
			Status:     statusOf(rec.Context),
			StatusCode: rec.StatusCode,
			Entries:    len(rec.Context.Log),
			CreatedAt:  rec.CreatedAt.Unix(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ContextDetail is the full stored form of one request context.
type ContextDetail struct {
	ID         string                   `json:"id"`
	Status     string                   `json:"status"`
	StatusCode int                      `json:"status_code"`
	Context    domain.SerializedContext `json:"context"`
	CreatedAt  int64                    `json:"created_at"`
}

func (s *Server) handleContextDetail(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "context storage not configured", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "context_id")
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			http.Error(w, "context not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to get context", slog.String("id", id), slog.String("error", err.Error()))
		http.Error(w, "failed to get context", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ContextDetail{
		ID:         rec.ID,
		Status:     statusOf(rec.Context),
		StatusCode: rec.StatusCode,
		Context:    rec.Context,
		CreatedAt:  rec.CreatedAt.Unix(),
	})
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admission.Stats())
}

func (s *Server) handleAdmissionReset(w http.ResponseWriter, r *http.Request) {
	before := s.admission.Stats()
	s.admission.Reset()
	if before.Faulted {
		s.logger.Warn("admission fault cleared by operator", slog.Int("buffered", before.Buffered))
	}
	writeJSON(w, http.StatusOK, s.admission.Stats())
}

// statusOf derives the aggregate status of a stored context.
func statusOf(sc domain.SerializedContext) string {
	rc, err := domain.FromSerializable(sc)
	if err != nil {
		return "INVALID"
	}
	return rc.Status().String()
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
