package server

import (
	"fmt"
	"net/http"
)

// HealthHandler always answers 200 OK. Suitable for liveness probes.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
}

// ReadyHandler answers 503 while the admission stream is faulted and 200 otherwise.
func ReadyHandler(ac AdmissionController) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := ac.Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if stats.Faulted {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready: admission faulted, buffered=%d, capacity=%d", stats.Buffered, stats.Capacity)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ready: buffered=%d, capacity=%d", stats.Buffered, stats.Capacity)
	})
}
