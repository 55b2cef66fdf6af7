package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every endpoint and the logging and metrics middleware.
func NewRouter(h *Handler, logger *slog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestLogger(logger), MetricsMiddleware)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.ReadyHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/beams", h.SubmitBeamHandler).Methods(http.MethodPost)
	v1.HandleFunc("/beams", h.ListBeamsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/beams/{id}", h.GetBeamHandler).Methods(http.MethodGet)
	v1.HandleFunc("/beams/{id}/begin", h.BeginBeamHandler).Methods(http.MethodPost)
	v1.HandleFunc("/beams/{id}/complete", h.CompleteBeamHandler).Methods(http.MethodPost)
	v1.HandleFunc("/beams/{id}/fail", h.FailBeamHandler).Methods(http.MethodPost)
	v1.HandleFunc("/beams/{id}/payload", h.UploadPayloadHandler).Methods(http.MethodPut)
	v1.HandleFunc("/beams/{id}/payload", h.DownloadPayloadHandler).Methods(http.MethodGet)

	// mux skips r.Use middleware for unmatched requests, so wrap these directly.
	unmatched := func(fn http.HandlerFunc) http.Handler {
		return RequestLogger(logger)(MetricsMiddleware(fn))
	}
	r.NotFoundHandler = unmatched(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowedHandler = unmatched(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}
