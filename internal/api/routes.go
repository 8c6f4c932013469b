package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes. metricsHandler may be nil.
func SetupRoutes(handler *Handler, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(handler.logger))

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods("GET")
	}

	// Batch triggers kept at the root for existing schedulers
	r.HandleFunc("/today", handler.Today).Methods("GET")
	r.HandleFunc("/backfill", handler.Backfill).Methods("GET")
	r.HandleFunc("/backfill/{date}", handler.BackfillDate).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/ingest", handler.Ingest).Methods("GET", "POST")
	api.HandleFunc("/reconcile", handler.Reconcile).Methods("POST")
	api.HandleFunc("/runs", handler.ListRuns).Methods("GET")
	api.HandleFunc("/runs/{id}", handler.GetRun).Methods("GET")
	api.HandleFunc("/prices/{ticker}", handler.GetPrices).Methods("GET")
	api.HandleFunc("/holidays", handler.ListHolidays).Methods("GET")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)))
		})
	}
}
