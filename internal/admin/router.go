// Package admin is the HTTP surface for health/readiness checks and
// metrics scraping — everything spec.md §1 keeps out of the core ("admin
// CLI, permission checks" are non-goals, but the ambient operability
// surface still gets built, per the teacher's convention).
//
// Trimmed from the teacher's internal/api/router.go: the chi router,
// RequestID/RealIP/Recoverer middleware stack, and request-logging
// middleware are kept as-is; the auth, CRUD, and websocket routes are
// dropped since this repo has no equivalent resources.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/thesorekill/SorekillRTP/internal/store"
)

// Config holds the dependencies the admin router's handlers need.
type Config struct {
	Store    store.Client
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// NewRouter builds the admin HTTP surface: /healthz, /readyz, /metrics.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler())
	r.Get("/readyz", readyHandler(cfg.Store))
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	return r
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// readyHandler reports readiness as the store's own IsRunning flag —
// this process has nothing else that can be "not ready" once it's up.
func readyHandler(s store.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.IsRunning() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestLogger mirrors the teacher's api.RequestLogger: wrap the
// response writer to capture status/bytes, log one line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
