// Package api exposes the HTTP interface the scraping workers poll and push
// to. The interface is bound to loopback and carries no authentication;
// payload validation is the only defense against malformed worker input.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-coordinator/internal/config"
	"github.com/JakeFAU/storefront-coordinator/internal/coord"
	"github.com/JakeFAU/storefront-coordinator/internal/metrics"
	"github.com/JakeFAU/storefront-coordinator/internal/progress"
	"github.com/JakeFAU/storefront-coordinator/internal/quota"
	"github.com/JakeFAU/storefront-coordinator/internal/relay"
	"github.com/JakeFAU/storefront-coordinator/internal/selection"
	"github.com/JakeFAU/storefront-coordinator/internal/state"
)

// IDGenerator creates run identifiers for selections that omit one.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the coordination engine.
type Server struct {
	router   chi.Router
	states   *state.Store
	quota    *quota.Counter
	selected *selection.Registry
	relay    *relay.Relay
	emitter  progress.Emitter
	idGen    IDGenerator
	clock    coord.Clock
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The registry
// backs /metrics and the per-route request collectors; nil falls back to the
// default registry.
func NewServer(
	states *state.Store,
	quotaCounter *quota.Counter,
	selected *selection.Registry,
	ingest *relay.Relay,
	emitter progress.Emitter,
	idGen IDGenerator,
	clock coord.Clock,
	cfg config.Config,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *Server {
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	s := &Server{
		states:   states,
		quota:    quotaCounter,
		selected: selected,
		relay:    ingest,
		emitter:  emitter,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.NewHTTP(registry).Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Post("/state", s.setState)
	r.Get("/state", s.getState)
	r.Post("/progress", s.postProgress)
	r.Get("/status", s.getStatus)
	r.Post("/links", s.selectStores)
	r.Delete("/run", s.dropRun)
	r.Post("/visit", s.visitDecision)
	r.Post("/product-data", s.productData)
	r.Post("/product-image", s.productImage)
	r.Post("/product-name", s.productName)
	r.Post("/product-reviews", s.productReviews)
	r.Post("/taobao-pairing", s.taobaoPairing)
	r.Post("/gonggu-check", s.gongguCheck)
	r.Post("/all-products", s.allProducts)
	r.Post("/log", s.workerLog)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// resolveRun maps an omitted runId to the active selection so single-session
// workers need not thread run IDs through every request.
func (s *Server) resolveRun(runID string) string {
	if runID == "" {
		return s.selected.ActiveRun()
	}
	return runID
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// recoverMiddleware converts handler panics into 500 responses. Workers are
// untrusted browser scripts; the coordinator must outlive anything they send.
func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
