// Package api implements Serengeti's HTTP boundary: the handful of
// routes a node exposes to clients and to its peers (`/`, `/health`,
// `/metrics`, `/admin`, `/post`, `/query`, `/meta`), served through a
// layered middleware chain, scaled down to a single-process
// single-admin design rather than a multi-user auth surface.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/serengeti-db/serengeti/internal/catalog"
	"github.com/serengeti-db/serengeti/internal/cluster"
	"github.com/serengeti-db/serengeti/internal/executor"
	"github.com/serengeti-db/serengeti/internal/logging"
	"github.com/serengeti-db/serengeti/internal/metrics"
	"github.com/serengeti-db/serengeti/internal/persistence"
	"github.com/serengeti-db/serengeti/internal/replication"
)

// Version is Serengeti's reported build version, surfaced at GET /.
const Version = "0.1.0"

// Server answers the HTTP routes listed above for one node.
type Server struct {
	catalog    *catalog.Catalog
	executor   *executor.Executor
	membership *cluster.Membership
	transport  *replication.Transport
	scheduler  *persistence.Scheduler
	metrics    *metrics.Registry
	log        *logging.Logger
	admin      *AdminAuth

	port int
}

// New builds a Server. scheduler may be nil (health degrades to
// membership size alone when persistence is disabled).
func New(
	cat *catalog.Catalog,
	exec *executor.Executor,
	membership *cluster.Membership,
	transport *replication.Transport,
	scheduler *persistence.Scheduler,
	reg *metrics.Registry,
	log *logging.Logger,
	admin *AdminAuth,
	port int,
) *Server {
	if log == nil {
		log = logging.Nop()
	}
	return &Server{
		catalog:    cat,
		executor:   exec,
		membership: membership,
		transport:  transport,
		scheduler:  scheduler,
		metrics:    reg,
		log:        log.Component("api"),
		admin:      admin,
		port:       port,
	}
}

// Handler builds the routed, middleware-wrapped http.Handler, exposed
// separately from ListenAndServe so tests can drive it with
// httptest.NewServer without binding a real port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.PrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/admin", s.requireAdmin(s.handleAdmin))
	mux.HandleFunc("/admin/token", s.handleAdminToken)
	mux.HandleFunc("/post", s.handlePost)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/meta", s.handleMeta)

	// Middleware chain applies outermost-first: recovery wraps logging
	// wraps metrics wraps the mux.
	return s.recoveryMiddleware(s.loggingMiddleware(s.metricsMiddleware(mux)))
}

// ListenAndServe binds and serves the routed handler on s.port.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.log.Info("http api listening", logging.F("addr", addr))
	return srv.ListenAndServe()
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", logging.F("route", r.URL.Path), logging.F("panic", fmt.Sprintf("%v", rec)))
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Debug("request",
			logging.F("method", r.Method), logging.F("path", r.URL.Path),
			logging.F("status", wrapped.status), logging.F("duration_ms", time.Since(start).Milliseconds()))
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		wrapped := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		status := fmt.Sprintf("%d", wrapped.status)
		s.metrics.RecordHTTP(r.URL.Path, status, time.Since(start))
	})
}

// statusCapturingWriter records the status code written so the
// logging/metrics middleware can report it after the handler returns.
type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.admin == nil || !s.admin.VerifyToken(bearerToken(r)) {
			respondError(w, http.StatusUnauthorized, "admin authorization required")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
