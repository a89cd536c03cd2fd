// Package admin serves the HTTP side of a mount: health, Prometheus
// metrics and the live configuration nodes of the .extend directory.
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"extendfs/internal/extend"
	"extendfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("admin")
)

// NodeSource lists the configuration nodes of a mount.
type NodeSource interface {
	Nodes() []*extend.Node
	Node(name string) (*extend.Node, bool)
}

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /metrics - Prometheus metrics from gatherer
//   - GET /extend - All configuration nodes
//   - GET /extend/{name} - One node
//   - PUT /extend/{name} - Store a new value, the body is the value
func NewRouter(nodes NodeSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &nodeHandler{nodes: nodes}

	r.Get("/health", health)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/"+extend.Namespace, func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{name}", h.get)
		r.Put("/{name}", h.put)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs every request with the logging package.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("Request %s started: %s %s from %s", requestID, r.Method, r.URL.Path, r.RemoteAddr)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("Request %s completed: %s %s status=%d bytes=%d duration=%s",
			requestID, r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start))
	})
}
