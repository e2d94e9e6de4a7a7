// Package httpapi is the local HTTP surface of leveler.
//
// Routes:
//   - POST /v1/simplify          NDJSON token stream
//   - POST /v1/chat/completions  OpenAI-compatible chat completions (SSE or JSON)
//   - GET  /healthz, /readyz     liveness and readiness
//   - GET  /metrics              Prometheus exposition
//   - GET  /api/status, /api/generations, /api/metrics  dashboard JSON
//
// Only one generation runs at a time. Requests wait for the generation slot
// up to the configured queue timeout and are then rejected with 429.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"leveler/diagnostics"
	"leveler/logging"
	"leveler/metrics"
	"leveler/session"
	"leveler/textinput"
)

// Simplifier is the generation backend. *session.ModelSession implements it.
type Simplifier interface {
	ProcessText(ctx context.Context, input string, sink session.TokenSink) (session.GenerationStats, error)
	IsModelLoaded() bool
	ModelPath() string
}

var _ Simplifier = (*session.ModelSession)(nil)

// ErrorRecorder stores diagnostics error codes for requests rejected before
// they reach the session. *diagnostics.Manager implements it.
type ErrorRecorder interface {
	RecordError(ctx context.Context, code diagnostics.ErrorCode) error
}

var _ ErrorRecorder = (*diagnostics.Manager)(nil)

// DefaultMaxBodyBytes caps JSON request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// Config configures a Server. Only Simplifier-independent fields live here.
type Config struct {
	Logger *logging.Logger

	// Guard applies the caller-side token limit. nil uses the default limit.
	Guard *textinput.Guard

	// Metrics backs the /api dashboard routes. nil disables them.
	Metrics metrics.Collector

	// Diagnostics receives TEXT_TOO_LONG for guard rejections. Optional.
	Diagnostics ErrorRecorder

	// Registerer receives the HTTP metrics; Gatherer backs /metrics.
	// Both default to the prometheus globals.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// BaseContext is cancelled on shutdown; in-flight generations stop with it.
	BaseContext context.Context

	QueueTimeout time.Duration
	CORSOrigins  []string
	MaxBodyBytes int64

	// ModelName is reported in OpenAI responses. Defaults to the model file name.
	ModelName string
	Version   string
}

// Server holds the router and the generation slot.
type Server struct {
	sim     Simplifier
	cfg     Config
	logger  *logging.Logger
	guard   *textinput.Guard
	slot    *slot
	metrics *httpMetrics
	router  chi.Router
}

// NewServer builds the router. It panics if the HTTP metrics cannot be
// registered, as prometheus.MustRegister does.
func NewServer(sim Simplifier, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Guard == nil {
		cfg.Guard = textinput.NewGuard(0)
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		sim:     sim,
		cfg:     cfg,
		logger:  cfg.Logger.Named("http"),
		guard:   cfg.Guard,
		slot:    newSlot(),
		metrics: newHTTPMetrics(cfg.Registerer),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}
	r.Use(s.metrics.middleware)
	r.Use(accessLog(s.logger, "/healthz", "/readyz", "/metrics"))

	r.Post("/v1/simplify", s.handleSimplify)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.sim.IsModelLoaded() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	if s.cfg.Metrics != nil {
		api := newStatusAPI(s.cfg.Metrics, s.cfg.Version)
		r.Get("/api/status", api.handleStatus)
		r.Get("/api/generations", api.handleGenerations)
		r.Get("/api/metrics", api.handleMetrics)
	}
	return r
}

// modelName returns the configured name or the model file stem.
func (s *Server) modelName() string {
	if s.cfg.ModelName != "" {
		return s.cfg.ModelName
	}
	path := s.sim.ModelPath()
	if path == "" {
		return "leveler"
	}
	name := path[strings.LastIndexAny(path, `/\`)+1:]
	return strings.TrimSuffix(name, ".gguf")
}

// requestContext joins the request context with the server base context so
// that both client disconnects and shutdown cancel generation.
func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	stop := context.AfterFunc(s.cfg.BaseContext, cancel)
	ctx = session.WithRequestID(ctx, middleware.GetReqID(r.Context()))
	return ctx, func() {
		stop()
		cancel()
	}
}
