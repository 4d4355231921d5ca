package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/portal"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/signedtoken"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Authorizer makes RBAC decisions for internal actors
type Authorizer interface {
	rbac.Authorizer
	Authorize(ctx context.Context, req rbac.Request) (rbac.Decision, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Options wires the server's dependencies. Authorizer, Portal and FileLinks
// are required.
type Options struct {
	Authorizer Authorizer
	Portal     *portal.Engine
	FileLinks  *signedtoken.Codec

	// Documents serves file links; nil disables /v1/files
	Documents storage.Fetcher
	// AuditSearcher serves /v1/audit; nil disables it
	AuditSearcher audit.Searcher
	// Metrics serves /metrics; nil disables it
	Metrics *prometheus.Registry

	// PublicLimiter and PINLimiter throttle the unauthenticated token
	// routes per client; nil disables throttling
	PublicLimiter middleware.Limiter
	PINLimiter    middleware.Limiter

	ActorHeader    string
	AccountHeader  string
	FileLinkTTL    time.Duration
	MaxFileLinkTTL time.Duration

	HealthChecks map[string]HealthCheck
	Logger       logrus.FieldLogger
}

// Server is the gatehouse HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	log     logrus.FieldLogger
	health  map[string]HealthCheck
}

// NewServer builds the router
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Authorizer == nil:
		return nil, fmt.Errorf("authorizer is required")
	case opts.Portal == nil:
		return nil, fmt.Errorf("portal engine is required")
	case opts.FileLinks == nil:
		return nil, fmt.Errorf("file link codec is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ActorHeader == "" {
		opts.ActorHeader = "X-Actor-ID"
	}
	if opts.FileLinkTTL <= 0 {
		opts.FileLinkTTL = 5 * time.Minute
	}
	if opts.MaxFileLinkTTL < opts.FileLinkTTL {
		opts.MaxFileLinkTTL = opts.FileLinkTTL
	}

	s := &Server{
		router: mux.NewRouter(),
		log:    opts.Logger,
		health: opts.HealthChecks,
	}
	s.setupRoutes(opts)
	s.handler = otelhttp.NewHandler(s.router, "gatehouse.http")
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(opts Options) {
	s.router.Use(
		httputil.RecoveryMiddleware(s.log),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.log, routeTemplate),
		middleware.IdentityMiddleware(opts.ActorHeader, opts.AccountHeader),
	)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteNotFound(w)
	})

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if opts.Metrics != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(opts.Metrics)).Methods(http.MethodGet)
	}

	guard := rbac.NewGuard(opts.Authorizer, s.log)
	public := throttle(opts.PublicLimiter, s.log)
	pin := throttle(opts.PINLimiter, s.log)

	NewPortalHandlers(opts.Portal, s.log).RegisterRoutes(s.router, guard, public, pin)
	NewAuthorizeHandlers(opts.Authorizer, s.log).RegisterRoutes(s.router)

	if opts.Documents != nil {
		NewFileHandlers(opts.FileLinks, opts.Documents, opts.FileLinkTTL, opts.MaxFileLinkTTL, s.log).
			RegisterRoutes(s.router, guard, public)
	}
	if opts.AuditSearcher != nil {
		audit.NewHandlers(opts.AuditSearcher, s.log).RegisterRoutes(s.router, guard)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional registrations
func (s *Server) Router() *mux.Router {
	return s.router
}

// healthz handles GET /healthz
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			s.log.WithError(err).WithField("check", name).Warn("health check failed")
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]interface{}{
		"status": http.StatusText(status),
		"checks": checks,
	})
}

// throttle returns rate limiting middleware, or a pass-through when limiter
// is nil
func throttle(limiter middleware.Limiter, log logrus.FieldLogger) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.NewRateLimitMiddleware(limiter, log).Handler
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
