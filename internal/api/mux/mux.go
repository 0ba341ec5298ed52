// Package mux assembles the API router: shared middleware first, then every
// route group.
package mux

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/sonolive/internal/api"
	"github.com/ahrav/sonolive/internal/api/mid"
	"github.com/ahrav/sonolive/internal/config/credentials"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/requests"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// Options represent optional parameters.
type Options struct {
	corsOrigin []string
	excluded   map[string]struct{}
}

// WithCORS provides configuration options for CORS.
func WithCORS(origins []string) func(opts *Options) {
	return func(opts *Options) {
		opts.corsOrigin = origins
	}
}

// WithUntracedRoutes skips tracing for paths under the given prefixes.
func WithUntracedRoutes(prefixes map[string]struct{}) func(opts *Options) {
	return func(opts *Options) {
		opts.excluded = prefixes
	}
}

// Observers attaches websocket observers to the session.
type Observers interface {
	ServeWebsocket(ctx context.Context, ws *websocket.Conn, principal discovery.Principal) error
}

// Sessions serves the current session state.
type Sessions interface {
	Snapshot(ctx context.Context) (discovery.Snapshot, error)
}

// Requests lists the artist requests awaiting an administrator.
type Requests interface {
	Pending() []requests.Request
	Resolve(userID, identity string, status requests.Status) bool
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build       string
	ServiceName string
	Log         *logger.Logger
	Tracer      trace.Tracer
	Metrics     api.APIMetrics
	Credentials credentials.Store
	Observers   Observers
	Sessions    Sessions
	Requests    Requests
	// AllowedOrigins gates websocket upgrades as well as CORS.
	AllowedOrigins []string
}

// RouteAdder defines behavior that sets the routes to bind for an instance
// of the service.
type RouteAdder interface {
	Add(r chi.Router, cfg Config)
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, routeAdder RouteAdder, options ...func(opts *Options)) http.Handler {
	var opts Options
	for _, option := range options {
		option(&opts)
	}
	cfg.AllowedOrigins = opts.corsOrigin

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mid.Otel(cfg.ServiceName, opts.excluded))
	r.Use(mid.Logger(cfg.Log))
	r.Use(mid.Instrument(cfg.Metrics))
	r.Use(middleware.Recoverer)

	if len(opts.corsOrigin) > 0 {
		r.Use(mid.CORS(opts.corsOrigin))
	}

	routeAdder.Add(r, cfg)

	return r
}
