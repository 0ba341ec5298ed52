// Package session exposes the discovery session over HTTP: the observer
// websocket, a one-shot snapshot and the artist request queue.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ahrav/sonolive/internal/api/errs"
	"github.com/ahrav/sonolive/internal/api/mid"
	"github.com/ahrav/sonolive/internal/api/web"
	"github.com/ahrav/sonolive/internal/config/credentials"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/upstream/requests"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// Observers attaches websocket observers to the session.
type Observers interface {
	ServeWebsocket(ctx context.Context, ws *websocket.Conn, principal discovery.Principal) error
}

// Sessions serves the current session state.
type Sessions interface {
	Snapshot(ctx context.Context) (discovery.Snapshot, error)
}

// Requests is the artist request queue.
type Requests interface {
	Pending() []requests.Request
	Resolve(userID, identity string, status requests.Status) bool
}

// Metrics counts authentication failures and websocket upgrades.
type Metrics interface {
	mid.AuthFailures
	IncUpgrades(ctx context.Context)
	IncUpgradeErrors(ctx context.Context)
}

// Config contains the dependencies needed by the session handlers.
type Config struct {
	Log            *logger.Logger
	Metrics        Metrics
	Credentials    credentials.Store
	Observers      Observers
	Sessions       Sessions
	Requests       Requests
	AllowedOrigins []string
}

// Routes binds all the session endpoints. Every route requires a token.
func Routes(r chi.Router, cfg Config) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	// Without configured origins gorilla falls back to a same-origin check.
	if len(cfg.AllowedOrigins) > 0 {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || mid.OriginAllowed(cfg.AllowedOrigins, origin)
		}
	}

	r.Group(func(r chi.Router) {
		r.Use(mid.Authenticate(cfg.Credentials, cfg.Metrics))

		r.Get("/v1/ws", serveWebsocket(cfg, &upgrader))
		r.Get("/v1/session", snapshot(cfg))
		r.Get("/v1/requests", pendingRequests(cfg))
		r.Post("/v1/requests/{userID}/{identity}", resolveRequest(cfg))
	})
}

func serveWebsocket(cfg Config, upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		principal, _ := mid.PrincipalFrom(ctx)

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			cfg.Metrics.IncUpgradeErrors(ctx)
			cfg.Log.Warn(ctx, "websocket upgrade failed", "error", err)
			return
		}
		cfg.Metrics.IncUpgrades(ctx)

		if err := cfg.Observers.ServeWebsocket(ctx, ws, principal); err != nil {
			cfg.Log.Warn(ctx, "observer session ended with error", "user_id", principal.UserID, "error", err)
		}
	}
}

func snapshot(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := cfg.Sessions.Snapshot(r.Context())
		if err != nil {
			_ = web.RespondError(w, errs.New(errs.Unavailable, err))
			return
		}
		_ = web.Respond(w, http.StatusOK, snap)
	}
}

type pendingResponse struct {
	Requests []requests.Request `json:"requests"`
}

func pendingRequests(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := requireAdmin(r.Context()); err != nil {
			_ = web.RespondError(w, err)
			return
		}
		pending := cfg.Requests.Pending()
		if pending == nil {
			pending = []requests.Request{}
		}
		_ = web.Respond(w, http.StatusOK, pendingResponse{Requests: pending})
	}
}

type resolveRequestBody struct {
	Status requests.Status `json:"status" validate:"required,oneof=approved rejected"`
}

func resolveRequest(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if err := requireAdmin(ctx); err != nil {
			_ = web.RespondError(w, err)
			return
		}

		var body resolveRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			_ = web.RespondError(w, errs.New(errs.InvalidArgument, err))
			return
		}
		if err := errs.Check(body); err != nil {
			_ = web.RespondError(w, errs.New(errs.InvalidArgument, err))
			return
		}

		userID, identity := chi.URLParam(r, "userID"), chi.URLParam(r, "identity")
		if !cfg.Requests.Resolve(userID, identity, body.Status) {
			_ = web.RespondError(w, errs.Newf(errs.NotFound, "no request from %q for %q", userID, identity))
			return
		}
		cfg.Log.Info(ctx, "artist request resolved", "user_id", userID, "identity", identity, "status", body.Status)
		_ = web.Respond(w, http.StatusNoContent, nil)
	}
}

func requireAdmin(ctx context.Context) error {
	p, ok := mid.PrincipalFrom(ctx)
	if !ok || !p.IsAdmin() {
		return errs.New(errs.PermissionDenied, errors.New("administrator role required"))
	}
	return nil
}
