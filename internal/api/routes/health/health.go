package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/sonolive/internal/api/errs"
	"github.com/ahrav/sonolive/internal/api/web"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// readinessTimeout bounds how long the session actor may take to answer.
const readinessTimeout = 2 * time.Second

// Sessions is probed for readiness; the service is ready while the session
// actor answers.
type Sessions interface {
	Snapshot(ctx context.Context) (discovery.Snapshot, error)
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build    string
	Log      *logger.Logger
	Sessions Sessions
}

// Routes binds all the health check endpoints.
func Routes(r chi.Router, cfg Config) {
	r.Get("/v1/health", check(cfg))
	r.Get("/v1/readiness", readiness(cfg))
}

// healthResponse represents the response for health check.
type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build"`
}

// readyResponse represents the response for readiness check.
type readyResponse struct {
	Status string `json:"status"`
}

func check(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = web.Respond(w, http.StatusOK, healthResponse{Status: "ok", Build: cfg.Build})
	}
}

func readiness(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if _, err := cfg.Sessions.Snapshot(ctx); err != nil {
			cfg.Log.Warn(ctx, "readiness check failed", "error", err)
			_ = web.RespondError(w, errs.New(errs.Unavailable, err))
			return
		}
		_ = web.Respond(w, http.StatusOK, readyResponse{Status: "ready"})
	}
}
