// Package routes binds every route group of the API.
package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/ahrav/sonolive/internal/api/mux"
	"github.com/ahrav/sonolive/internal/api/routes/health"
	"github.com/ahrav/sonolive/internal/api/routes/session"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(r chi.Router, cfg mux.Config) {
	health.Routes(r, health.Config{
		Build:    cfg.Build,
		Log:      cfg.Log,
		Sessions: cfg.Sessions,
	})

	session.Routes(r, session.Config{
		Log:            cfg.Log,
		Metrics:        cfg.Metrics,
		Credentials:    cfg.Credentials,
		Observers:      cfg.Observers,
		Sessions:       cfg.Sessions,
		Requests:       cfg.Requests,
		AllowedOrigins: cfg.AllowedOrigins,
	})
}
