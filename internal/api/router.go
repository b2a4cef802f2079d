// Package api serves the current vehicle list over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the handlers into a chi router
func NewRouter(h *Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Get("/api/vehicles", h.GetAllVehicles)
	r.Get("/api/vehicles.pb", h.GetVehiclesProtobuf)
	r.Get("/api/vehicles/{vehicleID}", h.GetVehicle)
	r.Get("/api/stops/{stopID}", h.GetStop)

	return r
}
