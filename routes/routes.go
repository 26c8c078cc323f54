package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/projecthub/ai-orchestrator/app"
	"github.com/projecthub/ai-orchestrator/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	health := handlers.NewHealthHandler(deps.Logger, map[string]handlers.ReadinessCheck{
		"database": handlers.DatabaseCheck(deps.DB.DB),
	})
	dispatch := handlers.NewDispatchHandler(deps.Router, deps.Logger)
	admin := handlers.NewAdminHandler(
		deps.Breaker,
		deps.Catalog,
		deps.Ledger,
		deps.Router,
		deps.Repositories().Usage,
		deps.Logger,
	)

	// Health check endpoints
	r.Get("/health", health.HandleHealth)
	r.Get("/health/ready", health.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/dispatch", dispatch.HandleDispatch)
	})

	// Operational surface: circuits, catalog, rollups, usage
	r.Route("/admin", func(r chi.Router) {
		r.Get("/circuits", admin.HandleListCircuits)
		r.Get("/circuits/{serviceKey}", admin.HandleGetCircuit)
		r.Post("/circuits/{serviceKey}/reset", admin.HandleResetCircuit)

		r.Get("/models", admin.HandleListModels)
		r.Put("/models", admin.HandleUpsertModel)
		r.Patch("/models/{modelID}/availability", admin.HandleSetAvailability)

		r.Get("/performance", admin.HandleListPerformance)
		r.Get("/performance/{modelID}", admin.HandleGetPerformance)

		r.Get("/usage", admin.HandleListUsage)
		r.Post("/usage/cleanup", admin.HandleCleanupUsage)

		r.Get("/services/{serviceKey}/config", admin.HandleGetServiceConfig)
		r.Put("/services/{serviceKey}/config", admin.HandleConfigureService)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
