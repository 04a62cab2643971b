package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tableon/barctl/internal/api/handlers"
	"github.com/tableon/barctl/internal/api/middleware"
	"github.com/tableon/barctl/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Route("/{uuid}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Delete("/", h.CancelOrder)
			})
		})

		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", h.ListRecipes)
			r.Put("/", h.ReplaceRecipes)
			r.Get("/{menuCode}", h.GetRecipe)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/mode", h.GetMode)
			r.Put("/mode", h.SetMode)
			r.Post("/emergency-stop", h.EmergencyStop)
			r.Get("/scheduler", h.SchedulerStatus)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "barctl",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "barctl",
		})
	}
}
