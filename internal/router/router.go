package router

import (
	"net/http"

	"farmstall/internal/handler"
	"farmstall/internal/middleware"
	"farmstall/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Logger           *logger.Logger
	Handler          *handler.Handler
	InventoryHandler *handler.InventoryHandler
	BatchHandler     *handler.BatchHandler
	ReportHandler    *handler.ReportHandler
	AdminHandler     *handler.AdminHandler
	AuthMiddleware   func(http.Handler) http.Handler
	AllowedOrigins   []string
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			if cfg.InventoryHandler != nil {
				h := cfg.InventoryHandler
				r.Route("/inventory", func(r chi.Router) {
					r.Get("/", h.List)
					r.Post("/", h.Create)
					r.Get("/storage", h.Storage)
					r.Get("/stall", h.Stall)
					r.Get("/sales", h.Sales)
					r.Get("/stream", h.Stream)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", h.Get)
						r.Patch("/", h.Update)
						r.Delete("/", h.Delete)
						r.Post("/stall", h.MoveToStall)
						r.Post("/storage", h.MoveToStorage)
						r.Post("/sell", h.Sell)
					})
				})
			}

			if cfg.BatchHandler != nil {
				h := cfg.BatchHandler
				r.Route("/batch", func(r chi.Router) {
					r.Get("/", h.Get)
					r.Post("/", h.Start)
					r.Post("/items", h.StageItem)
					r.Delete("/items/{tempID}", h.RemoveStaged)
					r.Post("/finish", h.Finish)
					r.Post("/cancel", h.Cancel)
				})
				r.Post("/flowers", h.FlowerEntry)
			}

			if cfg.ReportHandler != nil {
				h := cfg.ReportHandler
				r.Get("/dashboard", h.Dashboard)
				r.Route("/reports", func(r chi.Router) {
					r.Get("/types", h.Types)
					r.Get("/categories", h.Categories)
					r.Get("/segments", h.Segments)
				})
			}

			if cfg.AdminHandler != nil {
				r.Get("/admin/stats", cfg.AdminHandler.GetStats)
			}
		})
	})

	return r
}
