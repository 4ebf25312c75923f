package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/itzam-ai/itzam-sub000/internal/api"
	"github.com/itzam-ai/itzam-sub000/internal/api/handlers"
	"github.com/itzam-ai/itzam-sub000/internal/api/middleware"
)

type RouterConfig struct {
	ResourceHandler *handlers.ResourceHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/resources", func(r chi.Router) {
			r.Post("/", cfg.ResourceHandler.Ingest)
			r.Get("/", cfg.ResourceHandler.List)
			r.Post("/upload-url", cfg.ResourceHandler.InitUpload)
			r.Get("/{id}", cfg.ResourceHandler.Get)
			r.Post("/{id}/rescrape", cfg.ResourceHandler.Rescrape)
			r.Delete("/{id}", cfg.ResourceHandler.Delete)
		})
	})

	return r
}
