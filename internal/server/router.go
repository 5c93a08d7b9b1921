package server

import (
	"net/http"

	"github.com/as775116191/ragflow/internal/api"
	"github.com/as775116191/ragflow/internal/api/handlers"
	"github.com/as775116191/ragflow/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes          int64 = 5 * 1024 * 1024
	defaultMaxUploadBytes int64 = 64 * 1024 * 1024
)

type RouterConfig struct {
	Auth                 middleware.PrincipalResolver
	KnowledgeBaseHandler *handlers.KnowledgeBaseHandler
	DocumentHandler      *handlers.DocumentHandler
	SyncHandler          *handlers.SyncHandler
	AuthHandler          *handlers.AuthHandler
	// MaxUploadBytes caps document uploads. Zero means 64MB.
	MaxUploadBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	uploadLimit := cfg.MaxUploadBytes
	if uploadLimit <= 0 {
		uploadLimit = defaultMaxUploadBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	jsonLimit := middleware.MaxBodyBytes(maxBodyBytes)

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.Auth))

		r.With(jsonLimit).Get("/me", cfg.AuthHandler.Me)
		r.With(jsonLimit).Get("/syncs", cfg.SyncHandler.ListRunning)

		r.Route("/apikeys", func(r chi.Router) {
			r.Use(jsonLimit)
			r.Get("/", cfg.AuthHandler.ListAPIKeys)
			r.Post("/", cfg.AuthHandler.CreateAPIKey)
			r.Delete("/{keyID}", cfg.AuthHandler.RevokeAPIKey)
		})

		r.Route("/kbs", func(r chi.Router) {
			// Uploads carry their own limit, so the JSON limit is applied per group.
			r.With(middleware.MaxBodyBytes(uploadLimit)).Post("/{id}/documents", cfg.DocumentHandler.Upload)

			r.Group(func(r chi.Router) {
				r.Use(jsonLimit)

				r.Post("/", cfg.KnowledgeBaseHandler.Create)
				r.Get("/", cfg.KnowledgeBaseHandler.List)
				r.Get("/{id}", cfg.KnowledgeBaseHandler.Get)
				r.Put("/{id}", cfg.KnowledgeBaseHandler.Update)
				r.Delete("/{id}", cfg.KnowledgeBaseHandler.Delete)
				r.Put("/{id}/sync-config", cfg.KnowledgeBaseHandler.UpdateSyncConfig)

				r.Get("/{id}/documents", cfg.DocumentHandler.List)
				r.Delete("/{id}/documents/{docID}", cfg.DocumentHandler.Delete)
				r.Get("/{id}/documents/{docID}/download", cfg.DocumentHandler.Download)

				r.Post("/{id}/sync", cfg.SyncHandler.Start)
				r.Get("/{id}/sync", cfg.SyncHandler.Status)
				r.Post("/{id}/sync/cancel", cfg.SyncHandler.Cancel)
				r.Delete("/{id}/sync/cursor", cfg.SyncHandler.ResetCursor)
			})
		})
	})

	return r
}
