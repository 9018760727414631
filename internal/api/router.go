package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(apiHandler *APIHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", apiHandler.IngestHandler)
				r.Get("/chats", apiHandler.ListChatsHandler)
				r.Get("/{chatID}", apiHandler.GetMessagesHandler)
				r.Get("/{chatID}/stats", apiHandler.ChatStatsHandler)
			})

			r.Route("/embeddings", func(r chi.Router) {
				r.Post("/search", apiHandler.SearchHandler)
				r.Post("/{chatID}/process", apiHandler.ReprocessHandler)
				r.Get("/{chatID}/clusters", apiHandler.ClustersHandler)
			})
		})
	})

	return r
}
