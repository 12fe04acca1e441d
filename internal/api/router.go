package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/inkwell/internal/docservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *docservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/documents", h.ListDocuments)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.OpenSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)

			r.Get("/markdown", h.GetMarkdown)
			r.Put("/markdown", h.PutMarkdown)
			r.Put("/nodes/{nodeID}", h.PutNodeText)
			r.Post("/selection", h.FindSelection)

			r.Post("/ai-edit", h.AIEdit)
			r.Post("/cancel", h.Cancel)
			r.Post("/undo", h.Undo)
			r.Post("/redo", h.Redo)
			r.Get("/history", h.History)

			r.Post("/save", h.Save)
			r.Post("/reload", h.Reload)
			r.Get("/revisions", h.Revisions)
		})
	})

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
