package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lucidspace/atelier-api/internal/api"
	apiMiddleware "github.com/lucidspace/atelier-api/internal/api/middleware"
)

// setupRouter builds the HTTP routing table from the application's services.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	sessionHandler := api.NewSessionHandler(app.sessionStore, app.renderStore)
	renderHandler := api.NewRenderHandler(app.renderService)
	documentHandler := api.NewDocumentHandler(app.documentService)
	assetHandler := api.NewAssetHandler(app.assetService)
	chatHandler := api.NewChatHandler(app.chatService)
	wsHandler := api.NewWSHandler(app.hub, app.sessionStore, app.cfg.Relay, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions/{id}", sessionHandler.GetSession)
		r.Get("/sessions/{id}/rooms", sessionHandler.ListRooms)

		r.Post("/sessions/{id}/renders", renderHandler.CreateRender)
		r.Get("/sessions/{id}/renders", renderHandler.ListRenders)
		r.Get("/sessions/{id}/renders/{renderID}", renderHandler.GetRender)

		r.Post("/sessions/{id}/documents", documentHandler.CreateDocument)
		r.Get("/documents/{id}", documentHandler.GetDocument)

		r.Post("/sessions/{id}/assets", assetHandler.UploadAsset)
		r.Get("/assets/{id}", assetHandler.GetAsset)
		r.Post("/assets/{id}/optimize", assetHandler.RequestOptimize)

		r.Post("/sessions/{id}/messages", chatHandler.SubmitMessage)
	})

	// Event stream for session subscribers.
	r.Get("/ws", wsHandler.Subscribe)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
