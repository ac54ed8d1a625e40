package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"relay-backend/internal/handlers"
	"relay-backend/internal/middleware"
	"relay-backend/internal/websocket"
)

func New(
	sessionTokens *middleware.SessionTokens,
	sessionHandler *handlers.SessionHandler,
	wsHub *websocket.Hub,
	clientURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(clientURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", sessionHandler.Stats)

		r.Route("/session", func(r chi.Router) {
			r.Use(sessionTokens.Middleware)
			r.Get("/history", sessionHandler.History)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
