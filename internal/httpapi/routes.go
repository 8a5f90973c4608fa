package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/auth"
	"github.com/hfujita/lobby-chat-backend/internal/rooms"
	"github.com/hfujita/lobby-chat-backend/internal/ws"
)

func SetupRoutes(a *auth.Service, d *rooms.Directory, wsDeps ws.Deps, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Post("/api/signup", Signup(a, log))
	r.Post("/api/login", Login(a, log))
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(wsDeps))

	// Token-guarded REST surface
	r.Group(func(r chi.Router) {
		r.Use(a.Middleware)
		r.Get("/api/rooms", ListRooms(d))
		r.Post("/api/rooms", CreateRoom(d))
	})

	return r
}
