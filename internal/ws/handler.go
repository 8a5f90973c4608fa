package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/auth"
	"github.com/hfujita/lobby-chat-backend/internal/binder"
	"github.com/hfujita/lobby-chat-backend/internal/channel"
	"github.com/hfujita/lobby-chat-backend/internal/rooms"
	"github.com/hfujita/lobby-chat-backend/internal/session"
	"github.com/hfujita/lobby-chat-backend/internal/types"
)

type Deps struct {
	Auth      *auth.Service
	Sessions  *session.Registry
	Directory *rooms.Directory
	Channels  *channel.Service
	Log       *zap.Logger
}

// Handler upgrades the connection and runs one binder for its lifetime. The
// token travels as a query parameter because browser websocket clients
// cannot set headers.
func Handler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		user, err := d.Auth.UserFromToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		b := binder.New(r.Context(), user, d.Sessions, d.Directory, d.Channels, d.Log)
		defer b.Close()

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range b.Out() {
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (binder teardown in defer):
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = conn.Write(r.Context(), websocket.MessageText,
					[]byte(`{"type":"Error","error":"bad json"}`))
				continue
			}
			b.Handle(cm)
		}
	}
}
