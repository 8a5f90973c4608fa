package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/auth"
	"github.com/hfujita/lobby-chat-backend/internal/rooms"
	"github.com/hfujita/lobby-chat-backend/internal/types"
)

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type tokenResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func Signup(a *auth.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if body.Email == "" || body.Password == "" {
			http.Error(w, "email and password required", http.StatusBadRequest)
			return
		}
		user, err := a.Register(r.Context(), body.Email, body.Password, body.DisplayName)
		if errors.Is(err, auth.ErrEmailTaken) {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("signup failed", zap.Error(err))
			http.Error(w, "signup failed", http.StatusInternalServerError)
			return
		}
		writeToken(w, a, user, log, http.StatusCreated)
	}
}

func Login(a *auth.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body credentials
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		user, err := a.SignIn(r.Context(), body.Email, body.Password)
		if errors.Is(err, auth.ErrBadCredentials) {
			// One generic message for every failure mode, nothing leaked.
			http.Error(w, "invalid email or password", http.StatusUnauthorized)
			return
		}
		if err != nil {
			log.Error("login failed", zap.Error(err))
			http.Error(w, "login failed", http.StatusInternalServerError)
			return
		}
		writeToken(w, a, user, log, http.StatusOK)
	}
}

func writeToken(w http.ResponseWriter, a *auth.Service, user auth.User, log *zap.Logger, status int) {
	token, err := a.IssueToken(user)
	if err != nil {
		log.Error("issue token failed", zap.Error(err))
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenResponse{
		Token:       token,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	})
}

// CreateRoom is the REST flavor of room creation; the websocket binder is
// the usual path, but a plain client can bootstrap a room here.
func CreateRoom(d *rooms.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.CurrentUser(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		roomID, err := d.Create(r.Context(), body.Name, user.ID, user.DisplayName)
		if errors.Is(err, rooms.ErrEmptyName) {
			http.Error(w, "room name required", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(struct {
			ID string `json:"id"`
		}{ID: roomID})
	}
}

// ListRooms is a one-shot read of the directory for clients that are not
// holding a live subscription.
func ListRooms(d *rooms.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := d.List(r.Context())
		if err != nil {
			http.Error(w, "failed to list rooms", http.StatusInternalServerError)
			return
		}
		views := make([]types.RoomView, 0, len(list))
		for _, room := range list {
			views = append(views, types.RoomView{
				ID:          room.ID,
				Name:        room.Name,
				PlayerCount: room.PlayerCount(),
				Players:     room.Players,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
