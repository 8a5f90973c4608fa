// Package channel is the append-only chat log. The lobby-wide feed and the
// per-room feeds are the same thing mounted at different paths.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/store"
)

var ErrEmptyMessage = errors.New("message is empty")
var ErrNoUser = errors.New("no authenticated user")

// LobbyPath is the shared lobby-wide feed.
const LobbyPath = "lobby-messages"

// RoomPath is the feed scoped to one room.
func RoomPath(roomID string) string {
	return "rooms/" + roomID + "/messages"
}

// Message is immutable once written. Username is denormalized at send time
// and not updated if the sender later renames.
type Message struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type Service struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(s store.Store, log *zap.Logger) *Service {
	return &Service{store: s, log: log, now: time.Now}
}

// Send appends a message at path. Whitespace-only content is a guard, not a
// reported error; callers swallow it.
func (s *Service) Send(ctx context.Context, path, userID, userName, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if userID == "" {
		return ErrNoUser
	}

	id := uuid.NewString()
	value := map[string]any{
		"userId":    userID,
		"username":  userName,
		"content":   content,
		"timestamp": s.now().UnixMilli(),
	}
	if err := s.store.Write(ctx, path+"/"+id, value); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Watch streams the full message log at path, sorted by timestamp
// ascending, on every change. Equal timestamps fall back to message id so
// every consumer sees the same order.
type Watch struct {
	C   <-chan []Message
	sub *store.Subscription
}

func (w *Watch) Close() { w.sub.Close() }

func (s *Service) Watch(ctx context.Context, path string) (*Watch, error) {
	sub, err := s.store.Subscribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("watch channel: %w", err)
	}
	out := make(chan []Message, 8)
	go func() {
		defer close(out)
		for snap := range sub.C {
			out <- decodeMessages(snap)
		}
	}()
	return &Watch{C: out, sub: sub}, nil
}

func decodeMessages(snap any) []Message {
	data, _ := snap.(map[string]any)
	list := make([]Message, 0, len(data))
	for id, v := range data {
		m, _ := v.(map[string]any)
		msg := Message{ID: id}
		if userID, ok := m["userId"].(string); ok {
			msg.UserID = userID
		}
		if name, ok := m["username"].(string); ok {
			msg.Username = name
		}
		if content, ok := m["content"].(string); ok {
			msg.Content = content
		}
		switch ts := m["timestamp"].(type) {
		case int64:
			msg.Timestamp = ts
		case float64:
			// JSON decoding (redis backend) yields float64
			msg.Timestamp = int64(ts)
		}
		list = append(list, msg)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp < list[j].Timestamp
		}
		return list[i].ID < list[j].ID
	})
	return list
}
