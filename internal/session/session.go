// Package session tracks which room a user currently occupies. The check is
// advisory: it is read once when a screen mounts, so two racing clients can
// still land the same user in two rooms. There is no lock to prevent that.
package session

import (
	"context"
	"fmt"

	"github.com/hfujita/lobby-chat-backend/internal/store"
)

func userRoomPath(userID string) string {
	return "users/" + userID + "/currentRoom"
}

type Registry struct {
	store store.Store
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// SetUserRoom records the room a user occupies. Idempotent; overwrites any
// prior value.
func (r *Registry) SetUserRoom(ctx context.Context, userID, roomID string) error {
	if err := r.store.Write(ctx, userRoomPath(userID), roomID); err != nil {
		return fmt.Errorf("set user room: %w", err)
	}
	return nil
}

// ClearUserRoom removes the record. Clearing an absent record is a no-op.
func (r *Registry) ClearUserRoom(ctx context.Context, userID string) error {
	if err := r.store.Delete(ctx, userRoomPath(userID)); err != nil {
		return fmt.Errorf("clear user room: %w", err)
	}
	return nil
}

// GetUserRoom returns the occupied room id, or "" if the user is in no room.
func (r *Registry) GetUserRoom(ctx context.Context, userID string) (string, error) {
	v, err := r.store.ReadOnce(ctx, userRoomPath(userID))
	if err != nil {
		return "", fmt.Errorf("get user room: %w", err)
	}
	roomID, _ := v.(string)
	return roomID, nil
}
