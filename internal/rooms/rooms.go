package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/session"
	"github.com/hfujita/lobby-chat-backend/internal/store"
)

var ErrEmptyName = errors.New("room name is empty")
var ErrNoUser = errors.New("no authenticated user")
var ErrRoomNotFound = errors.New("room not found")

// Room as the directory presents it. PlayerCount is always derived from the
// occupant mapping, never stored: a stored counter would race under
// concurrent joins and leaves.
type Room struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Players map[string]string `json:"players"`
}

func (r Room) PlayerCount() int { return len(r.Players) }

func roomPath(roomID string) string {
	return "rooms/" + roomID
}

func playerPath(roomID, userID string) string {
	return "rooms/" + roomID + "/players/" + userID
}

// Directory is the live list of rooms. Occupancy bookkeeping goes through
// the session registry so a user is associated with at most one room.
type Directory struct {
	store    store.Store
	sessions *session.Registry
	log      *zap.Logger
}

func NewDirectory(s store.Store, sessions *session.Registry, log *zap.Logger) *Directory {
	return &Directory{store: s, sessions: sessions, log: log}
}

// Create allocates a room with the creator as its first occupant, then
// records the creator's session. Empty names and missing users are guards,
// not reported errors; callers are expected to swallow them.
func (d *Directory) Create(ctx context.Context, name, userID, userName string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if userID == "" {
		return "", ErrNoUser
	}

	roomID := uuid.NewString()
	value := map[string]any{
		"name": name,
		"players": map[string]any{
			userID: userName,
		},
	}
	if err := d.store.Write(ctx, roomPath(roomID), value); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	if err := d.sessions.SetUserRoom(ctx, userID, roomID); err != nil {
		return "", err
	}
	d.log.Info("room created",
		zap.String("room_id", roomID),
		zap.String("name", name),
		zap.String("creator", userID))
	return roomID, nil
}

// Join adds the user to the room's occupant mapping and records the
// session. The room must exist: writing under an unknown id would fabricate
// a malformed room with occupants but no name.
func (d *Directory) Join(ctx context.Context, roomID, userID, userName string) error {
	if userID == "" {
		return ErrNoUser
	}
	if _, ok, err := d.Get(ctx, roomID); err != nil {
		return err
	} else if !ok {
		return ErrRoomNotFound
	}
	if err := d.store.Write(ctx, playerPath(roomID, userID), userName); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return d.sessions.SetUserRoom(ctx, userID, roomID)
}

// Leave removes the user's occupant entry and clears the session. The room
// record itself stays, even when it goes empty.
func (d *Directory) Leave(ctx context.Context, roomID, userID string) error {
	if userID == "" {
		return ErrNoUser
	}
	if err := d.store.Delete(ctx, playerPath(roomID, userID)); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	return d.sessions.ClearUserRoom(ctx, userID)
}

// Get reads a single room. ok is false when the room does not exist.
func (d *Directory) Get(ctx context.Context, roomID string) (Room, bool, error) {
	v, err := d.store.ReadOnce(ctx, roomPath(roomID))
	if err != nil {
		return Room{}, false, fmt.Errorf("read room: %w", err)
	}
	if v == nil {
		return Room{}, false, nil
	}
	return decodeRoom(roomID, v), true, nil
}

// Watch streams the full room list on every change anywhere in the
// directory. Close stops deliveries.
type Watch struct {
	C   <-chan []Room
	sub *store.Subscription
}

func (w *Watch) Close() { w.sub.Close() }

func (d *Directory) Watch(ctx context.Context) (*Watch, error) {
	sub, err := d.store.Subscribe(ctx, "rooms")
	if err != nil {
		return nil, fmt.Errorf("watch rooms: %w", err)
	}
	out := make(chan []Room, 8)
	go func() {
		defer close(out)
		for snap := range sub.C {
			out <- decodeRoomList(snap)
		}
	}()
	return &Watch{C: out, sub: sub}, nil
}

// List is a one-shot read of the whole directory.
func (d *Directory) List(ctx context.Context) ([]Room, error) {
	snap, err := d.store.ReadOnce(ctx, "rooms")
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return decodeRoomList(snap), nil
}

// RoomState is one delivery from a per-room watch. Exists is false when the
// room is gone (or never was), which tells the viewer to fall back to the
// directory.
type RoomState struct {
	Room   Room
	Exists bool
}

type RoomWatch struct {
	C   <-chan RoomState
	sub *store.Subscription
}

func (w *RoomWatch) Close() { w.sub.Close() }

func (d *Directory) WatchRoom(ctx context.Context, roomID string) (*RoomWatch, error) {
	sub, err := d.store.Subscribe(ctx, roomPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("watch room: %w", err)
	}
	out := make(chan RoomState, 8)
	go func() {
		defer close(out)
		for snap := range sub.C {
			if snap == nil {
				out <- RoomState{}
				continue
			}
			out <- RoomState{Room: decodeRoom(roomID, snap), Exists: true}
		}
	}()
	return &RoomWatch{C: out, sub: sub}, nil
}

func decodeRoomList(snap any) []Room {
	data, _ := snap.(map[string]any)
	list := make([]Room, 0, len(data))
	for id, v := range data {
		list = append(list, decodeRoom(id, v))
	}
	// Map iteration order is random; give every consumer the same listing.
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func decodeRoom(id string, v any) Room {
	m, _ := v.(map[string]any)
	room := Room{ID: id, Players: map[string]string{}}
	if name, ok := m["name"].(string); ok {
		room.Name = name
	}
	if players, ok := m["players"].(map[string]any); ok {
		for userID, nameVal := range players {
			if name, ok := nameVal.(string); ok {
				room.Players[userID] = name
			}
		}
	}
	return room
}
