package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/session"
	"github.com/hfujita/lobby-chat-backend/internal/store"
)

func newDirectory(t *testing.T) (*Directory, *session.Registry, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := store.NewMemStore(ctx)
	reg := session.NewRegistry(st)
	return NewDirectory(st, reg, zap.NewNop()), reg, ctx
}

func recvRooms(t *testing.T, ch <-chan []Room, within time.Duration) []Room {
	t.Helper()
	select {
	case rooms, ok := <-ch:
		if !ok {
			t.Fatalf("room watch closed unexpectedly")
		}
		return rooms
	case <-time.After(within):
		t.Fatalf("timed out waiting for room list")
		return nil // unreachable
	}
}

func TestCreate_CreatorIsFirstOccupant(t *testing.T) {
	d, reg, ctx := newDirectory(t)

	roomID, err := d.Create(ctx, "Alpha", "uA", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, roomID)

	room, ok, err := d.Get(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alpha", room.Name)
	assert.Equal(t, map[string]string{"uA": "Alice"}, room.Players)
	assert.Equal(t, 1, room.PlayerCount())

	got, err := reg.GetUserRoom(ctx, "uA")
	require.NoError(t, err)
	assert.Equal(t, roomID, got)
}

func TestCreate_Guards(t *testing.T) {
	d, _, ctx := newDirectory(t)

	_, err := d.Create(ctx, "   ", "uA", "Alice")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = d.Create(ctx, "Alpha", "", "Alice")
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestCreate_TrimsName(t *testing.T) {
	d, _, ctx := newDirectory(t)

	roomID, err := d.Create(ctx, "  Alpha  ", "uA", "Alice")
	require.NoError(t, err)

	room, ok, err := d.Get(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alpha", room.Name)
}

func TestJoinThenLeave_RoomSurvivesWithoutUser(t *testing.T) {
	d, reg, ctx := newDirectory(t)

	roomID, err := d.Create(ctx, "Alpha", "uA", "Alice")
	require.NoError(t, err)

	require.NoError(t, d.Join(ctx, roomID, "uB", "Bob"))
	room, ok, err := d.Get(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, room.PlayerCount())

	got, err := reg.GetUserRoom(ctx, "uB")
	require.NoError(t, err)
	assert.Equal(t, roomID, got)

	require.NoError(t, d.Leave(ctx, roomID, "uB"))
	room, ok, err = d.Get(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok, "room record must still exist after leave")
	assert.Equal(t, 1, room.PlayerCount())
	assert.NotContains(t, room.Players, "uB")

	got, err = reg.GetUserRoom(ctx, "uB")
	require.NoError(t, err)
	assert.Equal(t, "", got, "session should clear on leave")
}

func TestLeave_LastOccupant_RoomPersists(t *testing.T) {
	d, _, ctx := newDirectory(t)

	roomID, err := d.Create(ctx, "Alpha", "uA", "Alice")
	require.NoError(t, err)
	require.NoError(t, d.Leave(ctx, roomID, "uA"))

	room, ok, err := d.Get(ctx, roomID)
	require.NoError(t, err)
	require.True(t, ok, "empty room is kept, not deleted")
	assert.Equal(t, 0, room.PlayerCount())
	assert.Equal(t, "Alpha", room.Name)
}

func TestJoin_UnknownRoomFailsWithoutWriting(t *testing.T) {
	d, reg, ctx := newDirectory(t)

	err := d.Join(ctx, "no-such-room", "uB", "Bob")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, ok, err := d.Get(ctx, "no-such-room")
	require.NoError(t, err)
	assert.False(t, ok, "failed join must not fabricate a room entry")

	got, err := reg.GetUserRoom(ctx, "uB")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestWatch_DirectoryScenario(t *testing.T) {
	d, reg, ctx := newDirectory(t)

	w, err := d.Watch(ctx)
	require.NoError(t, err)
	defer w.Close()
	assert.Empty(t, recvRooms(t, w.C, 100*time.Millisecond), "initial delivery, no rooms yet")

	// A creates "Alpha" → one room, count 1
	roomID, err := d.Create(ctx, "Alpha", "uA", "Alice")
	require.NoError(t, err)
	list := recvRooms(t, w.C, 100*time.Millisecond)
	require.Len(t, list, 1)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, 1, list[0].PlayerCount())

	// B joins → count 2, B's session points at Alpha
	require.NoError(t, d.Join(ctx, roomID, "uB", "Bob"))
	list = recvRooms(t, w.C, 100*time.Millisecond)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].PlayerCount())
	got, err := reg.GetUserRoom(ctx, "uB")
	require.NoError(t, err)
	assert.Equal(t, roomID, got)

	// B leaves → count back to 1, session cleared, room still listed
	require.NoError(t, d.Leave(ctx, roomID, "uB"))
	list = recvRooms(t, w.C, 100*time.Millisecond)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].PlayerCount())
	got, err = reg.GetUserRoom(ctx, "uB")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestWatch_CloseStopsDeliveries(t *testing.T) {
	d, _, ctx := newDirectory(t)

	w, err := d.Watch(ctx)
	require.NoError(t, err)
	_ = recvRooms(t, w.C, 100*time.Millisecond)

	w.Close()
	_, err = d.Create(ctx, "Alpha", "uA", "Alice")
	require.NoError(t, err)

	select {
	case rooms, ok := <-w.C:
		if ok {
			t.Fatalf("expected no delivery after Close, got %+v", rooms)
		}
	case <-time.After(100 * time.Millisecond):
	}
}
