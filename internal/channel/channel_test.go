package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/store"
)

func newService(t *testing.T) (*Service, store.Store, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := store.NewMemStore(ctx)
	return NewService(st, zap.NewNop()), st, ctx
}

func recvMessages(t *testing.T, ch <-chan []Message, within time.Duration) []Message {
	t.Helper()
	select {
	case msgs, ok := <-ch:
		if !ok {
			t.Fatalf("message watch closed unexpectedly")
		}
		return msgs
	case <-time.After(within):
		t.Fatalf("timed out waiting for messages")
		return nil // unreachable
	}
}

func TestSend_AppearsInReadWithTrimmedContent(t *testing.T) {
	svc, st, ctx := newService(t)

	before := time.Now().UnixMilli()
	require.NoError(t, svc.Send(ctx, LobbyPath, "u1", "Alice", "  hello  "))

	snap, err := st.ReadOnce(ctx, LobbyPath)
	require.NoError(t, err)
	msgs := decodeMessages(snap)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "u1", msgs[0].UserID)
	assert.Equal(t, "Alice", msgs[0].Username)
	assert.GreaterOrEqual(t, msgs[0].Timestamp, before)
}

func TestSend_EmptyContentWritesNothing(t *testing.T) {
	svc, st, ctx := newService(t)

	assert.ErrorIs(t, svc.Send(ctx, LobbyPath, "u1", "Alice", ""), ErrEmptyMessage)
	assert.ErrorIs(t, svc.Send(ctx, LobbyPath, "u1", "Alice", "   \t  "), ErrEmptyMessage)

	snap, err := st.ReadOnce(ctx, LobbyPath)
	require.NoError(t, err)
	assert.Nil(t, snap, "empty sends must not create channel entries")
}

func TestSend_MissingUserIsGuarded(t *testing.T) {
	svc, _, ctx := newService(t)
	assert.ErrorIs(t, svc.Send(ctx, LobbyPath, "", "Alice", "hello"), ErrNoUser)
}

func TestWatch_OrdersByTimestampAscending(t *testing.T) {
	svc, _, ctx := newService(t)

	// Fixed clock: "hello" 10ms before "world", delivered out of order by
	// the map-shaped snapshot.
	base := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return base }
	require.NoError(t, svc.Send(ctx, LobbyPath, "u1", "Alice", "hello"))
	svc.now = func() time.Time { return base.Add(10 * time.Millisecond) }
	require.NoError(t, svc.Send(ctx, LobbyPath, "u1", "Alice", "world"))

	w, err := svc.Watch(ctx, LobbyPath)
	require.NoError(t, err)
	defer w.Close()

	msgs := recvMessages(t, w.C, 100*time.Millisecond)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "world", msgs[1].Content)
}

func TestWatch_EqualTimestampsBreakTiesByID(t *testing.T) {
	svc, _, ctx := newService(t)

	base := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return base }
	for _, content := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Send(ctx, LobbyPath, "u1", "Alice", content))
	}

	w, err := svc.Watch(ctx, LobbyPath)
	require.NoError(t, err)
	defer w.Close()

	first := recvMessages(t, w.C, 100*time.Millisecond)
	require.Len(t, first, 3)
	for i := 1; i < len(first); i++ {
		assert.LessOrEqual(t, first[i-1].ID, first[i].ID,
			"equal timestamps must order by id")
	}
}

func TestWatch_LiveDeliveryOnSend(t *testing.T) {
	svc, _, ctx := newService(t)

	w, err := svc.Watch(ctx, RoomPath("r1"))
	require.NoError(t, err)
	defer w.Close()
	assert.Empty(t, recvMessages(t, w.C, 100*time.Millisecond))

	require.NoError(t, svc.Send(ctx, RoomPath("r1"), "u1", "Alice", "hi"))
	msgs := recvMessages(t, w.C, 100*time.Millisecond)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestWatch_LobbyAndRoomFeedsAreIsolated(t *testing.T) {
	svc, _, ctx := newService(t)

	w, err := svc.Watch(ctx, LobbyPath)
	require.NoError(t, err)
	defer w.Close()
	_ = recvMessages(t, w.C, 100*time.Millisecond)

	require.NoError(t, svc.Send(ctx, RoomPath("r1"), "u1", "Alice", "room talk"))

	select {
	case msgs := <-w.C:
		t.Fatalf("room message leaked into lobby feed: %+v", msgs)
	case <-time.After(100 * time.Millisecond):
	}
}
