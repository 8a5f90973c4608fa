// Package binder bridges one connected client to the live store. It owns
// every subscription for the client's current screen and tears all of them
// down on screen change and on disconnect.
package binder

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hfujita/lobby-chat-backend/internal/auth"
	"github.com/hfujita/lobby-chat-backend/internal/channel"
	"github.com/hfujita/lobby-chat-backend/internal/rooms"
	"github.com/hfujita/lobby-chat-backend/internal/session"
	"github.com/hfujita/lobby-chat-backend/internal/types"
)

const (
	ScreenLobby = "lobby"
	ScreenRoom  = "room"
)

type event interface{ isBinderEvent() }

type fromClient struct {
	Msg types.ClientMessage
}

func (fromClient) isBinderEvent() {}

type roomListDelivery struct {
	Gen   int
	Rooms []rooms.Room
}

func (roomListDelivery) isBinderEvent() {}

type messagesDelivery struct {
	Gen  int
	Msgs []channel.Message
}

func (messagesDelivery) isBinderEvent() {}

type roomDelivery struct {
	Gen   int
	State rooms.RoomState
}

func (roomDelivery) isBinderEvent() {}

// Binder serializes everything through one loop goroutine: client actions
// and subscription deliveries land in the same inbox, so screen state needs
// no lock. Deliveries carry the generation of the screen that subscribed
// them; a stale generation is dropped, the same way the draft timer drops
// fires from a superseded turn.
type Binder struct {
	user      auth.User
	sessions  *session.Registry
	directory *rooms.Directory
	channels  *channel.Service
	log       *zap.Logger

	inbox chan event
	out   chan types.ServerMessage

	screen  string
	roomID  string
	gen     int
	watches []interface{ Close() }

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, user auth.User, sessions *session.Registry,
	directory *rooms.Directory, channels *channel.Service, log *zap.Logger) *Binder {

	ctx, cancel := context.WithCancel(parent)
	b := &Binder{
		user:      user,
		sessions:  sessions,
		directory: directory,
		channels:  channels,
		log:       log.With(zap.String("user_id", user.ID)),
		inbox:     make(chan event, 64),
		out:       make(chan types.ServerMessage, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
	go b.loop()
	return b
}

// Out carries server pushes for this client. Closed when the binder stops.
func (b *Binder) Out() <-chan types.ServerMessage { return b.out }

// Handle feeds one decoded client message into the loop.
func (b *Binder) Handle(msg types.ClientMessage) {
	select {
	case b.inbox <- fromClient{Msg: msg}:
	case <-b.ctx.Done():
	}
}

func (b *Binder) Close() { b.cancel() }

func (b *Binder) loop() {
	defer func() {
		b.teardown()
		close(b.out)
	}()

	for {
		select {
		case <-b.ctx.Done():
			return

		case e := <-b.inbox:
			switch ev := e.(type) {
			case fromClient:
				b.handleClient(ev.Msg)

			case roomListDelivery:
				if ev.Gen != b.gen {
					break
				}
				b.push(types.ServerMessage{Type: "RoomList", Rooms: roomViews(ev.Rooms)})

			case messagesDelivery:
				if ev.Gen != b.gen {
					break
				}
				b.push(types.ServerMessage{Type: "Messages", Messages: ev.Msgs})

			case roomDelivery:
				if ev.Gen != b.gen {
					break
				}
				if !ev.State.Exists {
					// Stale room: transition back to NoRoom and send the
					// client to the directory.
					if err := b.sessions.ClearUserRoom(b.ctx, b.user.ID); err != nil {
						b.log.Warn("clear stale session", zap.Error(err))
					}
					b.leaveScreen()
					b.push(types.ServerMessage{Type: "Redirect", Screen: ScreenLobby})
					break
				}
				b.push(types.ServerMessage{Type: "Players", Players: ev.State.Room.Players})
			}
		}
	}
}

func (b *Binder) handleClient(msg types.ClientMessage) {
	switch msg.Type {
	case types.MsgEnterLobby:
		b.enterLobby()

	case types.MsgEnterRoom:
		b.enterRoom(msg.RoomID)

	case types.MsgCreateRoom:
		roomID, err := b.directory.Create(b.ctx, msg.Name, b.user.ID, b.user.DisplayName)
		switch {
		case errors.Is(err, rooms.ErrEmptyName), errors.Is(err, rooms.ErrNoUser):
			// guard, not an error: silently do nothing
		case err != nil:
			b.log.Warn("create room failed", zap.Error(err))
		default:
			b.push(types.ServerMessage{Type: "Redirect", Screen: ScreenRoom, RoomID: roomID})
		}

	case types.MsgJoinRoom:
		err := b.directory.Join(b.ctx, msg.RoomID, b.user.ID, b.user.DisplayName)
		switch {
		case errors.Is(err, rooms.ErrRoomNotFound):
			b.push(types.ServerMessage{Type: "Redirect", Screen: ScreenLobby})
		case err != nil:
			b.log.Warn("join room failed", zap.String("room_id", msg.RoomID), zap.Error(err))
		default:
			b.push(types.ServerMessage{Type: "Redirect", Screen: ScreenRoom, RoomID: msg.RoomID})
		}

	case types.MsgLeaveRoom:
		if b.screen != ScreenRoom {
			break
		}
		if err := b.directory.Leave(b.ctx, b.roomID, b.user.ID); err != nil {
			b.log.Warn("leave room failed", zap.String("room_id", b.roomID), zap.Error(err))
		}
		b.push(types.ServerMessage{Type: "Redirect", Screen: ScreenLobby})

	case types.MsgSendMessage:
		path := channel.LobbyPath
		if b.screen == ScreenRoom {
			path = channel.RoomPath(b.roomID)
		}
		err := b.channels.Send(b.ctx, path, b.user.ID, b.user.DisplayName, msg.Content)
		switch {
		case errors.Is(err, channel.ErrEmptyMessage), errors.Is(err, channel.ErrNoUser):
			// guard, swallowed
		case err != nil:
			// attempted exactly once; no retry at this layer
			b.log.Warn("send message failed", zap.String("path", path), zap.Error(err))
		}

	default:
		b.push(types.ServerMessage{Type: "Error", Error: "unknown type"})
	}
}

func (b *Binder) enterLobby() {
	b.leaveScreen()

	// Advisory occupancy check, evaluated once at mount.
	if roomID, err := b.sessions.GetUserRoom(b.ctx, b.user.ID); err != nil {
		b.log.Warn("read session", zap.Error(err))
	} else if roomID != "" {
		b.push(types.ServerMessage{Type: "Redirect", Screen: ScreenRoom, RoomID: roomID})
		return
	}

	b.screen = ScreenLobby
	gen := b.gen

	rw, err := b.directory.Watch(b.ctx)
	if err != nil {
		b.log.Warn("watch rooms", zap.Error(err))
		return
	}
	b.watches = append(b.watches, rw)
	go func() {
		for list := range rw.C {
			select {
			case b.inbox <- roomListDelivery{Gen: gen, Rooms: list}:
			case <-b.ctx.Done():
				return
			}
		}
	}()

	b.watchMessages(channel.LobbyPath, gen)
}

func (b *Binder) enterRoom(roomID string) {
	b.leaveScreen()
	if roomID == "" {
		b.push(types.ServerMessage{Type: "Redirect", Screen: ScreenLobby})
		return
	}

	b.screen = ScreenRoom
	b.roomID = roomID
	gen := b.gen

	rw, err := b.directory.WatchRoom(b.ctx, roomID)
	if err != nil {
		b.log.Warn("watch room", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	b.watches = append(b.watches, rw)
	go func() {
		for state := range rw.C {
			select {
			case b.inbox <- roomDelivery{Gen: gen, State: state}:
			case <-b.ctx.Done():
				return
			}
		}
	}()

	b.watchMessages(channel.RoomPath(roomID), gen)
}

func (b *Binder) watchMessages(path string, gen int) {
	mw, err := b.channels.Watch(b.ctx, path)
	if err != nil {
		b.log.Warn("watch channel", zap.String("path", path), zap.Error(err))
		return
	}
	b.watches = append(b.watches, mw)
	go func() {
		for msgs := range mw.C {
			select {
			case b.inbox <- messagesDelivery{Gen: gen, Msgs: msgs}:
			case <-b.ctx.Done():
				return
			}
		}
	}()
}

// leaveScreen closes every live subscription for the current screen and
// bumps the generation so buffered deliveries from them are discarded.
func (b *Binder) leaveScreen() {
	for _, w := range b.watches {
		w.Close()
	}
	b.watches = nil
	b.screen = ""
	b.roomID = ""
	b.gen++
}

func (b *Binder) teardown() {
	for _, w := range b.watches {
		w.Close()
	}
	b.watches = nil
}

// push hands a message to the transport. A client that stops draining is
// dropped rather than allowed to block the loop.
func (b *Binder) push(msg types.ServerMessage) {
	select {
	case b.out <- msg:
	default:
		b.log.Warn("client not draining, dropping connection")
		b.cancel()
	}
}

func roomViews(list []rooms.Room) []types.RoomView {
	views := make([]types.RoomView, 0, len(list))
	for _, r := range list {
		views = append(views, types.RoomView{
			ID:          r.ID,
			Name:        r.Name,
			PlayerCount: r.PlayerCount(),
			Players:     r.Players,
		})
	}
	return views
}
