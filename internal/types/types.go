package types

import "github.com/hfujita/lobby-chat-backend/internal/channel"

type ClientMessage struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`    // CreateRoom
	RoomID  string `json:"room_id,omitempty"` // EnterRoom, JoinRoom
	Content string `json:"content,omitempty"` // SendMessage
}

// Client -> server message types.
const (
	MsgEnterLobby  = "EnterLobby"
	MsgEnterRoom   = "EnterRoom"
	MsgCreateRoom  = "CreateRoom"
	MsgJoinRoom    = "JoinRoom"
	MsgLeaveRoom   = "LeaveRoom"
	MsgSendMessage = "SendMessage"
)

// RoomView is a directory entry as shown to clients. PlayerCount is derived
// from the occupant mapping at encode time.
type RoomView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	PlayerCount int               `json:"player_count"`
	Players     map[string]string `json:"players"`
}

type ServerMessage struct {
	Type     string            `json:"type"` // "RoomList" | "Messages" | "Players" | "Redirect" | "Error"
	Rooms    []RoomView        `json:"rooms,omitempty"`
	Messages []channel.Message `json:"messages,omitempty"`
	Players  map[string]string `json:"players,omitempty"`
	Screen   string            `json:"screen,omitempty"` // redirect target: "lobby" | "room"
	RoomID   string            `json:"room_id,omitempty"`
	Error    string            `json:"error,omitempty"`
}
