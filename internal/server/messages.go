package server

import (
	"encoding/json"

	"github.com/drawboard/drawboard/internal/merge"
	"github.com/drawboard/drawboard/internal/types"
)

const (
	EventJoinRoom  = "join_room"
	EventLeaveRoom = "leave_room"
	EventDrawing   = "drawing"
	EventCursor    = "cursor"
	EventChat      = "chat"
	EventError     = "error"
)

// ClientEvent is one inbound JSON text frame. Frames that fail to decode
// or carry the wrong field types are dropped without closing the
// connection.
type ClientEvent struct {
	Type     string          `json:"type"`
	RoomId   int             `json:"roomId"`
	Elements []merge.Element `json:"elements,omitempty"`
	ClientId string          `json:"clientId,omitempty"`
	Pointer  *types.Pointer  `json:"pointer,omitempty"`
	Color    string          `json:"color,omitempty"`
	Username string          `json:"username,omitempty"`
	Content  string          `json:"content,omitempty"`
}

func parseClientEvent(raw []byte) (*ClientEvent, bool) {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, false
	}

	if ev.RoomId <= 0 {
		return nil, false
	}

	switch ev.Type {
	case EventJoinRoom, EventLeaveRoom, EventDrawing, EventCursor:
		return &ev, true
	case EventChat:
		if ev.Content == "" {
			return nil, false
		}
		return &ev, true
	default:
		return nil, false
	}
}

// ChatBroadcast carries the canonical persisted chat record, including
// the server-assigned identifier and the resolved author attributes. It
// is delivered to every subscriber, the sender included.
type ChatBroadcast struct {
	Type    string            `json:"type"`
	RoomId  int               `json:"roomId"`
	Message types.ChatMessage `json:"message"`
}

type ErrorEvent struct {
	Type   string `json:"type"`
	RoomId int    `json:"roomId,omitempty"`
	Error  string `json:"error"`
}

func chatFrame(roomId int, msg types.ChatMessage) ([]byte, error) {
	return json.Marshal(ChatBroadcast{
		Type:    EventChat,
		RoomId:  roomId,
		Message: msg,
	})
}

func errorFrame(roomId int, reason string) []byte {
	frame, _ := json.Marshal(ErrorEvent{
		Type:   EventError,
		RoomId: roomId,
		Error:  reason,
	})
	return frame
}
