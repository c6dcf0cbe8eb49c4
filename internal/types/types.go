package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Name         string    `json:"name"`
	EmailAddress string    `json:"email,omitempty"`
	Photo        string    `json:"photo,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id        int       `json:"id"`
	Slug      string    `json:"slug"`
	AdminId   int       `json:"adminId"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Author is the resolved display identity attached to a persisted chat
// record when it is broadcast back to the room.
type Author struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Photo string `json:"photo,omitempty"`
}

// ChatMessage is one persisted entry in a room's append-only log. The
// content is either plain chat text or a serialized element collection
// (a snapshot); the log itself does not distinguish the two.
type ChatMessage struct {
	Id        int       `json:"id"`
	RoomId    int       `json:"roomId"`
	Content   string    `json:"message"`
	Author    Author    `json:"userId"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Pointer is an ephemeral cursor position. It is relayed but never
// persisted.
type Pointer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
