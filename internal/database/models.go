package database

import "time"

type User struct {
	Id           int
	Name         string
	EmailAddress string
	Photo        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id        int
	Slug      string
	AdminId   int
	CreatedAt time.Time
}

// Chat is one append-only log entry for a room. Entries are only ever
// inserted; the relay never updates or deletes them.
type Chat struct {
	Id          int
	RoomId      int
	AccountId   int
	Content     string
	AuthorName  string
	AuthorPhoto string
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Name         string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Slug    string
	AdminId int
}

type CreateChatParams struct {
	RoomId    int
	AccountId int
	Content   string
}
