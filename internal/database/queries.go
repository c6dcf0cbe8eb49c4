package database

import (
	"time"
)

func (db *PgBoardRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (name, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, name, email, photo",
		params.Name,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Name,
		&u.EmailAddress,
		&u.Photo,
	)

	return u, err
}

func (db *PgBoardRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, photo FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.Photo,
	)

	return user, err
}

func (db *PgBoardRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email, photo, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Name,
		&user.EmailAddress,
		&user.Photo,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgBoardRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (slug, admin_id, created_at) "+
			"VALUES ($1, $2, $3) RETURNING id, slug, admin_id, created_at",
		params.Slug,
		params.AdminId,
		time.Now().UTC(),
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.Slug,
		&room.AdminId,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgBoardRepository) GetRoomById(id int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, slug, admin_id, created_at FROM rooms "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.Slug,
		&room.AdminId,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgBoardRepository) GetRoomBySlug(slug string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, slug, admin_id, created_at FROM rooms "+
			"WHERE slug = $1 LIMIT 1",
		slug,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.Slug,
		&room.AdminId,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgBoardRepository) ListRoomsByAdmin(accountId int) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, slug, admin_id, created_at FROM rooms "+
			"WHERE admin_id = $1 ORDER BY created_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(
			&room.Id,
			&room.Slug,
			&room.AdminId,
			&room.CreatedAt,
		); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// CreateChat appends one entry to the room's log and returns it with the
// author's display attributes resolved, so the relay can broadcast the
// canonical persisted record rather than the sender's optimistic copy.
func (db *PgBoardRepository) CreateChat(params CreateChatParams) (Chat, error) {
	res := db.conn.QueryRow(
		"WITH inserted AS ("+
			"INSERT INTO chats (room_id, account_id, message, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, room_id, account_id, message, created_at"+
			") SELECT i.id, i.room_id, i.account_id, i.message, i.created_at, a.name, a.photo "+
			"FROM inserted i JOIN accounts a ON a.id = i.account_id",
		params.RoomId,
		params.AccountId,
		params.Content,
		time.Now().UTC(),
	)

	var chat Chat
	err := res.Scan(
		&chat.Id,
		&chat.RoomId,
		&chat.AccountId,
		&chat.Content,
		&chat.CreatedAt,
		&chat.AuthorName,
		&chat.AuthorPhoto,
	)

	return chat, err
}

// GetChats returns up to limit entries for the room, newest first.
func (db *PgBoardRepository) GetChats(roomId, limit int) ([]Chat, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.room_id, c.account_id, c.message, c.created_at, a.name, a.photo "+
			"FROM chats c JOIN accounts a ON a.id = c.account_id "+
			"WHERE c.room_id = $1 ORDER BY c.id DESC LIMIT $2",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(
			&chat.Id,
			&chat.RoomId,
			&chat.AccountId,
			&chat.Content,
			&chat.CreatedAt,
			&chat.AuthorName,
			&chat.AuthorPhoto,
		); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}
