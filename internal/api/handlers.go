package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/drawboard/drawboard/internal/database"
	"github.com/drawboard/drawboard/internal/merge"
	"github.com/drawboard/drawboard/internal/server"
	"github.com/drawboard/drawboard/internal/types"
)

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type AppendChatRequest struct {
	Message string `json:"message"`
}

func (s *BoardApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *BoardApp) signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Name = strings.TrimSpace(req.Name)
	if len(req.Username) < 3 || len(req.Username) > 50 || len(req.Password) < 6 || req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Name:         req.Name,
		EmailAddress: req.Username,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewConflictError("user already exists with this email")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{"userId": newUser.Id})
}

func (s *BoardApp) signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Password) < 6 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(req.Username)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewForbiddenError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{"token": token})
}

func (s *BoardApp) me(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"user": types.User{
			Id:           user.Id,
			Name:         user.Name,
			EmailAddress: user.EmailAddress,
			Photo:        user.Photo,
		},
	})
}

func (s *BoardApp) myRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRooms, err := s.db.ListRoomsByAdmin(userId)
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, dbRoom := range dbRooms {
		rooms = append(rooms, types.Room{
			Id:        dbRoom.Id,
			Slug:      dbRoom.Slug,
			AdminId:   dbRoom.AdminId,
			CreatedAt: dbRoom.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *BoardApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if len(req.Name) < 3 || len(req.Name) > 20 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateRoomParams{
		Slug:    slugify(req.Name) + "-" + sid,
		AdminId: userId,
	}

	newRoom, err := s.db.CreateRoom(params)
	if err != nil {
		s.log.Println("create room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]any{"roomId": newRoom.Id})
}

func (s *BoardApp) roomBySlug(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if slug == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbRoom, err := s.db.GetRoomBySlug(slug)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"room": types.Room{
			Id:        dbRoom.Id,
			Slug:      dbRoom.Slug,
			AdminId:   dbRoom.AdminId,
			CreatedAt: dbRoom.CreatedAt,
		},
	})
}

// resolveRoom accepts either the durable numeric room id or the
// shareable slug; the frontend has used both over time.
func (s *BoardApp) resolveRoom(identifier string) (database.Room, error) {
	if id, err := strconv.Atoi(identifier); err == nil {
		return s.db.GetRoomById(id)
	}

	return s.db.GetRoomBySlug(identifier)
}

func (s *BoardApp) getChats(w http.ResponseWriter, r *http.Request) {
	room, err := s.resolveRoom(r.PathValue("room"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChats, err := s.db.GetChats(room.Id, s.historyLimit)
	if err != nil {
		s.log.Println("get chats:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.ChatMessage, 0, len(dbChats))
	for _, chat := range dbChats {
		messages = append(messages, types.ChatMessage{
			Id:      chat.Id,
			RoomId:  chat.RoomId,
			Content: chat.Content,
			Author: types.Author{
				Id:    chat.AccountId,
				Name:  chat.AuthorName,
				Photo: chat.AuthorPhoto,
			},
			CreatedAt: chat.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, map[string]any{"messages": messages})
}

// appendChat adds one entry to the room's append-only log. Clients use it
// to save whiteboard snapshots: the message body carries a serialized
// element collection.
func (s *BoardApp) appendChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.resolveRoom(r.PathValue("room"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req AppendChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chat, err := s.db.CreateChat(database.CreateChatParams{
		RoomId:    room.Id,
		AccountId: userId,
		Content:   req.Message,
	})
	if err != nil {
		s.log.Println("append chat:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]any{
		"message": types.ChatMessage{
			Id:      chat.Id,
			RoomId:  chat.RoomId,
			Content: chat.Content,
			Author: types.Author{
				Id:    chat.AccountId,
				Name:  chat.AuthorName,
				Photo: chat.AuthorPhoto,
			},
			CreatedAt: chat.CreatedAt,
		},
	})
}

// getScene reconstructs the room's current scene on the server by
// replaying the snapshot log oldest first through the same merge rule
// clients apply locally. Entries that are not element collections (plain
// chat text shares the log) are skipped.
func (s *BoardApp) getScene(w http.ResponseWriter, r *http.Request) {
	room, err := s.resolveRoom(r.PathValue("room"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbChats, err := s.db.GetChats(room.Id, s.historyLimit)
	if err != nil {
		s.log.Println("get chats:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// GetChats returns newest first; replay wants the log in append order
	slices.Reverse(dbChats)

	var batches [][]merge.Element
	for _, chat := range dbChats {
		if elements, ok := merge.DecodeScene(chat.Content); ok {
			batches = append(batches, elements)
		}
	}

	scene := merge.Replay(batches...)
	if scene == nil {
		scene = []merge.Element{}
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		"roomId":   room.Id,
		"elements": scene,
	})
}

// serveWs validates the connection credential, upgrades the transport and
// admits the client into the relay. The token travels as a query
// parameter because browsers cannot set headers on websocket dials.
func (s *BoardApp) serveWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, err := s.extractUserIdFromToken(token)
	if err != nil {
		s.log.Println("ws auth:", err)
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Name:         user.Name,
		EmailAddress: user.EmailAddress,
		Photo:        user.Photo,
	}, conn, s.bs, s.log)

	s.bs.Admit(client)
	go client.Write()
	go client.Read()
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "room"
	}

	return slug
}
