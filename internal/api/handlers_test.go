package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/drawboard/drawboard/internal/config"
	"github.com/drawboard/drawboard/internal/database"
	"github.com/drawboard/drawboard/internal/server"
	"github.com/drawboard/drawboard/internal/stats"
	"github.com/drawboard/drawboard/internal/testutil"
	"github.com/drawboard/drawboard/internal/types"
)

const testSigningKey = "c29tZV9zZWNyZXQ="

type testApp struct {
	*BoardApp
	mux *http.ServeMux
}

func newTestApp(t *testing.T, db database.BoardRepository) *testApp {
	t.Helper()

	cfg, err := config.NewConfig("localhost:8000", "dsn", testSigningKey, nil, 50)
	if err != nil {
		t.Fatalf("failed to create config: %v", err)
	}

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return(nil).Times(4)

	logger := testutil.TestLogger(t)
	bs, err := server.NewBoardServer(logger, db, su, nil)
	if err != nil {
		t.Fatalf("failed to create board server: %v", err)
	}

	mux := http.NewServeMux()
	app := NewBoardApp(mux, logger, bs, db, cfg)
	return &testApp{BoardApp: app, mux: mux}
}

func (a *testApp) bearer(t *testing.T, userId int) string {
	t.Helper()
	token, err := a.createJwtForSession(userId, time.Hour)
	if err != nil {
		t.Fatalf("failed to create token: %v", err)
	}
	return "Bearer " + token
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	a.mux.ServeHTTP(rr, req)
	return rr
}

func TestSignup(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateAccount", mock.MatchedBy(func(p database.CreateAccountParams) bool {
			return p.Name == "Alice" && p.EmailAddress == "alice@example.com" && p.PasswordHash != ""
		})).Return(database.User{Id: 1, Name: "Alice", EmailAddress: "alice@example.com"}, nil).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodPost, "/signup",
			strings.NewReader(`{"username":"alice@example.com","password":"secret1","name":"Alice"}`))
		rr := app.do(req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"userId":1}`, rr.Body.String())
	})

	t.Run("invalid inputs", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})

		for _, body := range []string{
			`not json`,
			`{"username":"al","password":"secret1","name":"Alice"}`,
			`{"username":"alice@example.com","password":"short","name":"Alice"}`,
			`{"username":"alice@example.com","password":"secret1","name":"  "}`,
		} {
			req := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(body))
			rr := app.do(req)
			assert.Equal(t, http.StatusBadRequest, rr.Code, "body: %s", body)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateAccount", mock.Anything).
			Return(database.User{}, errors.New("duplicate key value")).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodPost, "/signup",
			strings.NewReader(`{"username":"alice@example.com","password":"secret1","name":"Alice"}`))
		rr := app.do(req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestSignin(t *testing.T) {
	hash, err := hashPassword("secret1")
	assert.NoError(t, err)

	t.Run("success returns token", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByEmail", "alice@example.com").
			Return(database.User{Id: 1, Name: "Alice", EmailAddress: "alice@example.com", PasswordHash: hash}, nil).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodPost, "/signin",
			strings.NewReader(`{"username":"alice@example.com","password":"secret1"}`))
		rr := app.do(req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Token string `json:"token"`
		}
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Token)

		userId, err := app.extractUserIdFromToken(resp.Token)
		assert.NoError(t, err)
		assert.Equal(t, 1, userId, "expected token to carry the user id")
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByEmail", "alice@example.com").
			Return(database.User{Id: 1, PasswordHash: hash}, nil).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodPost, "/signin",
			strings.NewReader(`{"username":"alice@example.com","password":"wrong12"}`))
		rr := app.do(req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountByEmail", "ghost@example.com").
			Return(database.User{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodPost, "/signin",
			strings.NewReader(`{"username":"ghost@example.com","password":"secret1"}`))
		rr := app.do(req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestMe(t *testing.T) {
	db := &database.MockBoardRepository{}
	defer db.AssertExpectations(t)
	db.On("GetAccountById", 1).
		Return(database.User{Id: 1, Name: "Alice", EmailAddress: "alice@example.com", Photo: "p.png"}, nil).Once()

	app := newTestApp(t, db)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", app.bearer(t, 1))
	rr := app.do(req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		User types.User `json:"user"`
	}
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.User.Id)
	assert.Equal(t, "Alice", resp.User.Name)
	assert.Equal(t, "alice@example.com", resp.User.EmailAddress)
	assert.Equal(t, "p.png", resp.User.Photo)
}

func TestMyRooms(t *testing.T) {
	db := &database.MockBoardRepository{}
	defer db.AssertExpectations(t)
	db.On("ListRoomsByAdmin", 1).Return([]database.Room{
		{Id: 12, Slug: "team-board-abc", AdminId: 1},
		{Id: 9, Slug: "retro-xyz", AdminId: 1},
	}, nil).Once()

	app := newTestApp(t, db)
	req := httptest.NewRequest(http.MethodGet, "/my-rooms", nil)
	req.Header.Set("Authorization", app.bearer(t, 1))
	rr := app.do(req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Rooms []types.Room `json:"rooms"`
	}
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Rooms, 2)
	assert.Equal(t, "team-board-abc", resp.Rooms[0].Slug)
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})
		rr := app.do(httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rr := app.do(req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})
		token, err := app.createJwtForSession(1, -time.Hour)
		assert.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := app.do(req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestCreateRoom(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateRoom", database.CreateRoomParams{Slug: "team-board-EoGKUXPHgz", AdminId: 1}).
			Return(database.Room{Id: 12, Slug: "team-board-EoGKUXPHgz", AdminId: 1}, nil).Once()

		app := newTestApp(t, db)
		app.generateShortId = func() (string, error) {
			return "EoGKUXPHgz", nil
		}

		req := httptest.NewRequest(http.MethodPost, "/create-room",
			strings.NewReader(`{"name":"Team Board"}`))
		req.Header.Set("Authorization", app.bearer(t, 1))
		rr := app.do(req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"roomId":12}`, rr.Body.String())
	})

	t.Run("name too short", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})
		req := httptest.NewRequest(http.MethodPost, "/create-room",
			strings.NewReader(`{"name":"ab"}`))
		req.Header.Set("Authorization", app.bearer(t, 1))
		rr := app.do(req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRoomBySlug(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomBySlug", "team-board-abc").
			Return(database.Room{Id: 12, Slug: "team-board-abc", AdminId: 1}, nil).Once()

		app := newTestApp(t, db)
		rr := app.do(httptest.NewRequest(http.MethodGet, "/room/team-board-abc", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"slug":"team-board-abc"`)
	})

	t.Run("not found", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomBySlug", "missing").Return(database.Room{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)
		rr := app.do(httptest.NewRequest(http.MethodGet, "/room/missing", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestGetChats(t *testing.T) {
	t.Run("by numeric id", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomById", 7).Return(database.Room{Id: 7, Slug: "board-x"}, nil).Once()
		db.On("GetChats", 7, 50).Return([]database.Chat{
			{Id: 2, RoomId: 7, AccountId: 1, Content: "newest", AuthorName: "Alice"},
			{Id: 1, RoomId: 7, AccountId: 1, Content: "older", AuthorName: "Alice"},
		}, nil).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodGet, "/chats/7", nil)
		req.Header.Set("Authorization", app.bearer(t, 1))
		rr := app.do(req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Messages []json.RawMessage `json:"messages"`
		}
		assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp.Messages, 2)
		assert.Contains(t, string(resp.Messages[0]), `"newest"`, "expected newest first")
	})

	t.Run("by slug", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomBySlug", "board-x").Return(database.Room{Id: 7, Slug: "board-x"}, nil).Once()
		db.On("GetChats", 7, 50).Return([]database.Chat{}, nil).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodGet, "/chats/board-x", nil)
		req.Header.Set("Authorization", app.bearer(t, 1))
		rr := app.do(req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomById", 99).Return(database.Room{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodGet, "/chats/99", nil)
		req.Header.Set("Authorization", app.bearer(t, 1))
		rr := app.do(req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestAppendChat(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomById", 7).Return(database.Room{Id: 7}, nil).Once()
		db.On("CreateChat", database.CreateChatParams{RoomId: 7, AccountId: 1, Content: `[{"id":"e1","version":1,"versionNonce":5}]`}).
			Return(database.Chat{Id: 3, RoomId: 7, AccountId: 1, Content: `[{"id":"e1","version":1,"versionNonce":5}]`, AuthorName: "Alice"}, nil).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodPost, "/chats/7",
			strings.NewReader(`{"message":"[{\"id\":\"e1\",\"version\":1,\"versionNonce\":5}]"}`))
		req.Header.Set("Authorization", app.bearer(t, 1))
		rr := app.do(req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.Contains(t, rr.Body.String(), `"id":3`)
	})

	t.Run("requires credential", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})
		req := httptest.NewRequest(http.MethodPost, "/chats/7",
			strings.NewReader(`{"message":"x"}`))
		rr := app.do(req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("empty message", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomById", 7).Return(database.Room{Id: 7}, nil).Once()

		app := newTestApp(t, db)
		req := httptest.NewRequest(http.MethodPost, "/chats/7",
			strings.NewReader(`{"message":""}`))
		req.Header.Set("Authorization", app.bearer(t, 1))
		rr := app.do(req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestGetScene(t *testing.T) {
	db := &database.MockBoardRepository{}
	defer db.AssertExpectations(t)
	db.On("GetRoomById", 7).Return(database.Room{Id: 7}, nil).Once()
	// newest first, as GetChats returns them
	db.On("GetChats", 7, 50).Return([]database.Chat{
		{Id: 3, RoomId: 7, Content: `[{"id":"e1","version":2,"versionNonce":1}]`},
		{Id: 2, RoomId: 7, Content: `just a chat message`},
		{Id: 1, RoomId: 7, Content: `[{"id":"e1","version":1,"versionNonce":5},{"id":"e2","version":1,"versionNonce":5,"isDeleted":true}]`},
	}, nil).Once()

	app := newTestApp(t, db)
	req := httptest.NewRequest(http.MethodGet, "/rooms/7/scene", nil)
	req.Header.Set("Authorization", app.bearer(t, 1))
	rr := app.do(req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		RoomId   int               `json:"roomId"`
		Elements []json.RawMessage `json:"elements"`
	}
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.RoomId)
	assert.Len(t, resp.Elements, 1, "expected deleted element excluded and chat text skipped")
	assert.Contains(t, string(resp.Elements[0]), `"version":2`)
}

func TestServeWs_rejectsBadCredentials(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})
		rr := app.do(httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		app := newTestApp(t, &database.MockBoardRepository{})
		rr := app.do(httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown account", func(t *testing.T) {
		db := &database.MockBoardRepository{}
		defer db.AssertExpectations(t)
		db.On("GetAccountById", 1).Return(database.User{}, sql.ErrNoRows).Once()

		app := newTestApp(t, db)
		token, err := app.createJwtForSession(1, time.Hour)
		assert.NoError(t, err)

		rr := app.do(httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_slugify(t *testing.T) {
	tcases := []struct {
		in  string
		out string
	}{
		{"Team Board", "team-board"},
		{"  My Room  ", "my-room"},
		{"Design_Sync 2", "design-sync-2"},
		{"!!!", "room"},
	}

	for _, tc := range tcases {
		assert.Equal(t, tc.out, slugify(tc.in), "input: %q", tc.in)
	}
}
