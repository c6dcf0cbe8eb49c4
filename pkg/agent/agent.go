// Package agent implements the client side of the whiteboard sync
// protocol: it keeps a local scene per room, reconnects with backoff,
// re-issues join_room for every subscribed room, and replays the room's
// snapshot log through the same last-writer-wins rule the server uses
// before accepting further live broadcasts.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drawboard/drawboard/internal/merge"
	"github.com/drawboard/drawboard/internal/types"
)

const reconnectDelay = 3 * time.Second

type Config struct {
	// WsURL is the websocket endpoint, e.g. ws://localhost:8000/ws.
	WsURL string
	// HttpURL is the HTTP API base used to fetch the snapshot log,
	// e.g. http://localhost:8000. Optional; without it the agent skips
	// log replay and relies on live broadcasts only.
	HttpURL string
	Token   string
	Logger  *log.Logger

	// OnChat is invoked for every chat broadcast, including echoes of
	// the agent's own messages in their canonical persisted form.
	OnChat func(roomId int, msg types.ChatMessage)
	// OnCursor is invoked for other clients' cursor updates.
	OnCursor func(roomId int, clientId string, pointer types.Pointer, color, username string)
}

type event struct {
	Type     string          `json:"type"`
	RoomId   int             `json:"roomId"`
	Elements []merge.Element `json:"elements,omitempty"`
	ClientId string          `json:"clientId,omitempty"`
	Pointer  *types.Pointer  `json:"pointer,omitempty"`
	Color    string          `json:"color,omitempty"`
	Username string          `json:"username,omitempty"`
	Content  string          `json:"content,omitempty"`
	Message  json.RawMessage `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type Agent struct {
	cfg      Config
	clientId string
	httpc    *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	rooms  map[int]struct{}
	scenes map[int][]merge.Element
}

func New(cfg Config) (*Agent, error) {
	if cfg.WsURL == "" {
		return nil, fmt.Errorf("websocket URL cannot be empty")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Agent{
		cfg:      cfg,
		clientId: uuid.NewString(),
		httpc:    &http.Client{Timeout: 10 * time.Second},
		rooms:    make(map[int]struct{}),
		scenes:   make(map[int][]merge.Element),
	}, nil
}

// ClientId is the identifier stamped on outbound drawing and cursor
// events so the agent can ignore its own frames if a relay echoes them.
func (a *Agent) ClientId() string {
	return a.clientId
}

// Run connects and processes broadcasts until the context is cancelled,
// reconnecting with a fixed delay after transport failures. On every
// (re)connect the agent replays the snapshot log for each subscribed
// room before re-issuing join_room, so local state never regresses to a
// stale view.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.connect(ctx); err != nil {
			a.cfg.Logger.Println("connect:", err)
		} else {
			a.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (a *Agent) connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.WsURL+"?token="+a.cfg.Token, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	roomIds := make([]int, 0, len(a.rooms))
	for roomId := range a.rooms {
		roomIds = append(roomIds, roomId)
	}
	a.mu.Unlock()

	for _, roomId := range roomIds {
		a.syncRoom(ctx, roomId)
		if err := a.send(event{Type: "join_room", RoomId: roomId}); err != nil {
			return err
		}
	}

	return nil
}

func (a *Agent) readLoop(ctx context.Context) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	defer func() {
		conn.Close()
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.cfg.Logger.Println("read:", err)
			}
			return
		}

		a.handleFrame(raw)
	}
}

func (a *Agent) handleFrame(raw []byte) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}

	switch ev.Type {
	case "drawing":
		if ev.ClientId == a.clientId {
			return
		}
		a.applyElements(ev.RoomId, ev.Elements)
	case "cursor":
		if ev.ClientId == a.clientId || a.cfg.OnCursor == nil || ev.Pointer == nil {
			return
		}
		a.cfg.OnCursor(ev.RoomId, ev.ClientId, *ev.Pointer, ev.Color, ev.Username)
	case "chat":
		if a.cfg.OnChat == nil {
			return
		}
		var msg types.ChatMessage
		if err := json.Unmarshal(ev.Message, &msg); err != nil {
			return
		}
		a.cfg.OnChat(ev.RoomId, msg)
	case "error":
		a.cfg.Logger.Println("server error:", ev.Error)
	}
}

func (a *Agent) applyElements(roomId int, elements []merge.Element) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scenes[roomId] = merge.Merge(a.scenes[roomId], elements)
}

// JoinRoom subscribes the agent to a room. On a live connection the
// snapshot log is replayed into the local scene before the join is sent.
func (a *Agent) JoinRoom(ctx context.Context, roomId int) error {
	a.mu.Lock()
	a.rooms[roomId] = struct{}{}
	connected := a.conn != nil
	a.mu.Unlock()

	if !connected {
		return nil
	}

	a.syncRoom(ctx, roomId)
	return a.send(event{Type: "join_room", RoomId: roomId})
}

func (a *Agent) LeaveRoom(roomId int) error {
	a.mu.Lock()
	delete(a.rooms, roomId)
	connected := a.conn != nil
	a.mu.Unlock()

	if !connected {
		return nil
	}

	return a.send(event{Type: "leave_room", RoomId: roomId})
}

// SendElements merges the elements into the local scene and broadcasts
// them to the room.
func (a *Agent) SendElements(roomId int, elements []merge.Element) error {
	a.applyElements(roomId, elements)
	return a.send(event{
		Type:     "drawing",
		RoomId:   roomId,
		Elements: elements,
		ClientId: a.clientId,
	})
}

func (a *Agent) SendCursor(roomId int, pointer types.Pointer, color, username string) error {
	return a.send(event{
		Type:     "cursor",
		RoomId:   roomId,
		Pointer:  &pointer,
		ClientId: a.clientId,
		Color:    color,
		Username: username,
	})
}

func (a *Agent) SendChat(roomId int, content string) error {
	return a.send(event{
		Type:    "chat",
		RoomId:  roomId,
		Content: content,
	})
}

// Scene returns a copy of the current local scene for the room.
func (a *Agent) Scene(roomId int) []merge.Element {
	a.mu.Lock()
	defer a.mu.Unlock()

	scene := make([]merge.Element, len(a.scenes[roomId]))
	copy(scene, a.scenes[roomId])
	return scene
}

func (a *Agent) send(ev event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("not connected")
	}

	return a.conn.WriteMessage(websocket.TextMessage, frame)
}

// syncRoom replays the room's snapshot log into the local scene. Failure
// is non-fatal: the agent still converges through live broadcasts and
// the next reconnect.
func (a *Agent) syncRoom(ctx context.Context, roomId int) {
	if a.cfg.HttpURL == "" {
		return
	}

	batches, err := a.fetchSnapshotLog(ctx, roomId)
	if err != nil {
		a.cfg.Logger.Printf("sync room %d: %v", roomId, err)
		return
	}

	replayed := merge.Replay(batches...)

	a.mu.Lock()
	a.scenes[roomId] = merge.Merge(a.scenes[roomId], replayed)
	a.mu.Unlock()
}

func (a *Agent) fetchSnapshotLog(ctx context.Context, roomId int) ([][]merge.Element, error) {
	url := fmt.Sprintf("%s/chats/%d", a.cfg.HttpURL, roomId)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("snapshot log request: %s", resp.Status)
	}

	var body struct {
		Messages []types.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	// newest first on the wire; replay oldest first
	var batches [][]merge.Element
	for i := len(body.Messages) - 1; i >= 0; i-- {
		if elements, ok := merge.DecodeScene(body.Messages[i].Content); ok {
			batches = append(batches, elements)
		}
	}

	return batches, nil
}
