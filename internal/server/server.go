package server

import (
	"context"
	"log"

	"github.com/drawboard/drawboard/internal/database"
	"github.com/drawboard/drawboard/internal/stats"
	"github.com/drawboard/drawboard/internal/types"
)

const (
	metricActiveConnections = "NumActiveConnections"
	metricSubscriptions     = "NumRoomSubscriptions"
	metricEventsRelayed     = "EventsRelayed"
	metricChatsSaved        = "ChatMessagesSaved"
)

// JoinPolicy decides whether an authenticated user may subscribe to a
// room. The relay itself does not verify room membership; deployments
// that need an authorization check inject one here.
type JoinPolicy func(user types.User, roomId int) bool

// AllowAll admits any authenticated user to any room id, matching the
// behavior the HTTP layer relies on today.
func AllowAll(types.User, int) bool { return true }

// BoardServer routes whiteboard events between the clients subscribed to
// a room. The registry is process-local in-memory state: a deployment
// running several relay processes would not share room membership without
// an external broadcast bus, which is a known scaling limitation.
type BoardServer struct {
	log        *log.Logger
	db         database.BoardRepository
	registry   *Registry
	stats      stats.StatsProvider
	joinPolicy JoinPolicy
}

func NewBoardServer(logger *log.Logger, db database.BoardRepository, su stats.StatsProvider, policy JoinPolicy) (*BoardServer, error) {
	if policy == nil {
		policy = AllowAll
	}

	su.RegisterMetric(metricActiveConnections)
	su.RegisterMetric(metricSubscriptions)
	su.RegisterMetric(metricEventsRelayed)
	su.RegisterMetric(metricChatsSaved)

	return &BoardServer{
		log:        logger,
		db:         db,
		registry:   NewRegistry(),
		stats:      su,
		joinPolicy: policy,
	}, nil
}

// Admit registers an authenticated connection with an empty subscription
// set. Credential validation happens before the transport upgrade; by the
// time a Client exists its identity is established.
func (bs *BoardServer) Admit(c *Client) {
	bs.log.Printf("adding connection from %q", c.user.Name)
	bs.registry.Add(c)
	bs.stats.Incr(metricActiveConnections)
}

// Release removes a connection from the registry. It runs exactly once
// per connection lifetime, triggered by the transport close path, and is
// a no-op for connections that were rejected before admission.
func (bs *BoardServer) Release(c *Client) {
	present, subscriptions := bs.registry.Remove(c)
	if !present {
		return
	}

	bs.log.Printf("removing connection from %q", c.user.Name)
	bs.stats.Decr(metricActiveConnections)
	for i := 0; i < subscriptions; i++ {
		bs.stats.Decr(metricSubscriptions)
	}
}

// Route handles one inbound frame from a connection. Malformed frames are
// dropped silently; only credential failures or transport errors close a
// connection.
func (bs *BoardServer) Route(sender *Client, raw []byte) {
	ev, ok := parseClientEvent(raw)
	if !ok {
		bs.log.Printf("dropping malformed frame from %q", sender.user.Name)
		return
	}

	switch ev.Type {
	case EventJoinRoom:
		bs.handleJoin(sender, ev)
	case EventLeaveRoom:
		if bs.registry.Leave(sender, ev.RoomId) {
			bs.stats.Decr(metricSubscriptions)
		}
	case EventDrawing, EventCursor:
		bs.relay(sender, ev.RoomId, raw)
	case EventChat:
		bs.saveAndBroadcast(sender, ev)
	}
}

func (bs *BoardServer) handleJoin(sender *Client, ev *ClientEvent) {
	if !bs.joinPolicy(sender.user, ev.RoomId) {
		bs.log.Printf("user %q denied joining room %d", sender.user.Name, ev.RoomId)
		sender.queueFrame(errorFrame(ev.RoomId, "not authorized to join room"))
		return
	}

	if bs.registry.Join(sender, ev.RoomId) {
		bs.stats.Incr(metricSubscriptions)
	}
}

// relay forwards a drawing or cursor frame verbatim to every other
// connection subscribed to the room. Delivery is best effort: recipients
// whose send queue is full or whose transport is closing are skipped, and
// nothing is buffered for connections that are not present.
func (bs *BoardServer) relay(sender *Client, roomId int, raw []byte) {
	for _, member := range bs.registry.Members(roomId) {
		if member == sender {
			continue
		}

		if !member.queueFrame(raw) {
			bs.log.Printf("dropping frame for %q, send queue full", member.user.Name)
		}
	}

	bs.stats.Incr(metricEventsRelayed)
}

// saveAndBroadcast appends the chat entry to the room's log first, then
// broadcasts the persisted record, sender included, so every client shows
// the canonical form. A persistence failure is reported only to the
// sender and nothing is broadcast.
func (bs *BoardServer) saveAndBroadcast(sender *Client, ev *ClientEvent) {
	chat, err := bs.db.CreateChat(database.CreateChatParams{
		RoomId:    ev.RoomId,
		AccountId: sender.user.Id,
		Content:   ev.Content,
	})
	if err != nil {
		bs.log.Println("save chat:", err)
		sender.queueFrame(errorFrame(ev.RoomId, "failed to save message"))
		return
	}

	bs.stats.Incr(metricChatsSaved)

	frame, err := chatFrame(ev.RoomId, types.ChatMessage{
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
	if err != nil {
		bs.log.Println("encode chat broadcast:", err)
		return
	}

	for _, member := range bs.registry.Members(ev.RoomId) {
		if !member.queueFrame(frame) {
			bs.log.Printf("dropping chat frame for %q, send queue full", member.user.Name)
		}
	}
}

// Shutdown stops every live connection and clears the registry. Each
// client's read pump also calls Release on its own close path, which is
// harmless because removal is idempotent.
func (bs *BoardServer) Shutdown(ctx context.Context) error {
	bs.log.Println("shutting down board server")
	for _, c := range bs.registry.Clients() {
		c.stopClient()
		bs.Release(c)
	}

	return ctx.Err()
}
