package server

import (
	"sync"
)

// Registry tracks live client connections and their room subscriptions.
// It is owned by the BoardServer, created at process start and torn down
// at shutdown. Every mutation and every membership read holds the lock
// only for the map operation itself, never across a network write, so a
// broadcast always observes a consistent snapshot of the room.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[int]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[int]map[*Client]struct{}),
	}
}

func (reg *Registry) Add(c *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.clients[c] = struct{}{}
}

// Remove deletes the connection record and every room subscription it
// holds. It is safe to call for a connection that was never admitted and
// reports whether the client was present along with how many
// subscriptions were dropped.
func (reg *Registry) Remove(c *Client) (present bool, subscriptions int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.clients[c]; !ok {
		return false, 0
	}
	delete(reg.clients, c)

	for roomId, members := range reg.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			subscriptions++
			if len(members) == 0 {
				delete(reg.rooms, roomId)
			}
		}
	}

	return true, subscriptions
}

// Join idempotently subscribes an admitted client to a room and reports
// whether the subscription is new. Joining on a connection that has
// already been removed is a no-op.
func (reg *Registry) Join(c *Client, roomId int) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.clients[c]; !ok {
		return false
	}

	members, ok := reg.rooms[roomId]
	if !ok {
		members = make(map[*Client]struct{})
		reg.rooms[roomId] = members
	}

	if _, ok := members[c]; ok {
		return false
	}

	members[c] = struct{}{}
	return true
}

// Leave idempotently drops a room subscription and reports whether one
// existed.
func (reg *Registry) Leave(c *Client, roomId int) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	members, ok := reg.rooms[roomId]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}

	delete(members, c)
	if len(members) == 0 {
		delete(reg.rooms, roomId)
	}

	return true
}

// Members returns a point-in-time copy of the room's subscribers. The
// caller may iterate it freely while other connections join, leave or
// disconnect.
func (reg *Registry) Members(roomId int) []*Client {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	members := make([]*Client, 0, len(reg.rooms[roomId]))
	for c := range reg.rooms[roomId] {
		members = append(members, c)
	}

	return members
}

// Subscriptions returns the room ids the client is currently joined to.
func (reg *Registry) Subscriptions(c *Client) []int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var roomIds []int
	for roomId, members := range reg.rooms {
		if _, ok := members[c]; ok {
			roomIds = append(roomIds, roomId)
		}
	}

	return roomIds
}

// Clients returns a point-in-time copy of every admitted connection.
func (reg *Registry) Clients() []*Client {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	clients := make([]*Client, 0, len(reg.clients))
	for c := range reg.clients {
		clients = append(clients, c)
	}

	return clients
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.clients)
}
