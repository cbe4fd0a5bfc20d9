package app

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink is the transport endpoint a registry entry fans out to.
// Owned by the adapter; the adapter must Close() it.
type Sink interface {
	TrySend(data []byte) error
	Close()
}

// Registry tracks this process's live sockets: one index from
// authenticated user id to socket, one from room code to the set of
// sockets viewing that room. It is never persisted and never shared;
// other processes reach their own sockets through the bus. Constructed
// once at process start and passed to every handler.
type Registry struct {
	mu    sync.RWMutex
	users map[string]Sink
	rooms map[string]map[Sink]struct{}
	// attached tracks the reverse room index per socket so a closing
	// socket can be detached from everything it was viewing.
	attached map[Sink]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[string]Sink),
		rooms:    make(map[string]map[Sink]struct{}),
		attached: make(map[Sink]map[string]struct{}),
	}
}

// Register binds a user's socket. A reconnect replaces the previous
// socket, which is closed.
func (r *Registry) Register(userID string, s Sink) {
	r.mu.Lock()
	old, had := r.users[userID]
	r.users[userID] = s
	r.mu.Unlock()
	if had && old != s {
		r.detachAll(old)
		old.Close()
	}
	log.Info().Str("module", "app.registry").Str("user", userID).Msg("socket registered")
}

// Unregister removes the user's socket and all of its room
// attachments. It returns the rooms the socket was viewing so the
// caller can notify remaining viewers. A stale socket (already replaced
// by a reconnect) only detaches itself.
func (r *Registry) Unregister(userID string, s Sink) []string {
	r.mu.Lock()
	if cur, ok := r.users[userID]; ok && cur == s {
		delete(r.users, userID)
	}
	r.mu.Unlock()
	rooms := r.detachAll(s)
	log.Info().Str("module", "app.registry").Str("user", userID).Msg("socket unregistered")
	return rooms
}

func (r *Registry) AttachToRoom(s Sink, roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rooms[roomCode]
	if !ok {
		set = make(map[Sink]struct{})
		r.rooms[roomCode] = set
	}
	set[s] = struct{}{}
	back, ok := r.attached[s]
	if !ok {
		back = make(map[string]struct{})
		r.attached[s] = back
	}
	back[roomCode] = struct{}{}
}

func (r *Registry) DetachFromRoom(s Sink, roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(s, roomCode)
}

func (r *Registry) detachLocked(s Sink, roomCode string) {
	if set, ok := r.rooms[roomCode]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(r.rooms, roomCode)
		}
	}
	if back, ok := r.attached[s]; ok {
		delete(back, roomCode)
		if len(back) == 0 {
			delete(r.attached, s)
		}
	}
}

func (r *Registry) detachAll(s Sink) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(r.attached[s]))
	for roomCode := range r.attached[s] {
		rooms = append(rooms, roomCode)
	}
	for _, roomCode := range rooms {
		r.detachLocked(s, roomCode)
	}
	return rooms
}

// DeliverToRoom sends data to every socket viewing the room. Sockets
// that refuse the write are pruned from the room set; their close is
// handled by the transport on its own exit path.
func (r *Registry) DeliverToRoom(roomCode string, data []byte) {
	r.DeliverToRoomExcept(roomCode, data, nil)
}

// DeliverToRoomExcept is DeliverToRoom minus one socket, used when the
// originator of a room message should not hear its own echo.
func (r *Registry) DeliverToRoomExcept(roomCode string, data []byte, except Sink) {
	r.mu.RLock()
	targets := make([]Sink, 0, len(r.rooms[roomCode]))
	for s := range r.rooms[roomCode] {
		if s != except {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("room", roomCode).Msg("dropping dead room socket")
			r.DetachFromRoom(s, roomCode)
		}
	}
}

// DeliverToUsers sends data to each locally registered socket among
// userIDs. Identities not connected to this process are skipped; their
// own process receives the same bus event and reaches them there.
// Sockets that refuse the write are dropped from the user index.
func (r *Registry) DeliverToUsers(userIDs []string, data []byte) {
	type target struct {
		userID string
		sink   Sink
	}
	r.mu.RLock()
	targets := make([]target, 0, len(userIDs))
	for _, id := range userIDs {
		if s, ok := r.users[id]; ok {
			targets = append(targets, target{id, s})
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if err := t.sink.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "app.registry").Str("user", t.userID).Msg("dropping dead user socket")
			r.dropUser(t.userID, t.sink)
		}
	}
}

// dropUser removes the user's entry only while it still holds s; a
// reconnect may have replaced it between the snapshot and the failure.
func (r *Registry) dropUser(userID string, s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.users[userID]; ok && cur == s {
		delete(r.users, userID)
	}
}
