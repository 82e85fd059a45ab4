// Package participant tracks live peer sessions for rooms hosted by
// this process instance. It is process-local by design: peer-to-peer
// negotiation requires both sessions to be visible to the same engine,
// so a scaled deployment must route a room's connections to one
// instance.
package participant

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
)

// Registry is a concurrent (room, user) -> session map, generic over
// the session type so tests can use lightweight fakes.
type Registry[T any] struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.UserID]T
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{rooms: make(map[domain.RoomID]map[domain.UserID]T)}
}

// Add inserts the session. A duplicate join (reconnect race) replaces
// the previous session, which is returned so the caller can release
// its resources. The lookup and the insert are one atomic step so two
// racing joins can never both observe an empty slot.
func (r *Registry[T]) Add(roomID domain.RoomID, userID domain.UserID, sess T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[domain.UserID]T)
		r.rooms[roomID] = room
	}
	old, replaced := room[userID]
	room[userID] = sess
	if replaced {
		log.Warn().Str("module", "participant").Str("room", string(roomID)).Str("user", string(userID)).Msg("replaced existing session on duplicate join")
	}
	return old, replaced
}

// Remove drops the user's session and returns it. Emptying a room
// drops the room's map as well, independent of the room registry's
// own state.
func (r *Registry[T]) Remove(roomID domain.RoomID, userID domain.UserID) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	room, ok := r.rooms[roomID]
	if !ok {
		return zero, false
	}
	sess, ok := room[userID]
	if !ok {
		return zero, false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	return sess, true
}

func (r *Registry[T]) Get(roomID domain.RoomID, userID domain.UserID) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	room, ok := r.rooms[roomID]
	if !ok {
		return zero, false
	}
	sess, ok := room[userID]
	if !ok {
		return zero, false
	}
	return sess, true
}

// GetAll returns a copy of the room's session map.
func (r *Registry[T]) GetAll(roomID domain.RoomID) map[domain.UserID]T {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[roomID]
	out := make(map[domain.UserID]T, len(room))
	for id, sess := range room {
		out[id] = sess
	}
	return out
}

func (r *Registry[T]) Count(roomID domain.RoomID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// RemoveRoom forcibly drops all sessions for a room without
// per-session cleanup. Used when every connection is already closed.
func (r *Registry[T]) RemoveRoom(roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// Rooms lists the rooms with at least one live session here.
func (r *Registry[T]) Rooms() []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}
