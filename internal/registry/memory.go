package registry

import (
	"context"
	"sync"

	"github.com/rtchub/rtchub/internal/domain"
)

// memRegistry is the in-memory counterpart of the redis store. It
// holds copies of the records so callers cannot mutate stored state
// through retained pointers.
type memRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room
}

func NewMemory() Registry {
	return &memRegistry{rooms: make(map[domain.RoomID]*domain.Room)}
}

func (m *memRegistry) Create(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		all = append(all, r)
	}
	if nameTaken(all, room.Name) {
		return domain.ErrDuplicateRoomName
	}
	cp := *room
	m.rooms[room.ID] = &cp
	return nil
}

func (m *memRegistry) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRegistry) Update(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; !ok {
		return domain.ErrRoomNotFound
	}
	cp := *room
	m.rooms[room.ID] = &cp
	return nil
}

func (m *memRegistry) SetState(_ context.Context, id domain.RoomID, state domain.RoomState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	r.State = state
	return nil
}

func (m *memRegistry) IncrOccupancy(_ context.Context, id domain.RoomID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return 0, domain.ErrRoomNotFound
	}
	r.Occupancy += delta
	if r.Occupancy < 0 {
		r.Occupancy = 0
	}
	return r.Occupancy, nil
}

func (m *memRegistry) Search(_ context.Context, q SearchQuery) ([]*domain.Room, error) {
	m.mu.RLock()
	out := make([]*domain.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if matches(r, q) {
			cp := *r
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	return sortAndPage(out, q), nil
}

func (m *memRegistry) Delete(_ context.Context, id domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, id)
	return nil
}
