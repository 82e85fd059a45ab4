// Package registry persists room records and answers filtered,
// paginated searches over them. Two implementations share the
// contract: a redis-backed store for deployments and an in-memory
// store for tests and single-node development.
package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/rtchub/rtchub/internal/domain"
)

// SearchQuery filters rooms by a keyword matched as a substring of
// name or creator, and by an OR set of states. Results are ordered by
// creation time descending; pagination is offset based with PageNum
// starting at 0. PageSize <= 0 disables pagination.
type SearchQuery struct {
	Keyword  string
	States   []domain.RoomState
	PageNum  int
	PageSize int
}

type Registry interface {
	// Create stores a new room record. It fails with
	// domain.ErrDuplicateRoomName when a room with the same name
	// exists in the created or active state.
	Create(ctx context.Context, room *domain.Room) error

	// Get returns the room or domain.ErrRoomNotFound.
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)

	// Update replaces the stored record. Occupancy changes driven by
	// join/leave must go through IncrOccupancy instead; Update is for
	// state transitions and metadata edits.
	Update(ctx context.Context, room *domain.Room) error

	// SetState transitions only the room's lifecycle state. Occupancy
	// and metadata are left untouched, so a state transition can never
	// erase a concurrent occupancy increment.
	SetState(ctx context.Context, id domain.RoomID, state domain.RoomState) error

	// IncrOccupancy atomically adds delta to the room's occupancy,
	// clamping at zero, and returns the new value.
	IncrOccupancy(ctx context.Context, id domain.RoomID, delta int) (int, error)

	// Search returns rooms matching the query, newest first.
	Search(ctx context.Context, q SearchQuery) ([]*domain.Room, error)

	// Delete removes all persisted fields for the room. Deleting a
	// room that does not exist succeeds silently.
	Delete(ctx context.Context, id domain.RoomID) error
}

func matchKeyword(r *domain.Room, keyword string) bool {
	if keyword == "" {
		return true
	}
	return strings.Contains(r.Name, keyword) || strings.Contains(r.Creator, keyword)
}

func matchStates(r *domain.Room, states []domain.RoomState) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if r.State == s {
			return true
		}
	}
	return false
}

func matches(r *domain.Room, q SearchQuery) bool {
	return matchKeyword(r, q.Keyword) && matchStates(r, q.States)
}

// sortAndPage orders rooms by creation time descending and applies
// offset pagination. It mutates the given slice order.
func sortAndPage(rooms []*domain.Room, q SearchQuery) []*domain.Room {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt > rooms[j].CreatedAt
		}
		return rooms[i].ID < rooms[j].ID
	})
	if q.PageSize <= 0 {
		return rooms
	}
	start := q.PageNum * q.PageSize
	if start >= len(rooms) {
		return nil
	}
	end := start + q.PageSize
	if end > len(rooms) {
		end = len(rooms)
	}
	return rooms[start:end]
}

// nameTaken reports whether any room in the created or active state
// carries exactly this name. Name uniqueness is scoped to those two
// states: an inactive room's name is free for reuse.
func nameTaken(rooms []*domain.Room, name string) bool {
	for _, r := range rooms {
		if r.Name != name {
			continue
		}
		if r.State == domain.RoomCreated || r.State == domain.RoomActive {
			return true
		}
	}
	return false
}
