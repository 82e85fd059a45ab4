package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtchub/rtchub/internal/domain"
)

func TestMemoryCreateGet(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	r := domain.NewRoom("lobby", "alice", "", false, 4)
	require.NoError(t, reg.Create(ctx, r))

	got, err := reg.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "lobby", got.Name)
	require.Equal(t, domain.RoomCreated, got.State)
	require.Equal(t, 0, got.Occupancy)

	// Mutating the returned copy must not leak into the store.
	got.Name = "mutated"
	again, err := reg.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, "lobby", again.Name)

	_, err = reg.Get(ctx, "no-such-room")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestMemoryDuplicateName(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	first := domain.NewRoom("lobby", "alice", "", false, 4)
	require.NoError(t, reg.Create(ctx, first))

	t.Run("taken while created", func(t *testing.T) {
		dup := domain.NewRoom("lobby", "bob", "", false, 4)
		require.ErrorIs(t, reg.Create(ctx, dup), domain.ErrDuplicateRoomName)
	})

	t.Run("taken while active", func(t *testing.T) {
		first.Activate()
		require.NoError(t, reg.Update(ctx, first))
		dup := domain.NewRoom("lobby", "bob", "", false, 4)
		require.ErrorIs(t, reg.Create(ctx, dup), domain.ErrDuplicateRoomName)
	})

	t.Run("free once inactive", func(t *testing.T) {
		first.Deactivate()
		require.NoError(t, reg.Update(ctx, first))
		dup := domain.NewRoom("lobby", "bob", "", false, 4)
		require.NoError(t, reg.Create(ctx, dup))
	})
}

func TestMemoryUpdateMissing(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	ghost := domain.NewRoom("ghost", "alice", "", false, 2)
	require.ErrorIs(t, reg.Update(ctx, ghost), domain.ErrRoomNotFound)
}

func TestMemorySetState(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	r := domain.NewRoom("lobby", "alice", "", false, 4)
	require.NoError(t, reg.Create(ctx, r))
	_, err := reg.IncrOccupancy(ctx, r.ID, 2)
	require.NoError(t, err)

	// Only the state changes; the occupancy written after the caller's
	// read survives.
	require.NoError(t, reg.SetState(ctx, r.ID, domain.RoomActive))
	got, err := reg.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoomActive, got.State)
	require.Equal(t, 2, got.Occupancy)

	require.ErrorIs(t, reg.SetState(ctx, "no-such-room", domain.RoomActive), domain.ErrRoomNotFound)
}

func TestMemoryIncrOccupancy(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	r := domain.NewRoom("lobby", "alice", "", false, 4)
	require.NoError(t, reg.Create(ctx, r))

	occ, err := reg.IncrOccupancy(ctx, r.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, occ)

	occ, err = reg.IncrOccupancy(ctx, r.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 2, occ)

	// Never below zero, no matter how many decrements race in.
	occ, err = reg.IncrOccupancy(ctx, r.ID, -5)
	require.NoError(t, err)
	require.Equal(t, 0, occ)

	_, err = reg.IncrOccupancy(ctx, "no-such-room", 1)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestMemorySearch(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	mk := func(name string, createdAt int64, state domain.RoomState) *domain.Room {
		r := domain.NewRoom(name, "alice", "", false, 4)
		r.CreatedAt = createdAt
		r.State = state
		require.NoError(t, reg.Create(ctx, r))
		return r
	}

	oldest := mk("alpha", 100, domain.RoomActive)
	middle := mk("beta", 200, domain.RoomCreated)
	newest := mk("gamma", 300, domain.RoomInactive)

	t.Run("newest first", func(t *testing.T) {
		got, err := reg.Search(ctx, SearchQuery{})
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, newest.ID, got[0].ID)
		require.Equal(t, middle.ID, got[1].ID)
		require.Equal(t, oldest.ID, got[2].ID)
	})

	t.Run("state filter", func(t *testing.T) {
		got, err := reg.Search(ctx, SearchQuery{States: []domain.RoomState{domain.RoomCreated, domain.RoomActive}})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, r := range got {
			require.NotEqual(t, domain.RoomInactive, r.State)
		}
	})

	t.Run("keyword matches name and creator", func(t *testing.T) {
		got, err := reg.Search(ctx, SearchQuery{Keyword: "beta"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, middle.ID, got[0].ID)

		got, err = reg.Search(ctx, SearchQuery{Keyword: "alice"})
		require.NoError(t, err)
		require.Len(t, got, 3)
	})

	t.Run("pagination", func(t *testing.T) {
		page0, err := reg.Search(ctx, SearchQuery{PageNum: 0, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page0, 2)
		require.Equal(t, newest.ID, page0[0].ID)

		page1, err := reg.Search(ctx, SearchQuery{PageNum: 1, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page1, 1)
		require.Equal(t, oldest.ID, page1[0].ID)

		empty, err := reg.Search(ctx, SearchQuery{PageNum: 5, PageSize: 2})
		require.NoError(t, err)
		require.Empty(t, empty)
	})
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	r := domain.NewRoom("lobby", "alice", "", false, 4)
	require.NoError(t, reg.Create(ctx, r))

	require.NoError(t, reg.Delete(ctx, r.ID))
	_, err := reg.Get(ctx, r.ID)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)

	// Second delete is a no-op, not an error.
	require.NoError(t, reg.Delete(ctx, r.ID))
}
