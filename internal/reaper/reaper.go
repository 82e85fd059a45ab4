// Package reaper reconciles persisted room records against liveness
// rules: a periodic sweep hard-deletes stale rooms, and a shutdown
// hook resets the rooms this instance leaves behind.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/metrics"
	"github.com/rtchub/rtchub/internal/registry"
)

// RoomCloser tears down room resources. Implemented by the signaling
// engine so the reaper never touches sessions or pipelines directly.
type RoomCloser interface {
	// CloseRoom releases local sessions and the media pipeline, then
	// removes the persisted record.
	CloseRoom(ctx context.Context, roomID domain.RoomID) error
	// ReleaseLocal releases local sessions and the media pipeline but
	// leaves the persisted record alone.
	ReleaseLocal(roomID domain.RoomID)
}

type Reaper struct {
	reg      registry.Registry
	closer   RoomCloser
	interval time.Duration
}

func New(reg registry.Registry, closer RoomCloser, interval time.Duration) *Reaper {
	return &Reaper{reg: reg, closer: closer, interval: interval}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Str("module", "reaper").Dur("interval", r.interval).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "reaper").Msg("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep hard-deletes every stale room. ACTIVE rooms are stale when
// their occupancy desynced (dropped to zero or overflowed the cap);
// CREATED and INACTIVE rooms are stale unconditionally since no
// session can exist for them. A failed delete never aborts the sweep.
func (r *Reaper) Sweep(ctx context.Context) {
	rooms, err := r.reg.Search(ctx, registry.SearchQuery{States: domain.AllRoomStates})
	if err != nil {
		log.Error().Err(err).Str("module", "reaper").Msg("sweep scan failed")
		return
	}

	var reaped int
	for _, room := range rooms {
		if !stale(room) {
			continue
		}
		if err := r.closer.CloseRoom(ctx, room.ID); err != nil {
			log.Error().Err(err).Str("module", "reaper").Str("room", string(room.ID)).Msg("could not delete room")
			continue
		}
		reaped++
		metrics.RoomsReapedTotal.Inc()
		log.Info().Str("module", "reaper").Str("room", string(room.ID)).Str("name", room.Name).
			Str("state", string(room.State)).Int("occupancy", room.Occupancy).Msg("room reaped")
	}
	log.Info().Str("module", "reaper").Int("scanned", len(rooms)).Int("reaped", reaped).Msg("sweep done")
}

func stale(room *domain.Room) bool {
	if room.State != domain.RoomActive {
		return true
	}
	return room.Occupancy <= 0 || room.Occupancy > room.MaxOccupancy
}

// Shutdown resets every room to an empty CREATED record so a redeploy
// does not destroy user-visible rooms, then releases this instance's
// media resources. Occupancy counts and instance-bound pipelines
// would otherwise never self-heal.
func (r *Reaper) Shutdown(ctx context.Context) {
	rooms, err := r.reg.Search(ctx, registry.SearchQuery{States: domain.AllRoomStates})
	if err != nil {
		log.Error().Err(err).Str("module", "reaper").Msg("shutdown scan failed")
		return
	}

	for _, room := range rooms {
		room.Occupancy = 0
		room.State = domain.RoomCreated
		if err := r.reg.Update(ctx, room); err != nil {
			log.Error().Err(err).Str("module", "reaper").Str("room", string(room.ID)).Msg("could not reset room")
			continue
		}
		r.closer.ReleaseLocal(room.ID)
	}
	log.Info().Str("module", "reaper").Int("rooms", len(rooms)).Msg("shutdown reset done")
}
