package relay

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
)

// PipelineRegistry owns this instance's room -> pipeline handles. It
// is constructed at startup and injected wherever pipelines are
// allocated or torn down.
type PipelineRegistry struct {
	mu        sync.Mutex
	relay     Relay
	pipelines map[domain.RoomID]Pipeline
}

func NewPipelineRegistry(r Relay) *PipelineRegistry {
	return &PipelineRegistry{relay: r, pipelines: make(map[domain.RoomID]Pipeline)}
}

// GetOrCreate returns the room's pipeline, allocating it on first use.
func (pr *PipelineRegistry) GetOrCreate(ctx context.Context, roomID domain.RoomID) (Pipeline, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if p, ok := pr.pipelines[roomID]; ok {
		return p, nil
	}
	p, err := pr.relay.CreatePipeline(ctx, string(roomID))
	if err != nil {
		return nil, err
	}
	pr.pipelines[roomID] = p
	log.Info().Str("module", "relay").Str("room", string(roomID)).Msg("media pipeline created")
	return p, nil
}

func (pr *PipelineRegistry) Get(roomID domain.RoomID) (Pipeline, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	p, ok := pr.pipelines[roomID]
	return p, ok
}

// Release drops the room's pipeline and fires its release. The result
// is logged, never surfaced: the room is being discarded either way.
func (pr *PipelineRegistry) Release(roomID domain.RoomID) {
	pr.mu.Lock()
	p, ok := pr.pipelines[roomID]
	delete(pr.pipelines, roomID)
	pr.mu.Unlock()
	if !ok {
		return
	}
	go func() {
		if err := <-p.Release(); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("room", string(roomID)).Msg("could not release pipeline")
			return
		}
		log.Debug().Str("module", "relay").Str("room", string(roomID)).Msg("pipeline released")
	}()
}

// ReleaseAll tears down every pipeline this instance holds. Used on
// shutdown.
func (pr *PipelineRegistry) ReleaseAll() {
	pr.mu.Lock()
	ids := make([]domain.RoomID, 0, len(pr.pipelines))
	for id := range pr.pipelines {
		ids = append(ids, id)
	}
	pr.mu.Unlock()
	for _, id := range ids {
		pr.Release(id)
	}
}
