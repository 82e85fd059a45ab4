package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Pipeline releases run on background goroutines.
const (
	waitFor = time.Second
	tick    = 10 * time.Millisecond
)

type stubPipeline struct {
	mu       sync.Mutex
	released bool
}

func (p *stubPipeline) Release() <-chan error {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
	done := make(chan error, 1)
	done <- nil
	return done
}

func (p *stubPipeline) isReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

type stubRelay struct {
	mu      sync.Mutex
	created []*stubPipeline
}

func (r *stubRelay) CreatePipeline(_ context.Context, _ string) (Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &stubPipeline{}
	r.created = append(r.created, p)
	return p, nil
}

func (r *stubRelay) CreateEndpoint(_ context.Context, _ Pipeline) (Endpoint, error) {
	return nil, nil
}

func (r *stubRelay) Connect(_ context.Context, _, _ Endpoint) error { return nil }

func TestGetOrCreateCachesPerRoom(t *testing.T) {
	ctx := context.Background()
	sr := &stubRelay{}
	pr := NewPipelineRegistry(sr)

	first, err := pr.GetOrCreate(ctx, "room1")
	require.NoError(t, err)
	again, err := pr.GetOrCreate(ctx, "room1")
	require.NoError(t, err)
	require.Same(t, first, again)

	other, err := pr.GetOrCreate(ctx, "room2")
	require.NoError(t, err)
	require.NotSame(t, first, other)
	require.Len(t, sr.created, 2)
}

func TestReleaseDropsAndFires(t *testing.T) {
	ctx := context.Background()
	sr := &stubRelay{}
	pr := NewPipelineRegistry(sr)

	p, err := pr.GetOrCreate(ctx, "room1")
	require.NoError(t, err)

	pr.Release("room1")
	_, ok := pr.Get("room1")
	require.False(t, ok)
	require.Eventually(t, p.(*stubPipeline).isReleased, waitFor, tick)

	// Releasing an unknown room is a no-op.
	pr.Release("no-such-room")
}

func TestReleaseAllSweepsEveryPipeline(t *testing.T) {
	ctx := context.Background()
	sr := &stubRelay{}
	pr := NewPipelineRegistry(sr)

	_, err := pr.GetOrCreate(ctx, "room1")
	require.NoError(t, err)
	_, err = pr.GetOrCreate(ctx, "room2")
	require.NoError(t, err)

	pr.ReleaseAll()

	_, ok := pr.Get("room1")
	require.False(t, ok)
	_, ok = pr.Get("room2")
	require.False(t, ok)
	for _, p := range sr.created {
		require.Eventually(t, p.isReleased, waitFor, tick)
	}
}
