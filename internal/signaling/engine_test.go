package signaling_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/participant"
	"github.com/rtchub/rtchub/internal/registry"
	"github.com/rtchub/rtchub/internal/relay"
	"github.com/rtchub/rtchub/internal/room"
	"github.com/rtchub/rtchub/internal/signaling"
)

// Endpoint releases run on background goroutines.
const (
	waitFor = time.Second
	tick    = 10 * time.Millisecond
)

type fakeEndpoint struct {
	mu         sync.Mutex
	released   bool
	candidates []relay.ICECandidate
	onCand     func(relay.ICECandidate)
	offerErr   error
}

func (f *fakeEndpoint) ProcessOffer(_ context.Context, _ string) (string, error) {
	if f.offerErr != nil {
		return "", f.offerErr
	}
	return "answer-sdp", nil
}

func (f *fakeEndpoint) GatherCandidates(_ context.Context) error { return nil }

func (f *fakeEndpoint) AddCandidate(_ context.Context, c relay.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeEndpoint) OnCandidate(fn func(relay.ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCand = fn
}

func (f *fakeEndpoint) Release() <-chan error {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
	done := make(chan error, 1)
	done <- nil
	return done
}

func (f *fakeEndpoint) isReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fakeEndpoint) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

type fakePipeline struct {
	mu       sync.Mutex
	released bool
}

func (f *fakePipeline) Release() <-chan error {
	f.mu.Lock()
	f.released = true
	f.mu.Unlock()
	done := make(chan error, 1)
	done <- nil
	return done
}

type connection struct {
	src, dst relay.Endpoint
}

type fakeRelay struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	endpoints []*fakeEndpoint
	connects  []connection
	nextErr   error
}

func (f *fakeRelay) CreatePipeline(_ context.Context, _ string) (relay.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePipeline{}
	f.pipelines = append(f.pipelines, p)
	return p, nil
}

func (f *fakeRelay) CreateEndpoint(_ context.Context, _ relay.Pipeline) (relay.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep := &fakeEndpoint{offerErr: f.nextErr}
	f.endpoints = append(f.endpoints, ep)
	return ep, nil
}

func (f *fakeRelay) Connect(_ context.Context, src, dst relay.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, connection{src: src, dst: dst})
	return nil
}

func (f *fakeRelay) endpointCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.endpoints)
}

func (f *fakeRelay) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) TrySend(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// types lists the "type" field of every frame sent so far.
func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, frame := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &env); err == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (f *fakeConn) lastOfType(typ string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		var m map[string]any
		if err := json.Unmarshal(f.frames[i], &m); err != nil {
			continue
		}
		if m["type"] == typ {
			return m, true
		}
	}
	return nil, false
}

type engineFixture struct {
	engine *signaling.Engine
	rooms  *room.Service
	relay  *fakeRelay
	room   *domain.Room
}

func newEngineFixture(t *testing.T, maxOccupancy int) *engineFixture {
	t.Helper()
	rooms := room.NewService(registry.NewMemory(), 8)
	fr := &fakeRelay{}
	engine := signaling.NewEngine(
		rooms,
		participant.NewRegistry[*signaling.PeerSession](),
		fr,
		relay.NewPipelineRegistry(fr),
	)
	r, err := rooms.Create(context.Background(), room.CreateParams{
		Name: "testroom", Creator: "alice", MaxOccupancy: maxOccupancy,
	})
	require.NoError(t, err)
	return &engineFixture{engine: engine, rooms: rooms, relay: fr, room: r}
}

func (fx *engineFixture) join(t *testing.T, user string) (*signaling.PeerSession, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess, err := fx.engine.Join(context.Background(), conn, fx.room.ID, domain.UserID(user), user)
	require.NoError(t, err)
	return sess, conn
}

func TestJoinActivatesRoom(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	_, connA := fx.join(t, "A")

	got, err := fx.rooms.Find(ctx, fx.room.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RoomActive, got.State)
	require.Equal(t, 1, got.Occupancy)

	// First joiner sees an empty peer list.
	peers, ok := connA.lastOfType("existingPeers")
	require.True(t, ok)
	require.Empty(t, peers["peers"])

	_, connB := fx.join(t, "B")

	got, err = fx.rooms.Find(ctx, fx.room.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Occupancy)

	// The second joiner sees A; A is told about B.
	peers, ok = connB.lastOfType("existingPeers")
	require.True(t, ok)
	require.Len(t, peers["peers"], 1)
	joined, ok := connA.lastOfType("peerJoined")
	require.True(t, ok)
	require.Equal(t, "B", joined["userId"])
}

func TestJoinFullRoomRejected(t *testing.T) {
	fx := newEngineFixture(t, 1)
	fx.join(t, "A")

	_, err := fx.engine.Join(context.Background(), &fakeConn{}, fx.room.ID, "B", "B")
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestJoinUnknownRoom(t *testing.T) {
	fx := newEngineFixture(t, 4)

	_, err := fx.engine.Join(context.Background(), &fakeConn{}, "no-such-room", "A", "A")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestNegotiateLoopback(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	sessA, connA := fx.join(t, "A")
	endpointsAfterJoin := fx.relay.endpointCount()

	fx.engine.Negotiate(ctx, sessA, "A", "offer-sdp")

	answer, ok := connA.lastOfType("answer")
	require.True(t, ok)
	require.Equal(t, "A", answer["userId"])
	require.Equal(t, "answer-sdp", answer["sdpAnswer"])

	// Loopback rides the outgoing endpoint, no incoming one appears.
	require.Equal(t, endpointsAfterJoin, fx.relay.endpointCount())
	_, found := sessA.IncomingFrom("A")
	require.False(t, found)
}

func TestNegotiateRemotePeer(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	fx.join(t, "A")
	sessB, connB := fx.join(t, "B")
	before := fx.relay.endpointCount()

	fx.engine.Negotiate(ctx, sessB, "A", "offer-sdp")

	// Exactly one incoming endpoint, keyed by the sender.
	require.Equal(t, before+1, fx.relay.endpointCount())
	require.Equal(t, 1, fx.relay.connectCount())
	incoming, found := sessB.IncomingFrom("A")
	require.True(t, found)
	require.NotNil(t, incoming)

	answer, ok := connB.lastOfType("answer")
	require.True(t, ok)
	require.Equal(t, "A", answer["userId"])

	// Renegotiating reuses the endpoint.
	fx.engine.Negotiate(ctx, sessB, "A", "offer-sdp-2")
	require.Equal(t, before+1, fx.relay.endpointCount())
	require.Equal(t, 1, fx.relay.connectCount())
}

func TestNegotiateUnknownSender(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	sessA, connA := fx.join(t, "A")
	fx.engine.Negotiate(ctx, sessA, "nobody", "offer-sdp")

	_, failed := connA.lastOfType("connectionFailed")
	require.True(t, failed)
	_, answered := connA.lastOfType("answer")
	require.False(t, answered)
}

func TestNegotiateFailureIsolated(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	_, connA := fx.join(t, "A")
	fx.relay.nextErr = errors.New("media engine down")
	sessB, connB := fx.join(t, "B")

	fx.engine.Negotiate(ctx, sessB, "B", "offer-sdp")

	// Only the requester hears about the failure.
	_, failed := connB.lastOfType("connectionFailed")
	require.True(t, failed)
	_, leaked := connA.lastOfType("connectionFailed")
	require.False(t, leaked)
}

func TestCandidateRouting(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	fx.join(t, "A")
	sessB, _ := fx.join(t, "B")
	cand := relay.ICECandidate{Candidate: "cand", SDPMid: "0", LineIndex: 0}

	// Before negotiation there is no incoming endpoint for A; the
	// candidate is dropped without error.
	fx.engine.AddCandidate(ctx, sessB, "A", cand)

	// Own id routes to the outgoing endpoint.
	fx.engine.AddCandidate(ctx, sessB, "B", cand)
	outgoing := sessB.Outgoing().(*fakeEndpoint)
	require.Equal(t, 1, outgoing.candidateCount())

	// After negotiation the incoming endpoint receives it.
	fx.engine.Negotiate(ctx, sessB, "A", "offer-sdp")
	fx.engine.AddCandidate(ctx, sessB, "A", cand)
	incoming, found := sessB.IncomingFrom("A")
	require.True(t, found)
	require.Equal(t, 1, incoming.(*fakeEndpoint).candidateCount())
}

func TestLeaveCleansUp(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	sessA, _ := fx.join(t, "A")
	sessB, connB := fx.join(t, "B")

	// B receives from A, then A leaves.
	fx.engine.Negotiate(ctx, sessB, "A", "offer-sdp")
	incoming, found := sessB.IncomingFrom("A")
	require.True(t, found)

	fx.engine.Leave(ctx, sessA)

	left, ok := connB.lastOfType("peerLeft")
	require.True(t, ok)
	require.Equal(t, "A", left["userId"])

	// B's mirror of A is gone and released.
	_, found = sessB.IncomingFrom("A")
	require.False(t, found)
	require.Eventually(t, incoming.(*fakeEndpoint).isReleased, waitFor, tick)

	got, err := fx.rooms.Find(ctx, fx.room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Occupancy)
	require.Equal(t, 1, fx.engine.Sessions().Count(fx.room.ID))
}

func TestJoinThenLeaveLeavesNoResidual(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	sessA, _ := fx.join(t, "A")
	outgoing := sessA.Outgoing().(*fakeEndpoint)
	fx.engine.Leave(ctx, sessA)

	require.Equal(t, 0, fx.engine.Sessions().Count(fx.room.ID))
	require.Eventually(t, outgoing.isReleased, waitFor, tick)

	got, err := fx.rooms.Find(ctx, fx.room.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.Occupancy)
}

func TestDuplicateJoinReplacesSession(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	first, _ := fx.join(t, "A")
	firstOutgoing := first.Outgoing().(*fakeEndpoint)
	second, _ := fx.join(t, "A")

	current, ok := fx.engine.Sessions().Get(fx.room.ID, "A")
	require.True(t, ok)
	require.Same(t, second, current)
	require.Eventually(t, firstOutgoing.isReleased, waitFor, tick)

	// Occupancy counts the participant once.
	got, err := fx.rooms.Find(ctx, fx.room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Occupancy)

	// The stale session's leave does not evict the replacement.
	fx.engine.Leave(ctx, first)
	_, ok = fx.engine.Sessions().Get(fx.room.ID, "A")
	require.True(t, ok)
	got, err = fx.rooms.Find(ctx, fx.room.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Occupancy)
}

func TestClosedSessionSignalingIgnored(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	sessA, connA := fx.join(t, "A")
	require.Equal(t, signaling.StateJoined, sessA.State())
	fx.engine.Leave(ctx, sessA)
	require.Equal(t, signaling.StateClosed, sessA.State())

	endpoints := fx.relay.endpointCount()
	framesBefore := len(connA.types())

	// Late messages from a session that already left fall on the
	// floor: no answer, no failure, no endpoint churn.
	fx.engine.Negotiate(ctx, sessA, "A", "offer-sdp")
	fx.engine.AddCandidate(ctx, sessA, "A", relay.ICECandidate{Candidate: "cand"})

	require.Equal(t, endpoints, fx.relay.endpointCount())
	require.Len(t, connA.types(), framesBefore)
	require.Equal(t, 0, sessA.Outgoing().(*fakeEndpoint).candidateCount())
}

func TestCloseRoom(t *testing.T) {
	fx := newEngineFixture(t, 4)
	ctx := context.Background()

	_, connA := fx.join(t, "A")

	require.NoError(t, fx.engine.CloseRoom(ctx, fx.room.ID))

	require.True(t, connA.isClosed())
	require.Equal(t, 0, fx.engine.Sessions().Count(fx.room.ID))
	_, err := fx.rooms.Find(ctx, fx.room.ID)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)

	// Closing again is harmless.
	require.NoError(t, fx.engine.CloseRoom(ctx, fx.room.ID))
}
