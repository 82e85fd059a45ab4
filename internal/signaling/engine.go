package signaling

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/metrics"
	"github.com/rtchub/rtchub/internal/participant"
	"github.com/rtchub/rtchub/internal/relay"
	"github.com/rtchub/rtchub/internal/room"
)

// Engine is the signaling protocol state machine. Handlers may be
// called from many connection goroutines at once; the registries
// serialize their own mutations and no registry lock is ever held
// across a media relay call.
type Engine struct {
	rooms     *room.Service
	sessions  *participant.Registry[*PeerSession]
	relay     relay.Relay
	pipelines *relay.PipelineRegistry
}

func NewEngine(rooms *room.Service, sessions *participant.Registry[*PeerSession], r relay.Relay, pipelines *relay.PipelineRegistry) *Engine {
	return &Engine{rooms: rooms, sessions: sessions, relay: r, pipelines: pipelines}
}

func (e *Engine) Sessions() *participant.Registry[*PeerSession] {
	return e.sessions
}

// Join admits a peer into a room: activates the room, allocates the
// pipeline lazily, creates the peer's outgoing endpoint, registers the
// session, bumps occupancy and notifies everyone involved.
func (e *Engine) Join(ctx context.Context, conn SignalConn, roomID domain.RoomID, userID domain.UserID, nickname string) (*PeerSession, error) {
	r, err := e.rooms.Find(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if fits, err := e.rooms.CheckCapacity(ctx, roomID); err != nil {
		return nil, err
	} else if !fits {
		return nil, domain.ErrCapacityExceeded
	}

	pipeline, err := e.pipelines.GetOrCreate(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := e.rooms.Activate(ctx, r); err != nil {
		return nil, err
	}

	outgoing, err := e.relay.CreateEndpoint(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	sess := NewPeerSession(userID, nickname, roomID, conn, outgoing)
	outgoing.OnCandidate(func(c relay.ICECandidate) {
		sendJSON(sess, newCandidate(userID, c))
	})

	// A duplicate join displaces the old session in the same atomic
	// step that inserts the new one; its resources are on us to
	// reclaim.
	old, hadOld := e.sessions.Add(roomID, userID, sess)
	if hadOld {
		old.ReleaseAll()
		old.Disconnect()
	}

	// A replaced session keeps its occupancy slot, so only a genuinely
	// new participant bumps the counter.
	occ := r.Occupancy
	if !hadOld {
		occ, err = e.rooms.PlusOccupancy(ctx, roomID)
		if err != nil {
			log.Error().Err(err).Str("module", "signaling").Str("room", string(roomID)).Msg("could not bump occupancy")
		}
	}

	others := e.sessions.GetAll(roomID)
	peers := make([]PeerInfo, 0, len(others))
	joined := newPeerJoined(userID, nickname)
	for id, other := range others {
		if id == userID {
			continue
		}
		peers = append(peers, PeerInfo{UserID: other.UserID, Nickname: other.Nickname})
		sendJSON(other, joined)
	}
	sendJSON(sess, newExistingPeers(peers))

	metrics.JoinsTotal.Inc()
	metrics.Participants.Inc()
	log.Info().Str("module", "signaling").Str("room", string(roomID)).Str("user", string(userID)).Int("occupancy", occ).Msg("peer joined")
	return sess, nil
}

// Negotiate resolves the endpoint carrying senderID's media to the
// requesting session, processes the offer on it and replies with the
// answer. Loopback (sender == self) uses the peer's own outgoing
// endpoint and never creates an incoming one. Any failure becomes a
// connectionFailed message to the requester only.
func (e *Engine) Negotiate(ctx context.Context, sess *PeerSession, senderID domain.UserID, sdpOffer string) {
	if sess.State() == StateClosed {
		log.Debug().Str("module", "signaling").Str("user", string(sess.UserID)).Msg("negotiate on closed session, ignored")
		return
	}
	metrics.NegotiationsTotal.Inc()

	ep, nickname, err := e.endpointFor(ctx, sess, senderID)
	if err != nil {
		e.failNegotiation(sess, senderID, err)
		return
	}
	answer, err := ep.ProcessOffer(ctx, sdpOffer)
	if err != nil {
		e.failNegotiation(sess, senderID, err)
		return
	}
	sendJSON(sess, newAnswer(senderID, nickname, answer))
	if err := ep.GatherCandidates(ctx); err != nil {
		log.Error().Err(err).Str("module", "signaling").Str("user", string(sess.UserID)).Str("peer", string(senderID)).Msg("gather candidates")
	}
}

func (e *Engine) failNegotiation(sess *PeerSession, senderID domain.UserID, err error) {
	metrics.NegotiationFailuresTotal.Inc()
	log.Error().Err(err).Str("module", "signaling").Str("user", string(sess.UserID)).Str("peer", string(senderID)).Msg("negotiation failed")
	sendJSON(sess, newConnectionFailed())
}

// endpointFor returns the endpoint on which sess receives senderID's
// media, creating and connecting it on first use.
func (e *Engine) endpointFor(ctx context.Context, sess *PeerSession, senderID domain.UserID) (relay.Endpoint, string, error) {
	if senderID == sess.UserID {
		return sess.Outgoing(), sess.Nickname, nil
	}

	sender, ok := e.sessions.Get(sess.RoomID, senderID)
	if !ok {
		return nil, "", domain.ErrPeerNotFound
	}
	if ep, ok := sess.IncomingFrom(senderID); ok {
		return ep, sender.Nickname, nil
	}

	pipeline, ok := e.pipelines.Get(sess.RoomID)
	if !ok {
		return nil, "", domain.ErrRoomNotFound
	}
	ep, err := e.relay.CreateEndpoint(ctx, pipeline)
	if err != nil {
		return nil, "", err
	}
	ep.OnCandidate(func(c relay.ICECandidate) {
		sendJSON(sess, newCandidate(senderID, c))
	})
	if err := e.relay.Connect(ctx, sender.Outgoing(), ep); err != nil {
		releaseLogged(ep, sess.UserID, senderID)
		return nil, "", err
	}

	stored, fresh := sess.storeIncoming(senderID, ep)
	if !fresh {
		// Lost a race with another negotiation for the same sender.
		releaseLogged(ep, sess.UserID, senderID)
	}
	return stored, sender.Nickname, nil
}

// AddCandidate routes a trickled candidate to the right endpoint: the
// peer's own outgoing one, or the incoming endpoint keyed by the
// target. A candidate arriving before negotiation created the endpoint
// is silently ignored.
func (e *Engine) AddCandidate(ctx context.Context, sess *PeerSession, target domain.UserID, cand relay.ICECandidate) {
	if sess.State() == StateClosed {
		log.Debug().Str("module", "signaling").Str("user", string(sess.UserID)).Msg("candidate on closed session, ignored")
		return
	}
	var ep relay.Endpoint
	if target == sess.UserID {
		ep = sess.Outgoing()
	} else {
		incoming, ok := sess.IncomingFrom(target)
		if !ok {
			log.Debug().Str("module", "signaling").Str("user", string(sess.UserID)).Str("peer", string(target)).Msg("candidate before negotiation, ignored")
			return
		}
		ep = incoming
	}
	if err := ep.AddCandidate(ctx, cand); err != nil {
		log.Error().Err(err).Str("module", "signaling").Str("user", string(sess.UserID)).Str("peer", string(target)).Msg("add candidate")
	}
}

// Leave removes the session, releases its endpoints best-effort,
// cancels the mirrored incoming endpoints other peers hold for it,
// broadcasts peerLeft and lowers occupancy. Safe to call on
// disconnect even if the session was already replaced by a reconnect.
func (e *Engine) Leave(ctx context.Context, sess *PeerSession) {
	roomID, userID := sess.RoomID, sess.UserID

	current, ok := e.sessions.Get(roomID, userID)
	if !ok || current != sess {
		// Replaced by a newer session; reclaim only our own resources.
		sess.ReleaseAll()
		sess.Close()
		return
	}
	e.sessions.Remove(roomID, userID)
	sess.ReleaseAll()

	left := newPeerLeft(userID)
	for _, other := range e.sessions.GetAll(roomID) {
		other.CancelIncoming(userID)
		sendJSON(other, left)
	}

	occ, err := e.rooms.MinusOccupancy(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "signaling").Str("room", string(roomID)).Msg("could not lower occupancy")
	}
	sess.Close()

	metrics.LeavesTotal.Inc()
	metrics.Participants.Dec()
	log.Info().Str("module", "signaling").Str("room", string(roomID)).Str("user", string(userID)).Int("occupancy", occ).Msg("peer left")
}

// ReleaseLocal tears down this instance's resources for a room: every
// local session and the media pipeline. The registry record is left
// alone.
func (e *Engine) ReleaseLocal(roomID domain.RoomID) {
	for _, sess := range e.sessions.GetAll(roomID) {
		sess.ReleaseAll()
		sess.Disconnect()
	}
	e.sessions.RemoveRoom(roomID)
	e.pipelines.Release(roomID)
}

// CloseRoom hard-deletes a room: local sessions and pipeline first,
// then the persisted record. Idempotent, like the delete underneath.
func (e *Engine) CloseRoom(ctx context.Context, roomID domain.RoomID) error {
	e.ReleaseLocal(roomID)
	return e.rooms.Delete(ctx, roomID)
}
