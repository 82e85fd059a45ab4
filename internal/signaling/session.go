// Package signaling drives peer-to-peer negotiation: it consumes the
// inbound protocol, mutates the room and participant registries plus
// the media relay, and fans resulting messages out to the other peers
// of the room on this instance.
package signaling

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/relay"
)

// SignalConn abstracts the peer's message transport. Owned by the
// adapter; the adapter must Close() it.
type SignalConn interface {
	// TrySend enqueues one outbound frame without blocking.
	TrySend(data []byte) error
	Close()
}

// SessionState is a peer session's position in the protocol state
// machine. A connection without a room has no session at all; a
// session exists joined and dies closed. Signaling for a closed
// session is dropped.
type SessionState int32

const (
	StateJoined SessionState = iota
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// PeerSession is one connection's negotiation state: the endpoint this
// peer publishes on and one incoming endpoint per remote peer it
// receives from. Owned exclusively by the instance that accepted the
// connection.
type PeerSession struct {
	UserID   domain.UserID
	Nickname string
	RoomID   domain.RoomID

	conn     SignalConn
	outgoing relay.Endpoint
	state    atomic.Int32

	mu       sync.Mutex
	incoming map[domain.UserID]relay.Endpoint
}

func NewPeerSession(userID domain.UserID, nickname string, roomID domain.RoomID, conn SignalConn, outgoing relay.Endpoint) *PeerSession {
	s := &PeerSession{
		UserID:   userID,
		Nickname: nickname,
		RoomID:   roomID,
		conn:     conn,
		outgoing: outgoing,
		incoming: make(map[domain.UserID]relay.Endpoint),
	}
	s.state.Store(int32(StateJoined))
	return s
}

func (s *PeerSession) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *PeerSession) Send(data []byte) error {
	return s.conn.TrySend(data)
}

func (s *PeerSession) Outgoing() relay.Endpoint {
	return s.outgoing
}

// IncomingFrom returns the endpoint receiving the given peer's media,
// if negotiation has created one.
func (s *PeerSession) IncomingFrom(peer domain.UserID) (relay.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.incoming[peer]
	return ep, ok
}

// storeIncoming records an endpoint for the peer. If a concurrent
// negotiation raced us the first endpoint wins and the loser is
// returned for release.
func (s *PeerSession) storeIncoming(peer domain.UserID, ep relay.Endpoint) (relay.Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.incoming[peer]; ok {
		return existing, false
	}
	s.incoming[peer] = ep
	return ep, true
}

// CancelIncoming drops and releases the endpoint receiving from the
// given peer. No-op when none exists.
func (s *PeerSession) CancelIncoming(peer domain.UserID) {
	s.mu.Lock()
	ep, ok := s.incoming[peer]
	delete(s.incoming, peer)
	s.mu.Unlock()
	if !ok {
		return
	}
	releaseLogged(ep, s.UserID, peer)
}

// ReleaseAll tears down the outgoing endpoint and every incoming one.
// Per-endpoint failures are logged and do not block the others.
func (s *PeerSession) ReleaseAll() {
	s.mu.Lock()
	eps := make(map[domain.UserID]relay.Endpoint, len(s.incoming))
	for peer, ep := range s.incoming {
		eps[peer] = ep
	}
	s.incoming = make(map[domain.UserID]relay.Endpoint)
	s.mu.Unlock()

	for peer, ep := range eps {
		releaseLogged(ep, s.UserID, peer)
	}
	if s.outgoing != nil {
		releaseLogged(s.outgoing, s.UserID, s.UserID)
	}
}

// Close marks the session terminal. The transport stays open so the
// peer can join another room on the same connection.
func (s *PeerSession) Close() {
	s.state.Store(int32(StateClosed))
}

// Disconnect marks the session terminal and severs its transport.
func (s *PeerSession) Disconnect() {
	s.state.Store(int32(StateClosed))
	s.conn.Close()
}

func releaseLogged(ep relay.Endpoint, owner, peer domain.UserID) {
	go func() {
		if err := <-ep.Release(); err != nil {
			log.Warn().Err(err).Str("module", "signaling").Str("user", string(owner)).Str("peer", string(peer)).Msg("could not release endpoint")
		}
	}()
}
