package signaling

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/domain"
	"github.com/rtchub/rtchub/internal/relay"
)

// Outbound protocol messages. Every broadcast carries the acting
// user's id so recipients can reconcile state idempotently when
// messages from different connections interleave.

type PeerInfo struct {
	UserID   domain.UserID `json:"userId"`
	Nickname string        `json:"nickname"`
}

type peerJoinedMsg struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"userId"`
	Nickname string        `json:"nickname"`
}

type existingPeersMsg struct {
	Type  string     `json:"type"`
	Peers []PeerInfo `json:"peers"`
}

type answerMsg struct {
	Type      string        `json:"type"`
	UserID    domain.UserID `json:"userId"`
	Nickname  string        `json:"nickname"`
	SDPAnswer string        `json:"sdpAnswer"`
}

type candidateMsg struct {
	Type      string             `json:"type"`
	UserID    domain.UserID      `json:"userId"`
	Candidate relay.ICECandidate `json:"candidate"`
}

type peerLeftMsg struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type connectionFailedMsg struct {
	Type string `json:"type"`
}

func newPeerJoined(u domain.UserID, nickname string) peerJoinedMsg {
	return peerJoinedMsg{Type: "peerJoined", UserID: u, Nickname: nickname}
}

func newExistingPeers(peers []PeerInfo) existingPeersMsg {
	return existingPeersMsg{Type: "existingPeers", Peers: peers}
}

func newAnswer(u domain.UserID, nickname, sdpAnswer string) answerMsg {
	return answerMsg{Type: "answer", UserID: u, Nickname: nickname, SDPAnswer: sdpAnswer}
}

func newCandidate(u domain.UserID, c relay.ICECandidate) candidateMsg {
	return candidateMsg{Type: "iceCandidate", UserID: u, Candidate: c}
}

func newPeerLeft(u domain.UserID) peerLeftMsg {
	return peerLeftMsg{Type: "peerLeft", UserID: u}
}

func newConnectionFailed() connectionFailedMsg {
	return connectionFailedMsg{Type: "connectionFailed"}
}

// sendJSON marshals v and hands it to the session's connection. Send
// failures are logged and dropped: a dead or backpressured peer must
// never stall the engine.
func sendJSON(sess *PeerSession, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signaling").Msg("marshal outbound message")
		return
	}
	if err := sess.Send(b); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Str("user", string(sess.UserID)).Msg("drop outbound message")
	}
}
