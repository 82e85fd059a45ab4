// Package relay defines the contract with the external media engine:
// one pipeline per room, one endpoint per publish/subscribe point. The
// signaling core depends only on this contract, never on how the
// engine negotiates or carries media.
package relay

import "context"

// ICECandidate is a proposed network path for a peer connection,
// shaped the way it travels on the signaling wire.
type ICECandidate struct {
	Candidate string `json:"sdp"`
	SDPMid    string `json:"mid"`
	LineIndex uint16 `json:"lineIndex"`
}

// Endpoint is a per-peer media attachment point inside a pipeline.
type Endpoint interface {
	// ProcessOffer applies a remote SDP offer and returns the answer.
	ProcessOffer(ctx context.Context, sdpOffer string) (string, error)

	// GatherCandidates starts ICE gathering. Found candidates arrive
	// through the OnCandidate callback.
	GatherCandidates(ctx context.Context) error

	// AddCandidate feeds a remote candidate into the endpoint.
	AddCandidate(ctx context.Context, cand ICECandidate) error

	// OnCandidate registers the callback invoked for every local
	// candidate the engine discovers. Must be set before negotiation.
	OnCandidate(fn func(ICECandidate))

	// Release tears the endpoint down. It never blocks: completion or
	// failure is reported on the returned channel, which the caller
	// may await or discard.
	Release() <-chan error
}

// Pipeline is a room-scoped media processing context.
type Pipeline interface {
	Release() <-chan error
}

type Relay interface {
	CreatePipeline(ctx context.Context, roomID string) (Pipeline, error)
	CreateEndpoint(ctx context.Context, p Pipeline) (Endpoint, error)

	// Connect wires src's outgoing media into dst.
	Connect(ctx context.Context, src, dst Endpoint) error
}
