package pionrelay

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rtchub/rtchub/internal/relay"
)

var (
	errForeignPipeline = errors.New("pipeline was not created by this relay")
	errForeignEndpoint = errors.New("endpoint was not created by this relay")
)

type endpoint struct {
	pc     *webrtc.PeerConnection
	roomID string

	mu          sync.Mutex
	onCandidate func(relay.ICECandidate)
	subscribers []*endpoint
	tracks      []*remoteTrack
}

func (e *endpoint) ProcessOffer(_ context.Context, sdpOffer string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

// GatherCandidates is a no-op: pion starts trickling as soon as the
// local description is set, and candidates surface via OnCandidate.
func (e *endpoint) GatherCandidates(context.Context) error {
	return nil
}

func (e *endpoint) AddCandidate(_ context.Context, cand relay.ICECandidate) error {
	init := webrtc.ICECandidateInit{Candidate: cand.Candidate}
	if cand.SDPMid != "" {
		mid := cand.SDPMid
		init.SDPMid = &mid
	}
	line := cand.LineIndex
	init.SDPMLineIndex = &line
	return e.pc.AddICECandidate(init)
}

func (e *endpoint) OnCandidate(fn func(relay.ICECandidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *endpoint) Release() <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- e.pc.Close()
	}()
	return done
}
