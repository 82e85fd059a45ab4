// Package pionrelay implements the media relay contract in-process on
// pion/webrtc: every endpoint is a PeerConnection attached to its
// room's pipeline, and Connect forwards RTP from one endpoint's remote
// tracks into another.
package pionrelay

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/rtchub/rtchub/internal/relay"
)

type Relay struct {
	config webrtc.Configuration
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

func New(cfg webrtc.Configuration) *Relay {
	return &Relay{config: cfg}
}

func (r *Relay) CreatePipeline(_ context.Context, roomID string) (relay.Pipeline, error) {
	return &pipeline{roomID: roomID}, nil
}

func (r *Relay) CreateEndpoint(_ context.Context, p relay.Pipeline) (relay.Endpoint, error) {
	pl, ok := p.(*pipeline)
	if !ok {
		return nil, errForeignPipeline
	}
	pc, err := webrtc.NewPeerConnection(r.config)
	if err != nil {
		return nil, err
	}
	ep := &endpoint{pc: pc, roomID: pl.roomID}
	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ep.mu.Lock()
		fn := ep.onCandidate
		ep.mu.Unlock()
		if fn != nil {
			init := cand.ToJSON()
			c := relay.ICECandidate{Candidate: init.Candidate}
			if init.SDPMid != nil {
				c.SDPMid = *init.SDPMid
			}
			if init.SDPMLineIndex != nil {
				c.LineIndex = *init.SDPMLineIndex
			}
			fn(c)
		}
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "pionrelay").Str("room", pl.roomID).Str("ice_state", s.String()).Msg("ICE state")
	})
	// pion keeps a single OnTrack handler, so the fan-out to whatever
	// endpoints subscribe lives on this side of it.
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		ep.onRemoteTrack(remote)
	})
	pl.track(ep)
	return ep, nil
}

// Connect subscribes dst to every remote track arriving on src, the
// ones already received included. Each copy loop ends when src's
// PeerConnection closes.
func (r *Relay) Connect(_ context.Context, src, dst relay.Endpoint) error {
	se, ok := src.(*endpoint)
	if !ok {
		return errForeignEndpoint
	}
	de, ok := dst.(*endpoint)
	if !ok {
		return errForeignEndpoint
	}
	se.subscribe(de)
	return nil
}

// remoteTrack is one inbound track plus the local tracks it is
// forwarded to. A remote track has a single reader, so one pump
// goroutine copies each packet to every output.
type remoteTrack struct {
	remote *webrtc.TrackRemote

	mu      sync.Mutex
	outputs []*webrtc.TrackLocalStaticRTP
}

func (t *remoteTrack) addOutput(local *webrtc.TrackLocalStaticRTP) {
	t.mu.Lock()
	t.outputs = append(t.outputs, local)
	t.mu.Unlock()
}

func (t *remoteTrack) pump() {
	for {
		pkt, _, err := t.remote.ReadRTP()
		if err != nil {
			return
		}
		t.mu.Lock()
		outs := make([]*webrtc.TrackLocalStaticRTP, len(t.outputs))
		copy(outs, t.outputs)
		t.mu.Unlock()
		for _, out := range outs {
			// A closed subscriber just stops receiving; the others
			// keep the packet flow.
			_ = out.WriteRTP(pkt)
		}
	}
}

// onRemoteTrack registers a new inbound track, wires it to the current
// subscribers and starts its pump.
func (e *endpoint) onRemoteTrack(remote *webrtc.TrackRemote) {
	rt := &remoteTrack{remote: remote}
	e.mu.Lock()
	e.tracks = append(e.tracks, rt)
	subs := make([]*endpoint, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	for _, sub := range subs {
		attachTrack(rt, sub)
	}
	go rt.pump()
}

// subscribe adds dst as a receiver of e's media and replays the tracks
// that arrived before the subscription. Subscribing twice is a no-op.
func (e *endpoint) subscribe(dst *endpoint) {
	e.mu.Lock()
	for _, sub := range e.subscribers {
		if sub == dst {
			e.mu.Unlock()
			return
		}
	}
	e.subscribers = append(e.subscribers, dst)
	tracks := make([]*remoteTrack, len(e.tracks))
	copy(tracks, e.tracks)
	e.mu.Unlock()

	for _, rt := range tracks {
		attachTrack(rt, dst)
	}
}

func attachTrack(rt *remoteTrack, dst *endpoint) {
	remote := rt.remote
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		log.Error().Err(err).Str("module", "pionrelay").Msg("could not create forwarding track")
		return
	}
	if _, err := dst.pc.AddTrack(local); err != nil {
		log.Error().Err(err).Str("module", "pionrelay").Msg("could not attach forwarding track")
		return
	}
	rt.addOutput(local)
}

// pipeline groups the endpoints of one room so releasing the pipeline
// closes whatever endpoints are still up.
type pipeline struct {
	roomID    string
	mu        sync.Mutex
	endpoints []*endpoint
}

func (p *pipeline) track(ep *endpoint) {
	p.mu.Lock()
	p.endpoints = append(p.endpoints, ep)
	p.mu.Unlock()
}

func (p *pipeline) Release() <-chan error {
	done := make(chan error, 1)
	go func() {
		p.mu.Lock()
		eps := p.endpoints
		p.endpoints = nil
		p.mu.Unlock()
		var firstErr error
		for _, ep := range eps {
			if err := <-ep.Release(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		done <- firstErr
	}()
	return done
}
