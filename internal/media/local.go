package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

// STUN servers for ICE candidate gathering. No TURN — deployments that need
// relaying should run a remote engine instead.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with Google STUN servers.
func newPeerConnection() (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return webrtc.NewPeerConnection(config)
}

// LocalEngine is an in-process media plane built on pion PeerConnections.
// Each endpoint is a PeerConnection; a pipeline owns the presenter's
// broadcast tracks and fans their RTP out to every viewer endpoint created
// inside it. It lets the coordinator run without external media
// infrastructure.
type LocalEngine struct {
	mu        sync.Mutex
	pipelines map[*localPipeline]struct{}
	closed    bool
}

// NewLocalEngine creates an empty in-process engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{pipelines: make(map[*localPipeline]struct{})}
}

func (e *LocalEngine) CreatePipeline(ctx context.Context) (Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	p := &localPipeline{
		engine: e,
		tracks: make(map[string]*webrtc.TrackLocalStaticRTP),
	}
	e.pipelines[p] = struct{}{}
	return p, nil
}

func (e *LocalEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pipelines := make([]*localPipeline, 0, len(e.pipelines))
	for p := range e.pipelines {
		pipelines = append(pipelines, p)
	}
	e.pipelines = make(map[*localPipeline]struct{})
	e.mu.Unlock()

	var errs []error
	for _, p := range pipelines {
		errs = append(errs, p.release())
	}
	return errors.Join(errs...)
}

func (e *LocalEngine) forget(p *localPipeline) {
	e.mu.Lock()
	delete(e.pipelines, p)
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

type localPipeline struct {
	engine *LocalEngine

	mu        sync.Mutex
	endpoints []*localEndpoint
	tracks    map[string]*webrtc.TrackLocalStaticRTP // keyed by source track ID
	released  bool
}

func (p *localPipeline) CreateEndpoint(ctx context.Context) (Endpoint, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	ep := &localEndpoint{pipeline: p, pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			ep.emit(c.ToJSON())
		}
	})

	// Only the presenter's endpoint ever receives media; its inbound tracks
	// become the pipeline's broadcast tracks.
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.addBroadcastTrack(remote)
	})

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		pc.Close()
		return nil, ErrEngineClosed
	}
	// Viewer endpoints created after the broadcast started pick the
	// existing tracks up here; a shared TrackLocalStaticRTP may be bound
	// to any number of PeerConnections.
	for _, t := range p.tracks {
		if _, err := pc.AddTrack(t); err != nil {
			util.LogWarning("failed to attach broadcast track %s: %v", t.ID(), err)
		}
	}
	p.endpoints = append(p.endpoints, ep)
	p.mu.Unlock()

	return ep, nil
}

func (p *localPipeline) Release() error {
	p.engine.forget(p)
	return p.release()
}

func (p *localPipeline) release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	endpoints := p.endpoints
	p.endpoints = nil
	p.mu.Unlock()

	var errs []error
	for _, ep := range endpoints {
		errs = append(errs, ep.close())
	}
	return errors.Join(errs...)
}

func (p *localPipeline) forget(ep *localEndpoint) {
	p.mu.Lock()
	for i, e := range p.endpoints {
		if e == ep {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

// addBroadcastTrack mirrors an inbound presenter track as a shared local
// track and starts the RTP copy loop. The loop exits when the source track
// ends (presenter endpoint closed).
func (p *localPipeline) addBroadcastTrack(remote *webrtc.TrackRemote) {
	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), remote.StreamID())
	if err != nil {
		util.LogError("failed to mirror track %s: %v", remote.ID(), err)
		return
	}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.tracks[remote.ID()] = local
	p.mu.Unlock()

	go func() {
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				return
			}
			if err := local.WriteRTP(pkt); err != nil {
				return
			}
		}
	}()
}

// ---------------------------------------------------------------------------
// Endpoint
// ---------------------------------------------------------------------------

type localEndpoint struct {
	pipeline *localPipeline
	pc       *webrtc.PeerConnection

	mu        sync.Mutex
	onCand    func(webrtc.ICECandidateInit)
	candQueue []webrtc.ICECandidateInit // discovered before OnCandidate was set
}

func (ep *localEndpoint) ProcessOffer(ctx context.Context, offer string) (string, error) {
	if err := ep.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		return "", fmt.Errorf("SetRemoteDescription: %w", err)
	}

	answer, err := ep.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := ep.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}
	return answer.SDP, nil
}

func (ep *localEndpoint) AddCandidate(ctx context.Context, cand webrtc.ICECandidateInit) error {
	return ep.pc.AddICECandidate(cand)
}

// GatherCandidates is satisfied implicitly: pion starts gathering when the
// local description is applied in ProcessOffer. Candidates discovered before
// OnCandidate was registered are replayed from a small buffer.
func (ep *localEndpoint) GatherCandidates(ctx context.Context) error {
	return nil
}

func (ep *localEndpoint) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	ep.mu.Lock()
	ep.onCand = fn
	queued := ep.candQueue
	ep.candQueue = nil
	ep.mu.Unlock()

	for _, c := range queued {
		fn(c)
	}
}

func (ep *localEndpoint) emit(cand webrtc.ICECandidateInit) {
	ep.mu.Lock()
	fn := ep.onCand
	if fn == nil {
		ep.candQueue = append(ep.candQueue, cand)
	}
	ep.mu.Unlock()

	if fn != nil {
		fn(cand)
	}
}

// Connect is bookkeeping only: media reaches viewer endpoints through the
// pipeline's shared broadcast tracks attached at creation time.
func (ep *localEndpoint) Connect(ctx context.Context, sink Endpoint) error {
	if _, ok := sink.(*localEndpoint); !ok {
		return fmt.Errorf("cannot connect endpoints from different engines")
	}
	return nil
}

func (ep *localEndpoint) Release() error {
	ep.pipeline.forget(ep)
	return ep.close()
}

func (ep *localEndpoint) close() error {
	return ep.pc.Close()
}
