package signal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/media"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/registry"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

// State is a session's position in the setup/teardown protocol.
type State int32

const (
	StateIdle State = iota
	StateAwaitingPipeline
	StateAwaitingEndpoint
	StateNegotiating
	StateActive
	StateStopped // terminal and absorbing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPipeline:
		return "awaiting-pipeline"
	case StateAwaitingEndpoint:
		return "awaiting-endpoint"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type sessionRole int

const (
	roleNone sessionRole = iota
	rolePresenter
	roleViewer
)

// Session interprets the signaling messages of one connection and drives the
// registry and the media engine through the setup/teardown protocol.
//
// The read loop dispatches messages in arrival order; presenter/viewer setup
// chains run in their own goroutine because they span several engine round
// trips. Stop can therefore land at any suspension point of an in-flight
// chain: the chain re-validates session and registry state after every await
// and releases whatever it had partially created instead of completing setup
// on a stopped session.
type Session struct {
	id          string
	defaultRoom string // roomId from the connection URL, if any

	transport Transport
	reg       *registry.Registry
	engineRef *media.Ref
	queue     *CandidateQueue

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	mu         sync.Mutex
	role       sessionRole
	roomID     string
	endpoint   media.Endpoint // published after the queued candidates are flushed
	engineHeld bool           // this session holds one engine reference
}

// NewSession creates an Idle session for one signaling connection.
func NewSession(ctx context.Context, transport Transport, reg *registry.Registry, engineRef *media.Ref, queue *CandidateQueue, defaultRoom string) *Session {
	sCtx, sCancel := context.WithCancel(ctx)
	return &Session{
		id:          uuid.NewString(),
		defaultRoom: defaultRoom,
		transport:   transport,
		reg:         reg,
		engineRef:   engineRef,
		queue:       queue,
		ctx:         sCtx,
		cancel:      sCancel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current state.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) stopped() bool { return s.State() == StateStopped }

// Handle processes one inbound signaling message. Called from the
// connection's read loop, in arrival order.
func (s *Session) Handle(msg Message) {
	switch msg.ID {
	case MsgPresenter:
		go s.startPresenter(s.room(msg), msg.SDPOffer)
	case MsgViewer:
		go s.startViewer(s.room(msg), msg.SDPOffer)
	case MsgOnIceCandidate:
		s.handleCandidate(msg)
	case MsgStop:
		s.Stop()
	default:
		// Protocol error: report it, connection stays usable.
		s.send(Message{ID: MsgError, Message: fmt.Sprintf("invalid message %q", msg.ID)})
	}
}

// room resolves the message's target room, falling back to the roomId the
// connection was opened with.
func (s *Session) room(msg Message) string {
	if msg.RoomID != "" {
		return msg.RoomID
	}
	return s.defaultRoom
}

// ---------------------------------------------------------------------------
// Presenter setup chain
// ---------------------------------------------------------------------------

func (s *Session) startPresenter(roomID, offer string) {
	if roomID == "" {
		s.send(Message{ID: MsgPresenterResponse, Response: ResponseRejected, Message: "missing roomId"})
		return
	}
	if !s.begin(rolePresenter, roomID, StateAwaitingPipeline) {
		s.send(Message{ID: MsgPresenterResponse, Response: ResponseRejected, Message: "session already in use"})
		return
	}

	// The one compare-and-set that keeps two presenters out of one room.
	if err := s.reg.TrySetPresenter(roomID, s.id); err != nil {
		s.reject(MsgPresenterResponse, err.Error())
		return
	}
	if s.stopped() {
		// Stop raced with the claim; tear the freshly claimed room down.
		s.teardown()
		s.reject(MsgPresenterResponse, "session stopped")
		return
	}

	engine, err := s.engineRef.Acquire(s.ctx)
	if err != nil {
		s.reject(MsgPresenterResponse, err.Error())
		return
	}
	if !s.holdEngine() {
		// Stopped while connecting: the teardown that ran could not see
		// this reference yet, so give it back here.
		s.engineRef.Release()
		s.teardown()
		s.reject(MsgPresenterResponse, "session stopped")
		return
	}

	pipeline, err := engine.CreatePipeline(s.ctx)
	if err != nil {
		s.reject(MsgPresenterResponse, err.Error())
		return
	}
	if !s.reg.SetPipeline(roomID, s.id, pipeline) {
		// Room vanished or presenter changed during the await: the pipeline
		// was never handed over, release it here.
		releasePipeline(pipeline)
		s.reject(MsgPresenterResponse, "session stopped")
		return
	}
	s.state.CompareAndSwap(int32(StateAwaitingPipeline), int32(StateAwaitingEndpoint))

	endpoint, err := pipeline.CreateEndpoint(s.ctx)
	if err != nil {
		s.reject(MsgPresenterResponse, err.Error())
		return
	}
	s.state.CompareAndSwap(int32(StateAwaitingEndpoint), int32(StateNegotiating))

	s.forwardDiscovered(endpoint)

	answer, err := endpoint.ProcessOffer(s.ctx, offer)
	if err != nil {
		releaseEndpoint(endpoint)
		s.reject(MsgPresenterResponse, err.Error())
		return
	}
	if !s.reg.SetPresenterEndpoint(roomID, s.id, endpoint) {
		releaseEndpoint(endpoint)
		s.reject(MsgPresenterResponse, "session stopped")
		return
	}

	s.flushAndPublish(endpoint)

	if err := endpoint.GatherCandidates(s.ctx); err != nil {
		s.reject(MsgPresenterResponse, err.Error())
		return
	}

	if !s.state.CompareAndSwap(int32(StateNegotiating), int32(StateActive)) {
		s.reject(MsgPresenterResponse, "session stopped")
		return
	}

	util.LogInfo("session %s presenting in room %q", s.id, roomID)
	s.send(Message{ID: MsgPresenterResponse, Response: ResponseAccepted, SDPAnswer: answer})
}

// ---------------------------------------------------------------------------
// Viewer setup chain
// ---------------------------------------------------------------------------

func (s *Session) startViewer(roomID, offer string) {
	if roomID == "" {
		s.send(Message{ID: MsgViewerResponse, Response: ResponseRejected, Message: "missing roomId"})
		return
	}
	if !s.begin(roleViewer, roomID, StateAwaitingEndpoint) {
		s.send(Message{ID: MsgViewerResponse, Response: ResponseRejected, Message: "session already in use"})
		return
	}

	pipeline, presenterEP, ok := s.reg.ActivePresenter(roomID)
	if !ok {
		s.reject(MsgViewerResponse, registry.ErrNoPresenter.Error())
		return
	}

	endpoint, err := pipeline.CreateEndpoint(s.ctx)
	if err != nil {
		s.reject(MsgViewerResponse, err.Error())
		return
	}

	// Registering hands endpoint ownership to the registry: from here on a
	// failed step cleans up through teardown (RemoveViewer + release).
	if err := s.reg.AddViewer(roomID, s.id, endpoint, s); err != nil {
		releaseEndpoint(endpoint)
		s.reject(MsgViewerResponse, err.Error())
		return
	}
	if s.stopped() {
		s.teardown()
		s.reject(MsgViewerResponse, "session stopped")
		return
	}
	s.state.CompareAndSwap(int32(StateAwaitingEndpoint), int32(StateNegotiating))

	s.forwardDiscovered(endpoint)

	answer, err := endpoint.ProcessOffer(s.ctx, offer)
	if err != nil {
		s.reject(MsgViewerResponse, err.Error())
		return
	}

	if err := presenterEP.Connect(s.ctx, endpoint); err != nil {
		s.reject(MsgViewerResponse, err.Error())
		return
	}

	// The presenter may have left during the awaits; its teardown already
	// detached this viewer, so finishing setup would answer a dead room.
	if _, _, ok := s.reg.ActivePresenter(roomID); !ok {
		s.reject(MsgViewerResponse, registry.ErrNoPresenter.Error())
		return
	}

	s.flushAndPublish(endpoint)

	if err := endpoint.GatherCandidates(s.ctx); err != nil {
		s.reject(MsgViewerResponse, err.Error())
		return
	}

	if !s.state.CompareAndSwap(int32(StateNegotiating), int32(StateActive)) {
		s.reject(MsgViewerResponse, "session stopped")
		return
	}

	util.LogInfo("session %s viewing room %q", s.id, roomID)
	s.send(Message{ID: MsgViewerResponse, Response: ResponseAccepted, SDPAnswer: answer})
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

// handleCandidate forwards a client candidate to the session's endpoint, or
// queues it while the endpoint does not exist yet. Per-session FIFO order is
// preserved: candidates go directly to the endpoint only after the queue has
// been flushed and the endpoint published under the same mutex that guards
// the queue decision.
func (s *Session) handleCandidate(msg Message) {
	if msg.Candidate == nil {
		s.send(Message{ID: MsgError, Message: "missing candidate"})
		return
	}

	s.mu.Lock()
	endpoint := s.endpoint
	if endpoint == nil && !s.stopped() {
		s.queue.Enqueue(s.id, *msg.Candidate)
	}
	s.mu.Unlock()

	if endpoint != nil {
		if err := endpoint.AddCandidate(s.ctx, *msg.Candidate); err != nil {
			util.LogWarning("session %s: add candidate: %v", s.id, err)
		}
	}
}

// flushAndPublish delivers the candidates queued while the endpoint was
// being created, then publishes the endpoint for direct delivery. The bulk
// is drained outside the lock; the stragglers that slipped in meanwhile are
// drained under the same mutex that gates queueing, so no later candidate
// can be delivered directly ahead of a still-queued earlier one.
func (s *Session) flushAndPublish(endpoint media.Endpoint) {
	s.deliver(endpoint, s.queue.Drain(s.id))

	s.mu.Lock()
	s.deliver(endpoint, s.queue.Drain(s.id))
	s.endpoint = endpoint
	s.mu.Unlock()
}

func (s *Session) deliver(endpoint media.Endpoint, cands []webrtc.ICECandidateInit) {
	for _, c := range cands {
		if err := endpoint.AddCandidate(s.ctx, c); err != nil {
			util.LogWarning("session %s: flush candidate: %v", s.id, err)
		}
	}
}

// forwardDiscovered relays engine-discovered candidates for this endpoint to
// the client. Registered before GatherCandidates so no discovery is missed.
func (s *Session) forwardDiscovered(endpoint media.Endpoint) {
	endpoint.OnCandidate(func(cand webrtc.ICECandidateInit) {
		if s.stopped() {
			return
		}
		if err := s.transport.Send(Message{ID: MsgIceCandidate, Candidate: &cand}); err != nil {
			util.LogDebug("session %s: relay candidate: %v", s.id, err)
		}
	})
}

// ---------------------------------------------------------------------------
// Stop protocol
// ---------------------------------------------------------------------------

// Stop flips the session to Stopped and tears down whatever it owns. Safe to
// call any number of times and from any goroutine; an explicit stop message,
// a transport close, and a transport error all land here.
func (s *Session) Stop() {
	old := State(s.state.Swap(int32(StateStopped)))
	s.cancel()
	s.teardown()
	if old != StateStopped {
		util.LogDebug("session %s stopped (was %s)", s.id, old)
	}
}

// NotifyStopped implements registry.Notifier. The presenter ended the
// broadcast: this viewer was already detached from the room and its endpoint
// is released with the pipeline, so only the client notification and local
// bookkeeping remain.
func (s *Session) NotifyStopped() {
	old := State(s.state.Swap(int32(StateStopped)))
	if old == StateStopped {
		return
	}
	s.cancel()

	s.mu.Lock()
	s.endpoint = nil
	s.role = roleNone
	s.mu.Unlock()

	s.queue.Discard(s.id)
	if err := s.transport.Send(Message{ID: MsgStopCommunication}); err != nil {
		util.LogDebug("session %s: notify stopped: %v", s.id, err)
	}
}

// teardown releases everything the session currently owns. Every step is
// idempotent, so it may run both from Stop and from an aborting setup chain
// that raced with it.
func (s *Session) teardown() {
	s.mu.Lock()
	role := s.role
	roomID := s.roomID
	engineHeld := s.engineHeld
	s.engineHeld = false
	endpoint := s.endpoint
	s.endpoint = nil
	s.mu.Unlock()

	s.queue.Discard(s.id)

	switch role {
	case rolePresenter:
		pipeline, viewers, ok := s.reg.RemovePresenterAndRoom(roomID, s.id)
		if ok {
			for _, v := range viewers {
				v.Notifier.NotifyStopped()
			}
			releasePipeline(pipeline)
			util.LogInfo("room %q closed by presenter %s (%d viewers notified)", roomID, s.id, len(viewers))
		}
		if engineHeld {
			s.engineRef.Release()
		}

	case roleViewer:
		ep, ok := s.reg.RemoveViewer(roomID, s.id)
		if !ok {
			ep = endpoint
		}
		releaseEndpoint(ep)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// begin claims the session for one setup chain: Idle → target, recording the
// role and room the chain acts for. False when the session is already in use
// or stopped.
func (s *Session) begin(role sessionRole, roomID string, target State) bool {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(target)) {
		return false
	}
	s.mu.Lock()
	s.role = role
	s.roomID = roomID
	s.mu.Unlock()
	return true
}

// holdEngine records that this session owns one engine reference, unless the
// session was stopped in the meantime (then the caller must give it back).
func (s *Session) holdEngine() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return false
	}
	s.engineHeld = true
	return true
}

// reject stops the session, releasing partial resources, and sends the
// single terminal response for the failed request.
func (s *Session) reject(id MessageID, reason string) {
	s.Stop()
	s.send(Message{ID: id, Response: ResponseRejected, Message: reason})
}

func (s *Session) send(msg Message) {
	if err := s.transport.Send(msg); err != nil {
		util.LogDebug("session %s: send %s: %v", s.id, msg.ID, err)
	}
}

func releasePipeline(p media.Pipeline) {
	if p == nil {
		return
	}
	if err := p.Release(); err != nil {
		util.LogDebug("release pipeline: %v", err)
	}
}

func releaseEndpoint(ep media.Endpoint) {
	if ep == nil {
		return
	}
	if err := ep.Release(); err != nil {
		util.LogDebug("release endpoint: %v", err)
	}
}
