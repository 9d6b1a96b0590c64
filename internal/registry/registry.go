// Package registry is the single source of truth for room, presenter, and
// viewer associations. Every mutation is one atomic operation under the
// registry lock, so no session ever observes a half-updated room — in
// particular no viewer can be added to a room that is concurrently being
// torn down, and no two sessions can both claim a room's presenter slot.
package registry

import (
	"errors"
	"sync"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/media"
	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

var (
	// ErrPresenterTaken is returned when a room's presenter slot is occupied.
	ErrPresenterTaken = errors.New("presenter already active for this room. Try again later ...")

	// ErrNoPresenter is returned when an operation requires an active presenter.
	ErrNoPresenter = errors.New("no active presenter for this room. Try again later ...")
)

// Notifier pushes asynchronous server-to-client notifications to one
// signaling connection. It is a non-owning back-reference: the registry
// never closes it.
type Notifier interface {
	// NotifyStopped tells a viewer that the presenter ended the broadcast.
	NotifyStopped()
}

// Viewer is one watching participant as recorded by the registry.
type Viewer struct {
	SessionID string
	Endpoint  media.Endpoint
	Notifier  Notifier
}

type presenter struct {
	sessionID string
	endpoint  media.Endpoint // nil until endpoint creation completes
}

type room struct {
	presenter *presenter
	viewers   []*Viewer // insertion order; session IDs unique within the room
	pipeline  media.Pipeline
}

func (r *room) empty() bool {
	return r.presenter == nil && len(r.viewers) == 0
}

// Registry owns the room map. The zero value is not usable; use New.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// TrySetPresenter atomically claims the presenter slot of roomID for
// sessionID, allocating the room if it does not exist yet. It fails with
// ErrPresenterTaken when another session already holds the slot. This is
// the one compare-and-set the protocol depends on: of any number of
// concurrent presenter requests for the same room, exactly one succeeds.
func (g *Registry) TrySetPresenter(roomID, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		r = &room{}
		g.rooms[roomID] = r
		util.Stats.AddRoom()
	}

	if r.presenter != nil {
		return ErrPresenterTaken
	}
	r.presenter = &presenter{sessionID: sessionID}
	return nil
}

// SetPipeline commits the lazily created pipeline to the room. It returns
// false — and the caller must release the pipeline — when the room is gone
// or the presenter changed while the pipeline was being created.
func (g *Registry) SetPipeline(roomID, sessionID string, p media.Pipeline) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || r.presenter == nil || r.presenter.sessionID != sessionID {
		return false
	}
	r.pipeline = p
	return true
}

// SetPresenterEndpoint commits the presenter's endpoint, re-validating that
// the presenter is still sessionID. A room becomes joinable for viewers
// only after this succeeds.
func (g *Registry) SetPresenterEndpoint(roomID, sessionID string, ep media.Endpoint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || r.presenter == nil || r.presenter.sessionID != sessionID {
		return false
	}
	r.presenter.endpoint = ep
	return true
}

// PresenterIs reports whether sessionID currently holds roomID's presenter slot.
func (g *Registry) PresenterIs(roomID, sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	return ok && r.presenter != nil && r.presenter.sessionID == sessionID
}

// ActivePresenter returns the room's pipeline and presenter endpoint, with
// ok true only when the presenter has completed setup.
func (g *Registry) ActivePresenter(roomID string) (media.Pipeline, media.Endpoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || r.presenter == nil || r.presenter.endpoint == nil || r.pipeline == nil {
		return nil, nil, false
	}
	return r.pipeline, r.presenter.endpoint, true
}

// AddViewer records a viewer in the room. It fails with ErrNoPresenter when
// the room has no active presenter — including the case where the room was
// torn down while the viewer's endpoint was being created.
func (g *Registry) AddViewer(roomID, sessionID string, ep media.Endpoint, n Notifier) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || r.presenter == nil || r.presenter.endpoint == nil {
		return ErrNoPresenter
	}
	for _, v := range r.viewers {
		if v.SessionID == sessionID {
			// Same session re-joining: replace the stale record.
			v.Endpoint = ep
			v.Notifier = n
			return nil
		}
	}
	r.viewers = append(r.viewers, &Viewer{SessionID: sessionID, Endpoint: ep, Notifier: n})
	return nil
}

// RemoveViewer detaches sessionID's viewer record and returns its endpoint
// for the caller to release. The room is destroyed once it has neither a
// presenter nor viewers.
func (g *Registry) RemoveViewer(roomID, sessionID string) (media.Endpoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return nil, false
	}
	for i, v := range r.viewers {
		if v.SessionID == sessionID {
			r.viewers = append(r.viewers[:i], r.viewers[i+1:]...)
			if r.empty() {
				delete(g.rooms, roomID)
				util.Stats.RemoveRoom()
			}
			return v.Endpoint, true
		}
	}
	return nil, false
}

// RemovePresenterAndRoom atomically clears the presenter slot, detaches all
// viewers, and destroys the room, returning the pipeline and the detached
// viewer records so the caller can notify and release them outside the
// lock. It is a no-op (ok false) when sessionID is not the room's presenter.
func (g *Registry) RemovePresenterAndRoom(roomID, sessionID string) (media.Pipeline, []*Viewer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok || r.presenter == nil || r.presenter.sessionID != sessionID {
		return nil, nil, false
	}

	viewers := r.viewers
	pipeline := r.pipeline
	delete(g.rooms, roomID)
	util.Stats.RemoveRoom()
	return pipeline, viewers, true
}

// Rooms returns the number of active rooms.
func (g *Registry) Rooms() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
