package media

import (
	"context"
	"sync"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

// DialFunc establishes a new engine control connection.
type DialFunc func(ctx context.Context) (Engine, error)

// Ref is a reference-counted, lazily-initialized handle to the shared engine.
// The first Acquire dials; the Release that drops the count back to zero
// closes the connection. Each room holds exactly one reference for its
// lifetime, so the engine connection exists while any room is active and is
// closed exactly once when the last room is torn down, even when several
// rooms close concurrently.
type Ref struct {
	dial DialFunc

	mu     sync.Mutex
	engine Engine
	refs   int
}

// NewRef creates an unconnected handle that dials with dial on first use.
func NewRef(dial DialFunc) *Ref {
	return &Ref{dial: dial}
}

// Acquire returns the shared engine, dialing it if no reference is held yet.
// Every successful Acquire must be paired with exactly one Release.
func (r *Ref) Acquire(ctx context.Context) (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine == nil {
		engine, err := r.dial(ctx)
		if err != nil {
			return nil, err
		}
		r.engine = engine
		util.LogDebug("media engine connected")
	}

	r.refs++
	return r.engine, nil
}

// Release drops one reference. When the count reaches zero the engine
// connection is closed and the next Acquire dials again.
func (r *Ref) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.refs == 0 {
		return
	}

	r.refs--
	if r.refs > 0 {
		return
	}

	if err := r.engine.Close(); err != nil {
		util.LogWarning("media engine close: %v", err)
	}
	r.engine = nil
	util.LogDebug("media engine released")
}

// Refs returns the current reference count. Intended for tests and stats.
func (r *Ref) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}
