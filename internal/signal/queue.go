package signal

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/TejasN09/Live-Streaming-with-webrtc/internal/util"
)

// CandidateQueue buffers network candidates that arrive before the owning
// session's endpoint exists. Entries are keyed by session ID and preserve
// arrival order; an entry lives only until it is drained or the session
// stops. Safe for concurrent use across sessions.
type CandidateQueue struct {
	mu     sync.Mutex
	queues map[string][]webrtc.ICECandidateInit
}

// NewCandidateQueue creates an empty queue.
func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{queues: make(map[string][]webrtc.ICECandidateInit)}
}

// Enqueue appends a candidate to the session's pending list.
func (q *CandidateQueue) Enqueue(sessionID string, cand webrtc.ICECandidateInit) {
	q.mu.Lock()
	q.queues[sessionID] = append(q.queues[sessionID], cand)
	q.mu.Unlock()
	util.Stats.AddQueued()
}

// Drain removes and returns all candidates queued for the session, in
// arrival order. A drained candidate is never returned again.
func (q *CandidateQueue) Drain(sessionID string) []webrtc.ICECandidateInit {
	q.mu.Lock()
	cands := q.queues[sessionID]
	delete(q.queues, sessionID)
	q.mu.Unlock()

	util.Stats.AddFlushed(len(cands))
	return cands
}

// Discard drops the session's entry without delivering anything.
func (q *CandidateQueue) Discard(sessionID string) {
	q.mu.Lock()
	delete(q.queues, sessionID)
	q.mu.Unlock()
}

// Len returns the number of candidates pending for the session.
func (q *CandidateQueue) Len(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[sessionID])
}
