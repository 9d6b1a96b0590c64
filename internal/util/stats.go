package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	Sessions       atomic.Int64 // cumulative signaling connections since process start
	ClosedSessions atomic.Int64 // cumulative closed signaling connections
	Rooms          atomic.Int64 // cumulative rooms created
	ClosedRooms    atomic.Int64 // cumulative rooms torn down
	Queued         atomic.Int64 // candidates queued before an endpoint existed
	Flushed        atomic.Int64 // queued candidates later delivered to the engine
}

func (s *stats) AddSession()    { s.Sessions.Add(1) }
func (s *stats) RemoveSession() { s.ClosedSessions.Add(1) }
func (s *stats) AddRoom()       { s.Rooms.Add(1) }
func (s *stats) RemoveRoom()    { s.ClosedRooms.Add(1) }
func (s *stats) AddQueued()     { s.Queued.Add(1) }
func (s *stats) AddFlushed(n int) {
	s.Flushed.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every 30 seconds. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prevSessions, prevClosed, prevRooms, prevRoomsClosed int64
		for {
			select {
			case <-ticker.C:
				sessions := Stats.Sessions.Load()
				closed := Stats.ClosedSessions.Load()
				rooms := Stats.Rooms.Load()
				roomsClosed := Stats.ClosedRooms.Load()

				inS := sessions - prevSessions
				outS := closed - prevClosed
				inR := rooms - prevRooms
				outR := roomsClosed - prevRoomsClosed

				if inS > 0 || outS > 0 || inR > 0 || outR > 0 {
					pterm.DefaultLogger.Info(formatStats(sessions-closed, rooms-roomsClosed, inS, outS, inR, outR))
				}

				prevSessions = sessions
				prevClosed = closed
				prevRooms = rooms
				prevRoomsClosed = roomsClosed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(liveSessions, liveRooms, inS, outS, inR, outR int64) string {
	return fmt.Sprintf("Sessions: %3d (%2d↑ %2d↓) | Rooms: %3d (%2d↑ %2d↓)",
		liveSessions, inS, outS,
		liveRooms, inR, outR,
	)
}
