package arenanode

import (
	"sync/atomic"
	"time"
)

// ThroughputSnapshot is a point-in-time read of a Node's cumulative
// counters, returned by Node.Stats.
type ThroughputSnapshot struct {
	GameStates int64
	Timeouts   int64
	Stops      int64
	Since      time.Time
}

// Stats accumulates per-outcome counters across every Step call. It is
// safe for concurrent use, though in practice only Step itself writes
// to it.
type Stats struct {
	gameStates atomic.Int64
	timeouts   atomic.Int64
	stops      atomic.Int64
	since      atomic.Int64 // unix nanos
}

// NewStats returns a zeroed Stats, timestamped at creation.
func NewStats() *Stats {
	s := &Stats{}
	s.since.Store(time.Now().UnixNano())
	return s
}

func (s *Stats) recordOutcome(kind OutcomeKind) {
	switch kind {
	case OutcomeGameState:
		s.gameStates.Add(1)
	case OutcomeTimeout:
		s.timeouts.Add(1)
	case OutcomeStop:
		s.stops.Add(1)
	}
}

func (s *Stats) Snapshot() ThroughputSnapshot {
	return ThroughputSnapshot{
		GameStates: s.gameStates.Load(),
		Timeouts:   s.timeouts.Load(),
		Stops:      s.stops.Load(),
		Since:      time.Unix(0, s.since.Load()),
	}
}

// Reset zeroes every counter and restamps Since.
func (s *Stats) Reset() {
	s.gameStates.Store(0)
	s.timeouts.Store(0)
	s.stops.Store(0)
	s.since.Store(time.Now().UnixNano())
}
