package app

import (
	"sync"
	"time"
)

// cadenceWindow is how many recent cycle starts the cadence is averaged over.
const cadenceWindow = 30

// Stats tracks counters and a rolling cadence.
type Stats struct {
	mu       sync.Mutex
	starts   []time.Time
	cycles   uint64
	commands uint64
	skipped  uint64
	warnings uint64
	latency  time.Duration
}

// StatsSnapshot is a copy of Stats at one instant.
type StatsSnapshot struct {
	Cycles   uint64 `json:"cycles"`
	Commands uint64 `json:"commands"`
	Skipped  uint64 `json:"skipped"`
	// Warnings counts echo mismatches and timeouts.
	Warnings  uint64  `json:"warnings"`
	CadenceHz float64 `json:"cadence_hz"`
	// MeanLatency is an exponential average of capture-to-resolve time.
	MeanLatency time.Duration `json:"mean_latency_ns"`
}

func newStats() *Stats {
	return &Stats{starts: make([]time.Time, 0, cadenceWindow)}
}

func (s *Stats) tick(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.starts) == cadenceWindow {
		copy(s.starts, s.starts[1:])
		s.starts = s.starts[:cadenceWindow-1]
	}
	s.starts = append(s.starts, t)
}

func (s *Stats) resolved(ev CycleEvent, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles++
	switch {
	case ev.Command != nil:
		s.commands++
		if ev.Outcome == "echo_mismatch" || ev.Outcome == "echo_timeout" {
			s.warnings++
		}
	default:
		s.skipped++
	}

	if s.latency == 0 {
		s.latency = latency
	} else {
		s.latency = (s.latency*7 + latency) / 8
	}
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Cycles:      s.cycles,
		Commands:    s.commands,
		Skipped:     s.skipped,
		Warnings:    s.warnings,
		MeanLatency: s.latency,
	}
	if n := len(s.starts); n > 1 {
		if span := s.starts[n-1].Sub(s.starts[0]); span > 0 {
			snap.CadenceHz = float64(n-1) / span.Seconds()
		}
	}
	return snap
}
