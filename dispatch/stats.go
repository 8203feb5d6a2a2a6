package dispatch

import (
	"sync"
	"time"
)

// Stats tracks chunk upload durations across a dispatcher's lifetime,
// both for external reporting (Engine.Stats) and as the running average
// hung-chunk detection compares an in-flight attempt's elapsed time
// against.
type Stats struct {
	sum            time.Duration
	finishedChunks int64
	mu             sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful chunk upload duration.
func (s *Stats) Update(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.finishedChunks++
}

// Average returns the average upload duration for completed chunks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishedChunks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedChunks)
}

// FinishedCount returns the number of completed chunk uploads.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedChunks
}

// TotalDuration returns the sum of all upload durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

// HungRelativeTo reports whether an attempt still running after elapsed
// has overrun the running average by more than margin. Attempts are
// judged against the average of chunks that have actually finished, not
// a fixed timeout, so hung-detection adapts as the connection's real
// throughput becomes clear; before any chunk has finished there's
// nothing to compare against, so it never reports hung.
func (s *Stats) HungRelativeTo(elapsed, margin time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finishedChunks == 0 {
		return false
	}
	avg := s.sum / time.Duration(s.finishedChunks)
	return elapsed-avg > margin
}
