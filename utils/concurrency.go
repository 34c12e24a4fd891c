package utils

import (
	"context"
	"sync"
	"time"
)

// RateGate enforces a minimum interval between consecutive requests to an
// upstream source. The places API mandates a delay before a page cursor may
// be reused, so the adapter owns this gate rather than its callers.
type RateGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewRateGate creates a RateGate with the given minimum interval.
func NewRateGate(interval time.Duration) *RateGate {
	return &RateGate{interval: interval}
}

// Wait blocks until the minimum interval since the previous call has elapsed,
// or until the context is cancelled.
func (g *RateGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := time.Since(g.last)
	if elapsed < g.interval {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.interval - elapsed):
		}
	}
	g.last = time.Now()
	return nil
}

// Stamp marks now as the start of the interval without waiting. Callers use
// it after a request that did not pass through Wait, so the next Wait still
// measures from the most recent request.
func (g *RateGate) Stamp() {
	g.mu.Lock()
	g.last = time.Now()
	g.mu.Unlock()
}

// URLSet is a thread-safe set for tracking URLs already seen within a run.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add returns true if the URL was newly added, false if already present.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[url]; exists {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Contains returns true if the URL has already been seen.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[url]
	return exists
}

// Size returns the number of unique URLs tracked.
func (s *URLSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
