package pipeline

import "sync"

// Store keeps the most recent run summary for readers such as the web API.
type Store struct {
	mu   sync.RWMutex
	last *Summary
}

// Set replaces the latest summary.
func (s *Store) Set(sum Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &sum
}

// Latest returns the latest summary, or false before the first run.
func (s *Store) Latest() (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}
