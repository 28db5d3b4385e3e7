package executor

import (
	"sync"
	"time"
)

// inflightSet guarantees at most one settlement attempt per task id at a
// time, across the scan loop and the retry timers.
type inflightSet struct {
	mu      sync.Mutex
	started map[string]time.Time
}

func newInflightSet() *inflightSet {
	return &inflightSet{started: make(map[string]time.Time)}
}

// TryAcquire claims the task id. Returns false when an attempt is already
// in flight.
func (s *inflightSet) TryAcquire(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.started[taskID]; ok {
		return false
	}
	s.started[taskID] = time.Now()
	return true
}

// Release frees the task id after the attempt finishes.
func (s *inflightSet) Release(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.started, taskID)
}

// Active returns the number of attempts currently in flight.
func (s *inflightSet) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started)
}
