package server

import (
	"sync"
	"time"
)

// suppressor remembers which authors were already answered.
//
//   - window == 0: an author is suppressed for the lifetime of the suppressor
//   - window > 0: an author is suppressed until window has passed since its admission
//   - window < 0: nothing is suppressed
type suppressor struct {
	mu      sync.Mutex
	window  time.Duration
	seen    *mapHeap
	nowFunc func() time.Time
}

func newSuppressor(window time.Duration) *suppressor {
	return &suppressor{
		window:  window,
		seen:    newMapHeap(),
		nowFunc: time.Now,
	}
}

// admit records author and returns true, or returns false if author is suppressed.
// The check and the insertion are one atomic step.
func (s *suppressor) admit(author string) bool {
	if s.window < 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UnixNano()
	if s.window > 0 {
		// entries are ordered by admission, expired ones are at the top
		s.seen.popOlderThan(now - int64(s.window))
	}
	if _, ok := s.seen.get(author); ok {
		return false
	}
	s.seen.set(author, now)
	return true
}

// size returns the number of remembered authors
func (s *suppressor) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen.Len()
}
