package core

import (
	"sync/atomic"
	"time"
)

// Deferrer runs fn after d on the caller's event loop.
type Deferrer interface {
	AfterFunc(d time.Duration, fn func())
}

// CleanupScheduler stamps deferred work with a generation. Bumping the
// generation turns every pending callback into a no-op, so timers never
// need to be cancelled.
type CleanupScheduler struct {
	deferrer   Deferrer
	generation atomic.Uint64
}

// NewCleanupScheduler constructs a scheduler that defers through d.
func NewCleanupScheduler(d Deferrer) *CleanupScheduler {
	return &CleanupScheduler{deferrer: d}
}

// Bump invalidates all pending callbacks and returns the new generation.
func (s *CleanupScheduler) Bump() uint64 {
	return s.generation.Add(1)
}

// Current returns the live generation.
func (s *CleanupScheduler) Current() uint64 {
	return s.generation.Load()
}

// Schedule runs fn after delay unless the generation moves first. It
// returns the generation fn is bound to.
func (s *CleanupScheduler) Schedule(delay time.Duration, fn func()) uint64 {
	captured := s.Current()
	s.deferrer.AfterFunc(delay, func() {
		if s.Current() != captured {
			return
		}
		fn()
	})
	return captured
}
