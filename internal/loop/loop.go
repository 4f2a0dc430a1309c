// Package loop serializes all pool mutation onto one goroutine.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"pkt.systems/cursortrail/schema"
)

// Loop runs submitted tasks one at a time, in submission order.
type Loop struct {
	mu      sync.Mutex
	pool    *workerpool.WorkerPool
	stopped bool
}

// New starts a loop backed by a single worker.
func New() *Loop {
	return &Loop{pool: workerpool.New(1)}
}

// Post queues fn and returns immediately. It reports false once the loop
// has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.pool.Submit(fn)
	return true
}

// Do runs fn on the loop and waits for its result. It must not be called
// from a task already running on the loop.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan error, 1)
	if !l.Post(func() {
		if err := ctx.Err(); err != nil {
			done <- err
			return
		}
		done <- fn()
	}) {
		return schema.ErrLoopStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc posts fn to the loop after d. Firings after Stop are dropped.
func (l *Loop) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, func() {
		l.Post(fn)
	})
}

// Stop rejects new work and waits for queued tasks to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()
	l.pool.StopWait()
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}
