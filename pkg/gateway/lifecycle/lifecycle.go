package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// It is used for readiness draining during graceful shutdown, and tracks in-flight
// recording commits so shutdown can wait for them.
type Lifecycle struct {
	draining atomic.Bool

	mu       sync.Mutex
	inflight sync.WaitGroup
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// Begin registers an in-flight commit. It refuses new work once draining has started.
// The returned func must be called when the work is done.
func (l *Lifecycle) Begin() (func(), bool) {
	if l == nil {
		return func() {}, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.draining.Load() {
		return nil, false
	}
	l.inflight.Add(1)
	var once sync.Once
	return func() { once.Do(l.inflight.Done) }, true
}

// Wait blocks until every in-flight commit finished or ctx is done. It reports whether
// all work finished.
func (l *Lifecycle) Wait(ctx context.Context) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	l.draining.Store(true)
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
