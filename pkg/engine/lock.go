package engine

import (
	"sync"
	"time"
)

// StatusLock is the process-wide cluster-status lock. Reconciliation passes
// and local registry edits take it; nothing else writes the registry.
type StatusLock struct {
	mu sync.Mutex
}

// Do runs fn while holding the lock and records the wait time.
func (l *StatusLock) Do(op string, fn func()) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	LcmcLockWaitSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	fn()
}

// TryDo runs fn only if the lock is free right now.
func (l *StatusLock) TryDo(fn func()) bool {
	if !l.mu.TryLock() {
		return false
	}
	defer l.mu.Unlock()
	fn()
	return true
}
