// Package lock provides the per-combination single-flight execution guard.
package lock

import (
	"sync"

	"github.com/google/uuid"
)

// KeyedLock is a process-local try-lock keyed by combination id. It starts
// empty, entries are removed on release, and nothing is persisted. It does not
// protect against multiple process instances racing the same combination; the
// interface is kept narrow so a lease-backed implementation can replace it.
type KeyedLock struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

// New constructs an empty KeyedLock.
func New() *KeyedLock {
	return &KeyedLock{held: make(map[uuid.UUID]struct{})}
}

// Acquire takes the lock for id. It never blocks; false means the lock is
// already held and the caller should back off rather than spin.
func (l *KeyedLock) Acquire(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees the lock for id. Releasing an unheld lock is a no-op so that
// callers can release unconditionally in a defer.
func (l *KeyedLock) Release(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Held reports whether the lock for id is currently taken.
func (l *KeyedLock) Held(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[id]
	return busy
}
