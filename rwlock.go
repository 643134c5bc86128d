package scriptai

import (
	"sync"
	"sync/atomic"
)

// RWLock is a scoped many-readers/one-writer lock.
//
// Callers acquire a guard and defer its Release, which makes the release
// happen on every exit path:
//
//	defer l.AcquireRead().Release()
//
// Any number of read guards may be held at once. A write guard excludes
// every other guard, read or write.
type RWLock struct {
	mutex sync.RWMutex
}

// ReadGuard is a held shared acquisition of an RWLock.
type ReadGuard struct {
	l        *RWLock
	released atomic.Bool
}

// Release gives up the shared acquisition. Releasing twice is a no-op.
func (g *ReadGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.l.mutex.RUnlock()
	}
}

// WriteGuard is a held exclusive acquisition of an RWLock.
type WriteGuard struct {
	l        *RWLock
	released atomic.Bool
}

// Release gives up the exclusive acquisition. Releasing twice is a no-op.
func (g *WriteGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.l.mutex.Unlock()
	}
}

// AcquireRead blocks until no write guard is held, and returns a shared guard.
func (l *RWLock) AcquireRead() *ReadGuard {
	l.mutex.RLock()
	return &ReadGuard{l: l}
}

// AcquireWrite blocks until no other guard is held, and returns an exclusive guard.
func (l *RWLock) AcquireWrite() *WriteGuard {
	l.mutex.Lock()
	return &WriteGuard{l: l}
}

// WithRead runs f holding a read guard.
func (l *RWLock) WithRead(f func()) {
	defer l.AcquireRead().Release()
	f()
}

// WithWrite runs f holding a write guard.
func (l *RWLock) WithWrite(f func()) {
	defer l.AcquireWrite().Release()
	f()
}
