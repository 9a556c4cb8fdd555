package session

import (
	"context"
	"sync"
)

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// Locker serializes turns per session id. Entries are reference counted and
// dropped when the last holder or waiter leaves.
type Locker struct {
	locks map[string]*lockEntry
	mu    sync.Mutex
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until id is free or ctx ends. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, e)
		return nil, ctx.Err() //nolint:wrapcheck // context error passthrough
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(id, e)
		})
	}, nil
}

func (l *Locker) release(id string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, id)
	}
}

// Len returns the number of ids currently locked or awaited.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
