package store

import (
	"context"
	"sync"
)

// NameLocks hands out one mutex per name. Locks for different names never
// contend, and an entry is dropped once nobody holds or waits for it.
type NameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	ch   chan struct{}
	refs int
}

// NewNameLocks creates an empty lock table.
func NewNameLocks() *NameLocks {
	return &NameLocks{locks: make(map[string]*nameLock)}
}

func (n *NameLocks) acquireRef(name string) *nameLock {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[name]
	if !ok {
		l = &nameLock{ch: make(chan struct{}, 1)}
		n.locks[name] = l
	}
	l.refs++
	return l
}

func (n *NameLocks) releaseRef(name string, l *nameLock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(n.locks, name)
	}
}

// Lock blocks until the lock for name is held or ctx is done.
func (n *NameLocks) Lock(ctx context.Context, name string) (unlock func(), err error) {
	l := n.acquireRef(name)
	select {
	case l.ch <- struct{}{}:
		return n.unlocker(name, l), nil
	case <-ctx.Done():
		n.releaseRef(name, l)
		return nil, ctx.Err()
	}
}

// TryLock takes the lock for name only if it is free.
func (n *NameLocks) TryLock(name string) (unlock func(), ok bool) {
	l := n.acquireRef(name)
	select {
	case l.ch <- struct{}{}:
		return n.unlocker(name, l), true
	default:
		n.releaseRef(name, l)
		return nil, false
	}
}

func (n *NameLocks) unlocker(name string, l *nameLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			n.releaseRef(name, l)
		})
	}
}
