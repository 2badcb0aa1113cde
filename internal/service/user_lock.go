package service

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const defaultLockStripes = 256

// LocalUserLocker implements ports.UserLocker for a single instance with a
// fixed set of striped locks. Two users may share a stripe; one user always
// maps to the same stripe.
type LocalUserLocker struct {
	stripes []chan struct{}
}

// NewLocalUserLocker creates a locker with n stripes.
func NewLocalUserLocker(n int) *LocalUserLocker {
	if n <= 0 {
		n = defaultLockStripes
	}
	l := &LocalUserLocker{stripes: make([]chan struct{}, n)}
	for i := range l.stripes {
		l.stripes[i] = make(chan struct{}, 1)
	}
	return l
}

// Acquire blocks until the user's stripe is free or ctx is done.
func (l *LocalUserLocker) Acquire(ctx context.Context, userID uuid.UUID) (func(), error) {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	ch := l.stripes[h.Sum32()%uint32(len(l.stripes))]

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// keyedMutex serializes work per string key and forgets idle keys.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
