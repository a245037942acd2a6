package syncutil

import "sync"

// KeyedMutex serializes work per key so concurrent operations for the same
// key never interleave their read-decide-write cycles, while operations for
// different keys proceed in parallel.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[uint]*keyLock)}
}

// Lock blocks until the per-key lock is held and returns its release
// function. Entries are reference counted so the map stays bounded.
func (k *KeyedMutex) Lock(key uint) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
