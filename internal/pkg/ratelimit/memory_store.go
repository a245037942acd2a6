package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	start time.Time
	count int64
}

// MemoryStore is the in-process CounterStore. It is safe for concurrent use
// but provides no coordination across processes.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.now()
	start := now.Truncate(window)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !w.start.Equal(start) {
		// Lazy expiry: an elapsed window restarts as unseen.
		w = &memoryWindow{start: start}
		s.windows[key] = w
	}
	w.count++
	return w.count, start.Add(window), nil
}
