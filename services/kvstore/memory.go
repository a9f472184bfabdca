package kvstore

import (
	"context"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]*entry
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore starts a background sweeper that runs every sweepInterval.
// A non-positive interval disables the sweeper; expired keys are then only
// dropped lazily on access.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	store := &MemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
		stop: make(chan struct{}),
	}

	if sweepInterval > 0 {
		go store.sweep(sweepInterval)
	}

	return store
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.data[key]; ok && cur == e {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}

	return clone(e.value), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{
		value:     clone(value),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	delete(s.data, key)

	if !s.now().Before(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Sweep removes every expired entry and reports how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.data {
		if !now.Before(e.expiresAt) {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Close() error {
	s.stopped.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
