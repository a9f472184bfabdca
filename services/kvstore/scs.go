package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/alexedwards/scs/v2"
)

// SCSStore adapts any scs.Store (memstore, gormstore, ...) to Store. scs has
// no compare-and-delete primitive, so Take is only atomic within a process.
type SCSStore struct {
	store   scs.Store
	prefix  string
	mu      sync.Mutex
	onClose func()
}

func NewSCSStore(store scs.Store, prefix string, onClose func()) *SCSStore {
	return &SCSStore{store: store, prefix: prefix, onClose: onClose}
}

func (s *SCSStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	return s.store.Find(s.prefix + key)
}

func (s *SCSStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return s.store.Commit(s.prefix+key, value, time.Now().Add(ttl))
}

func (s *SCSStore) Delete(_ context.Context, key string) error {
	return s.store.Delete(s.prefix + key)
}

func (s *SCSStore) Take(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok, err := s.store.Find(s.prefix + key)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := s.store.Delete(s.prefix + key); err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *SCSStore) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
