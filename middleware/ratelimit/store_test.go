package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	count, reset, exists := store.Get("missing")
	assert.False(t, exists)
	assert.Zero(t, count)
	assert.True(t, reset.IsZero())

	resetAt := time.Now().Add(time.Minute)
	store.Set("k", 5, resetAt)
	count, reset, exists = store.Get("k")
	assert.True(t, exists)
	assert.Equal(t, 5, count)
	assert.True(t, reset.Equal(resetAt))

	assert.Equal(t, 6, store.Increment("k", resetAt))
	assert.Equal(t, 1, store.Increment("fresh", resetAt))

	store.Reset("k")
	_, _, exists = store.Get("k")
	assert.False(t, exists)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	now := time.Now()
	store.now = func() time.Time { return now }

	store.Set("a", 3, now.Add(time.Second))
	store.Set("b", 3, now.Add(time.Hour))

	now = now.Add(2 * time.Second)
	_, _, exists := store.Get("a")
	assert.False(t, exists)
	assert.Equal(t, 1, store.Increment("a", now.Add(time.Minute)), "an expired window restarts")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, store.Sweep())
}

func TestMemoryStore_ConcurrentIncrement(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	resetAt := time.Now().Add(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Increment("k", resetAt)
		}()
	}
	wg.Wait()

	count, _, _ := store.Get("k")
	assert.Equal(t, 50, count)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	assert.NotPanics(t, func() {
		store.Close()
		store.Close()
	})
}
