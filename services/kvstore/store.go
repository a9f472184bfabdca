// Package kvstore holds short-lived keyed state such as OAuth authorization
// state and CSRF bindings. Implementations are interchangeable so a single
// process map can be swapped for a shared cache in multi-instance deployments.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTTL = errors.New("kvstore: ttl must be positive")
	ErrClosed     = errors.New("kvstore: store is closed")
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes it in one atomic step. Two concurrent
	// Take calls for the same key never both observe the value.
	Take(ctx context.Context, key string) ([]byte, bool, error)
	Close() error
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return true, nil
}

func TakeJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	data, ok, err := s.Take(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("kvstore: decode %s: %w", key, err)
	}
	return true, nil
}
