package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// minRefetchInterval bounds how often an unknown kid can force a refetch.
const minRefetchInterval = 10 * time.Second

const maxJWKSBody = 1 << 20

// KeySet caches the provider's published signing keys.
type KeySet struct {
	url    string
	client *http.Client
	ttl    time.Duration
	logger *logging.Service
	now    func() time.Time

	mu        sync.RWMutex
	keys      jose.JSONWebKeySet
	fetchedAt time.Time

	group singleflight.Group
}

func NewKeySet(url string, client *http.Client, ttl time.Duration, logger *logging.Service) *KeySet {
	return &KeySet{
		url:    url,
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Key returns the key for kid, refetching the set when it is stale or does
// not contain kid.
func (k *KeySet) Key(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	if key, fresh := k.cached(kid); key != nil && fresh {
		return key, nil
	}

	k.mu.RLock()
	recent := !k.fetchedAt.IsZero() && k.now().Sub(k.fetchedAt) < minRefetchInterval
	k.mu.RUnlock()

	if !recent {
		if err := k.refresh(ctx); err != nil {
			// a stale key beats an outage
			if key, _ := k.cached(kid); key != nil {
				k.logger.Warn("using stale provider keys", zap.Error(err))
				return key, nil
			}
			return nil, err
		}
	}

	if key, _ := k.cached(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: unknown signing key %q", ErrIdentityValidation, kid)
}

func (k *KeySet) cached(kid string) (*jose.JSONWebKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	fresh := !k.fetchedAt.IsZero() && k.now().Sub(k.fetchedAt) < k.ttl
	var matches []jose.JSONWebKey
	if kid == "" {
		matches = k.keys.Keys
	} else {
		matches = k.keys.Key(kid)
	}
	for i := range matches {
		if matches[i].Use == "" || matches[i].Use == "sig" {
			return &matches[i], fresh
		}
	}
	return nil, fresh
}

func (k *KeySet) refresh(ctx context.Context) error {
	_, err, shared := k.group.Do("jwks", func() (any, error) {
		set, err := k.fetch(ctx)
		if err != nil {
			return nil, err
		}
		k.mu.Lock()
		k.keys = *set
		k.fetchedAt = k.now()
		k.mu.Unlock()
		k.logger.Debug("provider keys refreshed", zap.Int("keys", len(set.Keys)))
		return nil, nil
	})
	if shared {
		k.logger.Debug("joined in-flight key fetch")
	}
	return err
}

func (k *KeySet) fetch(ctx context.Context) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching keys: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key endpoint returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBody)).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: malformed key set: %v", ErrProviderUnavailable, err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("%w: empty key set", ErrProviderUnavailable)
	}
	return &set, nil
}
