package carrier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// refreshMargin treats tokens this close to expiry as already expired.
const refreshMargin = time.Minute

// RefreshFunc obtains a new token and its expiry.
type RefreshFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// TokenCache holds the carrier API token. Concurrent refreshes collapse into one login.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
	now       func() time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{now: time.Now}
}

// Get returns the cached token, calling refresh when it is missing or about to expire.
func (tc *TokenCache) Get(ctx context.Context, refresh RefreshFunc) (string, error) {
	if token, ok := tc.current(); ok {
		return token, nil
	}

	v, err, _ := tc.group.Do("token", func() (interface{}, error) {
		if token, ok := tc.current(); ok {
			return token, nil
		}
		token, expiresAt, err := refresh(ctx)
		if err != nil {
			return "", err
		}
		tc.mu.Lock()
		tc.token, tc.expiresAt = token, expiresAt
		tc.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the carrier rejects it.
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	tc.token = ""
	tc.expiresAt = time.Time{}
	tc.mu.Unlock()
}

func (tc *TokenCache) current() (string, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.token == "" || !tc.now().Add(refreshMargin).Before(tc.expiresAt) {
		return "", false
	}
	return tc.token, true
}
