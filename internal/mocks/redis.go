package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRedis is an in-memory lock and idempotency cache. TTLs are ignored.
type MockRedis struct {
	mu     sync.Mutex
	locks  map[string]string
	values map[string]string

	LockErr      error
	AcquireCalls []string
}

// NewMockRedis creates a new MockRedis
func NewMockRedis() *MockRedis {
	return &MockRedis{
		locks:  make(map[string]string),
		values: make(map[string]string),
	}
}

func (m *MockRedis) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AcquireCalls = append(m.AcquireCalls, key)
	if m.LockErr != nil {
		return "", false, m.LockErr
	}
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	token := uuid.New().String()
	m.locks[key] = token
	return token, true, nil
}

func (m *MockRedis) ReleaseLock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

// Hold takes key as if another process owned it.
func (m *MockRedis) Hold(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[key] = "held-by-test"
}

func (m *MockRedis) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.locks[key]
	return ok
}

func (m *MockRedis) SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MockRedis) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}
