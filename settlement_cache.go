package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SettlementCache remembers successful credit burns per invocation so that a
// retried settle is answered with the original receipt, and concurrent
// settles of the same invocation collapse into one ledger call.
type SettlementCache struct {
	mu       sync.Mutex
	entries  map[string]cacheEntry
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

type cacheEntry struct {
	result  SettleResponse
	expires time.Time
}

// NewSettlementCache creates a cache keeping receipts for ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		entries:  make(map[string]cacheEntry),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GenerateSettlementKey hashes the serialized invocation ID, payload and
// amount into a cache key.
func GenerateSettlementKey(payloadBytes []byte) string {
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus represents the result of checking the cache.
type SettlementStatus int

const (
	// StatusNotFound means the caller now owns the settlement.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a receipt was found.
	StatusCached
	// StatusInFlight means another caller is settling the same invocation.
	StatusInFlight
)

// CheckAndMark atomically looks key up and, when absent, marks it in-flight.
// The returned channel is the done channel to pass to Complete or Fail
// (StatusNotFound) or to wait on (StatusInFlight).
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result, ok := c.lookupLocked(key); ok {
		return StatusCached, &result, nil
	}
	if done, ok := c.inFlight[key]; ok {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult blocks until the in-flight settle for key finishes or ctx
// ends. A nil result means the in-flight settle failed.
func (c *SettlementCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached receipt for key, or nil.
func (c *SettlementCache) Get(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result, ok := c.lookupLocked(key); ok {
		return &result
	}
	return nil
}

// Complete stores a successful receipt and releases waiters.
func (c *SettlementCache) Complete(key string, result *SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{result: *result, expires: c.now().Add(c.ttl)}
	delete(c.inFlight, key)
	close(done)

	c.evictLocked()
}

// Fail releases waiters without caching, so the invocation may be settled again.
func (c *SettlementCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

func (c *SettlementCache) lookupLocked(key string) (SettleResponse, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return SettleResponse{}, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return SettleResponse{}, false
	}
	return entry.result, true
}

func (c *SettlementCache) evictLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}
