package x402

import (
	"context"
	"sync"
	"time"
)

// DefaultReplayTTL keeps accepted signatures at least as long as the
// ledger's finality window, so a replayed proof cannot slip in after the
// original entry ages out.
const DefaultReplayTTL = 10 * time.Minute

// ReplayVerdict is the cache's answer for a presented signature.
type ReplayVerdict int

const (
	// ReplayMiss means the signature is unseen and must be verified.
	ReplayMiss ReplayVerdict = iota
	// ReplayHit means the same signature re-paid the same challenge nonce;
	// the cached response body is served again.
	ReplayHit
	// ReplayConflict means the signature was already spent on a different
	// challenge and must be rejected.
	ReplayConflict
)

type replayEntry struct {
	nonce     string
	response  []byte
	expiresAt time.Time
}

// ReplayCache remembers recently accepted payment signatures so one settled
// payment cannot buy more than its one delivery, while keeping re-delivery
// of that one delivery idempotent.
type ReplayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	nowFn   func() time.Time
	entries map[string]replayEntry
}

// ReplayOption adjusts a ReplayCache.
type ReplayOption func(*ReplayCache)

// WithReplayTTL overrides the retention window.
func WithReplayTTL(ttl time.Duration) ReplayOption {
	return func(c *ReplayCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithReplayClock injects a clock for tests.
func WithReplayClock(nowFn func() time.Time) ReplayOption {
	return func(c *ReplayCache) {
		if nowFn != nil {
			c.nowFn = nowFn
		}
	}
}

// NewReplayCache builds an empty cache with the default TTL.
func NewReplayCache(opts ...ReplayOption) *ReplayCache {
	c := &ReplayCache{
		ttl:     DefaultReplayTTL,
		nowFn:   time.Now,
		entries: make(map[string]replayEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check classifies a presented signature against the cache. On ReplayHit the
// cached response body is returned for idempotent re-delivery.
func (c *ReplayCache) Check(signature, nonce string) (ReplayVerdict, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[signature]
	if !ok {
		return ReplayMiss, nil
	}
	if c.nowFn().After(entry.expiresAt) {
		delete(c.entries, signature)
		return ReplayMiss, nil
	}
	if entry.nonce == nonce {
		return ReplayHit, entry.response
	}
	return ReplayConflict, nil
}

// Store records an accepted signature with the response it bought.
func (c *ReplayCache) Store(signature, nonce string, response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body := make([]byte, len(response))
	copy(body, response)
	c.entries[signature] = replayEntry{
		nonce:     nonce,
		response:  body,
		expiresAt: c.nowFn().Add(c.ttl),
	}
}

// Len reports the live entry count.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts expired entries and reports how many were removed.
func (c *ReplayCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	removed := 0
	for signature, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, signature)
			removed++
		}
	}
	return removed
}

// Run evicts in the background until the context ends.
func (c *ReplayCache) Run(ctx context.Context) error {
	interval := c.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Sweep()
		}
	}
}
