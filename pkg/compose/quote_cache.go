package compose

import (
	"fmt"
	"sync"
	"time"
)

// quoteCache memoizes pool quotes with a short TTL. Quotes drift with pool
// state, so entries expire quickly; the cache only smooths retry bursts.
type quoteCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]quoteEntry
}

type quoteEntry struct {
	quote     uint64
	expiresAt time.Time
}

func newQuoteCache(ttl time.Duration) *quoteCache {
	return &quoteCache{
		ttl:     ttl,
		entries: make(map[string]quoteEntry),
	}
}

func quoteKey(poolID string, aToB bool, amountIn uint64) string {
	return fmt.Sprintf("%s|%t|%d", poolID, aToB, amountIn)
}

func (c *quoteCache) get(poolID string, aToB bool, amountIn uint64) (uint64, bool) {
	if c.ttl <= 0 {
		return 0, false
	}
	c.mu.RLock()
	entry, ok := c.entries[quoteKey(poolID, aToB, amountIn)]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.quote, true
}

func (c *quoteCache) put(poolID string, aToB bool, amountIn uint64, quote uint64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	if len(c.entries) >= 256 {
		// Opportunistic purge keeps the cache bounded without a sweeper.
		now := time.Now()
		for k, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	c.entries[quoteKey(poolID, aToB, amountIn)] = quoteEntry{
		quote:     quote,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}
