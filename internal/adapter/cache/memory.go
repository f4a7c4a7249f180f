// Package cache stores web context lookups in Redis or, without Redis, in
// process memory.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-gen-gateway/internal/domain"
)

type memoryEntry struct {
	wc      domain.WebContext
	expires time.Time
}

// Memory is a bounded TTL cache with FIFO eviction. It is safe for
// concurrent use.
type Memory struct {
	capacity int
	mu       sync.Mutex
	m        map[string]memoryEntry
	ord      []string
	now      func() time.Time
}

// NewMemory returns a cache holding at most capacity entries (256 when
// capacity <= 0).
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{capacity: capacity, m: make(map[string]memoryEntry), ord: make([]string, 0, capacity), now: time.Now}
}

// Get returns the entry for key when present and not expired.
func (c *Memory) Get(_ domain.Context, key string) (domain.WebContext, bool, error) {
	k := keyFor(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[k]
	if !ok {
		return domain.WebContext{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.m, k)
		return domain.WebContext{}, false, nil
	}
	return e.wc, true, nil
}

// Set stores wc under key for ttl.
func (c *Memory) Set(_ domain.Context, key string, wc domain.WebContext, ttl time.Duration) error {
	k := keyFor(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memoryEntry{wc: wc, expires: c.now().Add(ttl)}
	if _, exists := c.m[k]; exists {
		c.m[k] = entry
		return nil
	}
	for len(c.ord) >= c.capacity {
		old := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, old)
	}
	c.m[k] = entry
	c.ord = append(c.ord, k)
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func keyFor(key string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(h[:])
}
