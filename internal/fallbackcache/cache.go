package fallbackcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Entry is the degraded mirror of an entitlement: exactly the fields
// needed to answer "currently entitled" when the primary store is down.
type Entry struct {
	Ativa          bool      `json:"ativa"`
	DataVencimento time.Time `json:"dataVencimento"`
	OrderNsu       string    `json:"orderNsu"`
}

// Cache is last-resort entitlement storage keyed by payer email.
type Cache interface {
	Get(ctx context.Context, userEmail string) (*Entry, error)
	Set(ctx context.Context, userEmail string, entry Entry) error
	Delete(ctx context.Context, userEmail string) error
}

func Key(userEmail string) string {
	return "entitlement:" + strings.ToLower(strings.TrimSpace(userEmail))
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an in-process cache used when no Redis is configured
// and as the default backend in tests.
func NewMemory() Cache {
	return &memoryCache{entries: make(map[string]Entry)}
}

func (c *memoryCache) Get(ctx context.Context, userEmail string) (*Entry, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[Key(userEmail)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *memoryCache) Set(ctx context.Context, userEmail string, entry Entry) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[Key(userEmail)] = entry
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, userEmail string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, Key(userEmail))
	return nil
}
