package cache

import (
	"context"
	"sync"
	"time"

	"tutupkas/backend/internal/wizard"
)

// DraftCache holds in-progress wizard sessions keyed by session ID. A draft
// that outlives its TTL is gone; only committed settlements are durable.
type DraftCache interface {
	Get(ctx context.Context, id string) (*wizard.State, bool, error)
	Set(ctx context.Context, id string, state wizard.State, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	state     wizard.State
	expiresAt time.Time
}

// MemoryDraftCache keeps sessions in process. It is used when no Redis address
// is configured.
type MemoryDraftCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryDraftCache() *MemoryDraftCache {
	return &MemoryDraftCache{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryDraftCache) Get(_ context.Context, id string) (*wizard.State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, id)
		return nil, false, nil
	}
	state := entry.state
	return &state, true, nil
}

func (c *MemoryDraftCache) Set(_ context.Context, id string, state wizard.State, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{state: state}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[id] = entry
	return nil
}

func (c *MemoryDraftCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}
