package cache

import (
	"context"
	"sync"

	"github.com/endertoolsbox/home-weather/internal/models"
)

// Cache stores weather readings by quantized cell key.
// Entries never expire on their own; staleness is decided by the caller.
type Cache interface {
	Get(ctx context.Context, key string) (models.Reading, bool, error)
	Set(ctx context.Context, key string, value models.Reading) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
}

// InMemoryCache implements Cache using a map guarded by a RWMutex.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]models.Reading
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]models.Reading),
	}
}

// Get returns (reading, true, nil) on hit and (zero, false, nil) on miss.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok, nil
}

// Set stores or overwrites the reading for key.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]models.Reading)
	return nil
}

// Len reports the number of cached cells.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
