package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/endertoolsbox/home-weather/internal/models"
)

const memcachedKeyPrefix = "home-weather:"

// MemcachedCache implements Cache using memcached. Keys are namespaced by a
// generation number; Clear moves to a new generation instead of flushing the
// whole server, which may be shared.
type MemcachedCache struct {
	client     *memcache.Client
	generation atomic.Int64
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	c := &MemcachedCache{client: client}
	// Entries written by a previous process must not be visible to this one.
	c.generation.Store(time.Now().UnixNano())
	return c, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return memcachedKeyPrefix + strconv.FormatInt(c.generation.Load(), 36) + ":" + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	if ctx.Err() != nil {
		return models.Reading{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return models.Reading{}, false, nil
		}
		return models.Reading{}, false, err
	}
	var r models.Reading
	if err := json.Unmarshal(item.Value, &r); err != nil {
		return models.Reading{}, false, err
	}
	return r, true, nil
}

// Set implements Cache.Set. Items are stored without expiration.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Reading) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:   c.key(key),
		Value: raw,
	})
}

// Clear implements Cache.Clear. Old-generation items are left for memcached's LRU to evict.
func (c *MemcachedCache) Clear(ctx context.Context) error {
	c.generation.Add(1)
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
// The client has no context support; its own timeout bounds the call.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
