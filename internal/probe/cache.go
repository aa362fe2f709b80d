package probe

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ytget/yt-player/internal/model"
)

// DefaultCacheTTL bounds how long a probe result is reused
const DefaultCacheTTL = 2 * time.Minute

// Interface is satisfied by Prober and Cache
type Interface interface {
	Probe(ctx context.Context, path string) (model.MediaMetadata, error)
}

type cacheEntry struct {
	meta    model.MediaMetadata
	modTime time.Time
	size    int64
	expires time.Time
}

// Cache memoizes successful probes keyed by path. An entry is dropped when
// the TTL passes or the file's size or mtime changes. Failures are never
// cached.
type Cache struct {
	next Interface
	ttl  time.Duration
	now  func() time.Time
	hits prometheus.Counter

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache wraps next with a TTL cache
func NewCache(next Interface, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// CountHits makes the cache increment counter on every hit
func (c *Cache) CountHits(counter prometheus.Counter) *Cache {
	c.hits = counter
	return c
}

// Probe returns a cached result when fresh, otherwise delegates
func (c *Cache) Probe(ctx context.Context, path string) (model.MediaMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.MediaMetadata{}, &Error{Path: path, Err: err}
	}

	c.mu.Lock()
	entry, ok := c.entries[path]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		if c.hits != nil {
			c.hits.Inc()
		}
		return entry.meta.Clone(), nil
	}

	meta, err := c.next.Probe(ctx, path)
	if err != nil {
		return model.MediaMetadata{}, err
	}

	c.mu.Lock()
	c.entries[path] = cacheEntry{
		meta:    meta.Clone(),
		modTime: info.ModTime(),
		size:    info.Size(),
		expires: c.now().Add(c.ttl),
	}
	c.purgeLocked()
	c.mu.Unlock()
	return meta, nil
}

func (c *Cache) purgeLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
}
