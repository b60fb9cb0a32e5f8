package fingerprint

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cache memoizes text fingerprints. Turns are re-fingerprinted whenever a
// session is replaced, merged, imported or re-indexed, so hits are common.
type Cache struct {
	c *ristretto.Cache
}

// NewCache returns a cache holding roughly maxEntries vectors.
func NewCache(maxEntries int64) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create fingerprint cache: %w", err)
	}
	return &Cache{c: c}, nil
}

func cacheKey(dims, topK int, text string) string {
	return fmt.Sprintf("%d:%d:%s", dims, topK, text)
}

func (c *Cache) get(dims, topK int, text string) (Vector, bool) {
	v, ok := c.c.Get(cacheKey(dims, topK, text))
	if !ok {
		return nil, false
	}
	vec, ok := v.(Vector)
	if !ok {
		return nil, false
	}
	return append(Vector(nil), vec...), true
}

func (c *Cache) set(dims, topK int, text string, v Vector) {
	c.c.Set(cacheKey(dims, topK, text), append(Vector(nil), v...), 1)
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	c.c.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
