package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a small in-process TTL cache used to memoize expensive read paths
// such as the live stats endpoint.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
}

type localCache struct {
	c *gocache.Cache
}

// NewLocal returns an in-process cache with the given default TTL.
func NewLocal(defaultTTL time.Duration) Cache {
	return &localCache{c: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (l *localCache) Get(key string) (interface{}, bool) {
	return l.c.Get(key)
}

func (l *localCache) Set(key string, value interface{}, ttl time.Duration) {
	l.c.Set(key, value, ttl)
}

func (l *localCache) Delete(key string) {
	l.c.Delete(key)
}
