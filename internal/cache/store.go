package cache

import "time"

// Store is a keyed TTL cache. Callers must never assume a hit; every
// read path needs a fetch-on-miss fallback.
type Store interface {
	Get(key string) (any, bool)
	Put(key string, value any, ttl time.Duration)
	Invalidate(key string)
}
