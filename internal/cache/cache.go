// Package cache holds small in-process caches, such as the per-run merchant
// match memo of the rule matcher.
package cache

// Cache is the read-through surface the callers depend on.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Len() int
}

// Stats counts lookups since the cache was created.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRatio is zero when nothing was looked up yet.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

var _ Cache[string, int] = (*LRU[string, int])(nil)
