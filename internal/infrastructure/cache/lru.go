package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ramfiaogusto/watchtower/internal/core"
	"github.com/ramfiaogusto/watchtower/pkg/metrics"
)

type entry struct {
	value   []byte
	expires time.Time
}

// TieredCache layers an in-process LRU cache (L1) in front of an arbitrary
// core.Cache (L2, typically Redis). Reads check L1 first; writes populate
// both tiers so a single-process deployment never pays the Redis round trip
// twice for the same normalized-HTML lookup within one capture cycle.
type TieredCache struct {
	l1 *lru.Cache[string, entry]
	l2 core.Cache

	metrics *metrics.CacheMetrics
}

// NewTieredCache returns a TieredCache with an L1 capacity of size entries.
func NewTieredCache(size int, l2 core.Cache) (*TieredCache, error) {
	if size <= 0 {
		size = 1024
	}

	t := &TieredCache{l2: l2}
	l1, err := lru.NewWithEvict[string, entry](size, func(_ string, _ entry) {
		if t.metrics != nil {
			t.metrics.EvictionsTotal.Inc()
		}
	})
	if err != nil {
		return nil, err
	}
	t.l1 = l1
	return t, nil
}

// WithMetrics attaches CacheMetrics so subsequent Get and Set calls
// record hit/miss/error counts labeled by tier; Delete records nothing. Returns t for chaining.
func (t *TieredCache) WithMetrics(m *metrics.CacheMetrics) *TieredCache {
	t.metrics = m
	return t
}

// Get implements core.Cache.Get.
func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if e, ok := t.l1.Get(key); ok {
		if e.expires.IsZero() || time.Now().Before(e.expires) {
			if t.metrics != nil {
				t.metrics.HitsTotal.WithLabelValues("l1").Inc()
			}
			return e.value, true, nil
		}
		t.l1.Remove(key)
	}
	if t.metrics != nil {
		t.metrics.MissesTotal.WithLabelValues("l1").Inc()
	}

	val, found, err := t.l2.Get(ctx, key)
	if err != nil {
		if t.metrics != nil {
			t.metrics.ErrorsTotal.WithLabelValues("l2", "read").Inc()
		}
		return val, found, err
	}
	if !found {
		if t.metrics != nil {
			t.metrics.MissesTotal.WithLabelValues("l2").Inc()
		}
		return val, found, nil
	}

	if t.metrics != nil {
		t.metrics.HitsTotal.WithLabelValues("l2").Inc()
	}
	t.l1.Add(key, entry{value: val})
	return val, true, nil
}

// Set implements core.Cache.Set.
func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		if t.metrics != nil {
			t.metrics.ErrorsTotal.WithLabelValues("l2", "write").Inc()
		}
		return err
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	t.l1.Add(key, e)
	return nil
}

// Delete implements core.Cache.Delete.
func (t *TieredCache) Delete(ctx context.Context, key string) error {
	t.l1.Remove(key)
	return t.l2.Delete(ctx, key)
}
