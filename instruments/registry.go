// Package instruments caches option chains per (index, expiry bucket) so
// collection passes stay off the wire while an entry is fresh.
package instruments

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"optionflow/internal/metrics"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/provider"
)

// Fetcher is the slice of the provider the registry needs.
type Fetcher interface {
	Instruments(ctx context.Context, index string, expiry time.Time) (models.InstrumentList, error)
}

type entry struct {
	list      models.InstrumentList
	fetchedAt time.Time
}

// Registry memoizes instrument chains with a TTL. Concurrent refreshes of
// the same key coalesce into one upstream fetch, and a failed refresh falls
// back to the stale entry when one exists.
type Registry struct {
	fetcher Fetcher
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *logger.Entry
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group
}

func NewRegistry(fetcher Fetcher, ttl time.Duration, m *metrics.Metrics, log *logger.Log) *Registry {
	return &Registry{
		fetcher: fetcher,
		ttl:     ttl,
		metrics: m,
		log:     log.WithComponent("instrument_registry"),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

func cacheKey(index string, code models.ExpiryCode) string {
	return index + "|" + string(code)
}

// Get returns the chain for (index, expiry bucket). The second result is
// true when the data is stale, i.e. a refresh failed and an expired entry
// was served instead.
func (r *Registry) Get(ctx context.Context, index string, expiry models.Expiry) (models.InstrumentList, bool, error) {
	k := cacheKey(index, expiry.Code)

	r.mu.RLock()
	e := r.entries[k]
	r.mu.RUnlock()

	if e != nil && r.now().Sub(e.fetchedAt) < r.ttl {
		r.metrics.CacheHits.WithLabelValues(index).Inc()
		return e.list, false, nil
	}
	r.metrics.CacheMisses.WithLabelValues(index).Inc()

	executed := false
	v, err, _ := r.group.Do(k, func() (interface{}, error) {
		executed = true

		// A queued waiter may arrive after the flight it joined already
		// refreshed the entry.
		r.mu.RLock()
		cur := r.entries[k]
		r.mu.RUnlock()
		if cur != nil && r.now().Sub(cur.fetchedAt) < r.ttl {
			return cur.list, nil
		}

		list, ferr := r.fetcher.Instruments(ctx, index, expiry.Date)
		if ferr != nil {
			return nil, ferr
		}
		r.mu.Lock()
		r.entries[k] = &entry{list: list, fetchedAt: r.now()}
		r.mu.Unlock()
		return list, nil
	})
	if !executed && err == nil {
		r.metrics.CacheCoalesced.Inc()
	}

	if err != nil {
		if e != nil {
			r.metrics.CacheStale.WithLabelValues(index).Inc()
			r.log.WithError(err).WithFields(logger.Fields{
				"index":       index,
				"expiry_code": string(expiry.Code),
			}).Warn("instrument refresh failed, serving stale chain")
			return e.list, true, nil
		}
		return nil, false, provider.Unavailable("instruments", index, err)
	}
	return v.(models.InstrumentList), false, nil
}

// Invalidate drops every cached chain of the index. The next Get refetches.
func (r *Registry) Invalidate(index string) {
	r.mu.Lock()
	for k := range r.entries {
		if strings.HasPrefix(k, index+"|") {
			delete(r.entries, k)
		}
	}
	r.mu.Unlock()
	r.log.WithFields(logger.Fields{"index": index}).Info("instrument cache invalidated")
}
