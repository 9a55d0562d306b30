package query

import (
	"time"

	"github.com/writerr/changepipeline/internal/eventbus"
)

type cacheEntry struct {
	ids      []string
	expireAt time.Time
}

// ResultCache caches Builder.IDs() results keyed by Builder.Fingerprint,
// invalidated wholesale on any store mutation event.
type ResultCache struct {
	ttl     time.Duration
	entries map[string]cacheEntry
}

// NewResultCache constructs a cache with the given TTL and subscribes to
// the mutation topics that invalidate it.
func NewResultCache(ttl time.Duration, bus *eventbus.Bus) *ResultCache {
	c := &ResultCache{ttl: ttl, entries: make(map[string]cacheEntry)}
	for _, topic := range []eventbus.Topic{
		eventbus.TopicChangeAdmitted, eventbus.TopicChangeSuperseded,
		eventbus.TopicChangeAccepted, eventbus.TopicChangeRejected,
	} {
		bus.Subscribe(topic, func(eventbus.Event) error {
			c.Clear()
			return nil
		})
	}
	return c
}

// Get returns a cached id list for fingerprint if present and unexpired.
func (c *ResultCache) Get(fingerprint string, now time.Time) ([]string, bool) {
	e, ok := c.entries[fingerprint]
	if !ok || now.After(e.expireAt) {
		return nil, false
	}
	return e.ids, true
}

// Put stores ids under fingerprint with the cache's TTL starting at now.
func (c *ResultCache) Put(fingerprint string, ids []string, now time.Time) {
	c.entries[fingerprint] = cacheEntry{ids: ids, expireAt: now.Add(c.ttl)}
}

// Clear drops every cached entry.
func (c *ResultCache) Clear() {
	c.entries = make(map[string]cacheEntry)
}
