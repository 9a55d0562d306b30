package session

import (
	"bytes"
	"compress/gzip"
	"time"

	"github.com/writerr/changepipeline/internal/change"
)

// entry is one cached change, tracked for whichever eviction policy is
// configured.
type entry struct {
	change      *change.Change
	sizeBytes   int64
	lastAccess  time.Time
	accessCount int
	insertedAt  time.Time
	priority    int
	compressed  []byte // non-nil once this entry has been compressed away
}

// Cache bounds resident change bodies by byte budget, evicting per the
// configured strategy under pressure. Eviction never touches Pending
// changes (spec: "Eviction never affects Pending changes; only terminal
// changes are candidates").
type Cache struct {
	cfg       Config
	entries   map[string]*entry
	usedBytes int64
	ttl       time.Duration
}

// NewCache constructs a Cache bound to cfg, with a default 30-minute TTL
// for the TTL strategy.
func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg, entries: make(map[string]*entry), ttl: 30 * time.Minute}
}

func approxSize(c *change.Change) int64 {
	return int64(len(c.Content.Before) + len(c.Content.After) + 256)
}

// Put registers or refreshes c in the cache.
func (c *Cache) Put(ch *change.Change, now time.Time) {
	size := approxSize(ch)
	if existing, ok := c.entries[ch.ID]; ok {
		c.usedBytes -= existing.sizeBytes
	}
	c.entries[ch.ID] = &entry{
		change:      ch,
		sizeBytes:   size,
		lastAccess:  now,
		insertedAt:  now,
		accessCount: 1,
		priority:    ch.Priority,
	}
	c.usedBytes += size
}

// Touch records an access for LRU/LFU bookkeeping.
func (c *Cache) Touch(id string, now time.Time) {
	if e, ok := c.entries[id]; ok {
		e.lastAccess = now
		e.accessCount++
	}
}

// Pressure classifies current usage against cfg's thresholds.
func (c *Cache) Pressure() MemoryPressure {
	if c.cfg.MaxCacheBytes <= 0 {
		return PressureNormal
	}
	switch {
	case c.usedBytes >= c.cfg.MaxCacheBytes:
		return PressureCritical
	case c.cfg.LowMemoryThresholdBytes > 0 && c.usedBytes >= c.cfg.LowMemoryThresholdBytes:
		return PressureHigh
	default:
		return PressureNormal
	}
}

// Evict runs eviction under High/Critical pressure, freeing bytes from
// terminal (non-Pending) entries only until back under budget or no more
// candidates remain. Evicted bodies whose size exceeds
// CompressionThresholdBytes are compressed in place rather than dropped
// (spec: "large change bodies may be compressed to a byte blob
// (content-preserving)").
func (c *Cache) Evict(now time.Time) (evicted, compressed int) {
	if c.Pressure() == PressureNormal {
		return 0, 0
	}

	candidates := c.evictionCandidates()
	for _, id := range candidates {
		if c.usedBytes < c.cfg.MaxCacheBytes {
			break
		}
		e := c.entries[id]
		if e.compressed != nil {
			continue
		}
		if e.sizeBytes >= int64(c.cfg.CompressionThresholdBytes) {
			blob, err := compressChange(e.change)
			if err == nil {
				c.usedBytes -= e.sizeBytes
				e.compressed = blob
				e.sizeBytes = int64(len(blob))
				c.usedBytes += e.sizeBytes
				compressed++
				continue
			}
		}
		c.usedBytes -= e.sizeBytes
		delete(c.entries, id)
		evicted++
	}
	return evicted, compressed
}

// evictionCandidates returns terminal-status entry ids ordered by the
// configured strategy's eviction priority (first = evict first).
func (c *Cache) evictionCandidates() []string {
	var ids []string
	for id, e := range c.entries {
		if e.change.Status == change.StatusPending {
			continue
		}
		ids = append(ids, id)
	}

	switch c.cfg.CacheStrategy {
	case CacheLFU:
		sortByLess(ids, func(a, b string) bool {
			return c.entries[a].accessCount < c.entries[b].accessCount
		})
	case CacheTTL:
		sortByLess(ids, func(a, b string) bool {
			return c.entries[a].insertedAt.Before(c.entries[b].insertedAt)
		})
	case CachePriority:
		sortByLess(ids, func(a, b string) bool {
			return c.entries[a].priority > c.entries[b].priority // higher number = lower priority, evicted first
		})
	default: // LRU
		sortByLess(ids, func(a, b string) bool {
			return c.entries[a].lastAccess.Before(c.entries[b].lastAccess)
		})
	}
	return ids
}

func sortByLess(ids []string, less func(a, b string) bool) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && less(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// compressChange gzips a JSON-free, content-preserving byte blob of the
// change's before/after bodies.
func compressChange(c *change.Change) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(c.Content.Before)); err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(c.Content.After)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
