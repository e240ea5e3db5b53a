// Package cache is the time-bounded result cache: an in-memory L1 with
// lazy expiry and max-entry eviction, plus an optional persistent L2
// store (Redis or SQLite). Keys are order-independent over the source
// set and normalized over the query, so identical requests hit the
// same record.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkotenko/vidseek/internal/listing"
)

// ErrNotFound is returned by stores when a key is absent or expired.
var ErrNotFound = errors.New("cache: not found")

// Store is the optional second cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Record is one cached search outcome.
type Record struct {
	Key       string               `json:"key"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
	Bundle    listing.SearchBundle `json:"bundle"`
}

// Stats describes the in-memory tier plus hit/miss counters.
type Stats struct {
	Total     int   `json:"total"`
	Active    int   `json:"active"`
	Expired   int   `json:"expired"`
	SizeBytes int64 `json:"size_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is safe for concurrent use. Concurrent identical misses are a
// tolerated race: both callers do upstream work and the last Set wins;
// individual Get/Set calls are atomic with respect to each other.
type Cache struct {
	l1         sync.Map // key → *entry
	store      Store    // nil = memory only
	ttl        time.Duration
	maxEntries int

	hits   atomic.Int64
	misses atomic.Int64

	stop chan struct{}
}

// New creates a cache with the given TTL and L1 capacity. store may be
// nil. sweepInterval > 0 starts a background goroutine reclaiming
// expired L1 entries; expiry is enforced lazily on Get regardless.
func New(ttl time.Duration, maxEntries int, store Store, sweepInterval time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c := &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		store:      store,
		stop:       make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Close stops the sweep goroutine and closes the L2 store.
func (c *Cache) Close() error {
	close(c.stop)
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Key builds a deterministic cache key: the query is lowercased and
// whitespace-normalized, source names are sorted, and the page number
// appended, so parameter order and spacing never split the cache.
func Key(query string, sources []string, page int) string {
	normQuery := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)

	joined := fmt.Sprintf("%s|%s|%d", normQuery, strings.Join(sorted, ","), page)
	hash := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("vs:%x", hash[:12])
}

// Get returns the cached record for the request, treating expired or
// unreadable records as absent. L2 hits repopulate L1.
func (c *Cache) Get(ctx context.Context, query string, sources []string, page int) (*Record, bool) {
	key := Key(query, sources, page)

	if val, ok := c.l1.Load(key); ok {
		e := val.(*entry)
		if time.Now().Before(e.expiresAt) {
			if rec := decodeRecord(e.data); rec != nil {
				c.hits.Add(1)
				return rec, true
			}
		}
		c.l1.Delete(key) // expired or corrupt
	}

	if c.store != nil {
		data, err := c.store.Get(ctx, key)
		switch {
		case err == nil:
			if rec := decodeRecord(data); rec != nil && time.Now().Before(rec.ExpiresAt) {
				c.l1.Store(key, &entry{data: data, expiresAt: rec.ExpiresAt})
				c.hits.Add(1)
				return rec, true
			}
		case !errors.Is(err, ErrNotFound):
			// Unreadable storage is a miss, not a failure.
			slog.Warn("cache: L2 read failed", slog.String("key", key), slog.Any("error", err))
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set stores a bundle for the request under the cache TTL.
func (c *Cache) Set(ctx context.Context, query string, sources []string, page int, bundle *listing.SearchBundle) {
	key := Key(query, sources, page)
	now := time.Now()
	rec := Record{
		Key:       key,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
		Bundle:    *bundle,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("cache: marshal failed", slog.String("key", key), slog.Any("error", err))
		return
	}

	c.evictIfFull()
	c.l1.Store(key, &entry{data: data, expiresAt: rec.ExpiresAt})

	if c.store != nil {
		if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
			slog.Warn("cache: L2 write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// Clear removes matching records. With an empty query and no sources
// it clears everything; otherwise it removes the record for that
// query/source set (first page), matching how entries are keyed.
func (c *Cache) Clear(ctx context.Context, query string, sources []string) {
	if query == "" && len(sources) == 0 {
		c.l1.Range(func(k, _ any) bool {
			c.l1.Delete(k)
			return true
		})
		if c.store != nil {
			if err := c.store.Clear(ctx); err != nil {
				slog.Warn("cache: L2 clear failed", slog.Any("error", err))
			}
		}
		slog.Info("cache: cleared all entries")
		return
	}

	key := Key(query, sources, 1)
	c.l1.Delete(key)
	if c.store != nil {
		if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("cache: L2 delete failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// Stats reports the current state of the in-memory tier.
func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	now := time.Now()
	c.l1.Range(func(_, v any) bool {
		e := v.(*entry)
		s.Total++
		s.SizeBytes += int64(len(e.data))
		if now.Before(e.expiresAt) {
			s.Active++
		} else {
			s.Expired++
		}
		return true
	})
	return s
}

// evictIfFull drops expired entries first, then arbitrary ones, until
// a slot is free. sync.Map range order is unspecified, which is
// acceptable for a bounded working set.
func (c *Cache) evictIfFull() {
	count := 0
	now := time.Now()
	var expired, live []any
	c.l1.Range(func(k, v any) bool {
		count++
		if now.After(v.(*entry).expiresAt) {
			expired = append(expired, k)
		} else {
			live = append(live, k)
		}
		return true
	})
	if count < c.maxEntries {
		return
	}
	over := count - c.maxEntries + 1
	for _, k := range expired {
		if over <= 0 {
			return
		}
		c.l1.Delete(k)
		over--
	}
	for _, k := range live {
		if over <= 0 {
			return
		}
		c.l1.Delete(k)
		over--
	}
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			removed := 0
			c.l1.Range(func(k, v any) bool {
				if now.After(v.(*entry).expiresAt) {
					c.l1.Delete(k)
					removed++
				}
				return true
			})
			if removed > 0 {
				slog.Debug("cache: sweep", slog.Int("removed", removed))
			}
		case <-c.stop:
			return
		}
	}
}

func decodeRecord(data []byte) *Record {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}
