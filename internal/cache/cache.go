// Package cache memoizes aggregation results keyed by query fingerprint.
//
// Correctness rests on two properties: at most one concurrent computation
// per fingerprint (singleflight), and monotonic per-type generations that
// make every cached entry for a type logically stale the moment a new
// event of that type is written, without enumerating entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/statlane/event-insights/internal/aggregate"
	"github.com/statlane/event-insights/internal/models"
	"github.com/statlane/event-insights/internal/timebucket"
)

// ComputeFunc performs the repository read plus aggregation on a miss.
type ComputeFunc func(ctx context.Context) (aggregate.Resultset, error)

type entry struct {
	results   aggregate.Resultset
	expiresAt time.Time
	// generations observed immediately before the compute started, so a
	// write racing the computation leaves the entry already stale.
	generations map[models.EventType]int64
}

// Cache is the shared result cache. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	group singleflight.Group
	gens  map[models.EventType]*atomic.Int64

	nowFn func() time.Time
}

// New returns an empty cache with one generation counter per event type.
func New() *Cache {
	gens := make(map[models.EventType]*atomic.Int64)
	for _, et := range models.AllEventTypes() {
		gens[et] = &atomic.Int64{}
	}
	return &Cache{
		entries: make(map[string]entry),
		gens:    gens,
		nowFn:   time.Now,
	}
}

// Invalidate bumps the generation for an event type. Every cached entry
// touching that type becomes stale on its next lookup.
func (c *Cache) Invalidate(et models.EventType) {
	if g, ok := c.gens[et]; ok {
		g.Add(1)
	}
}

// Generation returns the current generation for an event type.
func (c *Cache) Generation(et models.EventType) int64 {
	if g, ok := c.gens[et]; ok {
		return g.Load()
	}
	return 0
}

func (c *Cache) snapshot(types []models.EventType) map[models.EventType]int64 {
	out := make(map[models.EventType]int64, len(types))
	for _, et := range types {
		out[et] = c.Generation(et)
	}
	return out
}

// lookup returns the entry for fp iff it is generation-current and not
// past its TTL. Anything else counts as a miss; the stale entry is left
// in place to be overwritten by the recompute (lazy eviction).
func (c *Cache) lookup(fp string) (aggregate.Resultset, bool) {
	c.mu.RLock()
	e, ok := c.entries[fp]
	c.mu.RUnlock()
	if !ok || c.nowFn().After(e.expiresAt) {
		return nil, false
	}
	for et, gen := range e.generations {
		if c.Generation(et) != gen {
			return nil, false
		}
	}
	return e.results, true
}

// GetOrCompute returns the cached result for fp, or runs computeFn under a
// per-fingerprint single flight. The boolean reports whether this call was
// served without triggering a computation: direct cache hits and waiters
// that joined another caller's in-flight computation are hits; only the
// one caller whose computeFn actually ran is a miss.
//
// Concurrent callers during a miss share one computation. A caller whose
// ctx is cancelled abandons the wait; the in-flight computation and its
// other waiters are unaffected.
func (c *Cache) GetOrCompute(ctx context.Context, fp string, types []models.EventType, ttl time.Duration, computeFn ComputeFunc) (aggregate.Resultset, bool, error) {
	if rs, ok := c.lookup(fp); ok {
		return rs, true, nil
	}

	// computed is only ever written by this caller's own closure, which
	// singleflight runs iff this caller leads the flight.
	computed := false
	ch := c.group.DoChan(fp, func() (interface{}, error) {
		// A queued waiter may arrive just after the previous flight
		// stored a fresh entry; don't recompute in that case.
		if rs, ok := c.lookup(fp); ok {
			return rs, nil
		}
		computed = true

		gens := c.snapshot(types)
		// The flight outlives any individual caller's deadline.
		rs, err := computeFn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[fp] = entry{
			results:     rs,
			expiresAt:   c.nowFn().Add(ttl),
			generations: gens,
		}
		c.mu.Unlock()
		return rs, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(aggregate.Resultset), !computed, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Len reports how many entries are resident, stale ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fingerprint derives the deterministic cache key for a logical query.
// Filter tags are sorted so identical queries hash identically regardless
// of input ordering.
func Fingerprint(et models.EventType, g timebucket.Granularity, start, end time.Time, filters map[string]string) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%d", et, g, start.UTC().Unix(), end.UTC().Unix())
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, filters[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
