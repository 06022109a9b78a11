// Package cache memoizes extracted API surfaces.
//
// Entries are keyed by (package, version, strategy), bounded by an LRU
// capacity and revalidated on every hit against the artifact's freshness
// token. Concurrent requests for the same key share one computation.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/emenda-labs/apidelta/core/apierr"
	"github.com/emenda-labs/apidelta/core/surface"
)

const (
	DefaultCapacity       = 128
	DefaultComputeTimeout = 2 * time.Minute
)

// Key identifies one cached surface.
type Key struct {
	Package  string
	Version  string
	Strategy surface.Strategy
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s#%s", k.Package, k.Version, k.Strategy)
}

// ComputeFunc produces a surface on a miss.
type ComputeFunc func(ctx context.Context) (*surface.APISurface, error)

// entry is one cached surface. lruElement holds the entry's Key.
type entry struct {
	key           Key
	surface       *surface.APISurface
	token         string
	lastValidated time.Time
	lruElement    *list.Element

	// gen orders computations by start. A surface for another token
	// never replaces one whose computation started later.
	gen int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries       int
	Capacity      int
	Hits          int64
	Misses        int64
	Evictions     int64
	Invalidations int64
	Computations  int64
	StoreErrors   int64
}

// Option configures a SurfaceCache.
type Option func(*options)

type options struct {
	capacity       int
	computeTimeout time.Duration
	store          Store
	logger         *slog.Logger
	now            func() time.Time
}

// WithCapacity bounds the number of in-memory entries.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithComputeTimeout bounds a single computation. The bound applies even
// when every waiting caller has gone away.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *options) { o.computeTimeout = d }
}

// WithStore adds a persistent second tier.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger sets the logger used for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// SurfaceCache is safe for concurrent use. One mutex guards the entry map
// and the LRU list; computations run outside it.
type SurfaceCache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	lru     *list.List
	flight  singleflight.Group
	options options

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
	computations  int64
	storeErrors   int64
	generation    int64
}

// New creates a SurfaceCache with the given options.
func New(opts ...Option) *SurfaceCache {
	o := options{
		capacity:       DefaultCapacity,
		computeTimeout: DefaultComputeTimeout,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.capacity <= 0 {
		o.capacity = DefaultCapacity
	}
	return &SurfaceCache{
		entries: make(map[Key]*entry),
		lru:     list.New(),
		options: o,
	}
}

// GetOrCompute returns the cached surface for key when its freshness token
// still matches, and otherwise runs compute once for all concurrent callers.
// It fails only with compute's error or the caller's own context error; a
// caller that gives up does not cancel the shared computation, which still
// populates the cache.
func (c *SurfaceCache) GetOrCompute(ctx context.Context, key Key, token string, compute ComputeFunc) (*surface.APISurface, error) {
	if s, ok := c.lookup(key, token); ok {
		return s, nil
	}

	flightKey := key.String() + "\x00" + token
	ch := c.flight.DoChan(flightKey, func() (interface{}, error) {
		// Another flight may have finished between lookup and DoChan.
		if s, ok := c.peek(key, token); ok {
			return s, nil
		}
		if s, ok := c.load(key, token); ok {
			return s, nil
		}
		return c.computeAndCache(ctx, key, token, compute)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*surface.APISurface), nil
	}
}

// lookup is the fast path. A stale token discards the entry.
func (c *SurfaceCache) lookup(key Key, token string) (*surface.APISurface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		cacheMisses.Inc()
		return nil, false
	}
	if e.token != token {
		c.removeLocked(e)
		atomic.AddInt64(&c.invalidations, 1)
		atomic.AddInt64(&c.misses, 1)
		cacheInvalidations.WithLabelValues("freshness").Inc()
		cacheMisses.Inc()
		return nil, false
	}
	e.lastValidated = c.options.now()
	c.lru.MoveToFront(e.lruElement)
	atomic.AddInt64(&c.hits, 1)
	cacheHits.Inc()
	return e.surface, true
}

// peek checks memory without touching counters.
func (c *SurfaceCache) peek(key Key, token string) (*surface.APISurface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.token == token {
		c.lru.MoveToFront(e.lruElement)
		return e.surface, true
	}
	return nil, false
}

// load consults the persistent store. Failures degrade to a miss.
func (c *SurfaceCache) load(key Key, token string) (*surface.APISurface, bool) {
	if c.options.store == nil {
		return nil, false
	}
	stored, ok, err := c.options.store.Load(key)
	if err != nil {
		c.storeFailed("load", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if stored.Token != token {
		atomic.AddInt64(&c.invalidations, 1)
		cacheInvalidations.WithLabelValues("freshness").Inc()
		if err := c.options.store.Delete(key); err != nil {
			c.storeFailed("delete", key, err)
		}
		return nil, false
	}
	if stored.Surface == nil {
		return nil, false
	}
	c.insert(key, token, stored.Surface, atomic.AddInt64(&c.generation, 1))
	storeHits.Inc()
	return stored.Surface, true
}

func (c *SurfaceCache) computeAndCache(ctx context.Context, key Key, token string, compute ComputeFunc) (*surface.APISurface, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.options.computeTimeout)
	defer cancel()

	gen := atomic.AddInt64(&c.generation, 1)
	atomic.AddInt64(&c.computations, 1)
	start := time.Now()
	s, err := compute(cctx)
	computeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		cacheComputations.WithLabelValues("error").Inc()
		return nil, err
	}
	if s == nil {
		cacheComputations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("computing %s: no surface returned", key)
	}
	cacheComputations.WithLabelValues("ok").Inc()

	if !c.insert(key, token, s, gen) {
		return s, nil
	}
	if c.options.store != nil {
		err := c.options.store.Save(key, StoredEntry{
			Token:       token,
			ValidatedAt: c.options.now().UTC(),
			Surface:     s,
		})
		if err != nil {
			c.storeFailed("save", key, err)
		}
	}
	return s, nil
}

// insert stores s under key and reports whether it did. It keeps an entry
// for a different token whose computation started after gen.
func (c *SurfaceCache) insert(key Key, token string, s *surface.APISurface, gen int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if e.token != token && e.gen > gen {
			return false
		}
		e.surface = s
		e.token = token
		e.gen = gen
		e.lastValidated = c.options.now()
		c.lru.MoveToFront(e.lruElement)
		return true
	}

	c.evictIfNeededLocked()
	e := &entry{
		key:           key,
		surface:       s,
		token:         token,
		lastValidated: c.options.now(),
		gen:           gen,
	}
	e.lruElement = c.lru.PushFront(key)
	c.entries[key] = e
	c.checkLocked("insert")
	return true
}

// evictIfNeededLocked makes room for one more entry (must hold lock).
func (c *SurfaceCache) evictIfNeededLocked() {
	for len(c.entries) >= c.options.capacity {
		back := c.lru.Back()
		if back == nil {
			panic(&apierr.CacheError{Op: "evict", Msg: fmt.Sprintf("%d entries but empty LRU list", len(c.entries))})
		}
		key, ok := back.Value.(Key)
		if !ok {
			panic(&apierr.CacheError{Op: "evict", Msg: fmt.Sprintf("unexpected LRU value %T", back.Value)})
		}
		e, ok := c.entries[key]
		if !ok {
			panic(&apierr.CacheError{Op: "evict", Msg: "LRU key " + key.String() + " has no entry"})
		}
		c.removeLocked(e)
		atomic.AddInt64(&c.evictions, 1)
		cacheEvictions.Inc()
	}
}

// removeLocked removes an entry (must hold lock).
func (c *SurfaceCache) removeLocked(e *entry) {
	if e.lruElement != nil {
		c.lru.Remove(e.lruElement)
	}
	delete(c.entries, e.key)
}

// checkLocked verifies the map and LRU list agree. A mismatch is a bug in
// this package, never a runtime condition.
func (c *SurfaceCache) checkLocked(op string) {
	if len(c.entries) != c.lru.Len() {
		panic(&apierr.CacheError{Op: op, Msg: fmt.Sprintf("%d entries but %d LRU elements", len(c.entries), c.lru.Len())})
	}
	if len(c.entries) > c.options.capacity {
		panic(&apierr.CacheError{Op: op, Msg: fmt.Sprintf("%d entries exceeds capacity %d", len(c.entries), c.options.capacity)})
	}
}

// Invalidate removes every strategy of package@version from memory and
// from the store.
func (c *SurfaceCache) Invalidate(pkg, version string) {
	keys := []Key{
		{Package: pkg, Version: version, Strategy: surface.StrategyLive},
		{Package: pkg, Version: version, Strategy: surface.StrategyStatic},
	}

	c.mu.Lock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			c.removeLocked(e)
			atomic.AddInt64(&c.invalidations, 1)
			cacheInvalidations.WithLabelValues("explicit").Inc()
		}
	}
	c.checkLocked("invalidate")
	c.mu.Unlock()

	if c.options.store == nil {
		return
	}
	for _, k := range keys {
		if err := c.options.store.Delete(k); err != nil {
			c.storeFailed("delete", k, err)
		}
	}
}

// LastValidated reports when key was last confirmed fresh.
func (c *SurfaceCache) LastValidated(key Key) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.lastValidated, true
	}
	return time.Time{}, false
}

// Stats returns current cache statistics.
func (c *SurfaceCache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Entries:       n,
		Capacity:      c.options.capacity,
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Evictions:     atomic.LoadInt64(&c.evictions),
		Invalidations: atomic.LoadInt64(&c.invalidations),
		Computations:  atomic.LoadInt64(&c.computations),
		StoreErrors:   atomic.LoadInt64(&c.storeErrors),
	}
}

// Close releases the persistent store, if any.
func (c *SurfaceCache) Close() error {
	if c.options.store == nil {
		return nil
	}
	return c.options.store.Close()
}

func (c *SurfaceCache) storeFailed(op string, key Key, err error) {
	atomic.AddInt64(&c.storeErrors, 1)
	storeErrors.WithLabelValues(op).Inc()
	c.options.logger.Warn("surface store failure, treating as miss",
		slog.String("op", op),
		slog.String("key", key.String()),
		slog.String("error", err.Error()),
	)
}
