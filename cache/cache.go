// Package cache keeps fetched map tiles in memory.
//
// A Cache serves tiles by display mode or provider. Concurrent requests for
// the same tile share a single fetch, failed fetches are retried once against
// the default provider, and entries expire after a maximum age.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/akhenakh/tilecache/provider"
)

// ErrTileUnavailable is returned when a tile could not be fetched
// from its provider nor from the fallback.
var ErrTileUnavailable = errors.New("tile unavailable")

const (
	DefaultMaxSize    = 800
	DefaultMaxAge     = 30 * time.Minute
	DefaultEvictBatch = 100
)

// Fetcher retrieves the raw bytes behind a tile URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// Cache is an in-memory tile cache with request deduplication.
type Cache struct {
	// mu guards store and pending together, registering a pending
	// call must happen in the same critical section as the miss.
	mu      sync.Mutex
	store   *store
	pending map[Key]*call

	fetcher Fetcher
	logger  log.Logger
	clock   clock

	logProviderUse bool
	seenProviders  sync.Map

	// loaderCtx outlives callers, a load is shared by all its waiters.
	//nolint:containedctx
	loaderCtx context.Context
	cancel    context.CancelFunc

	hits      atomic.Uint64
	misses    atomic.Uint64
	coalesced atomic.Uint64
	fetches   atomic.Uint64
	fallbacks atomic.Uint64
	failures  atomic.Uint64
}

// call is an in-flight load, done is closed once tile is set.
type call struct {
	done chan struct{}
	tile *Tile
}

type config struct {
	maxSize        int
	maxAge         time.Duration
	evictBatch     int
	logProviderUse bool
	clock          clock
}

// Option configures a Cache.
type Option func(*config)

// WithMaxSize sets the number of entries above which eviction starts.
func WithMaxSize(n int) Option {
	return func(c *config) { c.maxSize = n }
}

// WithMaxAge sets the age after which an entry is not served anymore.
func WithMaxAge(d time.Duration) Option {
	return func(c *config) { c.maxAge = d }
}

// WithEvictBatch sets how many entries below maxSize an eviction goes.
func WithEvictBatch(n int) Option {
	return func(c *config) { c.evictBatch = n }
}

// WithProviderLog logs the first use of every provider.
func WithProviderLog(enabled bool) Option {
	return func(c *config) { c.logProviderUse = enabled }
}

func withClock(cl clock) Option {
	return func(c *config) { c.clock = cl }
}

// New returns a Cache fetching tiles with fetcher.
func New(fetcher Fetcher, logger log.Logger, opts ...Option) *Cache {
	cfg := config{
		maxSize:    DefaultMaxSize,
		maxAge:     DefaultMaxAge,
		evictBatch: DefaultEvictBatch,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize <= 0 {
		cfg.maxSize = DefaultMaxSize
	}
	if cfg.maxAge <= 0 {
		cfg.maxAge = DefaultMaxAge
	}
	if cfg.evictBatch <= 0 {
		cfg.evictBatch = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Cache{
		store:          newStore(cfg.maxSize, cfg.maxAge, cfg.evictBatch, cfg.clock),
		pending:        make(map[Key]*call),
		fetcher:        fetcher,
		logger:         log.With(logger, "component", "cache"),
		clock:          cfg.clock,
		logProviderUse: cfg.logProviderUse,
		loaderCtx:      ctx,
		cancel:         cancel,
	}
}

// LoadTile returns the tile x, y, z for the provider displayed in mode.
func (c *Cache) LoadTile(ctx context.Context, mode provider.Mode, x, y, z int) (*Tile, error) {
	return c.load(ctx, KeyFor(provider.Resolve(mode).ID, x, y, z))
}

// LoadProvider returns the tile x, y, z from provider id.
func (c *Cache) LoadProvider(ctx context.Context, id provider.ID, x, y, z int) (*Tile, error) {
	return c.load(ctx, KeyFor(id, x, y, z))
}

// load serves key from the cache, joins the pending call for key,
// or starts a new one.
// If ctx is done before the tile is ready ctx.Err() is returned,
// the load itself goes on for the other waiters.
func (c *Cache) load(ctx context.Context, key Key) (*Tile, error) {
	c.mu.Lock()
	if e, ok := c.store.get(key); ok && !e.Loading && e.Tile != nil {
		c.mu.Unlock()
		c.hits.Add(1)

		return e.Tile, nil
	}

	cl, ok := c.pending[key]
	if ok {
		c.coalesced.Add(1)
	} else {
		c.misses.Add(1)
		cl = &call{done: make(chan struct{})}
		c.pending[key] = cl
		c.store.put(key, Entry{Loading: true, Timestamp: c.clock.Now()})

		go c.resolve(key, cl)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cl.done:
	}

	if cl.tile == nil {
		return nil, fmt.Errorf("%w: %s", ErrTileUnavailable, key)
	}

	return cl.tile, nil
}

// resolve fetches the tile for key, falling back once to the default
// provider, then publishes the result to the store and to the waiters.
func (c *Cache) resolve(key Key, cl *call) {
	p := provider.Lookup(key.Provider)

	t, err := c.fetchTile(p, key)
	if err != nil && p.ID != provider.Default {
		level.Debug(c.logger).Log(
			"msg", "tile failed, trying fallback provider",
			"key", key,
			"error", err,
		)
		c.fallbacks.Add(1)
		t, err = c.fetchTile(provider.Lookup(provider.Default), key)
	}

	now := c.clock.Now()
	entry := Entry{Tile: t, Timestamp: now}
	if err != nil {
		level.Debug(c.logger).Log("msg", "tile unavailable", "key", key, "error", err)
		c.failures.Add(1)
		entry = Entry{Err: true, Timestamp: now}
	}

	c.mu.Lock()
	// a Clear may have dropped this call, its result is then not stored
	if c.pending[key] == cl {
		delete(c.pending, key)
		c.store.put(key, entry)
	}
	cl.tile = t
	c.mu.Unlock()

	close(cl.done)
}

func (c *Cache) fetchTile(p provider.Provider, key Key) (*Tile, error) {
	url := p.URL(key.X, key.Y, key.Z)
	c.noteProvider(p, url)
	c.fetches.Add(1)

	data, ctype, err := c.fetcher.Fetch(c.loaderCtx, url)
	if err != nil {
		return nil, err
	}

	return decodeTile(data, ctype, p.ID)
}

func (c *Cache) noteProvider(p provider.Provider, sampleURL string) {
	if !c.logProviderUse {
		return
	}
	if _, seen := c.seenProviders.LoadOrStore(p.ID, struct{}{}); seen {
		return
	}

	level.Info(c.logger).Log(
		"msg", "using tile provider",
		"provider", p.ID,
		"name", p.Name,
		"sample_url", sampleURL,
	)
}

// IsLoaded reports whether a fresh tile for mode is cached.
func (c *Cache) IsLoaded(mode provider.Mode, x, y, z int) bool {
	_, ok := c.GetTile(mode, x, y, z)

	return ok
}

// IsLoading reports whether a load for the tile is in flight.
func (c *Cache) IsLoading(mode provider.Mode, x, y, z int) bool {
	key := KeyFor(provider.Resolve(mode).ID, x, y, z)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.pending[key]

	return ok
}

// GetTile returns the cached tile without triggering a load.
func (c *Cache) GetTile(mode provider.Mode, x, y, z int) (*Tile, bool) {
	key := KeyFor(provider.Resolve(mode).ID, x, y, z)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.store.get(key)
	if !ok || e.Loading || e.Tile == nil {
		return nil, false
	}

	return e.Tile, true
}

// Attribution returns the attribution text for the provider of mode.
func (c *Cache) Attribution(mode provider.Mode) string {
	return provider.Attribution(mode)
}

// Clear drops every entry and forgets in-flight loads.
// Running fetches are not aborted, their waiters still get the result
// but it is not stored.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.clear()
	c.pending = make(map[Key]*call)

	level.Info(c.logger).Log("msg", "cache cleared")
}

// Close aborts running fetches, the Cache should not be used afterward.
func (c *Cache) Close() {
	c.cancel()
}
