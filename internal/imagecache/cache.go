// Package imagecache serves image bytes from memory, then disk, then network.
//
// The memory tier is a bounded LRU. The disk tier is a store namespace that
// is never evicted. On a miss in both tiers the image is fetched from its URL,
// checked to be a decodable image and committed to disk before memory.
// Concurrent lookups for the same key share one fetch.
//
// Mutations of a key (Put, Clear and the commit after a fetch) are serialized
// by a per-key mutex. Put and Clear advance the key's generation; a fetch that
// finishes after its key moved on hands its bytes to the waiting callers but
// does not write them to either tier.
package imagecache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmgilman/go/catalog/internal/logging"
	"github.com/jmgilman/go/catalog/internal/metrics"
	"github.com/jmgilman/go/catalog/internal/store"
	"github.com/jmgilman/go/catalog/internal/validate"
)

// Namespace is the store namespace holding image files.
const Namespace = "images"

const (
	// DefaultMaxEntries bounds the number of images held in memory.
	DefaultMaxEntries = 100
	// DefaultMaxBytes bounds the total size of images held in memory.
	DefaultMaxBytes int64 = 50 << 20
)

// Fetcher retrieves the raw bytes behind an image URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cache is a two-tier image cache with a network fallback.
type Cache struct {
	store   *store.Store
	fetcher Fetcher
	memory  *memoryTier
	flights singleflight.Group
	keys    sync.Map // map[string]*keyState
	logger  *logging.Logger
	metrics *metrics.Metrics

	maxEntries int
	maxBytes   int64
}

type keyState struct {
	mu         sync.Mutex
	generation uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the cache logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics sets the cache metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithMemoryLimits bounds the memory tier. Non-positive values keep the defaults.
func WithMemoryLimits(maxEntries int, maxBytes int64) Option {
	return func(c *Cache) {
		if maxEntries > 0 {
			c.maxEntries = maxEntries
		}
		if maxBytes > 0 {
			c.maxBytes = maxBytes
		}
	}
}

// New creates an image cache over st. A nil fetcher disables the network tier.
func New(st *store.Store, fetcher Fetcher, opts ...Option) (*Cache, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	c := &Cache{
		store:      st,
		fetcher:    fetcher,
		logger:     logging.NewNopLogger(),
		maxEntries: DefaultMaxEntries,
		maxBytes:   DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(c)
	}

	memory, err := newMemoryTier(c.maxEntries, c.maxBytes, c.logger, c.metrics)
	if err != nil {
		return nil, err
	}
	c.memory = memory

	return c, nil
}

func (c *Cache) state(key string) *keyState {
	st, _ := c.keys.LoadOrStore(key, &keyState{})
	return st.(*keyState)
}

func (c *Cache) generation(key string) uint64 {
	st := c.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.generation
}

// Cached returns a copy of the image stored under key from memory or disk.
// A disk hit is promoted into memory. The network is never consulted.
func (c *Cache) Cached(ctx context.Context, key string) ([]byte, bool) {
	logger := c.logger.WithOperation(logging.OpGetImage).WithKey(key)

	if err := validate.Key(key); err != nil {
		logging.LogCacheMiss(ctx, logger, logging.OpGetImage, "invalid_key")
		return nil, false
	}

	if data, ok := c.memory.get(key); ok {
		c.metrics.RecordLookup(metrics.TierMemory, true)
		logging.LogCacheHit(ctx, logger, logging.OpGetImage, metrics.TierMemory, int64(len(data)))
		return data, true
	}
	c.metrics.RecordLookup(metrics.TierMemory, false)

	gen := c.generation(key)
	data, ok := store.Load[[]byte](ctx, c.store, Namespace, key)
	if !ok {
		c.metrics.RecordLookup(metrics.TierDisk, false)
		return nil, false
	}
	c.metrics.RecordLookup(metrics.TierDisk, true)
	logging.LogCacheHit(ctx, logger, logging.OpGetImage, metrics.TierDisk, int64(len(data)))

	st := c.state(key)
	st.mu.Lock()
	if st.generation == gen {
		c.memory.add(ctx, key, data)
	}
	st.mu.Unlock()

	return data, true
}

// Get returns the image for key, fetching it from url when neither tier has
// it. The returned slice belongs to the caller. Concurrent calls for the same key share a single fetch. A caller whose
// context ends stops waiting; the fetch itself runs to completion.
func (c *Cache) Get(ctx context.Context, key, url string) ([]byte, bool) {
	if data, ok := c.Cached(ctx, key); ok {
		return data, true
	}
	if c.fetcher == nil || url == "" || validate.Key(key) != nil {
		return nil, false
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.fetch(fetchCtx, key, url)
	})

	select {
	case res := <-ch:
		c.metrics.RecordLookup(metrics.TierNetwork, res.Err == nil)
		if res.Err != nil {
			return nil, false
		}
		if res.Shared {
			c.metrics.RecordFetch(metrics.FetchShared)
		}
		return bytes.Clone(res.Val.([]byte)), true
	case <-ctx.Done():
		logging.LogCacheMiss(ctx, c.logger.WithKey(key), logging.OpFetchImage, "caller_cancelled")
		return nil, false
	}
}

// fetch downloads and commits one image. It runs at most once per key at a time.
func (c *Cache) fetch(ctx context.Context, key, url string) ([]byte, error) {
	logger := c.logger.WithOperation(logging.OpFetchImage).WithKey(key)
	start := time.Now()
	gen := c.generation(key)

	// A flight that finished just before this one started may have committed.
	if data, ok := c.memory.get(key); ok {
		return data, nil
	}
	if exists, err := c.store.Exists(ctx, Namespace, key); err == nil && exists {
		if data, ok := store.Load[[]byte](ctx, c.store, Namespace, key); ok {
			return data, nil
		}
	}

	data, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		c.metrics.RecordFetch(metrics.FetchFailure)
		logging.LogCacheOperation(ctx, logger, logging.OpFetchImage, time.Since(start), false, 0, err)
		return nil, err
	}
	if err := validateImage(data); err != nil {
		c.metrics.RecordFetch(metrics.FetchInvalid)
		logging.LogCacheOperation(ctx, logger, logging.OpFetchImage, time.Since(start), false, int64(len(data)), err)
		return nil, err
	}

	st := c.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.generation != gen {
		c.metrics.RecordFetch(metrics.FetchDiscarded)
		logger.Debug(ctx, "discarding fetch result for key changed during fetch")
		return data, nil
	}

	// Disk before memory, so nothing is ever in memory alone.
	if err := c.store.Write(ctx, Namespace, key, data); err != nil {
		c.metrics.RecordStoreError(string(logging.OpPutImage))
		logger.Warn(ctx, "failed to persist fetched image", "error", err)
	} else {
		c.memory.add(ctx, key, data)
	}

	c.metrics.RecordFetch(metrics.FetchSuccess)
	logging.LogCacheOperation(ctx, logger, logging.OpFetchImage, time.Since(start), true, int64(len(data)), nil)
	return data, nil
}

// Put stores data under key in both tiers, replacing any previous image.
// A fetch for key that is still in flight will not overwrite it.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	if err := validate.Key(key); err != nil {
		return err
	}

	st := c.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.generation++
	c.flights.Forget(key)

	if err := c.store.Write(ctx, Namespace, key, data); err != nil {
		c.memory.remove(key)
		return fmt.Errorf("failed to store image %q: %w", key, err)
	}
	c.memory.add(ctx, key, data)

	logging.LogCacheOperation(ctx, c.logger.WithKey(key), logging.OpPutImage, 0, true, int64(len(data)), nil)
	return nil
}

// Clear removes key from both tiers. A fetch for key that is still in flight
// will not repopulate it, and the next Get starts a new fetch.
func (c *Cache) Clear(ctx context.Context, key string) error {
	if err := validate.Key(key); err != nil {
		return err
	}

	st := c.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.generation++
	c.flights.Forget(key)
	c.memory.remove(key)

	if err := c.store.Remove(ctx, Namespace, key); err != nil {
		return fmt.Errorf("failed to clear image %q: %w", key, err)
	}

	c.logger.WithOperation(logging.OpClearImage).WithKey(key).Debug(ctx, "image cleared")
	return nil
}

// Purge empties the memory tier. Images on disk are kept.
func (c *Cache) Purge() {
	c.memory.purge()
}

// Len returns the number of images held in memory.
func (c *Cache) Len() int {
	return c.memory.len()
}

// MemoryBytes returns the total size of the images held in memory.
func (c *Cache) MemoryBytes() int64 {
	return c.memory.size()
}
