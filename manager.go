package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmgilman/go/fs/billy"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/go/catalog/internal/imagecache"
	"github.com/jmgilman/go/catalog/internal/logging"
	"github.com/jmgilman/go/catalog/internal/metrics"
	"github.com/jmgilman/go/catalog/internal/model"
	"github.com/jmgilman/go/catalog/internal/remote"
	"github.com/jmgilman/go/catalog/internal/store"
)

// itemsNamespace is the store namespace holding item collections.
const itemsNamespace = "items"

// Stats is a point-in-time view of the cache counters.
type Stats = metrics.Snapshot

// Manager is the entry point to the cache. It owns the item collections, the
// image cache and the refresh sequence. Create one per cache directory with
// New and share it; it is safe for concurrent use.
type Manager struct {
	config    Config
	store     *store.Store
	images    *imagecache.Cache
	source    Source
	logger    *logging.Logger
	metrics   *metrics.Metrics
	refreshes *refreshTracker
	closed    atomic.Bool
}

// New creates a Manager.
//
// Example usage:
//
//	m, err := New(
//	    WithCacheDir("/var/cache/recipes"),
//	    WithMemoryLimits(200, 64<<20),
//	)
//	if err != nil {
//	    return err
//	}
func New(opts ...Option) (*Manager, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	cfg := options.Config
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	options.Config = cfg

	logger, err := options.logger()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if options.FS == nil {
		options.FS = billy.NewLocal()
	}

	m := &Manager{
		config:    cfg,
		logger:    logger,
		metrics:   metrics.New(options.Registerer),
		refreshes: newRefreshTracker(),
	}

	m.store, err = store.New(options.FS, cfg.CacheDir,
		store.WithLogger(logger),
		store.WithMetrics(m.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache directory: %w", err)
	}

	m.source = options.Source
	fetcher := options.Fetcher
	if m.source == nil || fetcher == nil {
		client := remote.NewClient(
			remote.WithBaseURL(cfg.BaseURL),
			remote.WithTimeout(cfg.HTTPTimeout),
			remote.WithHTTPClient(options.HTTPClient),
			remote.WithMaxImageBytes(cfg.MaxImageBytes),
			remote.WithLogger(logger),
		)
		if m.source == nil {
			m.source = client
		}
		if fetcher == nil {
			fetcher = client
		}
	}

	m.images, err = imagecache.New(m.store, fetcher,
		imagecache.WithLogger(logger),
		imagecache.WithMetrics(m.metrics),
		imagecache.WithMemoryLimits(cfg.MemoryEntries, cfg.MemoryBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	logger.Debug(context.Background(), "cache manager ready",
		"cache_dir", cfg.CacheDir,
		"memory_entries", cfg.MemoryEntries,
		"memory_bytes", cfg.MemoryBytes)

	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// CacheItems stores items as the collection for selector, replacing it.
func (m *Manager) CacheItems(ctx context.Context, items []Item, selector Selector) error {
	mu := m.refreshes.lock(selector)
	mu.Lock()
	defer mu.Unlock()

	if items == nil {
		items = []Item{}
	}
	if err := store.Save(ctx, m.store, itemsNamespace, selector.CacheKey(), items); err != nil {
		return fmt.Errorf("failed to cache items for %s: %w", selector, err)
	}
	return nil
}

// LoadCachedItems returns the collection stored for selector. The result is
// empty, never nil, when nothing usable is stored.
func (m *Manager) LoadCachedItems(ctx context.Context, selector Selector) []Item {
	return m.loadItems(ctx, selector)
}

func (m *Manager) loadItems(ctx context.Context, selector Selector) []Item {
	logger := m.logger.WithOperation(logging.OpLoadItems).WithSelector(selector.String())
	items, ok := store.Load[[]Item](ctx, m.store, itemsNamespace, selector.CacheKey())
	if !ok || items == nil {
		logging.LogCacheMiss(ctx, logger, logging.OpLoadItems, "no_collection")
		return []Item{}
	}
	logger.Debug(ctx, "loaded cached items", "items", len(items))
	return items
}

// ClearItems deletes the collection stored for selector.
func (m *Manager) ClearItems(ctx context.Context, selector Selector) error {
	mu := m.refreshes.lock(selector)
	mu.Lock()
	defer mu.Unlock()

	if err := m.store.Remove(ctx, itemsNamespace, selector.CacheKey()); err != nil {
		m.metrics.RecordStoreError(string(logging.OpClearItems))
		return fmt.Errorf("failed to clear items for %s: %w", selector, err)
	}
	m.refreshes.set(selector, StateIdle)
	m.logger.WithOperation(logging.OpClearItems).WithSelector(selector.String()).
		Debug(ctx, "cleared cached items")
	return nil
}

// CacheImage stores image bytes under key in memory and on disk.
func (m *Manager) CacheImage(ctx context.Context, data []byte, key string) error {
	return m.images.Put(ctx, key, data)
}

// CachedImage returns the image stored under key without touching the network.
func (m *Manager) CachedImage(ctx context.Context, key string) ([]byte, bool) {
	return m.images.Cached(ctx, key)
}

// ClearImageCache removes the image stored under key from memory and disk.
func (m *Manager) ClearImageCache(ctx context.Context, key string) error {
	return m.images.Clear(ctx, key)
}

// Image returns one of item's images, downloading it when it is not cached.
func (m *Manager) Image(ctx context.Context, item Item, size ImageSize) ([]byte, bool) {
	return m.images.Get(ctx, model.ImageKey(item, size), model.ImageURL(item, size))
}

// PrefetchImages downloads the images of size for items that are not cached
// yet, a few at a time. A missing image is not an error; only ctx ending is.
func (m *Manager) PrefetchImages(ctx context.Context, items []Item, size ImageSize) error {
	logger := m.logger.WithOperation(logging.OpPrefetch)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.PrefetchConcurrency)

	var loaded atomic.Int64
	for _, item := range items {
		if model.ImageURL(item, size) == "" {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, ok := m.images.Get(gctx, model.ImageKey(item, size), model.ImageURL(item, size)); ok {
				loaded.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	logger.Debug(ctx, "prefetch finished",
		"requested", len(items),
		"loaded", loaded.Load(),
		"size", size.String(),
		"duration_ms", time.Since(start).Milliseconds())
	return err
}

// invalidateImages clears both images of an item whose reference changed.
func (m *Manager) invalidateImages(ctx context.Context, id string) {
	item := Item{ID: id}
	for _, size := range []ImageSize{ImageSmall, ImageLarge} {
		key := model.ImageKey(item, size)
		if err := m.images.Clear(ctx, key); err != nil {
			m.metrics.RecordStoreError(string(logging.OpClearImage))
			m.logger.WithKey(key).Warn(ctx, "failed to invalidate image", "error", err)
		}
	}
}

// Stats returns the cache counters.
func (m *Manager) Stats() Stats {
	return m.metrics.Snapshot()
}

// DiskUsage describes what the cache directory holds.
type DiskUsage struct {
	Root        string `json:"root"`
	Bytes       int64  `json:"bytes"`
	Collections int    `json:"collections"`
	Images      int    `json:"images"`
}

// DiskUsage walks the cache directory and reports its contents.
func (m *Manager) DiskUsage(ctx context.Context) (DiskUsage, error) {
	usage := DiskUsage{Root: m.store.Root()}

	size, err := m.store.Size(ctx)
	if err != nil {
		return usage, fmt.Errorf("failed to measure cache directory: %w", err)
	}
	usage.Bytes = size

	collections, err := m.store.Keys(ctx, itemsNamespace)
	if err != nil {
		return usage, fmt.Errorf("failed to list collections: %w", err)
	}
	usage.Collections = len(collections)

	images, err := m.store.Keys(ctx, imagecache.Namespace)
	if err != nil {
		return usage, fmt.Errorf("failed to list images: %w", err)
	}
	usage.Images = len(images)

	return usage, nil
}

// Close releases the memory tier. Data on disk is kept. Calling Close more
// than once is a no-op.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.images.Purge()
	m.logger.Debug(context.Background(), "cache manager closed")
	return nil
}
