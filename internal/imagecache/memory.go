package imagecache

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jmgilman/go/catalog/internal/logging"
	"github.com/jmgilman/go/catalog/internal/metrics"
)

// memoryTier is an LRU bounded by entry count and by total bytes.
// Every mutation holds mu, so the byte total always matches the LRU contents.
type memoryTier struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, []byte]
	bytes      int64
	maxEntries int
	maxBytes   int64
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

func newMemoryTier(maxEntries int, maxBytes int64, logger *logging.Logger, m *metrics.Metrics) (*memoryTier, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("max entries must be positive, got %d", maxEntries)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}

	t := &memoryTier{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		logger:     logger,
		metrics:    m,
	}

	// The callback runs synchronously inside Add, Remove, RemoveOldest and
	// Purge, all of which are only called with mu held.
	entries, err := lru.NewWithEvict[string, []byte](maxEntries, func(_ string, value []byte) {
		t.bytes -= int64(len(value))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	t.entries = entries

	return t, nil
}

func (t *memoryTier) get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok := t.entries.Get(key)
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}

// add stores a copy of data under key and evicts least recently used entries until
// both limits hold. Values larger than the byte limit are not kept in memory.
func (t *memoryTier) add(ctx context.Context, key string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	size := int64(len(data))
	if size > t.maxBytes {
		t.entries.Remove(key)
		t.report()
		return
	}

	// Replacing a key does not fire the eviction callback.
	if old, ok := t.entries.Peek(key); ok {
		t.bytes -= int64(len(old))
	} else if t.entries.Len() >= t.maxEntries {
		t.evictOldest(ctx, "entry_limit")
	}

	t.bytes += size
	t.entries.Add(key, bytes.Clone(data))

	for t.bytes > t.maxBytes {
		if !t.evictOldest(ctx, "byte_limit") {
			break
		}
	}

	t.report()
}

// evictOldest must be called with mu held.
func (t *memoryTier) evictOldest(ctx context.Context, reason string) bool {
	key, value, ok := t.entries.RemoveOldest()
	if !ok {
		return false
	}
	t.metrics.RecordEviction()
	logging.LogEviction(ctx, t.logger, key, int64(len(value)), reason)
	return true
}

func (t *memoryTier) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(key)
	t.report()
}

func (t *memoryTier) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Purge()
	t.report()
}

func (t *memoryTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries.Len()
}

func (t *memoryTier) size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// report must be called with mu held.
func (t *memoryTier) report() {
	t.metrics.SetMemoryUsage(t.entries.Len(), t.bytes)
}
