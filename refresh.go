package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/jmgilman/go/catalog/internal/logging"
	"github.com/jmgilman/go/catalog/internal/store"
)

// RefreshState is a step of the refresh sequence.
type RefreshState int

// Refresh states in the order a refresh passes through them. Ready and
// Degraded are terminal; the next refresh starts again from LoadingCache.
const (
	StateIdle RefreshState = iota
	StateLoadingCache
	StateFetching
	StateMerging
	StatePersisting
	StateReady
	StateDegraded
)

func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingCache:
		return "loading_cache"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StatePersisting:
		return "persisting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// RefreshResult is the outcome of one refresh.
type RefreshResult struct {
	// Items is the merged collection, or the cached one when the fetch failed.
	Items []Item
	// State is Ready or Degraded.
	State RefreshState
	// FromCache is the number of cached items available before the fetch.
	FromCache int
	// Added, Updated and Invalidated count the changes made by the merge.
	MergeStats
}

// refreshTracker serializes refreshes per selector and records their state.
type refreshTracker struct {
	locks  sync.Map // map[Selector]*sync.Mutex
	mu     sync.RWMutex
	states map[Selector]RefreshState
}

func newRefreshTracker() *refreshTracker {
	return &refreshTracker{states: make(map[Selector]RefreshState)}
}

func (t *refreshTracker) lock(selector Selector) *sync.Mutex {
	mu, _ := t.locks.LoadOrStore(selector, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (t *refreshTracker) set(selector Selector, state RefreshState) {
	t.mu.Lock()
	t.states[selector] = state
	t.mu.Unlock()
}

func (t *refreshTracker) get(selector Selector) RefreshState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[selector]
}

// Refresh loads the cached collection for selector, fetches the remote list,
// merges it into the cached one and persists the result.
//
// onCached, when non-nil, is called with the cached collection before the
// fetch starts, provided it is not empty. It runs outside the selector lock,
// so it may cache or clear items for the same selector; the merge then uses
// whatever is stored once the lock is taken. When the fetch fails the returned
// result still carries the cached collection, in state Degraded, together
// with a *RefreshError.
//
// Refreshes of the same selector run one at a time. If ctx ends first, Refresh
// returns ctx.Err() while the refresh runs to completion in the background.
func (m *Manager) Refresh(ctx context.Context, selector Selector, onCached func([]Item)) (RefreshResult, error) {
	type outcome struct {
		result RefreshResult
		err    error
	}

	done := make(chan outcome, 1)
	work := context.WithoutCancel(ctx)
	go func() {
		result, err := m.refresh(work, selector, onCached)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return RefreshResult{State: m.State(selector)}, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context, selector Selector, onCached func([]Item)) (RefreshResult, error) {
	logger := m.logger.WithOperation(logging.OpRefresh).WithSelector(selector.String())
	start := time.Now()

	if onCached != nil {
		if shown := m.loadItems(ctx, selector); len(shown) > 0 {
			onCached(shown)
		}
	}

	mu := m.refreshes.lock(selector)
	mu.Lock()
	defer mu.Unlock()

	m.refreshes.set(selector, StateLoadingCache)
	cached := m.loadItems(ctx, selector)
	result := RefreshResult{Items: cached, FromCache: len(cached)}

	m.refreshes.set(selector, StateFetching)
	fetched, err := m.source.FetchItems(ctx, selector)
	if err != nil {
		result.State = m.finish(selector, StateDegraded)
		logger.Warn(ctx, "refresh degraded to cached items",
			"cached", len(cached),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return result, &RefreshError{Selector: selector, Err: err}
	}

	m.refreshes.set(selector, StateMerging)
	merged, stats := merge(cached, fetched, func(id string) {
		m.invalidateImages(ctx, id)
	})
	m.metrics.RecordMerge(stats.Added, stats.Updated, stats.Invalidated)

	m.refreshes.set(selector, StatePersisting)
	if err := store.Save(ctx, m.store, itemsNamespace, selector.CacheKey(), merged); err != nil {
		m.metrics.RecordStoreError(string(logging.OpSaveItems))
		logger.Warn(ctx, "failed to persist merged items", "error", err)
	}

	result.Items = merged
	result.MergeStats = stats
	result.State = m.finish(selector, StateReady)

	logger.Info(ctx, "refresh completed",
		"items", len(merged),
		"added", stats.Added,
		"updated", stats.Updated,
		"invalidated", stats.Invalidated,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (m *Manager) finish(selector Selector, state RefreshState) RefreshState {
	m.refreshes.set(selector, state)
	m.metrics.RecordRefresh(selector.String(), state.String())
	return state
}

// State returns the state of the latest refresh of selector.
func (m *Manager) State(selector Selector) RefreshState {
	return m.refreshes.get(selector)
}
