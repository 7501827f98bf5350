// Package metrics exposes Prometheus collectors for the catalog cache and a
// point-in-time snapshot for logging and tests.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tier labels
const (
	TierMemory  = "memory"
	TierDisk    = "disk"
	TierNetwork = "network"
)

// Fetch result labels
const (
	FetchSuccess   = "success"
	FetchFailure   = "failure"
	FetchInvalid   = "invalid_image"
	FetchDiscarded = "discarded"
	FetchShared    = "shared"
)

// Metrics holds all Prometheus metrics for the cache.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	ImageLookups       *prometheus.CounterVec
	ImageFetches       *prometheus.CounterVec
	ImageEvictions     prometheus.Counter
	ImageMemoryBytes   prometheus.Gauge
	ImageMemoryEntries prometheus.Gauge
	Refreshes          *prometheus.CounterVec
	MergeChanges       *prometheus.CounterVec
	StoreErrors        *prometheus.CounterVec

	hits      atomic.Int64
	misses    atomic.Int64
	fetches   atomic.Int64
	evictions atomic.Int64
	errors    atomic.Int64
	startTime time.Time
}

// New creates and registers all metrics with the provided registry.
// A nil registry gets a private one so several caches can coexist in a process.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		ImageLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_image_lookups_total",
			Help: "Image cache lookups by tier and result",
		}, []string{"tier", "result"}),
		ImageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_image_fetches_total",
			Help: "Network image fetches by outcome",
		}, []string{"result"}),
		ImageEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_image_evictions_total",
			Help: "Entries dropped from the in-memory image tier",
		}),
		ImageMemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_image_memory_bytes",
			Help: "Bytes held by the in-memory image tier",
		}),
		ImageMemoryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_image_memory_entries",
			Help: "Entries held by the in-memory image tier",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_refresh_total",
			Help: "Completed item refreshes by selector and terminal state",
		}, []string{"selector", "state"}),
		MergeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_merge_changes_total",
			Help: "Items added, updated or image-invalidated by merges",
		}, []string{"change"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_store_errors_total",
			Help: "Storage errors absorbed as cache misses",
		}, []string{"op"}),
		startTime: time.Now(),
	}

	reg.MustRegister(
		m.ImageLookups,
		m.ImageFetches,
		m.ImageEvictions,
		m.ImageMemoryBytes,
		m.ImageMemoryEntries,
		m.Refreshes,
		m.MergeChanges,
		m.StoreErrors,
	)

	return m
}

// RecordLookup records an image lookup against one tier. Only the local tiers
// count toward the snapshot hit rate.
func (m *Metrics) RecordLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
		if tier != TierNetwork {
			m.hits.Add(1)
		}
	} else if tier == TierDisk {
		// a lookup only misses overall once the last local tier misses
		m.misses.Add(1)
	}
	m.ImageLookups.WithLabelValues(tier, result).Inc()
}

// RecordFetch records the outcome of a network image fetch.
func (m *Metrics) RecordFetch(result string) {
	if m == nil {
		return
	}
	if result != FetchShared {
		m.fetches.Add(1)
	}
	m.ImageFetches.WithLabelValues(result).Inc()
}

// RecordEviction records entries dropped from the memory tier.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evictions.Add(1)
	m.ImageEvictions.Inc()
}

// SetMemoryUsage updates the memory tier gauges.
func (m *Metrics) SetMemoryUsage(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.ImageMemoryEntries.Set(float64(entries))
	m.ImageMemoryBytes.Set(float64(bytes))
}

// RecordRefresh records a refresh reaching a terminal state.
func (m *Metrics) RecordRefresh(selector, state string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(selector, state).Inc()
}

// RecordMerge records the changes produced by one merge.
func (m *Metrics) RecordMerge(added, updated, invalidated int) {
	if m == nil {
		return
	}
	m.MergeChanges.WithLabelValues("added").Add(float64(added))
	m.MergeChanges.WithLabelValues("updated").Add(float64(updated))
	m.MergeChanges.WithLabelValues("invalidated").Add(float64(invalidated))
}

// RecordStoreError records a storage error that was converted into a miss.
func (m *Metrics) RecordStoreError(op string) {
	if m == nil {
		return
	}
	m.errors.Add(1)
	m.StoreErrors.WithLabelValues(op).Inc()
}

// Snapshot is a point-in-time view of the cache counters.
type Snapshot struct {
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	HitRate         float64       `json:"hit_rate"`
	NetworkRequests int64         `json:"network_requests"`
	Evictions       int64         `json:"evictions"`
	Errors          int64         `json:"errors"`
	Uptime          time.Duration `json:"uptime"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	hits := m.hits.Load()
	misses := m.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Snapshot{
		Hits:            hits,
		Misses:          misses,
		HitRate:         hitRate,
		NetworkRequests: m.fetches.Load(),
		Evictions:       m.evictions.Load(),
		Errors:          m.errors.Load(),
		Uptime:          time.Since(m.startTime),
	}
}
