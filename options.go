package catalog

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jmgilman/go/fs/core"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmgilman/go/catalog/internal/imagecache"
	"github.com/jmgilman/go/catalog/internal/logging"
)

// Source fetches the authoritative item list for a selector.
// Implementations decide which invalid items to reject or drop.
type Source interface {
	FetchItems(ctx context.Context, selector Selector) ([]Item, error)
}

// Fetcher retrieves the raw bytes behind an image URL.
type Fetcher = imagecache.Fetcher

// Options contains configuration options for the Manager.
type Options struct {
	// Config holds the tunable settings. Zero fields take defaults.
	Config Config

	// FS provides the filesystem for the disk tier.
	// If nil, a default OS-backed filesystem will be used.
	FS core.FS

	// Source provides item lists. If nil, the catalog host in Config.BaseURL is used.
	Source Source

	// Fetcher downloads images. If nil, the catalog host client is used.
	Fetcher Fetcher

	// Logger receives structured logs. If nil, one is built from Config.LogLevel.
	Logger *slog.Logger

	// Registerer receives the cache metrics. If nil, a private registry is used.
	Registerer prometheus.Registerer

	// HTTPClient is used by the default Source and Fetcher.
	HTTPClient *http.Client
}

// Option is a functional option for configuring the Manager.
type Option func(*Options)

// DefaultOptions returns options with the default configuration.
func DefaultOptions() *Options {
	return &Options{}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

// WithFilesystem sets the filesystem holding the disk tier.
func WithFilesystem(fsys core.FS) Option {
	return func(opts *Options) {
		opts.FS = fsys
	}
}

// WithCacheDir sets the directory holding the disk tier.
func WithCacheDir(dir string) Option {
	return func(opts *Options) {
		opts.Config.CacheDir = dir
	}
}

// WithSource sets the item list source.
func WithSource(source Source) Option {
	return func(opts *Options) {
		opts.Source = source
	}
}

// WithFetcher sets the image downloader.
func WithFetcher(fetcher Fetcher) Option {
	return func(opts *Options) {
		opts.Fetcher = fetcher
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithRegisterer sets the Prometheus registerer for the cache metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(opts *Options) {
		opts.Registerer = reg
	}
}

// WithMemoryLimits bounds the in-memory image tier by entry count and bytes.
func WithMemoryLimits(entries int, bytes int64) Option {
	return func(opts *Options) {
		opts.Config.MemoryEntries = entries
		opts.Config.MemoryBytes = bytes
	}
}

// WithHTTPClient sets the HTTP client used by the default Source and Fetcher.
func WithHTTPClient(hc *http.Client) Option {
	return func(opts *Options) {
		opts.HTTPClient = hc
	}
}

func (o *Options) logger() (*logging.Logger, error) {
	if o.Logger != nil {
		return logging.FromSlog(o.Logger), nil
	}
	level, err := logging.ParseLogLevel(o.Config.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultLogConfig()
	cfg.Level = level
	return logging.NewLogger(cfg), nil
}
