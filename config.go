package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/catalog/internal/imagecache"
	"github.com/jmgilman/go/catalog/internal/logging"
	"github.com/jmgilman/go/catalog/internal/remote"
)

// DefaultPrefetchConcurrency bounds the parallel downloads of PrefetchImages.
const DefaultPrefetchConcurrency = 4

// Config holds the settings of a Manager. Zero values are replaced by
// defaults in SetDefaults.
type Config struct {
	// CacheDir is the absolute directory holding the disk tier.
	CacheDir string `yaml:"cache_dir"`
	// MemoryEntries bounds the number of images held in memory.
	MemoryEntries int `yaml:"memory_entries"`
	// MemoryBytes bounds the total size of images held in memory.
	MemoryBytes int64 `yaml:"memory_bytes"`
	// PrefetchConcurrency bounds parallel downloads in PrefetchImages.
	PrefetchConcurrency int `yaml:"prefetch_concurrency"`
	// BaseURL is the host serving the catalog documents.
	BaseURL string `yaml:"base_url"`
	// HTTPTimeout bounds each catalog or image request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// MaxImageBytes caps the size of a downloaded image.
	MaxImageBytes int64 `yaml:"max_image_bytes"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults applies default values to unset fields in the configuration.
func (c *Config) SetDefaults() {
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir()
	}
	if c.MemoryEntries == 0 {
		c.MemoryEntries = imagecache.DefaultMaxEntries
	}
	if c.MemoryBytes == 0 {
		c.MemoryBytes = imagecache.DefaultMaxBytes
	}
	if c.PrefetchConcurrency == 0 {
		c.PrefetchConcurrency = DefaultPrefetchConcurrency
	}
	if c.BaseURL == "" {
		c.BaseURL = remote.DefaultBaseURL
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = remote.DefaultTimeout
	}
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = remote.DefaultMaxImageBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return invalidConfig("cache_dir", "cache directory is required")
	}
	if !filepath.IsAbs(c.CacheDir) {
		return invalidConfig("cache_dir", "cache directory must be absolute")
	}
	if c.MemoryEntries <= 0 {
		return invalidConfig("memory_entries", "memory entries must be greater than 0")
	}
	if c.MemoryBytes <= 0 {
		return invalidConfig("memory_bytes", "memory bytes must be greater than 0")
	}
	if c.PrefetchConcurrency <= 0 {
		return invalidConfig("prefetch_concurrency", "prefetch concurrency must be greater than 0")
	}
	if c.HTTPTimeout <= 0 {
		return invalidConfig("http_timeout", "http timeout must be greater than 0")
	}
	if c.MaxImageBytes <= 0 {
		return invalidConfig("max_image_bytes", "max image bytes must be greater than 0")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidConfig("base_url", fmt.Sprintf("base url %q is not an http(s) URL", c.BaseURL))
	}

	if _, err := logging.ParseLogLevel(c.LogLevel); err != nil {
		return invalidConfig("log_level", err.Error())
	}

	return nil
}

func invalidConfig(field, msg string) error {
	return platformerrors.WithContext(
		platformerrors.New(platformerrors.CodeInvalidConfig, msg),
		"field", field,
	)
}

// LoadConfig reads a YAML configuration file from fsys, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadConfig(fsys core.FS, path string) (Config, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return Config{}, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "failed to read config %q", path)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "failed to parse config %q", path)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "catalog")
}
