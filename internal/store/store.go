// Package store provides durable key/value storage with one file per key.
//
// Values live at <root>/<namespace>/<key>. Writes go to a scratch file under
// <root>/.temp and are renamed into place, so a reader sees either the old
// file or the complete new one. The package works against core.FS, which lets
// tests run on an in-memory filesystem.
//
// Read, Write and Remove return explicit errors. The generic helpers Load and
// Clear never do: every storage failure, including a value that no longer
// decodes, is logged and reported as a miss.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"

	"github.com/jmgilman/go/catalog/internal/logging"
	"github.com/jmgilman/go/catalog/internal/metrics"
	"github.com/jmgilman/go/catalog/internal/validate"
)

const tempDirName = ".temp"

// ErrNotFound is returned by Read when no file exists for a key.
var ErrNotFound = platformerrors.New(platformerrors.CodeNotFound, "cache entry not found")

// Store provides atomic, per-key filesystem storage.
// It is safe for concurrent use.
type Store struct {
	fs         core.FS
	rootPath   string
	tempDir    string
	fileLocks  *sync.Map // map[string]*sync.Mutex for per-file locking
	globalLock sync.RWMutex
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for absorbed storage errors.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink for absorbed storage errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store rooted at rootPath on the given filesystem.
// The root and scratch directories are created if missing, and scratch files
// left behind by an interrupted write are removed.
func New(fsys core.FS, rootPath string, opts ...Option) (*Store, error) {
	if fsys == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if rootPath == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}

	s := &Store{
		fs:        fsys,
		rootPath:  rootPath,
		tempDir:   filepath.Join(rootPath, tempDirName),
		fileLocks: &sync.Map{},
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := fsys.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	if err := fsys.MkdirAll(s.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	if err := s.CleanupTempFiles(context.Background()); err != nil {
		s.logger.Warn(context.Background(), "failed to clean up temp files", "error", err)
	}

	return s, nil
}

// Root returns the directory the store writes under.
func (s *Store) Root() string {
	return s.rootPath
}

// getFileLock returns a mutex for the given file path, creating one if necessary.
func (s *Store) getFileLock(path string) *sync.Mutex {
	lock, _ := s.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *Store) path(namespace, key string) (string, error) {
	if err := validate.Key(namespace); err != nil {
		return "", fmt.Errorf("invalid namespace: %w", err)
	}
	if err := validate.Key(key); err != nil {
		return "", err
	}
	return filepath.Join(s.rootPath, namespace, key), nil
}

// Namespace creates the directory for a namespace if it does not exist.
// Calling it again is a no-op; Write also creates namespaces on demand.
func (s *Store) Namespace(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := validate.Key(namespace); err != nil {
		return fmt.Errorf("invalid namespace: %w", err)
	}

	s.globalLock.Lock()
	err := s.fs.MkdirAll(filepath.Join(s.rootPath, namespace), 0o755)
	s.globalLock.Unlock()
	if err != nil {
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "failed to create namespace %q", namespace)
	}
	return nil
}

// Write stores data under (namespace, key), replacing any previous value.
func (s *Store) Write(ctx context.Context, namespace, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	fullPath, err := s.path(namespace, key)
	if err != nil {
		return err
	}

	// Acquire file lock to prevent concurrent writes to the same file
	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := s.Namespace(ctx, namespace); err != nil {
		return err
	}

	tempFile := filepath.Join(s.tempDir, "write_"+uuid.NewString())
	if err := s.writeFile(tempFile, data); err != nil {
		s.globalLock.Lock()
		_ = s.fs.Remove(tempFile)
		s.globalLock.Unlock()
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "failed to write temp file for %s/%s", namespace, key)
	}

	// Atomic rename: this is atomic on POSIX filesystems
	s.globalLock.Lock()
	err = s.fs.Rename(tempFile, fullPath)
	if err != nil {
		_ = s.fs.Remove(tempFile)
	}
	s.globalLock.Unlock()
	if err != nil {
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "failed to rename temp file to %q", fullPath)
	}

	return nil
}

// writeFile creates path, writes data and syncs it when the filesystem supports it.
func (s *Store) writeFile(path string, data []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	file, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	if syncer, ok := file.(core.Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
	}

	return nil
}

// Read returns the bytes stored under (namespace, key).
// Returns an error wrapping ErrNotFound if no value is stored.
func (s *Store) Read(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	fullPath, err := s.path(namespace, key)
	if err != nil {
		return nil, err
	}

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.RLock()
	defer s.globalLock.RUnlock()

	exists, err := s.fs.Exists(fullPath)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "failed to check file existence")
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
	}

	data, err := s.fs.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, key)
		}
		return nil, platformerrors.Wrapf(err, platformerrors.CodeDatabase, "failed to read %q", fullPath)
	}

	return data, nil
}

// Exists reports whether a value is stored under (namespace, key).
func (s *Store) Exists(ctx context.Context, namespace, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context cancelled: %w", err)
	}

	fullPath, err := s.path(namespace, key)
	if err != nil {
		return false, err
	}

	s.globalLock.RLock()
	exists, err := s.fs.Exists(fullPath)
	s.globalLock.RUnlock()
	if err != nil {
		return false, platformerrors.Wrap(err, platformerrors.CodeDatabase, "failed to check file existence")
	}
	return exists, nil
}

// Remove deletes the value stored under (namespace, key).
// Removing a key that does not exist is not an error.
func (s *Store) Remove(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	fullPath, err := s.path(namespace, key)
	if err != nil {
		return err
	}

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.Lock()
	err = s.fs.Remove(fullPath)
	s.globalLock.Unlock()
	if err != nil && !os.IsNotExist(err) {
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase, "failed to remove file %q", fullPath)
	}

	return nil
}

// Keys returns the keys stored in a namespace.
// A namespace that was never written is empty, not an error.
func (s *Store) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if err := validate.Key(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}

	dir := filepath.Join(s.rootPath, namespace)

	s.globalLock.RLock()
	defer s.globalLock.RUnlock()

	exists, err := s.fs.Exists(dir)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "failed to check directory existence")
	}
	if !exists {
		return []string{}, nil
	}

	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeDatabase, "failed to read directory %q", dir)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			keys = append(keys, entry.Name())
		}
	}
	return keys, nil
}

// Size returns the total size of all files in the store.
func (s *Store) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	var totalSize int64
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			totalSize += info.Size()
		}
		return nil
	}

	s.globalLock.RLock()
	err := s.fs.Walk(s.rootPath, walkFn)
	s.globalLock.RUnlock()
	if err != nil {
		return 0, platformerrors.Wrap(err, platformerrors.CodeDatabase, "failed to calculate storage size")
	}

	return totalSize, nil
}

// CleanupTempFiles removes any leftover scratch files from interrupted writes.
func (s *Store) CleanupTempFiles(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	entries, err := s.fs.ReadDir(s.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read temp directory: %w", err)
	}

	for _, entry := range entries {
		path := filepath.Join(s.tempDir, entry.Name())
		if err := s.fs.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove temp file %q: %w", path, err)
		}
	}
	return nil
}

// logAbsorbed logs a storage error that is being turned into a miss.
func (s *Store) logAbsorbed(ctx context.Context, op logging.Operation, namespace, key string, start time.Time, err error) {
	s.metrics.RecordStoreError(string(op))
	logger := s.logger.WithOperation(op).WithNamespace(namespace).WithKey(key)
	logging.LogCacheOperation(ctx, logger, op, time.Since(start), false, 0, err)
}
