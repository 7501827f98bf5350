package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmgilman/go/catalog/internal/logging"
)

// Save encodes value and writes it under (namespace, key).
// A []byte value is written as-is; anything else is JSON encoded.
func Save[T any](ctx context.Context, s *Store, namespace, key string, value T) error {
	data, err := encode(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}
	return s.Write(ctx, namespace, key, data)
}

// Load reads and decodes the value stored under (namespace, key).
// The boolean is false when nothing usable is stored. Read and decode failures
// are logged and reported the same way as a missing file.
func Load[T any](ctx context.Context, s *Store, namespace, key string) (T, bool) {
	var zero T
	start := time.Now()

	data, err := s.Read(ctx, namespace, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logging.LogCacheMiss(ctx, s.logger.WithNamespace(namespace).WithKey(key), logging.OpStoreRead, "not_found")
			return zero, false
		}
		s.logAbsorbed(ctx, logging.OpStoreRead, namespace, key, start, err)
		return zero, false
	}

	value, err := decode[T](data)
	if err != nil {
		s.logAbsorbed(ctx, logging.OpStoreRead, namespace, key, start, fmt.Errorf("failed to decode value: %w", err))
		return zero, false
	}

	return value, true
}

// Clear removes the value stored under (namespace, key). Failures are logged.
func Clear(ctx context.Context, s *Store, namespace, key string) {
	start := time.Now()
	if err := s.Remove(ctx, namespace, key); err != nil {
		s.logAbsorbed(ctx, logging.OpStoreRemove, namespace, key, start, err)
	}
}

func encode[T any](value T) ([]byte, error) {
	if raw, ok := any(value).([]byte); ok {
		return raw, nil
	}
	return json.Marshal(value)
}

func decode[T any](data []byte) (T, error) {
	var value T
	if raw, ok := any(&value).(*[]byte); ok {
		*raw = data
		return value, nil
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, err
	}
	return value, nil
}
