package catalog

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"

	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/stretchr/testify/require"
)

// sourceFunc adapts a function to the Source interface.
type sourceFunc func(ctx context.Context, selector Selector) ([]Item, error)

func (f sourceFunc) FetchItems(ctx context.Context, selector Selector) ([]Item, error) {
	return f(ctx, selector)
}

// staticSource returns a fixed list per selector and counts calls.
type staticSource struct {
	mu    sync.Mutex
	items map[Selector][]Item
	err   error
	calls int
}

func (s *staticSource) FetchItems(_ context.Context, selector Selector) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]Item(nil), s.items[selector]...), nil
}

func (s *staticSource) set(selector Selector, items ...Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[Selector][]Item)
	}
	s.items[selector] = items
}

func (s *staticSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// imageFetcher serves fixed bytes per URL and counts calls.
type imageFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls map[string]int
}

func newImageFetcher() *imageFetcher {
	return &imageFetcher{data: make(map[string][]byte), calls: make(map[string]int)}
}

func (f *imageFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	data, ok := f.data[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *imageFetcher) serve(url string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[url] = data
}

func (f *imageFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func testImage(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))))
	return buf.Bytes()
}

func createTestManager(t *testing.T, fsys core.FS, source Source, fetcher Fetcher, opts ...Option) *Manager {
	t.Helper()
	if fsys == nil {
		fsys = billy.NewMemory()
	}
	base := []Option{
		WithFilesystem(fsys),
		WithCacheDir("/cache"),
		WithSource(source),
		WithFetcher(fetcher),
	}
	m, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newItem(id, name, small string) Item {
	return Item{ID: id, Name: name, Cuisine: "Test", PhotoURLSmall: small}
}
