package imagecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/jmgilman/go/fs/billy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/catalog/internal/metrics"
	"github.com/jmgilman/go/catalog/internal/store"
)

// fakeFetcher serves fixed bytes per URL. When release is set, Fetch blocks
// until it is closed.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	data    map[string][]byte
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.data[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pngBytes(t *testing.T, size int, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(0, 0, color.Gray{Y: shade + 1})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(billy.NewMemory(), "/cache")
	require.NoError(t, err)
	return st
}

func createTestCache(t *testing.T, fetcher Fetcher, opts ...Option) (*Cache, *store.Store) {
	t.Helper()
	st := createTestStore(t)
	c, err := New(st, fetcher, opts...)
	require.NoError(t, err)
	return c, st
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	c, err := New(createTestStore(t), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxEntries, c.maxEntries)
	assert.Equal(t, DefaultMaxBytes, c.maxBytes)

	c, err = New(createTestStore(t), nil, WithMemoryLimits(5, 1024))
	require.NoError(t, err)
	assert.Equal(t, 5, c.maxEntries)
	assert.Equal(t, int64(1024), c.maxBytes)
}

func TestCache_PutCached(t *testing.T) {
	c, st := createTestCache(t, nil)
	ctx := context.Background()
	img := pngBytes(t, 4, 10)

	require.NoError(t, c.Put(ctx, "item-1", img))

	got, ok := c.Cached(ctx, "item-1")
	require.True(t, ok)
	assert.Equal(t, img, got)

	onDisk, err := st.Read(ctx, Namespace, "item-1")
	require.NoError(t, err)
	assert.Equal(t, img, onDisk)

	_, ok = c.Cached(ctx, "item-2")
	assert.False(t, ok)
}

func TestCache_PutInvalidKey(t *testing.T) {
	c, _ := createTestCache(t, nil)
	assert.Error(t, c.Put(context.Background(), "../escape", []byte("x")))
	assert.Error(t, c.Clear(context.Background(), ""))

	_, ok := c.Cached(context.Background(), "a/b")
	assert.False(t, ok)
}

func TestCache_DiskHitPromotesToMemory(t *testing.T) {
	c, st := createTestCache(t, nil)
	ctx := context.Background()
	img := pngBytes(t, 4, 20)

	require.NoError(t, st.Write(ctx, Namespace, "item-1", img))
	assert.Equal(t, 0, c.Len())

	got, ok := c.Cached(ctx, "item-1")
	require.True(t, ok)
	assert.Equal(t, img, got)
	assert.Equal(t, 1, c.Len())

	inMemory, ok := c.memory.get("item-1")
	require.True(t, ok)
	assert.Equal(t, img, inMemory)
}

func TestCache_Clear(t *testing.T) {
	c, st := createTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "item-1", pngBytes(t, 4, 30)))
	require.NoError(t, c.Clear(ctx, "item-1"))

	_, ok := c.Cached(ctx, "item-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	exists, err := st.Exists(ctx, Namespace, "item-1")
	require.NoError(t, err)
	assert.False(t, exists)

	// clearing a missing key is a no-op
	assert.NoError(t, c.Clear(ctx, "item-1"))
	assert.NoError(t, c.Clear(ctx, "never-stored"))
}

func TestCache_GetFetchesAndCommits(t *testing.T) {
	img := pngBytes(t, 8, 40)
	fetcher := &fakeFetcher{data: map[string][]byte{"http://x/a.png": img}}
	c, st := createTestCache(t, fetcher)
	ctx := context.Background()

	got, ok := c.Get(ctx, "item-1", "http://x/a.png")
	require.True(t, ok)
	assert.Equal(t, img, got)
	assert.Equal(t, 1, fetcher.Calls())

	exists, err := st.Exists(ctx, Namespace, "item-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, c.Len())

	// served from memory afterwards
	got, ok = c.Get(ctx, "item-1", "http://x/a.png")
	require.True(t, ok)
	assert.Equal(t, img, got)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestCache_ReturnedBytesAreCopies(t *testing.T) {
	img := pngBytes(t, 4, 10)
	fetcher := &fakeFetcher{data: map[string][]byte{"http://x/a.png": img}}
	c, _ := createTestCache(t, fetcher)
	ctx := context.Background()
	want := bytes.Clone(img)

	fetched, ok := c.Get(ctx, "item-1", "http://x/a.png")
	require.True(t, ok)
	clear(fetched)

	cached, ok := c.Cached(ctx, "item-1")
	require.True(t, ok)
	assert.Equal(t, want, cached)
	clear(cached)

	cached, ok = c.Cached(ctx, "item-1")
	require.True(t, ok)
	assert.Equal(t, want, cached)

	// the caller's buffer is not retained by Put either
	buf := bytes.Clone(img)
	require.NoError(t, c.Put(ctx, "item-2", buf))
	clear(buf)
	cached, ok = c.Cached(ctx, "item-2")
	require.True(t, ok)
	assert.Equal(t, want, cached)
}

func TestCache_NetworkLookupMetrics(t *testing.T) {
	img := pngBytes(t, 4, 10)
	fetcher := &fakeFetcher{data: map[string][]byte{"http://x/a.png": img}}
	m := metrics.New(prometheus.NewRegistry())
	c, _ := createTestCache(t, fetcher, WithMetrics(m))
	ctx := context.Background()

	_, ok := c.Get(ctx, "item-1", "http://x/a.png")
	require.True(t, ok)
	_, ok = c.Get(ctx, "item-2", "http://x/missing.png")
	require.False(t, ok)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ImageLookups.WithLabelValues(metrics.TierNetwork, "hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ImageLookups.WithLabelValues(metrics.TierNetwork, "miss")))

	// network hits are not cache hits
	snap := m.Snapshot()
	assert.Equal(t, int64(0), snap.Hits)
	assert.Equal(t, int64(2), snap.Misses)
	assert.Equal(t, int64(2), snap.NetworkRequests)
}

func TestCache_GetWithoutNetwork(t *testing.T) {
	c, _ := createTestCache(t, nil)
	_, ok := c.Get(context.Background(), "item-1", "http://x/a.png")
	assert.False(t, ok)

	fetcher := &fakeFetcher{}
	c, _ = createTestCache(t, fetcher)
	_, ok = c.Get(context.Background(), "item-1", "")
	assert.False(t, ok)
	assert.Equal(t, 0, fetcher.Calls())
}

func TestCache_FailedFetchIsNotCached(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	m := metrics.New(nil)
	c, st := createTestCache(t, fetcher, WithMetrics(m))
	ctx := context.Background()

	_, ok := c.Get(ctx, "item-1", "http://x/a.png")
	assert.False(t, ok)

	exists, err := st.Exists(ctx, Namespace, "item-1")
	require.NoError(t, err)
	assert.False(t, exists)

	// no negative caching: the next lookup goes back to the network
	_, ok = c.Get(ctx, "item-1", "http://x/a.png")
	assert.False(t, ok)
	assert.Equal(t, 2, fetcher.Calls())
	assert.Equal(t, int64(2), m.Snapshot().NetworkRequests)
}

func TestCache_InvalidImageIsDiscarded(t *testing.T) {
	fetcher := &fakeFetcher{data: map[string][]byte{
		"http://x/html": []byte("<html>not an image</html>"),
		"http://x/none": {},
	}}
	c, st := createTestCache(t, fetcher)
	ctx := context.Background()

	for _, url := range []string{"http://x/html", "http://x/none"} {
		_, ok := c.Get(ctx, "item-1", url)
		assert.False(t, ok)
	}

	exists, err := st.Exists(ctx, Namespace, "item-1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, c.Len())
}

func TestCache_SingleFlight(t *testing.T) {
	img := pngBytes(t, 8, 50)
	fetcher := &fakeFetcher{
		data:    map[string][]byte{"http://x/a.png": img},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	m := metrics.New(nil)
	c, _ := createTestCache(t, fetcher, WithMetrics(m))
	ctx := context.Background()

	const callers = 25
	results := make(chan []byte, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, ok := c.Get(ctx, "item-1", "http://x/a.png")
			if ok {
				results <- data
			}
		}()
	}

	<-fetcher.started
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()
	close(results)

	count := 0
	for data := range results {
		assert.Equal(t, img, data)
		count++
	}
	assert.Equal(t, callers, count)
	assert.Equal(t, 1, fetcher.Calls())
	assert.Equal(t, int64(1), m.Snapshot().NetworkRequests)
}

func TestCache_ClearDuringFetchIsNotClobbered(t *testing.T) {
	img := pngBytes(t, 8, 60)
	fetcher := &fakeFetcher{
		data:    map[string][]byte{"http://x/a.png": img},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c, st := createTestCache(t, fetcher)
	ctx := context.Background()

	done := make(chan bool)
	go func() {
		_, ok := c.Get(ctx, "item-1", "http://x/a.png")
		done <- ok
	}()

	<-fetcher.started
	require.NoError(t, c.Clear(ctx, "item-1"))
	close(fetcher.release)

	// the waiting caller still gets the bytes it asked for
	assert.True(t, <-done)

	_, ok := c.Cached(ctx, "item-1")
	assert.False(t, ok)
	exists, err := st.Exists(ctx, Namespace, "item-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCache_PutDuringFetchWins(t *testing.T) {
	fetched := pngBytes(t, 8, 70)
	explicit := pngBytes(t, 8, 80)
	fetcher := &fakeFetcher{
		data:    map[string][]byte{"http://x/a.png": fetched},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c, _ := createTestCache(t, fetcher)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Get(ctx, "item-1", "http://x/a.png")
	}()

	<-fetcher.started
	require.NoError(t, c.Put(ctx, "item-1", explicit))
	close(fetcher.release)
	<-done

	got, ok := c.Cached(ctx, "item-1")
	require.True(t, ok)
	assert.Equal(t, explicit, got)
}

func TestCache_CallerCancellationDoesNotAbortFetch(t *testing.T) {
	img := pngBytes(t, 8, 90)
	fetcher := &fakeFetcher{
		data:    map[string][]byte{"http://x/a.png": img},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c, _ := createTestCache(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() {
		_, ok := c.Get(ctx, "item-1", "http://x/a.png")
		done <- ok
	}()

	<-fetcher.started
	cancel()
	assert.False(t, <-done)

	close(fetcher.release)
	assert.Eventually(t, func() bool {
		_, ok := c.Cached(context.Background(), "item-1")
		return ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestCache_MemoryEntryLimit(t *testing.T) {
	m := metrics.New(nil)
	c, _ := createTestCache(t, nil, WithMemoryLimits(2, DefaultMaxBytes), WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", pngBytes(t, 2, 1)))
	require.NoError(t, c.Put(ctx, "b", pngBytes(t, 2, 2)))
	require.NoError(t, c.Put(ctx, "c", pngBytes(t, 2, 3)))

	assert.Equal(t, 2, c.Len())
	_, ok := c.memory.get("a")
	assert.False(t, ok, "least recently used entry should be evicted")
	assert.Equal(t, int64(1), m.Snapshot().Evictions)

	// evicted entries are still served from disk
	_, ok = c.Cached(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCache_MemoryByteLimit(t *testing.T) {
	c, _ := createTestCache(t, nil, WithMemoryLimits(10, 100))
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", make([]byte, 60)))
	require.NoError(t, c.Put(ctx, "b", make([]byte, 60)))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(60), c.MemoryBytes())
	_, ok := c.memory.get("b")
	assert.True(t, ok)

	// replacing a key accounts for the old value
	require.NoError(t, c.Put(ctx, "b", make([]byte, 30)))
	assert.Equal(t, int64(30), c.MemoryBytes())

	// oversized values stay on disk only
	require.NoError(t, c.Put(ctx, "huge", make([]byte, 200)))
	_, ok = c.memory.get("huge")
	assert.False(t, ok)
	got, ok := c.Cached(ctx, "huge")
	require.True(t, ok)
	assert.Len(t, got, 200)
	assert.LessOrEqual(t, c.MemoryBytes(), int64(100))
}

func TestCache_Purge(t *testing.T) {
	c, _ := createTestCache(t, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "a", pngBytes(t, 2, 5)))
	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.MemoryBytes())

	_, ok := c.Cached(ctx, "a")
	assert.True(t, ok)
}

func TestValidateImage(t *testing.T) {
	assert.NoError(t, validateImage(pngBytes(t, 1, 0)))
	assert.ErrorIs(t, validateImage(nil), errEmptyImage)
	assert.Error(t, validateImage([]byte("GIF87")))
}
