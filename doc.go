// Package catalog provides an offline-first cache for a remote item catalog.
//
// A Manager keeps one item collection per selector on disk and serves item
// images from a bounded memory tier, an unbounded disk tier and finally the
// network. Key features:
//   - Refresh shows the cached collection first, then merges the remote list into it
//   - Merges never drop cached items the remote list omits
//   - An item whose small image reference changed has its cached images cleared
//   - Concurrent image lookups for the same key share one download
//   - Storage failures are logged and treated as cache misses
//
// Basic usage:
//
//	m, err := catalog.New(catalog.WithCacheDir("/var/cache/recipes"))
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	result, err := m.Refresh(ctx, catalog.SelectorAll, func(cached []catalog.Item) {
//	    render(cached)
//	})
//	if err != nil {
//	    // result.Items still holds the cached collection
//	}
//
//	img, ok := m.Image(ctx, result.Items[0], catalog.ImageSmall)
package catalog
