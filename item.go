package catalog

import (
	"github.com/jmgilman/go/catalog/internal/model"
	"github.com/jmgilman/go/catalog/internal/remote"
)

// Item is one entry of the catalog.
type Item = model.Item

// Selector identifies a catalog variant. Each selector has its own cached
// collection.
type Selector = model.Selector

// ImageSize selects one of an item's two images.
type ImageSize = model.ImageSize

// Image sizes.
const (
	ImageSmall = model.ImageSmall
	ImageLarge = model.ImageLarge
)

// Selectors served by the default catalog host.
const (
	SelectorAll       = remote.SelectorAll
	SelectorMalformed = remote.SelectorMalformed
	SelectorEmpty     = remote.SelectorEmpty
)

// ImageKey returns the image cache key for one of an item's images. The small
// image is keyed by the item ID and the large one by the ID with a "_large"
// suffix. Items whose ID already ends in "_large" fail validation.
func ImageKey(item Item, size ImageSize) string {
	return model.ImageKey(item, size)
}
