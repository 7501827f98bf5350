// Package model defines the catalog item and the selectors that scope item
// collections.
package model

import (
	"fmt"
	"strings"
)

// LargeImageSuffix is appended to an item ID to key its large image. IDs
// ending in it are rejected so the two image keys of different items never
// meet.
const LargeImageSuffix = "_large"

// Item is one entry of the remote catalog.
// Optional references are empty strings when absent.
type Item struct {
	ID            string `json:"uuid"`
	Name          string `json:"name"`
	Cuisine       string `json:"cuisine"`
	PhotoURLSmall string `json:"photo_url_small,omitempty"`
	PhotoURLLarge string `json:"photo_url_large,omitempty"`
	SourceURL     string `json:"source_url,omitempty"`
	YoutubeURL    string `json:"youtube_url,omitempty"`
}

// IsValid reports whether the item has both a name and a cuisine.
func (i Item) IsValid() bool {
	return i.Name != "" && i.Cuisine != ""
}

// Validate returns a *ValidationError naming the first missing required field.
func (i Item) Validate() error {
	switch {
	case i.ID == "":
		return &ValidationError{ItemID: i.ID, Field: "uuid"}
	case i.Name == "":
		return &ValidationError{ItemID: i.ID, Field: "name"}
	case i.Cuisine == "":
		return &ValidationError{ItemID: i.ID, Field: "cuisine"}
	case strings.HasSuffix(i.ID, LargeImageSuffix):
		return &ValidationError{ItemID: i.ID, Field: "uuid", Reason: "ends in reserved suffix " + LargeImageSuffix}
	}
	return nil
}

// ValidationError reports an item with a missing or unusable required field.
// Reason is empty when the field is missing.
type ValidationError struct {
	ItemID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("item %s has invalid field %q: %s", e.ItemID, e.Field, e.Reason)
	}
	if e.ItemID == "" {
		return fmt.Sprintf("item is missing required field %q", e.Field)
	}
	return fmt.Sprintf("item %s is missing required field %q", e.ItemID, e.Field)
}

// Selector identifies one remote catalog variant.
type Selector string

// CacheKey returns the store key for the selector's item collection.
func (s Selector) CacheKey() string {
	return string(s) + "Recipes"
}

func (s Selector) String() string {
	return string(s)
}

// ImageSize selects one of an item's two images.
type ImageSize int

const (
	// ImageSmall is the thumbnail image.
	ImageSmall ImageSize = iota
	// ImageLarge is the full size image.
	ImageLarge
)

func (s ImageSize) String() string {
	if s == ImageLarge {
		return "large"
	}
	return "small"
}

// ImageKey returns the image cache key for one of an item's images.
// The small image is keyed by the item ID alone.
func ImageKey(item Item, size ImageSize) string {
	if size == ImageLarge {
		return item.ID + LargeImageSuffix
	}
	return item.ID
}

// ImageURL returns the image reference for size, or "" when absent.
func ImageURL(item Item, size ImageSize) string {
	if size == ImageLarge {
		return item.PhotoURLLarge
	}
	return item.PhotoURLSmall
}
