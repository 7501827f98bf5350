package catalog

// MergeStats counts what a merge changed.
type MergeStats struct {
	// Added is the number of incoming items appended to the collection.
	Added int
	// Updated is the number of existing items replaced by a different value.
	Updated int
	// Invalidated is the number of items whose small image reference changed.
	Invalidated int
}

// Merge upserts incoming into existing and returns the result.
//
// Items are matched by ID. A match is replaced in place, keeping its position;
// anything else is appended in incoming order. The result holds each ID once. Existing items missing from
// incoming are kept. When a replaced item's small image reference differs,
// invalidate is called with its ID. Neither input slice is modified.
func Merge(existing, incoming []Item, invalidate func(id string)) []Item {
	merged, _ := merge(existing, incoming, invalidate)
	return merged
}

func merge(existing, incoming []Item, invalidate func(id string)) ([]Item, MergeStats) {
	var stats MergeStats

	merged := make([]Item, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))

	// Duplicate existing IDs collapse onto the first position, last value wins.
	for _, item := range existing {
		if i, ok := index[item.ID]; ok {
			merged[i] = item
			continue
		}
		index[item.ID] = len(merged)
		merged = append(merged, item)
	}

	for _, item := range incoming {
		i, ok := index[item.ID]
		if !ok {
			index[item.ID] = len(merged)
			merged = append(merged, item)
			stats.Added++
			continue
		}

		// Only the small image reference is compared.
		if merged[i].PhotoURLSmall != item.PhotoURLSmall {
			stats.Invalidated++
			if invalidate != nil {
				invalidate(item.ID)
			}
		}
		if merged[i] != item {
			stats.Updated++
		}
		merged[i] = item
	}

	return merged, stats
}
