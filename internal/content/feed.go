package content

import "sort"

// MergeFeed rebuilds the unified profile feed from the three source
// collections. Entries in the existing feed whose type is not one of the
// three rebuilt categories are preserved untouched, so future item types
// survive a merge performed by an older build.
//
// Visibility rules:
//   - updates always surface (showInUpdatesFeed true)
//   - prayers honor their own explicit flag when set; otherwise they surface
//     iff a same-ID update exists (the prayer was cross-posted)
//   - funding needs never surface
//
// The result is sorted descending by createdAt; items without a timestamp
// sort as oldest. The sort is stable within a single call, so equal
// timestamps keep insertion order (preserved, updates, prayers, funding).
// The merge is idempotent: unchanged inputs yield an identical list.
func MergeFeed(existing []Item, updates, prayers, funding []Item) []Item {
	merged := make([]Item, 0, len(existing)+len(updates)+len(prayers)+len(funding))
	for _, entry := range existing {
		switch entry.Type {
		case TypeUpdate, TypePrayer, TypeFunding:
			// Stale copy of a rebuilt category.
		default:
			merged = append(merged, entry)
		}
	}

	updateIDs := make(map[string]struct{}, len(updates))
	for _, item := range updates {
		item.Type = TypeUpdate
		item.ShowInUpdatesFeed = true
		updateIDs[item.ID] = struct{}{}
		merged = append(merged, item)
	}

	for _, item := range prayers {
		item.Type = TypePrayer
		// An explicit false stored in the document wins over cross-post
		// derivation; only an unset flag falls back to the same-ID rule.
		if !item.ShowInUpdatesFeed && !item.feedFlagSet {
			_, crossPosted := updateIDs[item.ID]
			item.ShowInUpdatesFeed = crossPosted
		}
		merged = append(merged, item)
	}

	for _, item := range funding {
		item.Type = TypeFunding
		item.ShowInUpdatesFeed = false
		merged = append(merged, item)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		left, right := merged[i].CreatedAt, merged[j].CreatedAt
		if left == "" {
			return false
		}
		if right == "" {
			return true
		}
		// RFC 3339 timestamps order lexicographically.
		return left > right
	})
	return merged
}

// VisibleFeed filters a merged feed down to the entries that surface in the
// general updates view, optionally restricted to one tag.
func VisibleFeed(feed []Item, tag string) []Item {
	out := make([]Item, 0, len(feed))
	for _, item := range feed {
		if !item.ShowInUpdatesFeed {
			continue
		}
		if tag != "" && !item.HasTag(tag) {
			continue
		}
		out = append(out, item)
	}
	return out
}
