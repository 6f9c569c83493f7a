package harvest

// Window applies an offset and limit to items. limit <= 0 means no limit.
func Window(items []Item, offset, limit int) []Item {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Partition splits items into n disjoint contiguous ranges whose sizes differ
// by at most one. Every item lands in exactly one range.
func Partition(items []Item, n int) [][]Item {
	if n <= 0 {
		n = 1
	}
	parts := make([][]Item, n)
	size, rem := len(items)/n, len(items)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		parts[i] = items[start:end]
		start = end
	}
	return parts
}

// ItemsFromKeys builds items from an explicit key list, dropping blanks and
// repeats.
func ItemsFromKeys(keys []string) []Item {
	seen := make(map[string]bool, len(keys))
	items := make([]Item, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		items = append(items, Item{Key: k})
	}
	return items
}
