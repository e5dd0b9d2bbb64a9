package mapper

import (
	"sort"
	"strings"
)

// CacheKey derives the canonical cache key for a metric's tag set.
//
// The key is the tag pairs sorted by tag name and joined as "k=v" with a
// comma delimiter, so two tag sets with the same pairs always produce the
// same key regardless of map iteration order. Pure function, no side effects.
func CacheKey(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(tags[name])
	}
	return b.String()
}
