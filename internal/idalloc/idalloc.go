// Package idalloc assigns sequential identifiers, reusing the lowest free one.
package idalloc

// Next returns the smallest positive integer not present in ids.
//
// ids must be strictly ascending and contain only positive values; the
// function does not sort or deduplicate. Callers guarantee this at the query
// that produces the sequence (ORDER BY over a primary key).
func Next(ids []int64) int64 {
	if len(ids) == 0 {
		return 1
	}
	for i, id := range ids {
		expected := int64(i) + 1
		if id != expected {
			return expected
		}
	}
	return int64(len(ids)) + 1
}
