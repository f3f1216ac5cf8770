package backend

import (
	"slices"
	"time"
)

// ScanMap pages through a field/value map in sorted field order. It backs
// HashScan for backends that hold the whole hash at once. A count of zero
// or less uses a page size of 10.
func ScanMap(m map[string]string, cursor uint64, pattern string, count int64) ScanPage {
	if count <= 0 {
		count = 10
	}

	fields := make([]string, 0, len(m))
	for f := range m {
		if Match(pattern, f) {
			fields = append(fields, f)
		}
	}
	slices.Sort(fields)

	page := ScanPage{Total: int64(len(fields))}
	start := min(cursor, uint64(len(fields)))
	end := min(start+uint64(count), uint64(len(fields)))
	for _, f := range fields[start:end] {
		page.Entries = append(page.Entries, Entry{Field: f, Value: m[f]})
	}
	if end < uint64(len(fields)) {
		page.Cursor = end
	}
	return page
}

// IntersectSets returns the sorted members present in every set.
func IntersectSets(sets ...[]string) []string {
	if len(sets) == 0 {
		return []string{}
	}
	counts := make(map[string]int)
	for _, set := range sets {
		for _, m := range dedupe(set) {
			counts[m]++
		}
	}
	out := []string{}
	for m, n := range counts {
		if n == len(sets) {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out
}

// UnionSets returns the sorted members present in any set.
func UnionSets(sets ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, set := range sets {
		for _, m := range set {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	slices.Sort(out)
	return out
}

// DiffSets returns the sorted members of the first set absent from the rest.
func DiffSets(sets ...[]string) []string {
	if len(sets) == 0 {
		return []string{}
	}
	drop := make(map[string]struct{})
	for _, set := range sets[1:] {
		for _, m := range set {
			drop[m] = struct{}{}
		}
	}
	out := []string{}
	for _, m := range dedupe(sets[0]) {
		if _, ok := drop[m]; !ok {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out
}

func dedupe(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// ExpiryAfter converts a TTL into an absolute deadline. A TTL of zero or
// less means no expiry and yields the zero time.
func ExpiryAfter(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
