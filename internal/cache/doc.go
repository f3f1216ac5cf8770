// Package cache memoizes values per table.
//
// A Cache keeps JSON entries under <prefix>.<table>.rsql.kh.<table>.<key>
// on the table's backend, with an optional TTL. Compute builds a key from
// a fingerprint of the calling function and the table watermark: every
// write to the table bumps the watermark, so a cached computation is
// never served after the data it read has changed.
//
//	top, err := cache.Compute(ctx, c, func(ctx context.Context) ([]string, error) {
//		return titles(ctx, books.Where("pages", ">", 900))
//	})
package cache
