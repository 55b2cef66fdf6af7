package store

import (
	"context"
	"iter"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

// DefaultPageSize is the batch size All fetches per round trip.
const DefaultPageSize = 100

// All returns a lazy sequence of every record matching filter in
// (created_at, id) order. Pages are fetched only as the caller advances.
// Ranging over the sequence again starts from the beginning. An error is
// yielded once and ends the sequence.
func All(ctx context.Context, b Backend, filter domain.ListFilter, pageSize int) iter.Seq2[*domain.BeamRecord, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(*domain.BeamRecord, error) bool) {
		var after *domain.Cursor
		for {
			page, err := b.ListPage(ctx, filter, after, pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rec := range page.Items {
				if !yield(rec, nil) {
					return
				}
			}
			if page.Next == nil {
				return
			}
			after = page.Next
		}
	}
}
