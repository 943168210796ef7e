package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
	"NewsHarvester/internal/store"
)

// Reader serves articles across the hot and cold tiers.
type Reader struct {
	dedup ports.DedupIndex
	hot   *store.TimeStore
	cold  *store.TimeStore
}

// NewReader wires the dedup index and both stores.
func NewReader(dedup ports.DedupIndex, hot, cold *store.TimeStore) *Reader {
	return &Reader{dedup: dedup, hot: hot, cold: cold}
}

// Article finds a single article by feed and content hash, hot tier first.
func (r *Reader) Article(ctx context.Context, feedID, hash string) (domain.Article, error) {
	entry, found, err := r.dedup.Lookup(ctx, feedID, hash)
	if err != nil {
		return domain.Article{}, fmt.Errorf("dedup lookup: %w", err)
	}
	if !found {
		return domain.Article{}, fmt.Errorf("article %s/%s: %w", feedID, hash, domain.ErrNotFound)
	}

	article, err := r.hot.Get(ctx, entry.PartitionKey, entry.SortKey)
	if !errors.Is(err, domain.ErrNotFound) {
		return article, err
	}
	return r.cold.Get(ctx, entry.PartitionKey, entry.SortKey)
}

// Latest returns up to limit articles of day from the hot tier, newest first.
func (r *Reader) Latest(ctx context.Context, day time.Time, limit int) ([]domain.Article, error) {
	return r.hot.GetPartition(ctx, day, limit)
}

// Range merges both tiers between start and end, newest first. A partition
// caught mid-migration appears in both tiers and is returned once.
func (r *Reader) Range(ctx context.Context, start, end time.Time) ([]domain.Article, error) {
	hot, err := r.hot.GetRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	cold, err := r.cold.GetRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	merged := store.MergeNewestFirst([][]domain.Article{hot, cold})
	out := merged[:0]
	for _, a := range merged {
		if len(out) > 0 && out[len(out)-1].SortKey == a.SortKey {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
