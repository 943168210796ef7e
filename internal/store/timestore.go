package store

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/metrics"
	"NewsHarvester/internal/normalize"
	"NewsHarvester/internal/ports"
)

// RetryPolicy bounds retries of transient storage errors.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries three times starting at 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}

// TimeStore is a date-partitioned, newest-first view over a storage backend.
type TimeStore struct {
	name    string
	backend ports.StorageBackend
	retry   RetryPolicy
	logger  *slog.Logger
}

// New wraps backend; name labels logs ("hot", "cold").
func New(name string, backend ports.StorageBackend, retry RetryPolicy, logger *slog.Logger) *TimeStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeStore{name: name, backend: backend, retry: retry, logger: logger}
}

// Name returns the tier label.
func (s *TimeStore) Name() string { return s.name }

// Put stores one article, retrying transient failures.
func (s *TimeStore) Put(ctx context.Context, article domain.Article) error {
	return s.withRetry(ctx, "put", func() error {
		return s.backend.Put(ctx, article)
	})
}

// BatchPut upserts articles; re-putting an existing key never creates a duplicate.
func (s *TimeStore) BatchPut(ctx context.Context, articles []domain.Article) error {
	if len(articles) == 0 {
		return nil
	}
	return s.withRetry(ctx, "batch put", func() error {
		return s.backend.BatchPut(ctx, articles)
	})
}

// GetPartition returns up to limit articles of day, newest first. limit <= 0 means all.
func (s *TimeStore) GetPartition(ctx context.Context, day time.Time, limit int) ([]domain.Article, error) {
	return s.getPartitionKey(ctx, normalize.PartitionKey(day), limit)
}

func (s *TimeStore) getPartitionKey(ctx context.Context, key string, limit int) ([]domain.Article, error) {
	var articles []domain.Article
	err := s.withRetry(ctx, "query partition", func() error {
		var err error
		articles, err = s.backend.QueryPartition(ctx, key, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return articles, nil
}

// Get returns a single article by its keys.
func (s *TimeStore) Get(ctx context.Context, partitionKey, sortKey string) (domain.Article, error) {
	var article domain.Article
	err := s.withRetry(ctx, "get", func() error {
		var err error
		article, err = s.backend.Get(ctx, partitionKey, sortKey)
		return err
	})
	if err != nil {
		return domain.Article{}, err
	}
	return article, nil
}

// GetRange returns every article between start and end (inclusive, by UTC date), newest first.
// Partitions are merged by sort key rather than concatenated.
func (s *TimeStore) GetRange(ctx context.Context, start, end time.Time) ([]domain.Article, error) {
	startKey, endKey := normalize.PartitionKey(start), normalize.PartitionKey(end)
	if startKey > endKey {
		startKey, endKey = endKey, startKey
	}

	var flat []domain.Article
	err := s.withRetry(ctx, "query range", func() error {
		var err error
		flat, err = s.backend.QueryRange(ctx, startKey, endKey)
		return err
	})
	if err != nil {
		return nil, err
	}

	return MergeNewestFirst(splitRuns(flat)), nil
}

// DeletePartition drops a whole day; backends apply it atomically.
func (s *TimeStore) DeletePartition(ctx context.Context, day time.Time) error {
	key := normalize.PartitionKey(day)
	return s.withRetry(ctx, "delete partition", func() error {
		return s.backend.DeletePartition(ctx, key)
	})
}

// DeleteKeys removes only the listed articles of day and returns how many were
// removed. Articles written to the partition afterwards stay in place.
func (s *TimeStore) DeleteKeys(ctx context.Context, day time.Time, sortKeys []string) (int, error) {
	if len(sortKeys) == 0 {
		return 0, nil
	}
	key := normalize.PartitionKey(day)
	var deleted int
	err := s.withRetry(ctx, "delete keys", func() error {
		n, err := s.backend.DeleteKeys(ctx, key, sortKeys)
		deleted += n
		return err
	})
	return deleted, err
}

// Partitions lists partition days in ascending order.
func (s *TimeStore) Partitions(ctx context.Context) ([]time.Time, error) {
	var keys []string
	err := s.withRetry(ctx, "list partitions", func() error {
		var err error
		keys, err = s.backend.ListPartitions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	days := make([]time.Time, 0, len(keys))
	for _, key := range keys {
		day, err := normalize.ParsePartitionKey(key)
		if err != nil {
			s.logger.Warn("skip malformed partition key", "store", s.name, "key", key, "error", err)
			continue
		}
		days = append(days, day)
	}
	return days, nil
}

func (s *TimeStore) withRetry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("transient storage error", "store", s.name, "op", op, "attempt", attempt, "error", err)
		metrics.StorageRetries.WithLabelValues(s.name, op).Inc()
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.retry.MaxRetries), ctx))
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return fmt.Errorf("%s %s: %w", s.name, op, err)
}

// splitRuns cuts a partition-ordered slice into per-partition runs.
func splitRuns(flat []domain.Article) [][]domain.Article {
	var runs [][]domain.Article
	start := 0
	for i := 1; i <= len(flat); i++ {
		if i == len(flat) || flat[i].PartitionKey != flat[start].PartitionKey {
			runs = append(runs, flat[start:i])
			start = i
		}
	}
	return runs
}

// MergeNewestFirst k-way merges runs that are each ordered by ascending sort key.
func MergeNewestFirst(runs [][]domain.Article) []domain.Article {
	total := 0
	h := make(runHeap, 0, len(runs))
	for _, run := range runs {
		if len(run) == 0 {
			continue
		}
		total += len(run)
		h = append(h, run)
	}
	heap.Init(&h)

	out := make([]domain.Article, 0, total)
	for h.Len() > 0 {
		run := h[0]
		out = append(out, run[0])
		if len(run) == 1 {
			heap.Pop(&h)
			continue
		}
		h[0] = run[1:]
		heap.Fix(&h, 0)
	}
	return out
}

type runHeap [][]domain.Article

func (h runHeap) Len() int            { return len(h) }
func (h runHeap) Less(i, j int) bool  { return h[i][0].SortKey < h[j][0].SortKey }
func (h runHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *runHeap) Push(x interface{}) { *h = append(*h, x.([]domain.Article)) }
func (h *runHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
