package ports

import (
	"context"
	"time"

	"NewsHarvester/internal/domain"
)

// FeedRegistry lists the feed sources configured for a run.
type FeedRegistry interface {
	ListEnabled() []domain.FeedSource
	Defaults() *domain.ExtractionPolicy
}

// FeedFetcher retrieves raw feed bytes. Ordinary network failures come back as *domain.FetchError.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

// FeedParser turns raw feed bytes into items, preserving source order.
type FeedParser interface {
	Parse(raw []byte) ([]domain.RawFeedItem, error)
}

// Clock supplies the current UTC instant.
type Clock interface {
	Now() time.Time
}

// StorageBackend is the contract shared by hot and cold stores.
// Records within a partition are returned in ascending sort key order;
// QueryRange orders by partition key, then sort key.
type StorageBackend interface {
	Put(ctx context.Context, article domain.Article) error
	BatchPut(ctx context.Context, articles []domain.Article) error
	Get(ctx context.Context, partitionKey, sortKey string) (domain.Article, error)
	QueryPartition(ctx context.Context, partitionKey string, limit int) ([]domain.Article, error)
	QueryRange(ctx context.Context, startKey, endKey string) ([]domain.Article, error)
	DeletePartition(ctx context.Context, partitionKey string) error
	// DeleteKeys removes only the listed sort keys and reports how many existed.
	DeleteKeys(ctx context.Context, partitionKey string, sortKeys []string) (int, error)
	ListPartitions(ctx context.Context) ([]string, error)
}

// DedupIndex is the authoritative (feedID, contentHash) existence map.
type DedupIndex interface {
	Exists(ctx context.Context, feedID, hash string) (bool, error)
	Register(ctx context.Context, entry domain.DedupEntry) (domain.RegisterOutcome, error)
	Lookup(ctx context.Context, feedID, hash string) (domain.DedupEntry, bool, error)
	Release(ctx context.Context, feedID, hash string) error
}

// Notifier streams run summaries to chat channels.
type Notifier interface {
	PublishSummary(ctx context.Context, text string) error
}

// Scheduler controls when jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
