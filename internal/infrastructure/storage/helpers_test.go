package storage

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/normalize"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := OpenBadger("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testArticle(feedID, link string, published time.Time) domain.Article {
	hash := normalize.ContentHash(link)
	return domain.Article{
		Title:        "title " + link,
		Link:         link,
		Description:  "desc",
		PublishedAt:  published.UTC(),
		FetchedAt:    published.UTC(),
		FeedID:       feedID,
		FeedName:     feedID,
		PriorityTier: 1,
		ContentHash:  hash,
		PartitionKey: normalize.PartitionKey(published),
		SortKey:      normalize.SortKey(published, feedID, hash),
	}
}
