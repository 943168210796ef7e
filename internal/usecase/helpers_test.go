package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"NewsHarvester/internal/clock"
	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/infrastructure/storage"
	"NewsHarvester/internal/normalize"
	"NewsHarvester/internal/ports"
	"NewsHarvester/internal/store"
)

var (
	quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	fastRetry   = store.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	fixedNow    = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
)

// fakeFetcher returns the URL itself as the body so fakeParser can key on it.
type fakeFetcher struct {
	delay    time.Duration
	failures map[string]error

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &domain.FetchError{URL: url, Kind: domain.FetchTimeout, Err: ctx.Err()}
		}
	}
	if err := f.failures[url]; err != nil {
		return nil, err
	}
	return []byte(url), nil
}

type fakeParser struct {
	mu    sync.Mutex
	items map[string][]domain.RawFeedItem
}

func (p *fakeParser) Parse(raw []byte) ([]domain.RawFeedItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items[string(raw)], nil
}

type registryStub struct {
	feeds []domain.FeedSource
}

func (r registryStub) ListEnabled() []domain.FeedSource   { return r.feeds }
func (r registryStub) Defaults() *domain.ExtractionPolicy { return nil }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) PublishSummary(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func feed(id string) domain.FeedSource {
	return domain.FeedSource{ID: id, Name: id, URL: "https://" + id + ".example/rss", Enabled: true, Priority: 1}
}

func rawItem(link string, published time.Time) domain.RawFeedItem {
	return domain.RawFeedItem{
		Title:       "Item " + link,
		Link:        link,
		Description: "About " + link,
		RawDate:     published.Format(time.RFC1123Z),
	}
}

type tiers struct {
	hot   *store.TimeStore
	cold  *store.TimeStore
	dedup ports.DedupIndex
}

func newTiers(t *testing.T) tiers {
	t.Helper()
	db, err := storage.OpenBadger("")
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return tiers{
		hot:   store.New("hot", storage.NewBadgerBackend(db, "hot"), fastRetry, quietLogger),
		cold:  store.New("cold", storage.NewBadgerBackend(db, "cold"), fastRetry, quietLogger),
		dedup: storage.NewBadgerDedupIndex(db),
	}
}

func newOrchestrator(fetcher ports.FeedFetcher, parser ports.FeedParser) *Orchestrator {
	return NewOrchestrator(OrchestratorDeps{
		Fetcher:    fetcher,
		Parser:     parser,
		Normalizer: normalize.NewNormalizer(clock.Fixed(fixedNow)),
		Logger:     quietLogger,
	})
}

func storedArticle(feedID, link string, published time.Time) domain.Article {
	hash := normalize.ContentHash(link)
	return domain.Article{
		Title:        link,
		Link:         link,
		PublishedAt:  published,
		FetchedAt:    published,
		FeedID:       feedID,
		ContentHash:  hash,
		PartitionKey: normalize.PartitionKey(published),
		SortKey:      normalize.SortKey(published, feedID, hash),
	}
}
