package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"NewsHarvester/internal/clock"
	"NewsHarvester/internal/config"
)

func testConfig(feedURL string) *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
		Ingest: config.IngestConfig{
			MaxConcurrentFeeds: 2,
			PerFeedTimeout:     5 * time.Second,
			RunTimeout:         30 * time.Second,
			StoreTimeout:       10 * time.Second,
		},
		Archive:   config.ArchiveConfig{RetentionDays: 90},
		Scheduler: config.SchedulerConfig{IngestCron: "*/15 * * * *", SweepCron: "30 3 * * *"},
		Storage:   config.StorageConfig{Backend: config.BackendBadger},
		Dedup:     config.DedupConfig{Backend: config.BackendBadger},
		Feeds: []config.FeedConfig{
			{ID: "local", Name: "Local", URL: feedURL},
		},
	}
}

func TestRunOnceIngestAndRead(t *testing.T) {
	t.Parallel()

	published := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Local</title>
<item><title>First</title><link>https://example.com/a</link><pubDate>%s</pubDate></item>
<item><title>Second</title><link>https://example.com/b</link><pubDate>%s</pubDate></item>
</channel></rss>`, published.Format(time.RFC1123Z), published.Add(-time.Minute).Format(time.RFC1123Z))
	}))
	defer srv.Close()

	ctx := context.Background()
	application, err := New(ctx, testConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Close()

	if err := application.RunOnce(ctx, JobIngest); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// second run only finds duplicates
	if err := application.RunOnce(ctx, JobIngest); err != nil {
		t.Fatalf("ingest again: %v", err)
	}

	articles, err := application.Reader().Range(ctx, published.Add(-24*time.Hour), published.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("expected 2 articles, got %d", len(articles))
	}
	if articles[0].Title != "First" {
		t.Fatalf("expected newest first, got %q", articles[0].Title)
	}

	got, err := application.Reader().Article(ctx, "local", articles[1].ContentHash)
	if err != nil {
		t.Fatalf("Article: %v", err)
	}
	if got.Link != "https://example.com/b" {
		t.Fatalf("unexpected link %q", got.Link)
	}

	if err := application.RunOnce(ctx, JobSweep); err != nil {
		t.Fatalf("sweep: %v", err)
	}
}

func TestRunOnceSweepUsesInjectedClock(t *testing.T) {
	t.Parallel()

	published := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Local</title>
<item><title>Only</title><link>https://example.com/only</link><pubDate>%s</pubDate></item>
</channel></rss>`, published.Format(time.RFC1123Z))
	}))
	defer srv.Close()

	ctx := context.Background()
	later := clock.Fixed(published.AddDate(0, 0, 200))
	application, err := New(ctx, testConfig(srv.URL), nil, WithClock(later))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Close()

	if err := application.RunOnce(ctx, JobIngest); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := application.RunOnce(ctx, JobSweep); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	hot, err := application.Reader().Latest(ctx, published, 10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(hot) != 0 {
		t.Fatalf("sweep at the injected time should have archived the partition, %d left hot", len(hot))
	}
	all, err := application.Reader().Range(ctx, published, published)
	if err != nil || len(all) != 1 || all[0].ArchivedAt == nil {
		t.Fatalf("expected the article in cold storage: %+v %v", all, err)
	}
}

func TestRunOnceUnknownJob(t *testing.T) {
	t.Parallel()
	application, err := New(context.Background(), testConfig("https://example.com/feed.xml"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Close()

	if err := application.RunOnce(context.Background(), "compact"); err == nil {
		t.Fatalf("expected error for unknown job")
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	cfg := testConfig("https://example.com/feed.xml")
	cfg.Scheduler.IngestCron = "every now and then"
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected schedule error")
	}
}
