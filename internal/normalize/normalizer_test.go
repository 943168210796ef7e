package normalize

import (
	"errors"
	"sort"
	"testing"
	"time"

	"NewsHarvester/internal/clock"
	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/extract"
)

var fetchTime = time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC)

func TestContentHashStability(t *testing.T) {
	t.Parallel()

	base := ContentHash("https://example.com/news/story")
	variants := []string{
		"https://example.com/news/story/",
		"  https://EXAMPLE.com/news/story  ",
		"https://Example.COM/news/story//",
		"\thttps://example.com/news/story\n",
	}

	for _, v := range variants {
		if got := ContentHash(v); got != base {
			t.Fatalf("hash of %q differs: %s vs %s", v, got, base)
		}
	}

	if ContentHash("https://example.com/news/other") == base {
		t.Fatalf("different links must hash differently")
	}
	if len(base) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(base))
	}
}

func TestMapComputesKeys(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(clock.Fixed(fetchTime))
	published := time.Date(2025, time.June, 9, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	feed := domain.FeedSource{ID: "wire", Name: "Wire", Category: "World", Country: "US", Priority: 2}

	article, err := n.Map(
		domain.RawFeedItem{Title: "Hello <b>world</b>", Link: " https://example.com/a "},
		extract.Fields{PublishedAt: published, ImageURL: "https://example.com/a.jpg", Categories: []string{"World"}},
		feed,
	)
	if err != nil {
		t.Fatalf("Map returned error: %v", err)
	}

	if article.PartitionKey != "2025-06-10" {
		t.Fatalf("expected UTC partition 2025-06-10, got %s", article.PartitionKey)
	}
	if article.Link != "https://example.com/a" {
		t.Fatalf("unexpected link: %q", article.Link)
	}
	if article.Title != "Hello world" {
		t.Fatalf("unexpected title: %q", article.Title)
	}
	if article.ContentHash != ContentHash("https://example.com/a") {
		t.Fatalf("unexpected hash")
	}
	if article.SortKey != SortKey(published, "wire", article.ContentHash) {
		t.Fatalf("unexpected sort key: %s", article.SortKey)
	}
	if article.ImageURL == nil || *article.ImageURL != "https://example.com/a.jpg" {
		t.Fatalf("unexpected image: %v", article.ImageURL)
	}
	if !article.FetchedAt.Equal(fetchTime) || article.PriorityTier != 2 || article.Country != "US" {
		t.Fatalf("feed metadata not carried: %+v", article)
	}
}

func TestMapFallsBackToFetchTime(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(clock.Fixed(fetchTime))
	feed := domain.FeedSource{ID: "wire"}
	item := domain.RawFeedItem{Link: "https://example.com/a"}

	cases := map[string]time.Time{
		"missing":   {},
		"ancient":   time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC),
		"future":    fetchTime.Add(72 * time.Hour),
		"just_past": time.Date(1994, time.December, 31, 0, 0, 0, 0, time.UTC),
	}

	for name, published := range cases {
		article, err := n.Map(item, extract.Fields{PublishedAt: published}, feed)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if !article.PublishedAt.Equal(fetchTime) {
			t.Fatalf("%s: expected fetch time fallback, got %v", name, article.PublishedAt)
		}
		if article.PartitionKey != "2025-06-10" {
			t.Fatalf("%s: unexpected partition %s", name, article.PartitionKey)
		}
	}
}

func TestMapRejectsMissingLink(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(clock.Fixed(fetchTime))
	feed := domain.FeedSource{ID: "wire"}

	for _, item := range []domain.RawFeedItem{
		{Title: "no link"},
		{Title: "blank", Link: "   "},
		{Title: "relative", Link: "/news/1"},
		{Title: "urn guid", GUID: "urn:uuid:1234"},
	} {
		_, err := n.Map(item, extract.Fields{}, feed)
		if !errors.Is(err, domain.ErrLinkMissing) {
			t.Fatalf("%s: expected ErrLinkMissing, got %v", item.Title, err)
		}
	}

	article, err := n.Map(domain.RawFeedItem{GUID: "https://example.com/guid-link"}, extract.Fields{}, feed)
	if err != nil {
		t.Fatalf("guid fallback failed: %v", err)
	}
	if article.Link != "https://example.com/guid-link" {
		t.Fatalf("unexpected link: %s", article.Link)
	}
}

func TestSortKeyOrdering(t *testing.T) {
	t.Parallel()

	t1 := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Minute)

	keys := []string{
		SortKey(t0, "alpha", "aaaa"),
		SortKey(t1, "beta", "0000"),
		SortKey(t1, "alpha", "ffff"),
		SortKey(t1, "alpha", "0001"),
		SortKey(t1, "alpha-2", "0000"),
		SortKey(t1, "alph", "ffff"),
	}
	sort.Strings(keys)

	want := []string{
		SortKey(t1, "alph", "ffff"),
		SortKey(t1, "alpha", "0001"),
		SortKey(t1, "alpha", "ffff"),
		SortKey(t1, "alpha-2", "0000"),
		SortKey(t1, "beta", "0000"),
		SortKey(t0, "alpha", "aaaa"),
	}

	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("position %d: got %s want %s", i, keys[i], want[i])
		}
	}
}

func TestPartitionKeyRoundTrip(t *testing.T) {
	t.Parallel()

	day, err := ParsePartitionKey("2025-02-28")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if PartitionKey(day) != "2025-02-28" {
		t.Fatalf("unexpected key %s", PartitionKey(day))
	}
}
