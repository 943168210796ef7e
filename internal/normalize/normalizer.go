package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/extract"
	"NewsHarvester/internal/ports"
)

var (
	// earliestSane bounds feed dates from below; older values are treated as bogus.
	earliestSane = time.Date(1995, time.January, 1, 0, 0, 0, 0, time.UTC)
	// futureSkew bounds feed dates from above relative to fetch time.
	futureSkew = 24 * time.Hour
)

// Normalizer maps extracted fields into canonical articles.
type Normalizer struct {
	clock ports.Clock
}

// NewNormalizer wires the clock used for FetchedAt.
func NewNormalizer(clock ports.Clock) *Normalizer {
	return &Normalizer{clock: clock}
}

// Map builds the canonical article. Items without a usable link yield domain.ErrLinkMissing.
func (n *Normalizer) Map(item domain.RawFeedItem, fields extract.Fields, feed domain.FeedSource) (domain.Article, error) {
	link := usableLink(item)
	if link == "" {
		return domain.Article{}, fmt.Errorf("feed %s item %q: %w", feed.ID, item.Title, domain.ErrLinkMissing)
	}

	fetchedAt := n.clock.Now().UTC()
	publishedAt := fields.PublishedAt.UTC()
	if !saneDate(publishedAt, fetchedAt) {
		publishedAt = fetchedAt
	}

	hash := ContentHash(link)

	var image *string
	if fields.ImageURL != "" {
		img := fields.ImageURL
		image = &img
	}

	return domain.Article{
		Title:        strings.TrimSpace(extract.StripHTML(item.Title)),
		Link:         link,
		Description:  fields.Description,
		PublishedAt:  publishedAt,
		FetchedAt:    fetchedAt,
		FeedID:       feed.ID,
		FeedName:     feed.Name,
		Author:       fields.Author,
		Category:     feed.Category,
		Country:      feed.Country,
		PriorityTier: feed.Priority,
		ImageURL:     image,
		ContentHash:  hash,
		Tags:         fields.Categories,
		PartitionKey: PartitionKey(publishedAt),
		SortKey:      SortKey(publishedAt, feed.ID, hash),
	}, nil
}

func saneDate(t, fetchedAt time.Time) bool {
	if t.IsZero() || t.Before(earliestSane) {
		return false
	}
	return !t.After(fetchedAt.Add(futureSkew))
}

// usableLink returns the trimmed item link, or the GUID when it is an absolute http(s) URL.
func usableLink(item domain.RawFeedItem) string {
	for _, candidate := range []string{item.Link, item.GUID} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		u, err := url.Parse(candidate)
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			return candidate
		}
	}
	return ""
}
