package domain

import "time"

// Article is the canonical, persisted record produced once per distinct link and feed.
type Article struct {
	Title        string
	Link         string
	Description  string
	PublishedAt  time.Time
	FetchedAt    time.Time
	FeedID       string
	FeedName     string
	Author       string
	Category     string
	Country      string
	PriorityTier int
	ImageURL     *string
	ContentHash  string
	Tags         []string
	PartitionKey string
	SortKey      string
	// ArchivedAt is only set on records living in cold storage.
	ArchivedAt *time.Time
}

// Archived returns a copy of the article stamped for cold storage.
func (a Article) Archived(at time.Time) Article {
	stamped := at.UTC()
	a.ArchivedAt = &stamped
	a.Tags = append([]string(nil), a.Tags...)
	return a
}

// FeedSource describes a configured syndication feed.
type FeedSource struct {
	ID         string
	Name       string
	URL        string
	Category   string
	Country    string
	Priority   int
	Enabled    bool
	Extraction *ExtractionPolicy
}

// Enclosure is a raw <enclosure> element.
type Enclosure struct {
	URL  string
	Type string
}

// MediaContent is a raw media:content element.
type MediaContent struct {
	URL    string
	Medium string
	Type   string
}

// RawFeedItem is one parsed syndication entry before field extraction.
type RawFeedItem struct {
	Title           string
	Link            string
	GUID            string
	Description     string
	Summary         string
	Content         string
	RawDate         string
	Author          string
	Enclosures      []Enclosure
	MediaThumbnails []string
	MediaContents   []MediaContent
	Categories      []string
	// Extensions holds namespaced elements flattened to "prefix:name" -> first value.
	Extensions map[string]string
}

// DedupEntry records where the first copy of an article was stored.
type DedupEntry struct {
	FeedID       string    `json:"feed_id"`
	ContentHash  string    `json:"content_hash"`
	PartitionKey string    `json:"partition_key"`
	SortKey      string    `json:"sort_key"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
}

// RegisterOutcome is the result of a dedup index test-and-set.
type RegisterOutcome int

const (
	Inserted RegisterOutcome = iota + 1
	AlreadyExists
)

func (o RegisterOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}
