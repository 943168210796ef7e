package storage

import (
	"time"

	"NewsHarvester/internal/domain"
)

// record is the persisted article schema shared by hot and cold tiers.
type record struct {
	PartitionKey string     `json:"partition_key" dynamodbav:"partition_key"`
	SortKey      string     `json:"sort_key" dynamodbav:"sort_key"`
	Title        string     `json:"title" dynamodbav:"title"`
	Link         string     `json:"link" dynamodbav:"link"`
	Description  string     `json:"description" dynamodbav:"description"`
	PublishedAt  time.Time  `json:"published_at" dynamodbav:"published_at"`
	FetchedAt    time.Time  `json:"fetched_at" dynamodbav:"fetched_at"`
	FeedID       string     `json:"feed_id" dynamodbav:"feed_id"`
	FeedName     string     `json:"feed_name" dynamodbav:"feed_name"`
	Author       string     `json:"author,omitempty" dynamodbav:"author,omitempty"`
	Category     string     `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Country      string     `json:"country,omitempty" dynamodbav:"country,omitempty"`
	PriorityTier int        `json:"priority_tier" dynamodbav:"priority_tier"`
	ImageURL     *string    `json:"image_url,omitempty" dynamodbav:"image_url,omitempty"`
	ContentHash  string     `json:"content_hash" dynamodbav:"content_hash"`
	Tags         []string   `json:"tags,omitempty" dynamodbav:"tags,omitempty"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty" dynamodbav:"archived_at,omitempty"`
}

func toRecord(a domain.Article) record {
	return record{
		PartitionKey: a.PartitionKey,
		SortKey:      a.SortKey,
		Title:        a.Title,
		Link:         a.Link,
		Description:  a.Description,
		PublishedAt:  a.PublishedAt.UTC(),
		FetchedAt:    a.FetchedAt.UTC(),
		FeedID:       a.FeedID,
		FeedName:     a.FeedName,
		Author:       a.Author,
		Category:     a.Category,
		Country:      a.Country,
		PriorityTier: a.PriorityTier,
		ImageURL:     a.ImageURL,
		ContentHash:  a.ContentHash,
		Tags:         a.Tags,
		ArchivedAt:   a.ArchivedAt,
	}
}

func (r record) article() domain.Article {
	return domain.Article{
		Title:        r.Title,
		Link:         r.Link,
		Description:  r.Description,
		PublishedAt:  r.PublishedAt.UTC(),
		FetchedAt:    r.FetchedAt.UTC(),
		FeedID:       r.FeedID,
		FeedName:     r.FeedName,
		Author:       r.Author,
		Category:     r.Category,
		Country:      r.Country,
		PriorityTier: r.PriorityTier,
		ImageURL:     r.ImageURL,
		ContentHash:  r.ContentHash,
		Tags:         r.Tags,
		PartitionKey: r.PartitionKey,
		SortKey:      r.SortKey,
		ArchivedAt:   r.ArchivedAt,
	}
}
