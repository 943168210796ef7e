package domain

import "time"

// FeedParseResult is the outcome of fetching and extracting one feed.
type FeedParseResult struct {
	Feed               FeedSource
	Articles           []Article
	Success            bool
	ErrorMessage       string
	Duration           time.Duration
	ItemsFound         int
	LinkMissing        int
	ExtractionFailures int
}

// IngestSummary aggregates one ingestion run.
type IngestSummary struct {
	RunID              string
	StartedAt          time.Time
	FeedsAttempted     int
	FeedsSucceeded     int
	FeedsFailed        int
	ItemsFound         int
	Parsed             int
	Stored             int
	Duplicates         int
	LinkMissing        int
	ExtractionFailures int
	StoreFailures      int
	Errors             []string
	Duration           time.Duration
}

// ArchivalResult aggregates one archival sweep.
type ArchivalResult struct {
	PartitionsProcessed int
	ArticlesArchived    int
	ArticlesDeleted     int
	Errors              []string
	Duration            time.Duration
}
