package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/extract"
	"NewsHarvester/internal/metrics"
	"NewsHarvester/internal/normalize"
	"NewsHarvester/internal/ports"
)

// DefaultConcurrency is used when the caller passes a non-positive limit.
const DefaultConcurrency = 10

// OrchestratorDeps wires the fetch stage.
type OrchestratorDeps struct {
	Fetcher    ports.FeedFetcher
	Parser     ports.FeedParser
	Normalizer *normalize.Normalizer
	Defaults   *domain.ExtractionPolicy
	Logger     *slog.Logger
}

// Orchestrator fetches, parses, extracts and normalizes feeds in parallel.
type Orchestrator struct {
	fetcher    ports.FeedFetcher
	parser     ports.FeedParser
	normalizer *normalize.Normalizer
	defaults   *domain.ExtractionPolicy
	logger     *slog.Logger
}

// FetchStats aggregates feed-level outcomes of a run.
type FetchStats struct {
	Attempted  int
	Succeeded  int
	Failed     int
	ItemsFound int
}

// Add folds one feed result into the stats.
func (s *FetchStats) Add(r domain.FeedParseResult) {
	s.Attempted++
	if r.Success {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.ItemsFound += r.ItemsFound
}

// NewOrchestrator constructs the fetch stage.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		fetcher:    deps.Fetcher,
		parser:     deps.Parser,
		normalizer: deps.Normalizer,
		defaults:   deps.Defaults,
		logger:     logger,
	}
}

// Run processes every enabled source and returns one result per source.
func (o *Orchestrator) Run(ctx context.Context, sources []domain.FeedSource, limit int, perFeedTimeout time.Duration) []domain.FeedParseResult {
	var results []domain.FeedParseResult
	for r := range o.Stream(ctx, sources, limit, perFeedTimeout) {
		results = append(results, r)
	}
	return results
}

// Stream starts the workers and returns the results channel, closed once every
// enabled source has produced exactly one result. Sources still waiting for a
// slot when ctx ends get a failed result.
func (o *Orchestrator) Stream(ctx context.Context, sources []domain.FeedSource, limit int, perFeedTimeout time.Duration) <-chan domain.FeedParseResult {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	enabled := make([]domain.FeedSource, 0, len(sources))
	for _, src := range sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}

	out := make(chan domain.FeedParseResult, len(enabled))
	go func() {
		defer close(out)

		sem := semaphore.NewWeighted(int64(limit))
		var wg sync.WaitGroup
		for _, src := range enabled {
			if err := sem.Acquire(ctx, 1); err != nil {
				out <- failedResult(src, 0, fmt.Errorf("not started: %w", err))
				continue
			}

			wg.Add(1)
			go func(src domain.FeedSource) {
				defer wg.Done()
				defer sem.Release(1)
				out <- o.processFeed(ctx, src, perFeedTimeout)
			}(src)
		}
		wg.Wait()
	}()

	return out
}

func (o *Orchestrator) processFeed(ctx context.Context, src domain.FeedSource, timeout time.Duration) (result domain.FeedParseResult) {
	started := time.Now()
	logger := o.logger.With("feed", src.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("feed worker panic", "panic", r)
			result = failedResult(src, time.Since(started), fmt.Errorf("panic: %v", r))
		}
		outcome := "ok"
		if !result.Success {
			outcome = "failed"
		}
		metrics.FeedFetchDuration.WithLabelValues(src.ID, outcome).Observe(result.Duration.Seconds())
	}()

	raw, err := o.fetcher.Fetch(ctx, src.URL, timeout)
	if err != nil {
		logger.Warn("fetch feed", "url", src.URL, "error", err)
		return failedResult(src, time.Since(started), err)
	}

	items, err := o.parser.Parse(raw)
	if err != nil {
		logger.Warn("parse feed", "url", src.URL, "error", err)
		return failedResult(src, time.Since(started), err)
	}

	policy := extract.Resolve(src.Extraction, o.defaults)
	result = domain.FeedParseResult{
		Feed:       src,
		Success:    true,
		ItemsFound: len(items),
		Articles:   make([]domain.Article, 0, len(items)),
	}

	for _, item := range items {
		fields := extract.Extract(item, policy, src)
		result.ExtractionFailures += fields.Failures()

		article, err := o.normalizer.Map(item, fields, src)
		if errors.Is(err, domain.ErrLinkMissing) {
			result.LinkMissing++
			logger.Debug("skip item without link", "title", item.Title)
			continue
		}
		if err != nil {
			result.ExtractionFailures++
			logger.Debug("skip item", "title", item.Title, "error", err)
			continue
		}
		result.Articles = append(result.Articles, article)
	}

	result.Duration = time.Since(started)
	logger.Debug("feed processed", "items", result.ItemsFound, "articles", len(result.Articles), "duration", result.Duration)
	return result
}

func failedResult(src domain.FeedSource, elapsed time.Duration, err error) domain.FeedParseResult {
	return domain.FeedParseResult{
		Feed:         src,
		Success:      false,
		ErrorMessage: err.Error(),
		Duration:     elapsed,
	}
}
