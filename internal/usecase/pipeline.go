package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/metrics"
	"NewsHarvester/internal/ports"
	"NewsHarvester/internal/store"
)

const maxSummaryErrors = 10

// PipelineDeps wires all driven adapters into the ingestion pipeline.
type PipelineDeps struct {
	Registry     ports.FeedRegistry
	Orchestrator *Orchestrator
	Dedup        ports.DedupIndex
	Hot          *store.TimeStore
	Notifier     ports.Notifier
	Clock        ports.Clock
	Logger       *slog.Logger

	MaxConcurrentFeeds int
	PerFeedTimeout     time.Duration
	RunTimeout         time.Duration
	StoreTimeout       time.Duration
}

// Pipeline implements one ingestion run: fetch, dedup, store, report.
type Pipeline struct {
	registry     ports.FeedRegistry
	orchestrator *Orchestrator
	dedup        ports.DedupIndex
	hot          *store.TimeStore
	notifier     ports.Notifier
	clock        ports.Clock
	logger       *slog.Logger

	maxConcurrentFeeds int
	perFeedTimeout     time.Duration
	runTimeout         time.Duration
	storeTimeout       time.Duration
}

// NewPipeline constructs the ingestion component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:           deps.Registry,
		orchestrator:       deps.Orchestrator,
		dedup:              deps.Dedup,
		hot:                deps.Hot,
		notifier:           deps.Notifier,
		clock:              deps.Clock,
		logger:             logger,
		maxConcurrentFeeds: deps.MaxConcurrentFeeds,
		perFeedTimeout:     deps.PerFeedTimeout,
		runTimeout:         deps.RunTimeout,
		storeTimeout:       deps.StoreTimeout,
	}
}

// Ingest runs every enabled feed once. Per-item and per-feed failures are
// counted in the summary, never returned.
func (p *Pipeline) Ingest(ctx context.Context) domain.IngestSummary {
	started := p.clock.Now()
	summary := domain.IngestSummary{RunID: uuid.NewString(), StartedAt: started}
	logger := p.logger.With("run_id", summary.RunID)

	runCtx := ctx
	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}

	sources := p.registry.ListEnabled()
	logger.Info("ingest started", "feeds", len(sources))

	var stats FetchStats
	for result := range p.orchestrator.Stream(runCtx, sources, p.maxConcurrentFeeds, p.perFeedTimeout) {
		stats.Add(result)
		summary.LinkMissing += result.LinkMissing
		summary.ExtractionFailures += result.ExtractionFailures
		summary.Parsed += len(result.Articles)

		if !result.Success {
			p.addError(&summary, fmt.Sprintf("%s: %s", result.Feed.ID, result.ErrorMessage))
			continue
		}

		p.storeResult(ctx, logger, result, &summary)
	}

	summary.FeedsAttempted = stats.Attempted
	summary.FeedsSucceeded = stats.Succeeded
	summary.FeedsFailed = stats.Failed
	summary.ItemsFound = stats.ItemsFound
	summary.Duration = p.clock.Now().Sub(started)

	metrics.ArticlesProcessed.WithLabelValues("stored").Add(float64(summary.Stored))
	metrics.ArticlesProcessed.WithLabelValues("duplicate").Add(float64(summary.Duplicates))
	metrics.ArticlesProcessed.WithLabelValues("link_missing").Add(float64(summary.LinkMissing))
	metrics.ArticlesProcessed.WithLabelValues("store_failed").Add(float64(summary.StoreFailures))
	metrics.IngestRunDuration.Observe(summary.Duration.Seconds())

	logger.Info("ingest finished",
		"feeds_ok", summary.FeedsSucceeded,
		"feeds_failed", summary.FeedsFailed,
		"stored", summary.Stored,
		"duplicates", summary.Duplicates,
		"store_failures", summary.StoreFailures,
		"duration", summary.Duration,
	)

	p.publish(ctx, logger, FormatIngestSummary(summary))
	return summary
}

// storeResult persists one feed's articles. Storage runs detached from the run
// deadline so feeds that finished in time are not lost.
func (p *Pipeline) storeResult(ctx context.Context, logger *slog.Logger, result domain.FeedParseResult, summary *domain.IngestSummary) {
	storeCtx := context.WithoutCancel(ctx)
	if p.storeTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(storeCtx, p.storeTimeout)
		defer cancel()
	}

	for _, article := range result.Articles {
		stored, err := p.storeArticle(storeCtx, article)
		switch {
		case err != nil:
			summary.StoreFailures++
			p.addError(summary, fmt.Sprintf("%s %s: %v", article.FeedID, article.Link, err))
			logger.Warn("store article", "feed", article.FeedID, "link", article.Link, "error", err)
		case stored:
			summary.Stored++
		default:
			summary.Duplicates++
		}
	}
}

// storeArticle returns false for duplicates. The dedup entry is released when
// the store write fails so a later run can retry the item.
func (p *Pipeline) storeArticle(ctx context.Context, article domain.Article) (bool, error) {
	exists, err := p.dedup.Exists(ctx, article.FeedID, article.ContentHash)
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	if exists {
		return false, nil
	}

	outcome, err := p.dedup.Register(ctx, domain.DedupEntry{
		FeedID:       article.FeedID,
		ContentHash:  article.ContentHash,
		PartitionKey: article.PartitionKey,
		SortKey:      article.SortKey,
		FirstSeenAt:  article.FetchedAt,
	})
	if err != nil {
		return false, fmt.Errorf("dedup register: %w", err)
	}
	if outcome == domain.AlreadyExists {
		return false, nil
	}

	if err := p.hot.Put(ctx, article); err != nil {
		if relErr := p.dedup.Release(ctx, article.FeedID, article.ContentHash); relErr != nil {
			p.logger.Error("release dedup entry", "feed", article.FeedID, "hash", article.ContentHash, "error", relErr)
		}
		return false, fmt.Errorf("put article: %w", err)
	}
	return true, nil
}

func (p *Pipeline) addError(summary *domain.IngestSummary, msg string) {
	if len(summary.Errors) < maxSummaryErrors {
		summary.Errors = append(summary.Errors, msg)
	}
}

func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, text string) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.PublishSummary(context.WithoutCancel(ctx), text); err != nil {
		logger.Warn("publish summary", "error", err)
	}
}

// FormatIngestSummary renders a run summary for chat notifications.
func FormatIngestSummary(s domain.IngestSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ingest %s (%s)\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Feeds: %d ok, %d failed of %d\n", s.FeedsSucceeded, s.FeedsFailed, s.FeedsAttempted)
	fmt.Fprintf(&b, "Items: %d found, %d parsed, %d stored, %d duplicates\n", s.ItemsFound, s.Parsed, s.Stored, s.Duplicates)
	if s.LinkMissing > 0 || s.StoreFailures > 0 {
		fmt.Fprintf(&b, "Skipped: %d without link, %d store failures\n", s.LinkMissing, s.StoreFailures)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "- %s\n", e)
	}
	return strings.TrimRight(b.String(), "\n")
}
