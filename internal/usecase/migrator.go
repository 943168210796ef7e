package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/metrics"
	"NewsHarvester/internal/normalize"
	"NewsHarvester/internal/ports"
	"NewsHarvester/internal/store"
)

// MigratorState is the sweep lifecycle: Idle -> Scanning -> Migrating -> Idle.
type MigratorState int32

const (
	StateIdle MigratorState = iota
	StateScanning
	StateMigrating
)

func (s MigratorState) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateMigrating:
		return "migrating"
	default:
		return "idle"
	}
}

// Migrator moves expired partitions from the hot store to the cold store.
type Migrator struct {
	hot      *store.TimeStore
	cold     *store.TimeStore
	notifier ports.Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	state atomic.Int32
}

// NewMigrator wires both tiers; notifier may be nil.
func NewMigrator(hot, cold *store.TimeStore, notifier ports.Notifier, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{hot: hot, cold: cold, notifier: notifier, logger: logger}
}

// State reports the current sweep phase.
func (m *Migrator) State() MigratorState {
	return MigratorState(m.state.Load())
}

// Sweep archives every hot partition dated on or before today-retentionDays.
// A failed partition stays in hot storage and is retried by the next sweep;
// the returned error then wraps domain.ErrPartialArchive.
func (m *Migrator) Sweep(ctx context.Context, retentionDays int, now time.Time) (domain.ArchivalResult, error) {
	if retentionDays < 1 {
		return domain.ArchivalResult{}, fmt.Errorf("retention must be at least one day, got %d", retentionDays)
	}
	if !m.mu.TryLock() {
		return domain.ArchivalResult{}, domain.ErrSweepInProgress
	}
	defer m.mu.Unlock()
	defer m.state.Store(int32(StateIdle))

	started := time.Now()
	var result domain.ArchivalResult

	m.state.Store(int32(StateScanning))
	today := now.UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -retentionDays)

	days, err := m.hot.Partitions(ctx)
	if err != nil {
		return result, fmt.Errorf("list hot partitions: %w", err)
	}

	var expired []time.Time
	for _, day := range days {
		if !day.After(cutoff) {
			expired = append(expired, day)
		}
	}
	m.logger.Info("archival sweep started", "cutoff", normalize.PartitionKey(cutoff), "partitions", len(expired))

	m.state.Store(int32(StateMigrating))
	for _, day := range expired {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sweep interrupted: %v", err))
			break
		}

		moved, deleted, err := m.migratePartition(ctx, day, now)
		if err != nil {
			metrics.ArchivalPartitionErrors.Inc()
			m.logger.Warn("partition migration failed", "partition", normalize.PartitionKey(day), "error", err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		result.PartitionsProcessed++
		result.ArticlesArchived += moved
		result.ArticlesDeleted += deleted
		metrics.ArchivedArticles.Add(float64(moved))
	}

	result.Duration = time.Since(started)
	m.logger.Info("archival sweep finished",
		"partitions", result.PartitionsProcessed,
		"archived", result.ArticlesArchived,
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
	m.publish(ctx, result)

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("%d partitions not archived: %w", len(result.Errors), domain.ErrPartialArchive)
	}
	return result, nil
}

// migratePartition copies, verifies, then deletes exactly the copied keys.
// Hot data is only removed once every sort key is readable from cold storage;
// articles written to the partition meanwhile stay hot for the next sweep.
func (m *Migrator) migratePartition(ctx context.Context, day, now time.Time) (int, int, error) {
	key := normalize.PartitionKey(day)

	articles, err := m.hot.GetPartition(ctx, day, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("partition %s read: %w: %w", key, domain.ErrPartialArchive, err)
	}

	archived := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		archived = append(archived, a.Archived(now))
	}
	if err := m.cold.BatchPut(ctx, archived); err != nil {
		return 0, 0, fmt.Errorf("partition %s copy: %w: %w", key, domain.ErrPartialArchive, err)
	}

	copied, err := m.cold.GetPartition(ctx, day, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("partition %s verify: %w: %w", key, domain.ErrPartialArchive, err)
	}
	present := make(map[string]struct{}, len(copied))
	for _, a := range copied {
		present[a.SortKey] = struct{}{}
	}
	sortKeys := make([]string, 0, len(articles))
	for _, a := range articles {
		if _, ok := present[a.SortKey]; !ok {
			return 0, 0, fmt.Errorf("partition %s verify: %s missing in cold: %w", key, a.SortKey, domain.ErrPartialArchive)
		}
		sortKeys = append(sortKeys, a.SortKey)
	}

	deleted, err := m.hot.DeleteKeys(ctx, day, sortKeys)
	if err != nil {
		return 0, 0, fmt.Errorf("partition %s delete: %w", key, err)
	}
	return len(articles), deleted, nil
}

func (m *Migrator) publish(ctx context.Context, result domain.ArchivalResult) {
	if m.notifier == nil || (result.PartitionsProcessed == 0 && len(result.Errors) == 0) {
		return
	}
	if err := m.notifier.PublishSummary(context.WithoutCancel(ctx), FormatArchivalResult(result)); err != nil {
		m.logger.Warn("publish sweep summary", "error", err)
	}
}

// FormatArchivalResult renders a sweep summary for chat notifications.
func FormatArchivalResult(r domain.ArchivalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Archival sweep (%s): %d partitions, %d articles moved to cold storage",
		r.Duration.Round(time.Millisecond), r.PartitionsProcessed, r.ArticlesArchived)
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n- %s", e)
	}
	return b.String()
}
