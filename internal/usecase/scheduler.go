package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

// Scheduler wires the cron drivers with the ingestion and archival use cases.
type Scheduler struct {
	ingestDriver  ports.Scheduler
	sweepDriver   ports.Scheduler
	pipeline      *Pipeline
	migrator      *Migrator
	retentionDays int
	logger        *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring jobs. Either driver may be nil.
func NewScheduler(ingestDriver, sweepDriver ports.Scheduler, pipeline *Pipeline, migrator *Migrator, retentionDays int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ingestDriver:  ingestDriver,
		sweepDriver:   sweepDriver,
		pipeline:      pipeline,
		migrator:      migrator,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start registers both jobs with their drivers.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.ingestDriver != nil && s.pipeline != nil {
		ingest := func(time.Time) {
			s.pipeline.Ingest(ctx)
		}
		if err := s.ingestDriver.Start(ctx, ingest); err != nil {
			return err
		}
	}

	if s.sweepDriver != nil && s.migrator != nil {
		sweep := func(trigger time.Time) {
			_, err := s.migrator.Sweep(ctx, s.retentionDays, trigger)
			switch {
			case errors.Is(err, domain.ErrSweepInProgress):
				s.logger.Info("sweep skipped, previous sweep still running")
			case err != nil:
				s.logger.Error("archival sweep", "error", err)
			}
		}
		if err := s.sweepDriver.Start(ctx, sweep); err != nil {
			return err
		}
	}

	return nil
}

// Stop gracefully tears down the underlying schedulers.
func (s *Scheduler) Stop(ctx context.Context) error {
	var errs []error
	if s.ingestDriver != nil {
		errs = append(errs, s.ingestDriver.Stop(ctx))
	}
	if s.sweepDriver != nil {
		errs = append(errs, s.sweepDriver.Stop(ctx))
	}
	return errors.Join(errs...)
}
