package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"NewsHarvester/internal/ports"
)

// CronScheduler runs one job on a standard five-field cron expression, in UTC.
// A firing that overlaps a still-running job is skipped.
type CronScheduler struct {
	spec       string
	runOnStart bool

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler validates spec. With runOnStart the job also fires once at Start.
func NewCronScheduler(spec string, runOnStart bool) (*CronScheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return &CronScheduler{spec: spec, runOnStart: runOnStart}, nil
}

// Start registers the job and begins firing; a second Start is a no-op.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	runner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := runner.AddFunc(c.spec, func() { job(time.Now().UTC()) })
	if err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	c.cron = runner
	c.entryID = id
	runner.Start()

	if c.runOnStart {
		go runner.Entry(id).WrappedJob.Run()
	}

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Next returns the next scheduled firing, or zero when not started.
func (c *CronScheduler) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return time.Time{}
	}
	return c.cron.Entry(c.entryID).Next
}

// Stop halts scheduling and waits for a running job until ctx expires.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	runner := c.cron
	c.cron = nil
	c.mu.Unlock()

	if runner == nil {
		return nil
	}

	done := runner.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
