package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"NewsHarvester/internal/clock"
	"NewsHarvester/internal/config"
	"NewsHarvester/internal/infrastructure/httpfetch"
	"NewsHarvester/internal/infrastructure/parser"
	"NewsHarvester/internal/infrastructure/scheduler"
	"NewsHarvester/internal/infrastructure/storage"
	"NewsHarvester/internal/infrastructure/telegram"
	"NewsHarvester/internal/logging"
	"NewsHarvester/internal/normalize"
	"NewsHarvester/internal/ports"
	"NewsHarvester/internal/registry"
	"NewsHarvester/internal/store"
	"NewsHarvester/internal/usecase"
)

// Job names accepted by RunOnce.
const (
	JobIngest = "ingest"
	JobSweep  = "sweep"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  ports.Clock

	pipeline  *usecase.Pipeline
	migrator  *usecase.Migrator
	reader    *usecase.Reader
	scheduler *usecase.Scheduler

	closers []func() error

	// lazily opened shared clients
	badgerDB *badger.DB
	dynamo   *dynamodb.Client
}

// Option customizes an Application before wiring.
type Option func(*Application)

// WithClock replaces the system clock used for ingestion and sweeps.
func WithClock(c ports.Clock) Option {
	return func(a *Application) { a.clock = c }
}

// New builds the application from configuration, opening every configured backend.
func New(ctx context.Context, cfg *config.Config, baseLogger *slog.Logger, opts ...Option) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger, clock: clock.System{}}
	for _, opt := range opts {
		opt(a)
	}

	feeds, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	hotBackend, coldBackend, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	dedup, err := a.openDedup(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	hot := store.New("hot", hotBackend, store.DefaultRetryPolicy, baseLogger.With("component", "store.hot"))
	cold := store.New("cold", coldBackend, store.DefaultRetryPolicy, baseLogger.With("component", "store.cold"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		tg := cfg.Notifications.Telegram
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID, tg.APIBase)
	}

	fetcher := httpfetch.New(&http.Client{}, httpfetch.Options{
		UserAgent:    cfg.Ingest.UserAgent,
		MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
	}, baseLogger.With("component", "fetcher"))

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Fetcher:    fetcher,
		Parser:     parser.NewGofeedParser(),
		Normalizer: normalize.NewNormalizer(a.clock),
		Defaults:   feeds.Defaults(),
		Logger:     baseLogger.With("component", "orchestrator"),
	})

	a.pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Registry:           feeds,
		Orchestrator:       orchestrator,
		Dedup:              dedup,
		Hot:                hot,
		Notifier:           notifier,
		Clock:              a.clock,
		Logger:             baseLogger.With("component", "pipeline"),
		MaxConcurrentFeeds: cfg.Ingest.MaxConcurrentFeeds,
		PerFeedTimeout:     cfg.Ingest.PerFeedTimeout,
		RunTimeout:         cfg.Ingest.RunTimeout,
		StoreTimeout:       cfg.Ingest.StoreTimeout,
	})
	a.migrator = usecase.NewMigrator(hot, cold, notifier, baseLogger.With("component", "migrator"))
	a.reader = usecase.NewReader(dedup, hot, cold)

	ingestCron, err := scheduler.NewCronScheduler(cfg.Scheduler.IngestCron, cfg.Scheduler.RunOnStart)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("ingest schedule: %w", err)
	}
	sweepCron, err := scheduler.NewCronScheduler(cfg.Scheduler.SweepCron, false)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("sweep schedule: %w", err)
	}
	a.scheduler = usecase.NewScheduler(ingestCron, sweepCron, a.pipeline, a.migrator,
		cfg.Archive.RetentionDays, baseLogger.With("component", "scheduler"))

	return a, nil
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	defaults := cfg.Parser
	feeds := registry.New(&defaults)
	for _, f := range cfg.Feeds {
		if err := feeds.Register(f.Source()); err != nil {
			return nil, fmt.Errorf("register feed: %w", err)
		}
	}
	return feeds, nil
}

func (a *Application) openStorage(ctx context.Context) (ports.StorageBackend, ports.StorageBackend, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", sc.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		hotPG := storage.NewPostgresBackend(db, sc.Postgres.HotTable)
		coldPG := storage.NewPostgresBackend(db, sc.Postgres.ColdTable)
		for _, b := range []*storage.PostgresBackend{hotPG, coldPG} {
			if err := b.EnsureSchema(ctx); err != nil {
				return nil, nil, err
			}
		}
		return hotPG, coldPG, nil
	case config.BackendDynamoDB:
		client, err := a.dynamoClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		logger := a.logger.With("component", "storage.dynamodb")
		return storage.NewDynamoBackend(client, sc.DynamoDB.HotTable, logger),
			storage.NewDynamoBackend(client, sc.DynamoDB.ColdTable, logger), nil
	default:
		db, err := a.badger()
		if err != nil {
			return nil, nil, err
		}
		return storage.NewBadgerBackend(db, "hot"), storage.NewBadgerBackend(db, "cold"), nil
	}
}

func (a *Application) openDedup(ctx context.Context) (ports.DedupIndex, error) {
	dc := a.cfg.Dedup
	switch dc.Backend {
	case config.BackendValkey:
		client, err := storage.NewValkeyClient(ctx, storage.ValkeyOptions{
			Address:  dc.Valkey.Address,
			Password: dc.Valkey.Password,
			TLS:      dc.Valkey.TLS,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			client.Close()
			return nil
		})
		return storage.NewValkeyDedupIndex(client, dc.Valkey.KeyPrefix), nil
	case config.BackendDynamoDB:
		client, err := a.dynamoClient(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewDynamoDedupIndex(client, a.cfg.Storage.DynamoDB.DedupTable), nil
	default:
		db, err := a.badger()
		if err != nil {
			return nil, err
		}
		return storage.NewBadgerDedupIndex(db), nil
	}
}

func (a *Application) badger() (*badger.DB, error) {
	if a.badgerDB != nil {
		return a.badgerDB, nil
	}
	db, err := storage.OpenBadger(a.cfg.Storage.Badger.Path)
	if err != nil {
		return nil, err
	}
	a.badgerDB = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *Application) dynamoClient(ctx context.Context) (*dynamodb.Client, error) {
	if a.dynamo != nil {
		return a.dynamo, nil
	}
	client, err := storage.NewDynamoClient(ctx, a.cfg.Storage.DynamoDB.Region, a.cfg.Storage.DynamoDB.Endpoint)
	if err != nil {
		return nil, err
	}
	a.dynamo = client
	return client, nil
}

// Reader exposes the query side over both tiers.
func (a *Application) Reader() *usecase.Reader {
	return a.reader
}

// Run starts the cron jobs and the optional metrics listener and blocks until ctx is done.
func (a *Application) Run(ctx context.Context) error {
	var metricsServer *http.Server
	if a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics listener", "error", err)
			}
		}()
		a.logger.Info("metrics listening", "addr", a.cfg.Metrics.Listen)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started",
		"ingest", a.cfg.Scheduler.IngestCron,
		"sweep", a.cfg.Scheduler.SweepCron,
		"retention_days", a.cfg.Archive.RetentionDays)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	errs = append(errs, a.scheduler.Stop(shutdownCtx))
	if metricsServer != nil {
		errs = append(errs, metricsServer.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

// RunOnce executes a single job and returns.
func (a *Application) RunOnce(ctx context.Context, job string) error {
	switch job {
	case JobIngest:
		summary := a.pipeline.Ingest(ctx)
		a.logger.Info("ingest finished", "run_id", summary.RunID, "stored", summary.Stored,
			"duplicates", summary.Duplicates, "feeds_failed", summary.FeedsFailed)
		return nil
	case JobSweep:
		result, err := a.migrator.Sweep(ctx, a.cfg.Archive.RetentionDays, a.clock.Now())
		a.logger.Info("sweep finished", "partitions", result.PartitionsProcessed,
			"archived", result.ArticlesArchived, "errors", len(result.Errors))
		return err
	default:
		return fmt.Errorf("unknown job %q", job)
	}
}

// Close releases storage clients in reverse order of opening.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
