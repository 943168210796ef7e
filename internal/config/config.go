package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/registry"
)

const (
	configPathEnv         = "NEWSHARVESTER_CONFIG"
	envFileEnv            = "NEWSHARVESTER_ENV_FILE"
	logLevelEnv           = "LOG_LEVEL"
	storageBackendEnv     = "STORAGE_BACKEND"
	dedupBackendEnv       = "DEDUP_BACKEND"
	databaseDSNEnv        = "DATABASE_DSN"
	badgerPathEnv         = "BADGER_PATH"
	awsRegionEnv          = "AWS_REGION"
	dynamoEndpointEnv     = "DYNAMODB_ENDPOINT"
	valkeyAddressEnv      = "VALKEY_INIT_ADDRESS"
	valkeyPasswordEnv     = "VALKEY_PASSWORD"
	valkeyTLSEnv          = "VALKEY_TLS"
	telegramTokenEnv      = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv     = "TELEGRAM_CHAT_ID"
	retentionDaysEnv      = "RETENTION_DAYS"
	maxConcurrentFeedsEnv = "MAX_CONCURRENT_FEEDS"
)

// Backend names accepted by storage.backend and dedup.backend.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendValkey   = "valkey"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig           `yaml:"logging"`
	Ingest        IngestConfig            `yaml:"ingest"`
	Archive       ArchiveConfig           `yaml:"archive"`
	Scheduler     SchedulerConfig         `yaml:"scheduler"`
	Storage       StorageConfig           `yaml:"storage"`
	Dedup         DedupConfig             `yaml:"dedup"`
	Notifications NotificationConfig      `yaml:"notifications"`
	Metrics       MetricsConfig           `yaml:"metrics"`
	Parser        domain.ExtractionPolicy `yaml:"parser"`
	Feeds         []FeedConfig            `yaml:"feeds" validate:"dive"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=console json text"`
}

// IngestConfig bounds the fetch stage.
type IngestConfig struct {
	MaxConcurrentFeeds int           `yaml:"maxConcurrentFeeds" validate:"min=1,max=256"`
	PerFeedTimeout     time.Duration `yaml:"perFeedTimeout" validate:"gt=0"`
	RunTimeout         time.Duration `yaml:"runTimeout" validate:"gte=0"`
	StoreTimeout       time.Duration `yaml:"storeTimeout" validate:"gte=0"`
	UserAgent          string        `yaml:"userAgent"`
	MaxBodyBytes       int64         `yaml:"maxBodyBytes" validate:"gte=0"`
}

// ArchiveConfig controls hot-tier retention.
type ArchiveConfig struct {
	RetentionDays int `yaml:"retentionDays" validate:"min=1"`
}

// SchedulerConfig defines when jobs run, as five-field cron expressions in UTC.
type SchedulerConfig struct {
	IngestCron string `yaml:"ingestCron" validate:"required"`
	SweepCron  string `yaml:"sweepCron" validate:"required"`
	RunOnStart bool   `yaml:"runOnStart"`
}

// StorageConfig selects the article backend for both tiers.
type StorageConfig struct {
	Backend  string         `yaml:"backend" validate:"oneof=badger postgres dynamodb"`
	Badger   BadgerConfig   `yaml:"badger"`
	Postgres PostgresConfig `yaml:"postgres"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// BadgerConfig points at the embedded database directory; empty means in-memory.
type BadgerConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig describes Postgres connection details.
type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	HotTable  string `yaml:"hotTable"`
	ColdTable string `yaml:"coldTable"`
}

// DynamoDBConfig names the tables used by the DynamoDB backends.
type DynamoDBConfig struct {
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	HotTable   string `yaml:"hotTable"`
	ColdTable  string `yaml:"coldTable"`
	DedupTable string `yaml:"dedupTable"`
}

// DedupConfig selects the dedup index implementation.
type DedupConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=badger valkey dynamodb"`
	Valkey  ValkeyConfig `yaml:"valkey"`
}

// ValkeyConfig holds valkey connection details.
type ValkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	TLS       bool   `yaml:"tls"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
	APIBase  string `yaml:"apiBase"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// MetricsConfig enables the Prometheus listener when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// FeedConfig describes a single syndication feed.
type FeedConfig struct {
	ID         string                   `yaml:"id" validate:"required,feedid"`
	Name       string                   `yaml:"name"`
	URL        string                   `yaml:"url" validate:"required,url"`
	Category   string                   `yaml:"category"`
	Country    string                   `yaml:"country"`
	Priority   int                      `yaml:"priority" validate:"gte=0"`
	Enabled    *bool                    `yaml:"enabled"`
	Extraction *domain.ExtractionPolicy `yaml:"extraction"`
}

// Source converts the config entry to a domain feed; feeds are enabled unless stated otherwise.
func (f FeedConfig) Source() domain.FeedSource {
	name := f.Name
	if name == "" {
		name = f.ID
	}
	return domain.FeedSource{
		ID:         f.ID,
		Name:       name,
		URL:        f.URL,
		Category:   f.Category,
		Country:    f.Country,
		Priority:   f.Priority,
		Enabled:    f.Enabled == nil || *f.Enabled,
		Extraction: f.Extraction,
	}
}

// Load reads YAML configuration (if present), the .env file and environment overrides, then validates.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			cfg = mergeConfig(cfg, fileCfg)
		}
	}

	loadEnvFile()
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile() {
	path := os.Getenv(envFileEnv)
	if path == "" {
		path = ".env"
	}
	if err := gotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load %s: %v", path, err)
	}
}

func (c *Config) applyEnvOverrides() error {
	strOverrides := map[string]*string{
		logLevelEnv:       &c.Logging.Level,
		storageBackendEnv: &c.Storage.Backend,
		dedupBackendEnv:   &c.Dedup.Backend,
		databaseDSNEnv:    &c.Storage.Postgres.DSN,
		badgerPathEnv:     &c.Storage.Badger.Path,
		awsRegionEnv:      &c.Storage.DynamoDB.Region,
		dynamoEndpointEnv: &c.Storage.DynamoDB.Endpoint,
		valkeyAddressEnv:  &c.Dedup.Valkey.Address,
		valkeyPasswordEnv: &c.Dedup.Valkey.Password,
		telegramTokenEnv:  &c.Notifications.Telegram.BotToken,
		telegramChatIDEnv: &c.Notifications.Telegram.ChatID,
	}
	for env, target := range strOverrides {
		if v := os.Getenv(env); v != "" {
			*target = v
		}
	}

	if v := os.Getenv(valkeyTLSEnv); v != "" {
		c.Dedup.Valkey.TLS = v == "true"
	}

	intOverrides := map[string]*int{
		retentionDaysEnv:      &c.Archive.RetentionDays,
		maxConcurrentFeedsEnv: &c.Ingest.MaxConcurrentFeeds,
	}
	for env, target := range intOverrides {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*target = n
	}
	return nil
}

// Validate checks struct tags, feed ID uniqueness and backend-specific settings.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("feedid", func(fl validator.FieldLevel) bool {
		return registry.ValidFeedID(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("register feedid validator: %w", err)
	}

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var problems []string
	seen := map[string]bool{}
	for _, f := range c.Feeds {
		if seen[f.ID] {
			problems = append(problems, fmt.Sprintf("duplicate feed id %s", f.ID))
		}
		seen[f.ID] = true
	}

	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			problems = append(problems, "storage.postgres.dsn is required")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.HotTable == "" || c.Storage.DynamoDB.ColdTable == "" {
			problems = append(problems, "storage.dynamodb hot and cold tables are required")
		}
	}

	switch c.Dedup.Backend {
	case BackendValkey:
		if c.Dedup.Valkey.Address == "" {
			problems = append(problems, "dedup.valkey.address is required")
		}
	case BackendDynamoDB:
		if c.Storage.DynamoDB.DedupTable == "" {
			problems = append(problems, "storage.dynamodb.dedupTable is required")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Ingest.MaxConcurrentFeeds != 0 {
		base.Ingest.MaxConcurrentFeeds = override.Ingest.MaxConcurrentFeeds
	}
	if override.Ingest.PerFeedTimeout != 0 {
		base.Ingest.PerFeedTimeout = override.Ingest.PerFeedTimeout
	}
	if override.Ingest.RunTimeout != 0 {
		base.Ingest.RunTimeout = override.Ingest.RunTimeout
	}
	if override.Ingest.StoreTimeout != 0 {
		base.Ingest.StoreTimeout = override.Ingest.StoreTimeout
	}
	if override.Ingest.UserAgent != "" {
		base.Ingest.UserAgent = override.Ingest.UserAgent
	}
	if override.Ingest.MaxBodyBytes != 0 {
		base.Ingest.MaxBodyBytes = override.Ingest.MaxBodyBytes
	}

	if override.Archive.RetentionDays != 0 {
		base.Archive.RetentionDays = override.Archive.RetentionDays
	}

	if override.Scheduler.IngestCron != "" {
		base.Scheduler.IngestCron = override.Scheduler.IngestCron
	}
	if override.Scheduler.SweepCron != "" {
		base.Scheduler.SweepCron = override.Scheduler.SweepCron
	}
	base.Scheduler.RunOnStart = base.Scheduler.RunOnStart || override.Scheduler.RunOnStart

	if override.Storage.Backend != "" {
		base.Storage.Backend = override.Storage.Backend
	}
	if override.Storage.Badger.Path != "" {
		base.Storage.Badger.Path = override.Storage.Badger.Path
	}
	base.Storage.Postgres = mergePostgres(base.Storage.Postgres, override.Storage.Postgres)
	base.Storage.DynamoDB = mergeDynamo(base.Storage.DynamoDB, override.Storage.DynamoDB)

	if override.Dedup.Backend != "" {
		base.Dedup.Backend = override.Dedup.Backend
	}
	if override.Dedup.Valkey.Address != "" {
		base.Dedup.Valkey = override.Dedup.Valkey
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Telegram.APIBase != "" {
		base.Notifications.Telegram.APIBase = override.Notifications.Telegram.APIBase
	}

	if override.Metrics.Listen != "" {
		base.Metrics.Listen = override.Metrics.Listen
	}

	base.Parser = mergePolicy(base.Parser, override.Parser)

	if len(override.Feeds) > 0 {
		base.Feeds = override.Feeds
	}

	return base
}

func mergePostgres(base, override PostgresConfig) PostgresConfig {
	overlay(&base.DSN, override.DSN)
	overlay(&base.HotTable, override.HotTable)
	overlay(&base.ColdTable, override.ColdTable)
	return base
}

func mergeDynamo(base, override DynamoDBConfig) DynamoDBConfig {
	overlay(&base.Region, override.Region)
	overlay(&base.Endpoint, override.Endpoint)
	overlay(&base.HotTable, override.HotTable)
	overlay(&base.ColdTable, override.ColdTable)
	overlay(&base.DedupTable, override.DedupTable)
	return base
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergePolicy(base, override domain.ExtractionPolicy) domain.ExtractionPolicy {
	if override.ImageSource != nil {
		base.ImageSource = override.ImageSource
	}
	if override.ImageRegex != nil {
		base.ImageRegex = override.ImageRegex
	}
	if override.DescriptionSource != nil {
		base.DescriptionSource = override.DescriptionSource
	}
	if override.StripHTML != nil {
		base.StripHTML = override.StripHTML
	}
	if override.MaxDescriptionLength != nil {
		base.MaxDescriptionLength = override.MaxDescriptionLength
	}
	if override.DateFormat != nil {
		base.DateFormat = override.DateFormat
	}
	if len(override.FieldMappings) > 0 {
		base.FieldMappings = override.FieldMappings
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Ingest: IngestConfig{
			MaxConcurrentFeeds: 10,
			PerFeedTimeout:     30 * time.Second,
			RunTimeout:         10 * time.Minute,
			StoreTimeout:       2 * time.Minute,
			UserAgent:          "NewsHarvester/1.0",
			MaxBodyBytes:       10 << 20,
		},
		Archive:   ArchiveConfig{RetentionDays: 90},
		Scheduler: SchedulerConfig{IngestCron: "*/15 * * * *", SweepCron: "30 3 * * *"},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Badger:  BadgerConfig{Path: "data/badger"},
			Postgres: PostgresConfig{
				HotTable:  "articles_hot",
				ColdTable: "articles_cold",
			},
			DynamoDB: DynamoDBConfig{
				Region:     "us-west-2",
				HotTable:   "ArticlesHot",
				ColdTable:  "ArticlesCold",
				DedupTable: "ArticleDedup",
			},
		},
		Dedup: DedupConfig{Backend: BackendBadger, Valkey: ValkeyConfig{KeyPrefix: "newsharvester:dedup"}},
	}
}
