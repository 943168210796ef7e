package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

const insertChunk = 500

var articleColumns = []string{
	"partition_key", "sort_key", "title", "link", "description", "published_at", "fetched_at",
	"feed_id", "feed_name", "author", "category", "country", "priority_tier", "image_url",
	"content_hash", "tags", "archived_at",
}

// PostgresBackend persists one tier into a Postgres table.
type PostgresBackend struct {
	db    *sql.DB
	table string
	psql  sq.StatementBuilderType
}

var _ ports.StorageBackend = (*PostgresBackend)(nil)

// NewPostgresBackend wires a sql.DB implementation for table.
func NewPostgresBackend(db *sql.DB, table string) *PostgresBackend {
	return &PostgresBackend{
		db:    db,
		table: table,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// EnsureSchema creates the table when missing. sort_key uses the C collation so
// ORDER BY matches byte order.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    partition_key TEXT NOT NULL,
    sort_key      TEXT COLLATE "C" NOT NULL,
    title         TEXT NOT NULL,
    link          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    published_at  TIMESTAMPTZ NOT NULL,
    fetched_at    TIMESTAMPTZ NOT NULL,
    feed_id       TEXT NOT NULL,
    feed_name     TEXT NOT NULL DEFAULT '',
    author        TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL DEFAULT '',
    country       TEXT NOT NULL DEFAULT '',
    priority_tier INTEGER NOT NULL DEFAULT 0,
    image_url     TEXT,
    content_hash  TEXT NOT NULL,
    tags          TEXT[],
    archived_at   TIMESTAMPTZ,
    PRIMARY KEY (partition_key, sort_key)
)`, pq.QuoteIdentifier(p.table))

	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return wrapPostgres("ensure schema", err)
	}
	return nil
}

func articleValues(a domain.Article) []interface{} {
	var image sql.NullString
	if a.ImageURL != nil {
		image = sql.NullString{String: *a.ImageURL, Valid: true}
	}
	var archived sql.NullTime
	if a.ArchivedAt != nil {
		archived = sql.NullTime{Time: a.ArchivedAt.UTC(), Valid: true}
	}
	return []interface{}{
		a.PartitionKey, a.SortKey, a.Title, a.Link, a.Description, a.PublishedAt.UTC(), a.FetchedAt.UTC(),
		a.FeedID, a.FeedName, a.Author, a.Category, a.Country, a.PriorityTier, image,
		a.ContentHash, pq.StringArray(a.Tags), archived,
	}
}

func (p *PostgresBackend) insertQuery(articles []domain.Article) sq.InsertBuilder {
	q := p.psql.Insert(p.table).Columns(articleColumns...)
	for _, a := range articles {
		q = q.Values(articleValues(a)...)
	}
	return q.Suffix("ON CONFLICT (partition_key, sort_key) DO NOTHING")
}

// Put inserts one article; an existing key is left as is.
func (p *PostgresBackend) Put(ctx context.Context, article domain.Article) error {
	query, args, err := p.insertQuery([]domain.Article{article}).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return wrapPostgres("put", err)
	}
	return nil
}

// BatchPut inserts articles in one transaction.
func (p *PostgresBackend) BatchPut(ctx context.Context, articles []domain.Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapPostgres("begin batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i < len(articles); i += insertChunk {
		end := min(i+insertChunk, len(articles))
		query, args, err := p.insertQuery(articles[i:end]).ToSql()
		if err != nil {
			return fmt.Errorf("build batch insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return wrapPostgres("batch put", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapPostgres("commit batch", err)
	}
	return nil
}

func (p *PostgresBackend) partitionQuery(partitionKey string, limit int) sq.SelectBuilder {
	q := p.psql.Select(articleColumns...).From(p.table).
		Where(sq.Eq{"partition_key": partitionKey}).
		OrderBy("sort_key ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

func (p *PostgresBackend) rangeQuery(startKey, endKey string) sq.SelectBuilder {
	return p.psql.Select(articleColumns...).From(p.table).
		Where(sq.And{
			sq.GtOrEq{"partition_key": startKey},
			sq.LtOrEq{"partition_key": endKey},
		}).
		OrderBy("partition_key ASC", "sort_key ASC")
}

func (p *PostgresBackend) pointQuery(partitionKey, sortKey string) sq.SelectBuilder {
	return p.psql.Select(articleColumns...).
		From(p.table).
		Where(sq.Eq{"partition_key": partitionKey, "sort_key": sortKey}).
		Limit(1)
}

// Get reads one article by primary key.
func (p *PostgresBackend) Get(ctx context.Context, partitionKey, sortKey string) (domain.Article, error) {
	articles, err := p.selectArticles(ctx, "get", p.pointQuery(partitionKey, sortKey))
	if err != nil {
		return domain.Article{}, err
	}
	if len(articles) == 0 {
		return domain.Article{}, domain.ErrNotFound
	}
	return articles[0], nil
}

// QueryPartition returns up to limit articles in ascending sort key order.
func (p *PostgresBackend) QueryPartition(ctx context.Context, partitionKey string, limit int) ([]domain.Article, error) {
	return p.selectArticles(ctx, "query partition", p.partitionQuery(partitionKey, limit))
}

// QueryRange returns articles of all partitions in [startKey, endKey].
func (p *PostgresBackend) QueryRange(ctx context.Context, startKey, endKey string) ([]domain.Article, error) {
	return p.selectArticles(ctx, "query range", p.rangeQuery(startKey, endKey))
}

func (p *PostgresBackend) selectArticles(ctx context.Context, op string, builder sq.SelectBuilder) ([]domain.Article, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", op, err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapPostgres(op, err)
	}

	var articles []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan article: %w", err)
		}
		articles = append(articles, a)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, wrapPostgres(op, rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return articles, nil
}

func scanArticle(rows *sql.Rows) (domain.Article, error) {
	var (
		a        domain.Article
		image    sql.NullString
		archived sql.NullTime
		tags     pq.StringArray
	)
	err := rows.Scan(
		&a.PartitionKey, &a.SortKey, &a.Title, &a.Link, &a.Description, &a.PublishedAt, &a.FetchedAt,
		&a.FeedID, &a.FeedName, &a.Author, &a.Category, &a.Country, &a.PriorityTier, &image,
		&a.ContentHash, &tags, &archived,
	)
	if err != nil {
		return domain.Article{}, err
	}

	a.PublishedAt = a.PublishedAt.UTC()
	a.FetchedAt = a.FetchedAt.UTC()
	if image.Valid {
		a.ImageURL = &image.String
	}
	if archived.Valid {
		at := archived.Time.UTC()
		a.ArchivedAt = &at
	}
	if len(tags) > 0 {
		a.Tags = []string(tags)
	}
	return a, nil
}

// DeletePartition removes the partition with a single statement.
func (p *PostgresBackend) DeletePartition(ctx context.Context, partitionKey string) error {
	query, args, err := p.psql.Delete(p.table).Where(sq.Eq{"partition_key": partitionKey}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return wrapPostgres("delete partition", err)
	}
	return nil
}

func (p *PostgresBackend) deleteKeysQuery(partitionKey string, sortKeys []string) sq.DeleteBuilder {
	return p.psql.Delete(p.table).Where(sq.Eq{"partition_key": partitionKey, "sort_key": sortKeys})
}

// DeleteKeys removes the listed articles and returns the number of rows deleted.
func (p *PostgresBackend) DeleteKeys(ctx context.Context, partitionKey string, sortKeys []string) (int, error) {
	var deleted int
	for start := 0; start < len(sortKeys); start += insertChunk {
		end := min(start+insertChunk, len(sortKeys))
		query, args, err := p.deleteKeysQuery(partitionKey, sortKeys[start:end]).ToSql()
		if err != nil {
			return deleted, fmt.Errorf("build delete keys: %w", err)
		}
		res, err := p.db.ExecContext(ctx, query, args...)
		if err != nil {
			return deleted, wrapPostgres("delete keys", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, wrapPostgres("delete keys", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// ListPartitions returns distinct partition keys in ascending order.
func (p *PostgresBackend) ListPartitions(ctx context.Context) ([]string, error) {
	query, args, err := p.psql.Select("DISTINCT partition_key").From(p.table).OrderBy("partition_key ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list partitions: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapPostgres("list partitions", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan partition key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPostgres("list partitions", err)
	}
	return keys, nil
}

// wrapPostgres marks connection, serialization and resource errors as transient.
func wrapPostgres(op string, err error) error {
	transient := errors.Is(err, driver.ErrBadConn)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			transient = true
		}
	}
	return &domain.StorageError{Op: op, Transient: transient, Err: err}
}
