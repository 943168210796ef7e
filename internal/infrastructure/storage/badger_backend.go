package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

// Key layout inside one namespace:
//
//	<ns>/a/<partition>/<sortKey>  article record
//	<ns>/p/<partition>            partition marker
const (
	articleSegment   = "/a/"
	partitionSegment = "/p/"
)

// BadgerBackend stores one tier (hot or cold) under a key namespace of a shared badger DB.
type BadgerBackend struct {
	db *badger.DB
	ns string
}

var _ ports.StorageBackend = (*BadgerBackend)(nil)

// OpenBadger opens a badger DB at path; an empty path opens an in-memory DB.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// NewBadgerBackend wires a tier namespace such as "hot" or "cold".
func NewBadgerBackend(db *badger.DB, namespace string) *BadgerBackend {
	return &BadgerBackend{db: db, ns: namespace}
}

func (b *BadgerBackend) articleKey(partition, sortKey string) []byte {
	return []byte(b.ns + articleSegment + partition + "/" + sortKey)
}

func (b *BadgerBackend) partitionPrefix(partition string) []byte {
	return []byte(b.ns + articleSegment + partition + "/")
}

func (b *BadgerBackend) markerKey(partition string) []byte {
	return []byte(b.ns + partitionSegment + partition)
}

// Put upserts one article; an existing key is left untouched.
func (b *BadgerBackend) Put(ctx context.Context, article domain.Article) error {
	return b.BatchPut(ctx, []domain.Article{article})
}

// BatchPut writes articles in as few transactions as badger allows.
func (b *BadgerBackend) BatchPut(ctx context.Context, articles []domain.Article) error {
	txn := b.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := b.putInTxn(txn, article)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return wrapBadger("batch put", err)
			}
			txn = b.db.NewTransaction(true)
			err = b.putInTxn(txn, article)
		}
		if err != nil {
			return wrapBadger("batch put", err)
		}
	}

	if err := txn.Commit(); err != nil {
		return wrapBadger("batch put", err)
	}
	return nil
}

func (b *BadgerBackend) putInTxn(txn *badger.Txn, article domain.Article) error {
	key := b.articleKey(article.PartitionKey, article.SortKey)
	if _, err := txn.Get(key); err == nil {
		return nil
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	data, err := json.Marshal(toRecord(article))
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}
	if err := txn.Set(key, data); err != nil {
		return err
	}
	return txn.Set(b.markerKey(article.PartitionKey), nil)
}

// Get reads one article by its full key.
func (b *BadgerBackend) Get(ctx context.Context, partitionKey, sortKey string) (domain.Article, error) {
	var article domain.Article
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.articleKey(partitionKey, sortKey))
		if err != nil {
			return err
		}
		article, err = decodeItem(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Article{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Article{}, wrapBadger("get", err)
	}
	return article, nil
}

// QueryPartition returns up to limit articles in ascending sort key order.
func (b *BadgerBackend) QueryPartition(ctx context.Context, partitionKey string, limit int) ([]domain.Article, error) {
	var out []domain.Article
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := b.partitionPrefix(partitionKey)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			article, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			out = append(out, article)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadger("query partition", err)
	}
	return out, nil
}

// QueryRange returns every article with startKey <= partition <= endKey, ordered by partition then sort key.
func (b *BadgerBackend) QueryRange(ctx context.Context, startKey, endKey string) ([]domain.Article, error) {
	var out []domain.Article
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(b.ns + articleSegment)
		for it.Seek(b.partitionPrefix(startKey)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if partitionOf(it.Item().Key()[len(prefix):]) > endKey {
				break
			}
			article, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			out = append(out, article)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadger("query range", err)
	}
	return out, nil
}

// DeletePartition removes every article of a partition and its marker in one transaction.
func (b *BadgerBackend) DeletePartition(ctx context.Context, partitionKey string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		prefix := b.partitionPrefix(partitionKey)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(b.markerKey(partitionKey))
	})
	if err != nil {
		return wrapBadger("delete partition", err)
	}
	return nil
}

// DeleteKeys removes the listed articles that still exist and returns how many
// were removed. The marker is dropped only when the partition ends up empty.
// Reading the marker makes a concurrent insert into the partition conflict.
func (b *BadgerBackend) DeleteKeys(ctx context.Context, partitionKey string, sortKeys []string) (int, error) {
	var deleted int
	err := b.db.Update(func(txn *badger.Txn) error {
		deleted = 0
		if _, err := txn.Get(b.markerKey(partitionKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		for _, sortKey := range sortKeys {
			key := b.articleKey(partitionKey, sortKey)
			if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := b.partitionPrefix(partitionKey)
		it.Seek(prefix)
		remaining := it.ValidForPrefix(prefix)
		it.Close()

		if remaining {
			return nil
		}
		return txn.Delete(b.markerKey(partitionKey))
	})
	if err != nil {
		return 0, wrapBadger("delete keys", err)
	}
	return deleted, nil
}

// ListPartitions returns partition keys in ascending order.
func (b *BadgerBackend) ListPartitions(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(b.ns + partitionSegment)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadger("list partitions", err)
	}
	return keys, nil
}

func decodeItem(item *badger.Item) (domain.Article, error) {
	var rec record
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return domain.Article{}, fmt.Errorf("decode %s: %w", item.Key(), err)
	}
	return rec.article(), nil
}

// partitionOf returns the partition segment of "<partition>/<sortKey>".
func partitionOf(rest []byte) string {
	if i := bytes.IndexByte(rest, '/'); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}

// wrapBadger classifies badger errors; conflicts and closed-writer errors are worth retrying.
func wrapBadger(op string, err error) error {
	transient := errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrBlockedWrites)
	return &domain.StorageError{Op: op, Transient: transient, Err: err}
}
