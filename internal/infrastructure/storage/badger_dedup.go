package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

const (
	dedupPrefix         = "dedup/"
	maxRegisterAttempts = 8
)

// BadgerDedupIndex keeps (feedID, contentHash) entries in badger.
// Register relies on badger's serializable transactions: two racing writers
// of the same key cannot both commit.
type BadgerDedupIndex struct {
	db *badger.DB
}

var _ ports.DedupIndex = (*BadgerDedupIndex)(nil)

// NewBadgerDedupIndex wires an opened DB.
func NewBadgerDedupIndex(db *badger.DB) *BadgerDedupIndex {
	return &BadgerDedupIndex{db: db}
}

func dedupKey(feedID, hash string) []byte {
	return []byte(dedupPrefix + feedID + "/" + hash)
}

// Exists reports whether the pair was registered.
func (d *BadgerDedupIndex) Exists(ctx context.Context, feedID, hash string) (bool, error) {
	_, found, err := d.Lookup(ctx, feedID, hash)
	return found, err
}

// Register inserts entry unless the pair already exists.
func (d *BadgerDedupIndex) Register(ctx context.Context, entry domain.DedupEntry) (domain.RegisterOutcome, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal dedup entry: %w", err)
	}
	key := dedupKey(entry.FeedID, entry.ContentHash)

	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		outcome := domain.Inserted
		err = d.db.Update(func(txn *badger.Txn) error {
			_, getErr := txn.Get(key)
			switch {
			case getErr == nil:
				outcome = domain.AlreadyExists
				return nil
			case !errors.Is(getErr, badger.ErrKeyNotFound):
				return getErr
			}
			return txn.Set(key, data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, wrapBadger("dedup register", err)
		}
		return outcome, nil
	}
	return 0, wrapBadger("dedup register", badger.ErrConflict)
}

// Lookup returns the stored entry for the pair.
func (d *BadgerDedupIndex) Lookup(ctx context.Context, feedID, hash string) (domain.DedupEntry, bool, error) {
	var entry domain.DedupEntry
	found := false
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dedupKey(feedID, hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return domain.DedupEntry{}, false, wrapBadger("dedup lookup", err)
	}
	return entry, found, nil
}

// Release removes a registration whose store write failed.
func (d *BadgerDedupIndex) Release(ctx context.Context, feedID, hash string) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dedupKey(feedID, hash))
	})
	if err != nil {
		return wrapBadger("dedup release", err)
	}
	return nil
}
