package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

// ValkeyOptions configures the valkey connection.
type ValkeyOptions struct {
	Address   string
	Password  string
	TLS       bool
	KeyPrefix string
}

// ValkeyDedupIndex stores entries as JSON strings written with SET NX.
type ValkeyDedupIndex struct {
	client valkey.Client
	prefix string
}

var _ ports.DedupIndex = (*ValkeyDedupIndex)(nil)

// NewValkeyClient connects and pings the server.
func NewValkeyClient(ctx context.Context, opts ValkeyOptions) (valkey.Client, error) {
	clientOpts := valkey.ClientOption{
		InitAddress:      []string{opts.Address},
		Password:         opts.Password,
		ConnWriteTimeout: 5 * time.Second,
	}
	if opts.TLS {
		clientOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}
	return client, nil
}

// NewValkeyDedupIndex wires a connected client. An empty prefix defaults to "newsharvester:dedup".
func NewValkeyDedupIndex(client valkey.Client, prefix string) *ValkeyDedupIndex {
	if prefix == "" {
		prefix = "newsharvester:dedup"
	}
	return &ValkeyDedupIndex{client: client, prefix: prefix}
}

func (v *ValkeyDedupIndex) key(feedID, hash string) string {
	return v.prefix + ":" + feedID + ":" + hash
}

// Exists reports whether the pair was registered.
func (v *ValkeyDedupIndex) Exists(ctx context.Context, feedID, hash string) (bool, error) {
	n, err := v.client.Do(ctx, v.client.B().Exists().Key(v.key(feedID, hash)).Build()).AsInt64()
	if err != nil {
		return false, wrapValkey("dedup exists", err)
	}
	return n > 0, nil
}

// Register inserts entry with SET NX; a nil reply means another writer got there first.
func (v *ValkeyDedupIndex) Register(ctx context.Context, entry domain.DedupEntry) (domain.RegisterOutcome, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("marshal dedup entry: %w", err)
	}

	cmd := v.client.B().Set().Key(v.key(entry.FeedID, entry.ContentHash)).Value(string(data)).Nx().Build()
	err = v.client.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return domain.AlreadyExists, nil
	}
	if err != nil {
		return 0, wrapValkey("dedup register", err)
	}
	return domain.Inserted, nil
}

// Lookup returns the stored entry.
func (v *ValkeyDedupIndex) Lookup(ctx context.Context, feedID, hash string) (domain.DedupEntry, bool, error) {
	raw, err := v.client.Do(ctx, v.client.B().Get().Key(v.key(feedID, hash)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return domain.DedupEntry{}, false, nil
	}
	if err != nil {
		return domain.DedupEntry{}, false, wrapValkey("dedup lookup", err)
	}

	var entry domain.DedupEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return domain.DedupEntry{}, false, fmt.Errorf("decode dedup entry: %w", err)
	}
	return entry, true, nil
}

// Release deletes the registration.
func (v *ValkeyDedupIndex) Release(ctx context.Context, feedID, hash string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(v.key(feedID, hash)).Build()).Error(); err != nil {
		return wrapValkey("dedup release", err)
	}
	return nil
}

// wrapValkey treats everything except server error replies as transient.
func wrapValkey(op string, err error) error {
	_, isReply := valkey.IsValkeyErr(err)
	return &domain.StorageError{Op: op, Transient: !isReply, Err: err}
}
