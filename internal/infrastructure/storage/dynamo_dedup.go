package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

const attrDedupKey = "dedup_key"

type dedupItem struct {
	DedupKey     string    `dynamodbav:"dedup_key"`
	FeedID       string    `dynamodbav:"feed_id"`
	ContentHash  string    `dynamodbav:"content_hash"`
	PartitionKey string    `dynamodbav:"partition_key"`
	SortKey      string    `dynamodbav:"sort_key"`
	FirstSeenAt  time.Time `dynamodbav:"first_seen_at"`
}

// DynamoDedupIndex uses conditional puts on a table keyed by dedup_key.
type DynamoDedupIndex struct {
	client DynamoAPI
	table  string
}

var _ ports.DedupIndex = (*DynamoDedupIndex)(nil)

// NewDynamoDedupIndex wires a table with string hash key dedup_key.
func NewDynamoDedupIndex(client DynamoAPI, table string) *DynamoDedupIndex {
	return &DynamoDedupIndex{client: client, table: table}
}

func dynamoDedupKey(feedID, hash string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrDedupKey: &types.AttributeValueMemberS{Value: feedID + "#" + hash},
	}
}

// Exists reports whether the pair was registered.
func (d *DynamoDedupIndex) Exists(ctx context.Context, feedID, hash string) (bool, error) {
	_, found, err := d.Lookup(ctx, feedID, hash)
	return found, err
}

// Register inserts entry unless the pair already exists.
func (d *DynamoDedupIndex) Register(ctx context.Context, entry domain.DedupEntry) (domain.RegisterOutcome, error) {
	item, err := attributevalue.MarshalMap(dedupItem{
		DedupKey:     entry.FeedID + "#" + entry.ContentHash,
		FeedID:       entry.FeedID,
		ContentHash:  entry.ContentHash,
		PartitionKey: entry.PartitionKey,
		SortKey:      entry.SortKey,
		FirstSeenAt:  entry.FirstSeenAt.UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal dedup entry: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + attrDedupKey + ")"),
	})
	if isConditionFailed(err) {
		return domain.AlreadyExists, nil
	}
	if err != nil {
		return 0, wrapDynamo("dedup register", err)
	}
	return domain.Inserted, nil
}

// Lookup returns the stored entry with a consistent read.
func (d *DynamoDedupIndex) Lookup(ctx context.Context, feedID, hash string) (domain.DedupEntry, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            dynamoDedupKey(feedID, hash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.DedupEntry{}, false, wrapDynamo("dedup lookup", err)
	}
	if len(out.Item) == 0 {
		return domain.DedupEntry{}, false, nil
	}

	var item dedupItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.DedupEntry{}, false, fmt.Errorf("unmarshal dedup entry: %w", err)
	}
	return domain.DedupEntry{
		FeedID:       item.FeedID,
		ContentHash:  item.ContentHash,
		PartitionKey: item.PartitionKey,
		SortKey:      item.SortKey,
		FirstSeenAt:  item.FirstSeenAt,
	}, true, nil
}

// Release deletes the registration.
func (d *DynamoDedupIndex) Release(ctx context.Context, feedID, hash string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       dynamoDedupKey(feedID, hash),
	})
	if err != nil {
		return wrapDynamo("dedup release", err)
	}
	return nil
}
