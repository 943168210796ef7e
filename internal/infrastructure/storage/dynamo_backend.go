package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"NewsHarvester/internal/domain"
	"NewsHarvester/internal/ports"
)

const (
	attrPartition = "partition_key"
	attrSort      = "sort_key"
	attrToken     = "marker_token"

	// markerPartition holds one item per live partition so ListPartitions avoids a scan.
	markerPartition = "#partitions"

	maxBatchWrite       = 25
	maxUnprocessedTries = 3
)

// DynamoBackend stores one tier in a table keyed by (partition_key, sort_key).
type DynamoBackend struct {
	client DynamoAPI
	table  string
	logger *slog.Logger
}

var _ ports.StorageBackend = (*DynamoBackend)(nil)

// NewDynamoBackend wires a table. The table must exist with string hash key
// partition_key and string range key sort_key.
func NewDynamoBackend(client DynamoAPI, table string, logger *slog.Logger) *DynamoBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoBackend{client: client, table: table, logger: logger.With("table", table)}
}

func keyOf(partition, sortKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPartition: &types.AttributeValueMemberS{Value: partition},
		attrSort:      &types.AttributeValueMemberS{Value: sortKey},
	}
}

// putMarker (re)writes the partition marker with a fresh token. It runs after
// the article writes so dropMarker can tell a concurrent insert apart.
func (d *DynamoBackend) putMarker(ctx context.Context, partition string) error {
	item := keyOf(markerPartition, partition)
	item[attrToken] = &types.AttributeValueMemberS{Value: uuid.NewString()}
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return wrapDynamo("put marker", err)
	}
	return nil
}

// Put writes one article unless its key already exists.
func (d *DynamoBackend) Put(ctx context.Context, article domain.Article) error {
	item, err := attributevalue.MarshalMap(toRecord(article))
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + attrSort + ")"),
	})
	if err != nil && !isConditionFailed(err) {
		return wrapDynamo("put", err)
	}
	return d.putMarker(ctx, article.PartitionKey)
}

// BatchPut writes articles in chunks of 25. Rewriting an existing key stores identical content.
func (d *DynamoBackend) BatchPut(ctx context.Context, articles []domain.Article) error {
	requests := make([]types.WriteRequest, 0, len(articles))
	for _, a := range articles {
		item, err := attributevalue.MarshalMap(toRecord(a))
		if err != nil {
			return fmt.Errorf("marshal article: %w", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	if err := d.batchWrite(ctx, "batch put", requests); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, a := range articles {
		if seen[a.PartitionKey] {
			continue
		}
		seen[a.PartitionKey] = true
		if err := d.putMarker(ctx, a.PartitionKey); err != nil {
			return err
		}
	}
	return nil
}

func (d *DynamoBackend) batchWrite(ctx context.Context, op string, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += maxBatchWrite {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(i+maxBatchWrite, len(requests))
		pending := map[string][]types.WriteRequest{d.table: requests[i:end]}

		wait := 100 * time.Millisecond
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > maxUnprocessedTries {
				return &domain.StorageError{
					Op:        op,
					Transient: true,
					Err:       fmt.Errorf("%d items left unprocessed", len(pending[d.table])),
				}
			}
			if attempt > 0 {
				d.logger.Warn("retrying unprocessed items", "op", op, "attempt", attempt, "remaining", len(pending[d.table]))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
				wait *= 2
			}

			out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return wrapDynamo(op, err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// markerToken returns the token of a partition marker, or "" with found=false.
func (d *DynamoBackend) markerToken(ctx context.Context, partition string) (string, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            keyOf(markerPartition, partition),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, wrapDynamo("get marker", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	token, _ := out.Item[attrToken].(*types.AttributeValueMemberS)
	if token == nil {
		return "", true, nil
	}
	return token.Value, true, nil
}

func (d *DynamoBackend) queryKeys(ctx context.Context, partition string, limit int, projection bool) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String(attrPartition + " = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partition},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}
	if projection {
		in.ProjectionExpression = aws.String(attrPartition + ", " + attrSort)
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(d.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapDynamo("query", err)
		}
		items = append(items, page.Items...)
		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
	}
	return items, nil
}

// Get reads one article by its full key.
func (d *DynamoBackend) Get(ctx context.Context, partitionKey, sortKey string) (domain.Article, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            keyOf(partitionKey, sortKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Article{}, wrapDynamo("get", err)
	}
	if len(out.Item) == 0 {
		return domain.Article{}, domain.ErrNotFound
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return domain.Article{}, fmt.Errorf("unmarshal article: %w", err)
	}
	return rec.article(), nil
}

// QueryPartition returns up to limit articles in ascending sort key order.
func (d *DynamoBackend) QueryPartition(ctx context.Context, partitionKey string, limit int) ([]domain.Article, error) {
	items, err := d.queryKeys(ctx, partitionKey, limit, false)
	if err != nil {
		return nil, err
	}

	var records []record
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("unmarshal articles: %w", err)
	}

	articles := make([]domain.Article, 0, len(records))
	for _, r := range records {
		articles = append(articles, r.article())
	}
	return articles, nil
}

// QueryRange walks live partitions between the two keys in ascending order.
func (d *DynamoBackend) QueryRange(ctx context.Context, startKey, endKey string) ([]domain.Article, error) {
	partitions, err := d.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.Article
	for _, p := range partitions {
		if p < startKey || p > endKey {
			continue
		}
		articles, err := d.QueryPartition(ctx, p, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, articles...)
	}
	return out, nil
}

// DeletePartition deletes every item of the partition, then its marker.
// A failure leaves the marker in place so the partition is still listed.
func (d *DynamoBackend) DeletePartition(ctx context.Context, partitionKey string) error {
	items, err := d.queryKeys(ctx, partitionKey, 0, true)
	if err != nil {
		return err
	}
	if err := d.deleteItems(ctx, "delete partition", items); err != nil {
		return err
	}
	return d.dropMarker(ctx, partitionKey)
}

// DeleteKeys deletes the listed articles that still exist and returns how many
// were removed. The marker goes only when nothing else is left in the partition.
func (d *DynamoBackend) DeleteKeys(ctx context.Context, partitionKey string, sortKeys []string) (int, error) {
	wanted := make(map[string]bool, len(sortKeys))
	for _, k := range sortKeys {
		wanted[k] = true
	}

	existing, err := d.queryKeys(ctx, partitionKey, 0, true)
	if err != nil {
		return 0, err
	}
	var items []map[string]types.AttributeValue
	for _, item := range existing {
		if v, ok := item[attrSort].(*types.AttributeValueMemberS); ok && wanted[v.Value] {
			items = append(items, item)
		}
	}

	if err := d.deleteItems(ctx, "delete keys", items); err != nil {
		return 0, err
	}
	if err := d.dropMarker(ctx, partitionKey); err != nil {
		return len(items), err
	}
	return len(items), nil
}

func (d *DynamoBackend) deleteItems(ctx context.Context, op string, keys []map[string]types.AttributeValue) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
	}
	return d.batchWrite(ctx, op, requests)
}

// dropMarker removes the marker of an empty partition. The delete is
// conditioned on the token read before the emptiness check, so a writer that
// lands an article meanwhile keeps the partition listed.
func (d *DynamoBackend) dropMarker(ctx context.Context, partitionKey string) error {
	token, found, err := d.markerToken(ctx, partitionKey)
	if err != nil || !found {
		return err
	}

	left, err := d.queryKeys(ctx, partitionKey, 1, true)
	if err != nil {
		return err
	}
	if len(left) > 0 {
		return nil
	}

	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       keyOf(markerPartition, partitionKey),
	}
	if token == "" {
		in.ConditionExpression = aws.String("attribute_not_exists(" + attrToken + ")")
	} else {
		in.ConditionExpression = aws.String(attrToken + " = :token")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		}
	}

	_, err = d.client.DeleteItem(ctx, in)
	if err != nil && !isConditionFailed(err) {
		return wrapDynamo("delete marker", err)
	}
	return nil
}

// ListPartitions reads the marker partition, which is sorted by partition key.
func (d *DynamoBackend) ListPartitions(ctx context.Context) ([]string, error) {
	items, err := d.queryKeys(ctx, markerPartition, 0, true)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		if v, ok := item[attrSort].(*types.AttributeValueMemberS); ok {
			keys = append(keys, v.Value)
		}
	}
	return keys, nil
}
