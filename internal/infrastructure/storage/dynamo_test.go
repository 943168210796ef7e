package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"NewsHarvester/internal/domain"
)

// fakeDynamo is an in-memory table store covering the calls the backends make.
type fakeDynamo struct {
	mu              sync.Mutex
	tables          map[string]map[string]map[string]types.AttributeValue
	unprocessedOnce bool
	failDeletes     bool
	batchCalls      int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]map[string]map[string]types.AttributeValue)}
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemID(item map[string]types.AttributeValue) string {
	if k := strAttr(item, attrDedupKey); k != "" {
		return k
	}
	return strAttr(item, attrPartition) + "\x00" + strAttr(item, attrSort)
}

func (f *fakeDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		f.tables[name] = t
	}
	return t
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.table(*in.TableName)[itemID(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(*in.TableName)
	id := itemID(in.Item)
	if in.ConditionExpression != nil && strings.HasPrefix(*in.ConditionExpression, "attribute_not_exists") {
		if _, exists := t[id]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: new(string)}
		}
	}
	t[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.table(*in.TableName)
	id := itemID(in.Key)
	if in.ConditionExpression != nil {
		current, exists := t[id]
		var ok bool
		switch {
		case strings.HasPrefix(*in.ConditionExpression, "attribute_not_exists"):
			ok = !exists || strAttr(current, attrToken) == ""
		default:
			ok = exists && strAttr(current, attrToken) == strAttr(in.ExpressionAttributeValues, ":token")
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: new(string)}
		}
	}
	delete(t, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := strAttr(in.ExpressionAttributeValues, ":pk")
	var items []map[string]types.AttributeValue
	for _, item := range f.table(*in.TableName) {
		if strAttr(item, attrPartition) == pk {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return strAttr(items[i], attrSort) < strAttr(items[j], attrSort) })
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	out := &dynamodb.BatchWriteItemOutput{}
	for name, requests := range in.RequestItems {
		t := f.table(name)
		if f.unprocessedOnce && len(requests) > 1 {
			f.unprocessedOnce = false
			out.UnprocessedItems = map[string][]types.WriteRequest{name: requests[len(requests)-1:]}
			requests = requests[:len(requests)-1]
		}
		for _, r := range requests {
			if r.DeleteRequest != nil && f.failDeletes {
				return nil, &types.InternalServerError{Message: new(string)}
			}
		}
		for _, r := range requests {
			switch {
			case r.PutRequest != nil:
				t[itemID(r.PutRequest.Item)] = r.PutRequest.Item
			case r.DeleteRequest != nil:
				delete(t, itemID(r.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func TestDynamoBackendPutQueryDelete(t *testing.T) {
	t.Parallel()

	backend := NewDynamoBackend(newFakeDynamo(), "articles_hot", nil)
	ctx := context.Background()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	older := testArticle("bbc", "https://bbc.example/1", day.Add(time.Hour))
	newer := testArticle("bbc", "https://bbc.example/2", day.Add(5*time.Hour))
	img := "https://bbc.example/i.png"
	newer.ImageURL = &img

	for _, a := range []domain.Article{older, newer, older} {
		if err := backend.Put(ctx, a); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := backend.QueryPartition(ctx, "2024-03-10", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].Link != newer.Link || got[1].Link != older.Link {
		t.Fatalf("unexpected partition content: %+v", got)
	}
	if got[0].ImageURL == nil || *got[0].ImageURL != img {
		t.Fatalf("image url lost in round trip")
	}
	if !got[0].PublishedAt.Equal(newer.PublishedAt) {
		t.Fatalf("published at mismatch: %v", got[0].PublishedAt)
	}

	partitions, err := backend.ListPartitions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(partitions) != 1 || partitions[0] != "2024-03-10" {
		t.Fatalf("unexpected partitions: %v", partitions)
	}

	if err := backend.DeletePartition(ctx, "2024-03-10"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = backend.QueryPartition(ctx, "2024-03-10", 0)
	if err != nil {
		t.Fatalf("query after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty partition, got %d", len(got))
	}
}

func TestDynamoBackendDeleteKeysKeepsLaterArticles(t *testing.T) {
	t.Parallel()

	backend := NewDynamoBackend(newFakeDynamo(), "articles_hot", nil)
	ctx := context.Background()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	copied := testArticle("bbc", "https://bbc.example/1", day.Add(time.Hour))
	late := testArticle("bbc", "https://bbc.example/2", day.Add(5*time.Hour))

	if err := backend.BatchPut(ctx, []domain.Article{copied, late}); err != nil {
		t.Fatalf("batch put: %v", err)
	}

	deleted, err := backend.DeleteKeys(ctx, "2024-03-10", []string{copied.SortKey, "gone"})
	if err != nil {
		t.Fatalf("delete keys: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := backend.Get(ctx, "2024-03-10", copied.SortKey); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected copied article to be gone, got %v", err)
	}
	got, err := backend.Get(ctx, "2024-03-10", late.SortKey)
	if err != nil || got.Link != late.Link {
		t.Fatalf("late article must survive: %+v %v", got, err)
	}
	partitions, err := backend.ListPartitions(ctx)
	if err != nil || len(partitions) != 1 {
		t.Fatalf("partition with items must stay listed: %v %v", partitions, err)
	}

	if _, err := backend.DeleteKeys(ctx, "2024-03-10", []string{late.SortKey}); err != nil {
		t.Fatalf("delete keys: %v", err)
	}
	partitions, err = backend.ListPartitions(ctx)
	if err != nil || len(partitions) != 0 {
		t.Fatalf("empty partition should be unlisted: %v %v", partitions, err)
	}
}

func TestDynamoBackendFailedDeleteKeepsPartitionListed(t *testing.T) {
	t.Parallel()

	client := newFakeDynamo()
	backend := NewDynamoBackend(client, "articles_hot", nil)
	ctx := context.Background()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if err := backend.Put(ctx, testArticle("bbc", "https://bbc.example/1", day.Add(time.Hour))); err != nil {
		t.Fatalf("put: %v", err)
	}

	client.failDeletes = true
	err := backend.DeletePartition(ctx, "2024-03-10")
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient delete failure, got %v", err)
	}

	partitions, err := backend.ListPartitions(ctx)
	if err != nil || len(partitions) != 1 {
		t.Fatalf("failed delete must leave the partition listed for retry: %v %v", partitions, err)
	}

	client.failDeletes = false
	if err := backend.DeletePartition(ctx, "2024-03-10"); err != nil {
		t.Fatalf("retry delete: %v", err)
	}
	partitions, err = backend.ListPartitions(ctx)
	if err != nil || len(partitions) != 0 {
		t.Fatalf("expected no partitions after retry: %v %v", partitions, err)
	}
}

func TestDynamoBackendMarkerSurvivesConcurrentInsert(t *testing.T) {
	t.Parallel()

	client := newFakeDynamo()
	backend := NewDynamoBackend(client, "articles_hot", nil)
	ctx := context.Background()
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	if err := backend.Put(ctx, testArticle("bbc", "https://bbc.example/1", day)); err != nil {
		t.Fatalf("put: %v", err)
	}
	token, found, err := backend.markerToken(ctx, "2024-03-10")
	if err != nil || !found || token == "" {
		t.Fatalf("expected a marker token: %q %v %v", token, found, err)
	}

	// a writer refreshes the marker after the token was read
	if err := backend.putMarker(ctx, "2024-03-10"); err != nil {
		t.Fatalf("put marker: %v", err)
	}
	_, err = client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String("articles_hot"),
		Key:                       keyOf(markerPartition, "2024-03-10"),
		ConditionExpression:       aws.String(attrToken + " = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":token": &types.AttributeValueMemberS{Value: token}},
	})
	if !isConditionFailed(err) {
		t.Fatalf("stale token must not remove the marker, got %v", err)
	}
}

func TestDynamoBackendBatchPutRetriesUnprocessed(t *testing.T) {
	t.Parallel()

	client := newFakeDynamo()
	client.unprocessedOnce = true
	backend := NewDynamoBackend(client, "articles_cold", nil)
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	var articles []domain.Article
	for i := 0; i < 30; i++ {
		articles = append(articles, testArticle("ap", fmt.Sprintf("https://ap.example/%d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	if err := backend.BatchPut(ctx, articles); err != nil {
		t.Fatalf("batch put: %v", err)
	}
	if client.batchCalls != 3 {
		t.Fatalf("expected 3 batch calls (2 chunks + 1 retry), got %d", client.batchCalls)
	}

	got, err := backend.QueryRange(ctx, "2024-03-01", "2024-03-31")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 30 {
		t.Fatalf("expected 30 articles, got %d", len(got))
	}
}

func TestDynamoDedupRegister(t *testing.T) {
	t.Parallel()

	index := NewDynamoDedupIndex(newFakeDynamo(), "dedup")
	ctx := context.Background()
	entry := domain.DedupEntry{FeedID: "bbc", ContentHash: "abc", PartitionKey: "2024-03-10", SortKey: "k",
		FirstSeenAt: time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)}

	first, err := index.Register(ctx, entry)
	if err != nil || first != domain.Inserted {
		t.Fatalf("first register: %v %v", first, err)
	}
	second, err := index.Register(ctx, entry)
	if err != nil || second != domain.AlreadyExists {
		t.Fatalf("second register: %v %v", second, err)
	}

	got, found, err := index.Lookup(ctx, "bbc", "abc")
	if err != nil || !found {
		t.Fatalf("lookup: %v %v", found, err)
	}
	if got.SortKey != "k" || !got.FirstSeenAt.Equal(entry.FirstSeenAt) {
		t.Fatalf("unexpected entry: %+v", got)
	}

	if err := index.Release(ctx, "bbc", "abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if exists, _ := index.Exists(ctx, "bbc", "abc"); exists {
		t.Fatalf("expected entry to be released")
	}
}

func TestWrapDynamoClassifiesThrottling(t *testing.T) {
	t.Parallel()

	throttled := wrapDynamo("put", &types.ProvisionedThroughputExceededException{})
	if !domain.IsTransient(throttled) {
		t.Fatalf("expected throttling to be transient")
	}
	validation := wrapDynamo("put", errors.New("ValidationException"))
	if domain.IsTransient(validation) {
		t.Fatalf("expected validation error to be permanent")
	}
}
