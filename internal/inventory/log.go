package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

const idemPrefix = "idem#"

// EntryID is the log key for an idempotency key. Keyed entries use it as
// their primary key so a second insert fails its condition.
func EntryID(idempotencyKey string) string {
	return idemPrefix + idempotencyKey
}

// Log is the append-only inventory audit trail. It exposes no update or
// delete.
type Log struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewLog creates a Log over tableName.
func NewLog(client aws.DynamoDBAPI, tableName string) *Log {
	return &Log{client: client, tableName: tableName, nowFunc: time.Now}
}

// prepare fills the id and timestamp of e.
func (l *Log) prepare(e *Entry) {
	if e.EntryID == "" {
		if e.IdempotencyKey != "" {
			e.EntryID = EntryID(e.IdempotencyKey)
		} else {
			e.EntryID = uuid.NewString()
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.nowFunc().UTC()
	}
	if e.PerformedBy == "" {
		e.PerformedBy = ActorSystem
	}
}

func (l *Log) put(e *Entry) (*types.Put, error) {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}
	return &types.Put{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: dynamo.String("attribute_not_exists(entry_id)"),
	}, nil
}

// Append inserts e. When an entry with the same idempotency key already
// exists the call is a no-op and appended is false.
func (l *Log) Append(ctx context.Context, e Entry) (appended bool, err error) {
	l.prepare(&e)
	p, err := l.put(&e)
	if err != nil {
		return false, err
	}
	_, err = l.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           p.TableName,
		Item:                p.Item,
		ConditionExpression: p.ConditionExpression,
	})
	if err != nil {
		if dynamo.IsConditionFailed(err) {
			return false, nil
		}
		return false, dynamo.Classify("append log entry", err)
	}
	return true, nil
}

// Stage adds the insert of e to uow under label and returns the prepared entry.
func (l *Log) Stage(uow *dynamo.UnitOfWork, label string, e Entry) (*Entry, error) {
	l.prepare(&e)
	p, err := l.put(&e)
	if err != nil {
		return nil, err
	}
	uow.Put(label, p)
	return &e, nil
}

// Get fetches an entry by id. Returns (nil, nil) if not found.
func (l *Log) Get(ctx context.Context, entryID string) (*Entry, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tableName,
		Key:            dynamo.Key("entry_id", entryID),
		ConsistentRead: dynamo.Ptr(true),
	})
	if err != nil {
		return nil, dynamo.Classify("get log entry", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshal log entry: %w", err)
	}
	return &e, nil
}

// ByKey fetches the entry written under an idempotency key.
func (l *Log) ByKey(ctx context.Context, idempotencyKey string) (*Entry, error) {
	return l.Get(ctx, EntryID(idempotencyKey))
}

// ListByProduct pages the audit trail of a product, newest first.
func (l *Log) ListByProduct(ctx context.Context, productID string, limit int32, cursor string) ([]Entry, string, error) {
	start, err := dynamo.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	out, err := l.client.Query(ctx, &dyn.QueryInput{
		TableName:                 &l.tableName,
		IndexName:                 dynamo.String(tables.LogByProductIndex),
		KeyConditionExpression:    dynamo.String("product_id = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":p": dynamo.S(productID)},
		ScanIndexForward:          dynamo.Ptr(false),
		Limit:                     &limit,
		ExclusiveStartKey:         start,
	})
	if err != nil {
		return nil, "", dynamo.Classify("query log", err)
	}
	var entries []Entry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, "", fmt.Errorf("unmarshal log entries: %w", err)
	}
	next, err := dynamo.EncodeCursor(out.LastEvaluatedKey)
	if err != nil {
		return nil, "", err
	}
	return entries, next, nil
}
