package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
)

// Store encapsulates guard records in the idempotency table. Claims are
// only ever staged on a unit of work so they commit with the write they guard.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Get retrieves a record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            dynamo.Key("idempotency_key", key),
		ConsistentRead: dynamo.Ptr(true),
	})
	if err != nil {
		return nil, dynamo.Classify("get idempotency record", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

// StageClaim stages a record that fails if key was ever claimed before.
func (s *Store) StageClaim(uow *dynamo.UnitOfWork, label, key, kind, orderID string) error {
	item, err := s.marshal(key, kind, orderID)
	if err != nil {
		return err
	}
	uow.Put(label, &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: dynamo.String("attribute_not_exists(idempotency_key)"),
	})
	return nil
}

// StageBind stages a record that succeeds when key is free or already
// bound to the same order, and fails when another order holds it.
func (s *Store) StageBind(uow *dynamo.UnitOfWork, label, key, kind, orderID string) error {
	item, err := s.marshal(key, kind, orderID)
	if err != nil {
		return err
	}
	uow.Put(label, &types.Put{
		TableName:                 &s.tableName,
		Item:                      item,
		ConditionExpression:       dynamo.String("attribute_not_exists(idempotency_key) OR order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":oid": dynamo.S(orderID)},
	})
	return nil
}

func (s *Store) marshal(key, kind, orderID string) (map[string]types.AttributeValue, error) {
	rec := Record{
		IdempotencyKey: key,
		Kind:           kind,
		OrderID:        orderID,
		CreatedAt:      s.nowFunc().UTC(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return item, nil
}
