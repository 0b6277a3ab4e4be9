// Package users keeps per-customer aggregates: order count, lifetime spend
// and the saved address book that checkout appends to.
package users

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

// LabelUser names the user action in a unit of work.
const LabelUser = "user"

// User is the item stored in the users table.
type User struct {
	UserID         string           `dynamodbav:"user_id" json:"userId"` // PK
	OrderCount     int64            `dynamodbav:"order_count" json:"orderCount"`
	TotalSpent     money.Amount     `dynamodbav:"total_spent" json:"totalSpent"`
	SavedAddresses []orders.Address `dynamodbav:"saved_addresses" json:"savedAddresses"`
	LastOrderAt    *time.Time       `dynamodbav:"last_order_at,omitempty" json:"lastOrderAt,omitempty"`
	Version        int64            `dynamodbav:"version" json:"-"`
	UpdatedAt      time.Time        `dynamodbav:"updated_at" json:"updatedAt"`
}

// Store encapsulates operations on the users table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new users Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Get fetches a user. Returns (nil, nil) if the user has no record yet.
func (s *Store) Get(ctx context.Context, userID string) (*User, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            dynamo.Key("user_id", userID),
		ConsistentRead: dynamo.Ptr(true),
	})
	if err != nil {
		return nil, dynamo.Classify("get user", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var u User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// MergeAddresses appends the addresses not already present in saved.
// Addresses are equal when every field matches.
func MergeAddresses(saved []orders.Address, addrs ...orders.Address) []orders.Address {
	out := append([]orders.Address{}, saved...)
	for _, a := range addrs {
		dup := false
		for _, have := range out {
			if have == a {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, a)
		}
	}
	return out
}

// StagePlacement stages the post-order update of userID: order count and
// spend increments plus the merged address book. snapshot is the record
// read before the transaction (nil if none); the write is guarded by its
// version so concurrent address-book changes are not lost.
func (s *Store) StagePlacement(uow *dynamo.UnitOfWork, userID string, snapshot *User, total money.Amount, addrs ...orders.Address) error {
	var saved []orders.Address
	cond := "attribute_not_exists(user_id)"
	values := map[string]types.AttributeValue{
		":zero": dynamo.N(0),
		":one":  dynamo.N(1),
		":t":    dynamo.N(int64(total)),
	}
	if snapshot != nil {
		saved = snapshot.SavedAddresses
		cond = "version = :v"
		values[":v"] = dynamo.N(snapshot.Version)
	}
	book, err := attributevalue.Marshal(MergeAddresses(saved, addrs...))
	if err != nil {
		return fmt.Errorf("marshal addresses: %w", err)
	}
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	values[":book"] = book
	values[":now"] = dynamo.S(now)

	uow.Update(LabelUser, &types.Update{
		TableName: &s.tableName,
		Key:       dynamo.Key("user_id", userID),
		UpdateExpression: dynamo.String("SET order_count = if_not_exists(order_count, :zero) + :one, " +
			"total_spent = if_not_exists(total_spent, :zero) + :t, saved_addresses = :book, " +
			"version = if_not_exists(version, :zero) + :one, last_order_at = :now, updated_at = :now"),
		ConditionExpression:       &cond,
		ExpressionAttributeValues: values,
	})
	return nil
}

// StageSpendReversal stages taking a cancelled order's total back out of
// userID's lifetime spend. The order count is kept.
func (s *Store) StageSpendReversal(uow *dynamo.UnitOfWork, userID string, total money.Amount) {
	uow.Update(LabelUser, &types.Update{
		TableName:           &s.tableName,
		Key:                 dynamo.Key("user_id", userID),
		UpdateExpression:    dynamo.String("SET total_spent = total_spent - :t, version = version + :one, updated_at = :now"),
		ConditionExpression: dynamo.String("attribute_exists(user_id) AND total_spent >= :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":   dynamo.N(int64(total)),
			":one": dynamo.N(1),
			":now": dynamo.S(s.nowFunc().UTC().Format(time.RFC3339Nano)),
		},
	})
}
