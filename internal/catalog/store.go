// Package catalog reads and seeds product records.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

// ErrExists is returned by Create when the product id is taken.
var ErrExists = errors.New("product already exists")

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new catalog Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// TableName is the products table.
func (s *Store) TableName() string { return s.tableName }

// Get fetches a product. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	return s.get(ctx, productID, false)
}

// GetConsistent is Get with a strongly consistent read, for callers that
// act on the stock fields.
func (s *Store) GetConsistent(ctx context.Context, productID string) (*Product, error) {
	return s.get(ctx, productID, true)
}

func (s *Store) get(ctx context.Context, productID string, consistent bool) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            dynamo.Key("product_id", productID),
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, dynamo.Classify("get product", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return Unmarshal(out.Item)
}

// Unmarshal decodes a products-table item.
func Unmarshal(item map[string]types.AttributeValue) (*Product, error) {
	var p Product
	if err := attributevalue.UnmarshalMap(item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// Create inserts a new product with its opening stock. It is the only
// write that sets stock fields directly; afterwards they belong to the ledger.
func (s *Store) Create(ctx context.Context, p Product) (*Product, error) {
	if p.ProductID == "" || p.SKU == "" {
		return nil, apperr.Validation("product id and sku are required")
	}
	if p.Quantity < 0 || p.ReservedQuantity < 0 {
		return nil, apperr.Validation("stock counters must not be negative")
	}
	now := s.nowFunc().UTC()
	p.FreeQuantity = p.Quantity - p.ReservedQuantity
	p.LedgerVersion = 0
	p.CreatedAt = now
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: dynamo.String("attribute_not_exists(product_id)"),
	})
	if err != nil {
		if dynamo.IsConditionFailed(err) {
			return nil, ErrExists
		}
		return nil, dynamo.Classify("put product", err)
	}
	return &p, nil
}

// Listing is the merchandising part of a product that admins may edit.
type Listing struct {
	Title    *string
	Price    *money.Amount
	IsActive *bool
}

// UpdateListing changes title, price or active flag. Stock fields are never touched.
// Returns (nil, nil) if the product does not exist.
func (s *Store) UpdateListing(ctx context.Context, productID string, l Listing) (*Product, error) {
	expr := "SET updated_at = :ua"
	values := map[string]types.AttributeValue{
		":ua": dynamo.S(s.nowFunc().UTC().Format(time.RFC3339Nano)),
	}
	if l.Title != nil {
		expr += ", title = :t"
		values[":t"] = dynamo.S(*l.Title)
	}
	if l.Price != nil {
		if *l.Price < 0 {
			return nil, apperr.Validation("price must not be negative")
		}
		expr += ", price = :p"
		values[":p"] = dynamo.N(int64(*l.Price))
	}
	if l.IsActive != nil {
		expr += ", is_active = :a"
		values[":a"] = dynamo.Bool(*l.IsActive)
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       dynamo.Key("product_id", productID),
		UpdateExpression:          &expr,
		ConditionExpression:       dynamo.String("attribute_exists(product_id)"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if dynamo.IsConditionFailed(err) {
			return nil, nil
		}
		return nil, dynamo.Classify("update listing", err)
	}
	return Unmarshal(out.Attributes)
}
