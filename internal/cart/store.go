// Package cart stores shopping carts. Carts are whole documents written
// under an optimistic version check; checkout clears them in its own
// transaction with the same check.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
)

// LabelCart names the cart action in a unit of work.
const LabelCart = "cart"

var errVersionConflict = errors.New("cart version conflict")

// Store encapsulates operations on the carts table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	products  *catalog.Store
	pricing   Pricing
	retry     retry.Policy
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewStore creates a new cart Store.
func NewStore(client aws.DynamoDBAPI, tableName string, products *catalog.Store, pricing Pricing, policy retry.Policy, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		products:  products,
		pricing:   pricing,
		retry:     policy,
		logger:    logging.OrDefault(logger),
		nowFunc:   time.Now,
	}
}

// Pricing returns the policy the store applies.
func (s *Store) Pricing() Pricing { return s.pricing }

// Get fetches a cart. Returns (nil, nil) if the user has none.
func (s *Store) Get(ctx context.Context, userID string) (*Cart, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            dynamo.Key("user_id", userID),
		ConsistentRead: dynamo.Ptr(true),
	})
	if err != nil {
		return nil, dynamo.Classify("get cart", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Cart
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &c, nil
}

// GetOrEmpty is Get returning an empty cart when none exists.
func (s *Store) GetOrEmpty(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.Get(ctx, userID)
	if err != nil || c != nil {
		return c, err
	}
	return &Cart{UserID: userID, Items: []Item{}}, nil
}

// AddItem adds qty units of a product at its current price, merging with an
// existing line. Stock is checked but not reserved.
func (s *Store) AddItem(ctx context.Context, userID string, guest bool, productID string, qty int64) (*Cart, error) {
	if qty <= 0 {
		return nil, apperr.Validation("quantity must be positive", apperr.FieldError{Field: "quantity", Message: "must be greater than 0"})
	}
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.IsActive {
		return nil, apperr.Newf(apperr.KindNotFound, "product_not_found", "product %s is not available", productID)
	}
	return s.mutate(ctx, userID, guest, func(c *Cart) error {
		i := c.find(productID)
		if i < 0 {
			if len(c.Items) >= s.pricing.MaxLines {
				return apperr.Newf(apperr.KindBusiness, "cart_full", "a cart holds at most %d products", s.pricing.MaxLines)
			}
			c.Items = append(c.Items, Item{ProductID: p.ProductID, SKU: p.SKU, Title: p.Title, Price: p.Price, AddedAt: s.nowFunc().UTC()})
			i = len(c.Items) - 1
		}
		want := c.Items[i].Quantity + qty
		if want > MaxLineQuantity {
			return lineLimit()
		}
		if !p.CanSell(want) {
			return insufficientStock(p)
		}
		c.Items[i].Quantity = want
		return nil
	})
}

// UpdateQuantity sets a line's quantity; zero removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, userID, productID string, qty int64) (*Cart, error) {
	if qty < 0 {
		return nil, apperr.Validation("quantity must not be negative", apperr.FieldError{Field: "quantity", Message: "must be 0 or more"})
	}
	if qty == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}
	if qty > MaxLineQuantity {
		return nil, lineLimit()
	}
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, userID, false, func(c *Cart) error {
		i := c.find(productID)
		if i < 0 {
			return apperr.Newf(apperr.KindNotFound, "cart_item_not_found", "product %s is not in the cart", productID)
		}
		if p == nil || !p.CanSell(qty) {
			return insufficientStock(p)
		}
		c.Items[i].Quantity = qty
		return nil
	})
}

// RemoveItem deletes a line.
func (s *Store) RemoveItem(ctx context.Context, userID, productID string) (*Cart, error) {
	return s.mutate(ctx, userID, false, func(c *Cart) error {
		i := c.find(productID)
		if i < 0 {
			return apperr.Newf(apperr.KindNotFound, "cart_item_not_found", "product %s is not in the cart", productID)
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

func insufficientStock(p *catalog.Product) error {
	if p == nil {
		return apperr.New(apperr.KindBusiness, "insufficient_stock", "product is no longer available")
	}
	return apperr.Newf(apperr.KindBusiness, "insufficient_stock", "insufficient stock for %s", p.SKU)
}

// mutate applies fn to the current cart and writes it back if the version
// is unchanged, retrying on a lost race.
func (s *Store) mutate(ctx context.Context, userID string, guest bool, fn func(*Cart) error) (*Cart, error) {
	return retry.Do(ctx, s.retry, apperr.IsTransient,
		func(attempt int, err error, wait time.Duration) {
			s.logger.Debug("cart retry", zap.String("user_id", userID), zap.Int("attempt", attempt), zap.Error(err))
		},
		func(ctx context.Context, _ int) (*Cart, error) {
			c, err := s.GetOrEmpty(ctx, userID)
			if err != nil {
				return nil, err
			}
			prev := c.Version
			if c.Version == 0 {
				c.Guest = guest
			}
			if err := fn(c); err != nil {
				return nil, err
			}
			s.touch(c)
			if err := s.put(ctx, c, prev); err != nil {
				return nil, err
			}
			return c, nil
		})
}

func (s *Store) touch(c *Cart) {
	now := s.nowFunc().UTC()
	c.Recalculate(s.pricing)
	c.Version++
	c.UpdatedAt = now
	c.ExpiresAt = 0
	if c.Guest && s.pricing.GuestTTL > 0 {
		c.ExpiresAt = now.Add(s.pricing.GuestTTL).Unix()
	}
}

func (s *Store) put(ctx context.Context, c *Cart, prevVersion int64) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 &s.tableName,
		Item:                      item,
		ConditionExpression:       dynamo.String("attribute_not_exists(user_id) OR version = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": dynamo.N(prevVersion)},
	})
	if err != nil {
		if dynamo.IsConditionFailed(err) {
			return apperr.Transient("cart_version_conflict", errVersionConflict)
		}
		return dynamo.Classify("put cart", err)
	}
	return nil
}

// StageClear stages emptying c on uow, guarded by the version c was read
// at, so a concurrent cart change or a second checkout of the same cart
// cancels the transaction.
func (s *Store) StageClear(uow *dynamo.UnitOfWork, c *Cart) {
	now := s.nowFunc().UTC()
	values := map[string]types.AttributeValue{
		":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		":zero":  dynamo.N(0),
		":one":   dynamo.N(1),
		":v":     dynamo.N(c.Version),
		":ua":    dynamo.S(now.Format(time.RFC3339Nano)),
	}
	expr := "SET #items = :empty, subtotal = :zero, tax = :zero, shipping = :zero, discount = :zero, total = :zero, " +
		"version = version + :one, updated_at = :ua"
	if c.Guest && s.pricing.GuestTTL > 0 {
		expr += ", expires_at = :exp"
		values[":exp"] = dynamo.N(now.Add(s.pricing.GuestTTL).Unix())
	}
	uow.Update(LabelCart, &types.Update{
		TableName:                 &s.tableName,
		Key:                       dynamo.Key("user_id", c.UserID),
		UpdateExpression:          &expr,
		ConditionExpression:       dynamo.String("version = :v"),
		ExpressionAttributeNames:  map[string]string{"#items": "items"},
		ExpressionAttributeValues: values,
	})
}

func lineLimit() error {
	return apperr.Newf(apperr.KindBusiness, "quantity_limit", "a cart line holds at most %d units", MaxLineQuantity)
}
