// Package orders is the order aggregate: the immutable purchase record,
// its order-number assignment, and the status and payment state machines.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
)

// LabelOrder names the order action in a unit of work.
const LabelOrder = "order"

// ErrStatusMismatch is returned when a conditional status update lost a race.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	numbers   *NumberGenerator
	guards    *idempotency.Store
	retry     retry.Policy
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string, numbers *NumberGenerator, guards *idempotency.Store, policy retry.Policy, logger *zap.Logger) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		numbers:   numbers,
		guards:    guards,
		retry:     policy,
		logger:    logging.OrDefault(logger),
		nowFunc:   time.Now,
	}
}

// WithClock replaces the clock used for timestamps and order-number years.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

// Stage validates o and stages its insert on uow. Like a save hook it
// fills the id, timestamps and initial states, and assigns the order number.
func (s *Store) Stage(ctx context.Context, uow *dynamo.UnitOfWork, o *Order) error {
	now := s.nowFunc().UTC()
	if o.OrderID == "" {
		o.OrderID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now
	if err := o.Validate(); err != nil {
		return err
	}
	if o.OrderNumber == "" {
		number, err := s.numbers.Next(ctx, now.Year())
		if err != nil {
			return err
		}
		o.OrderNumber = number
	}

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	uow.Put(LabelOrder, &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: dynamo.String("attribute_not_exists(order_id)"),
	})
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            dynamo.Key("order_id", orderID),
		ConsistentRead: dynamo.Ptr(true),
	})
	if err != nil {
		return nil, dynamo.Classify("get order", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// GetForUser fetches an order owned by userID. Another user's order is
// reported as not found.
func (s *Store) GetForUser(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	}
	return o, nil
}

// CheckIdempotencyKey returns the order a user's checkout key already
// produced, or (nil, nil) when the key is unused.
func (s *Store) CheckIdempotencyKey(ctx context.Context, userID, key string) (*Order, error) {
	rec, err := s.guards.Get(ctx, idempotency.CheckoutKey(userID, key))
	if err != nil || rec == nil {
		return nil, err
	}
	o, err := s.Get(ctx, rec.OrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("idempotency key %q points at missing order %s", key, rec.OrderID)
	}
	return o, nil
}

// StageClaimKey stages the checkout-key guard for o on uow.
func (s *Store) StageClaimKey(uow *dynamo.UnitOfWork, label string, o *Order) error {
	return s.guards.StageClaim(uow, label, idempotency.CheckoutKey(o.UserID, o.IdempotencyKey), idempotency.KindCheckout, o.OrderID)
}

// CheckDuplicatePayment reports whether ref is already applied to an order
// other than excludeOrderID.
func (s *Store) CheckDuplicatePayment(ctx context.Context, ref, excludeOrderID string) (bool, error) {
	rec, err := s.guards.Get(ctx, idempotency.PaymentRefKey(ref))
	if err != nil {
		return false, err
	}
	return rec != nil && rec.OrderID != excludeOrderID, nil
}

// StageTransition stages o's move to status to, guarded by o's version
// and current status, and returns the expected post-image. shipped_at,
// delivered_at and cancelled_at are written only the first time.
func (s *Store) StageTransition(uow *dynamo.UnitOfWork, o *Order, to Status) (*Order, error) {
	return s.stageTransition(uow, o, to, false)
}

// StageSettle stages a cancellation or refund: o moves to to unless it is
// already there, and is marked as having its spend reversed. The caller
// stages the matching user spend reversal in the same unit of work.
func (s *Store) StageSettle(uow *dynamo.UnitOfWork, o *Order, to Status) (*Order, error) {
	if to != StatusCancelled && to != StatusRefunded {
		return nil, fmt.Errorf("settle to %s: not a terminal status", to)
	}
	if o.SpendReversed {
		return nil, apperr.Newf(apperr.KindConflict, "order_already_settled",
			"order %s has already been settled", o.OrderNumber)
	}
	return s.stageTransition(uow, o, to, true)
}

func (s *Store) stageTransition(uow *dynamo.UnitOfWork, o *Order, to Status, settle bool) (*Order, error) {
	if o.Status != to || !settle {
		if !CanTransition(o.Status, to) {
			return nil, apperr.Newf(apperr.KindBusiness, "invalid_status_transition",
				"order %s cannot move from %s to %s", o.OrderNumber, o.Status, to)
		}
	}
	now := s.nowFunc().UTC()
	ts := now.Format(time.RFC3339Nano)
	expr := "SET #st = :to, updated_at = :ua, version = version + :one"
	after := *o
	after.Status = to
	after.UpdatedAt = now
	after.Version++
	if settle {
		expr += ", spend_reversed = :true"
		after.SpendReversed = true
	}
	switch to {
	case StatusShipped:
		expr += ", shipped_at = if_not_exists(shipped_at, :ua)"
		if after.ShippedAt == nil {
			after.ShippedAt = &now
		}
	case StatusDelivered:
		expr += ", delivered_at = if_not_exists(delivered_at, :ua)"
		if after.DeliveredAt == nil {
			after.DeliveredAt = &now
		}
	case StatusCancelled:
		expr += ", cancelled_at = if_not_exists(cancelled_at, :ua)"
		if after.CancelledAt == nil {
			after.CancelledAt = &now
		}
	}
	values := map[string]types.AttributeValue{
		":to":  dynamo.S(string(to)),
		":cur": dynamo.S(string(o.Status)),
		":v":   dynamo.N(o.Version),
		":one": dynamo.N(1),
		":ua":  dynamo.S(ts),
	}
	if settle {
		values[":true"] = dynamo.Bool(true)
	}
	uow.Update(LabelOrder, &types.Update{
		TableName:                 &s.tableName,
		Key:                       dynamo.Key("order_id", o.OrderID),
		UpdateExpression:          &expr,
		ConditionExpression:       dynamo.String("version = :v AND #st = :cur"),
		ExpressionAttributeNames:  map[string]string{"#st": "status"},
		ExpressionAttributeValues: values,
	})
	return &after, nil
}

// ErrNeedsSettlement is returned by Transition for cancelled and refunded:
// those statuses give stock and spend back and go through checkout.
var ErrNeedsSettlement = errors.New("status must be entered through cancel or refund")

// Transition moves an order to status to. Re-entering the current status
// is a no-op, so timestamps are never backdated.
func (s *Store) Transition(ctx context.Context, orderID string, to Status) (*Order, error) {
	if to == StatusCancelled || to == StatusRefunded {
		return nil, apperr.Wrap(apperr.KindBusiness, "settlement_required", fmt.Errorf("%w: %s", ErrNeedsSettlement, to))
	}
	return retry.Do(ctx, s.retry, apperr.IsTransient, s.onRetry("transition", orderID),
		func(ctx context.Context, _ int) (*Order, error) {
			o, err := s.Get(ctx, orderID)
			if err != nil {
				return nil, err
			}
			if o == nil {
				return nil, apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
			}
			if o.Status == to {
				return o, nil
			}
			uow := dynamo.NewUnitOfWork(s.client)
			defer uow.Rollback() // no-op after Commit
			after, err := s.StageTransition(uow, o, to)
			if err != nil {
				return nil, err
			}
			if err := uow.Commit(ctx); err != nil {
				return nil, versionConflict(err)
			}
			return after, nil
		})
}

// versionConflict turns a lost optimistic-lock race on the order into a
// transient error so the caller re-reads and tries again.
func versionConflict(err error) error {
	var cerr *dynamo.CancelledError
	if errors.As(err, &cerr) {
		if _, ok := cerr.Failed(LabelOrder); ok {
			return apperr.Transient("order_version_conflict", fmt.Errorf("%w: %w", ErrStatusMismatch, err))
		}
	}
	return err
}

func (s *Store) onRetry(op, orderID string) retry.Hook {
	return func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("order retry",
			zap.String("op", op),
			zap.String("order_id", orderID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
}
