package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
)

const (
	labelPaymentKey = "payment_key"
	refLabelPrefix  = "payment_ref:"
)

// PaymentResult is the outcome of UpdatePaymentStatus.
type PaymentResult struct {
	Order *Order
	// Replayed is set when the idempotency key was already consumed and
	// the order is returned unchanged.
	Replayed bool
}

func duplicatePayment(ref string) error {
	return apperr.Newf(apperr.KindConflict, "duplicate_payment",
		"payment reference %s is already applied to another order", ref)
}

// UpdatePaymentStatus moves an order's payment to status, attaches refs
// and derives the order status (paid confirms, failed returns to pending,
// refunded refunds). References may be attached while the payment is still
// pending, before capture. A consumed idempotency key returns the order
// unchanged; a reference already bound to another order is a conflict.
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID string, status PaymentStatus, refs []string, key string) (*PaymentResult, error) {
	refs = dedupe(refs)
	return retry.Do(ctx, s.retry, apperr.IsTransient, s.onRetry("update payment", orderID),
		func(ctx context.Context, _ int) (*PaymentResult, error) {
			if key != "" {
				res, err := s.paymentReplay(ctx, orderID, key)
				if res != nil || err != nil {
					return res, err
				}
			}
			for _, ref := range refs {
				dup, err := s.CheckDuplicatePayment(ctx, ref, orderID)
				if err != nil {
					return nil, err
				}
				if dup {
					return nil, duplicatePayment(ref)
				}
			}

			o, err := s.Get(ctx, orderID)
			if err != nil {
				return nil, err
			}
			if o == nil {
				return nil, apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
			}
			if o.PaymentStatus != status && !CanTransitionPayment(o.PaymentStatus, status) {
				return nil, apperr.Newf(apperr.KindBusiness, "invalid_payment_transition",
					"payment for order %s cannot move from %s to %s", o.OrderNumber, o.PaymentStatus, status)
			}

			var fresh []string
			for _, ref := range refs {
				if !o.HasPaymentRef(ref) {
					fresh = append(fresh, ref)
				}
			}
			if o.PaymentStatus == status && len(fresh) == 0 && key == "" {
				return &PaymentResult{Order: o}, nil
			}

			uow := dynamo.NewUnitOfWork(s.client)
			defer uow.Rollback() // no-op after Commit

			after, err := s.stagePayment(uow, o, status, fresh)
			if err != nil {
				return nil, err
			}
			for _, ref := range fresh {
				if err := s.guards.StageBind(uow, refLabelPrefix+ref, idempotency.PaymentRefKey(ref), idempotency.KindPaymentRef, o.OrderID); err != nil {
					return nil, err
				}
			}
			if key != "" {
				if err := s.guards.StageClaim(uow, labelPaymentKey, idempotency.PaymentUpdateKey(key), idempotency.KindPaymentUpdate, o.OrderID); err != nil {
					return nil, err
				}
			}
			if err := uow.Commit(ctx); err != nil {
				return nil, classifyPaymentCommit(err)
			}
			return &PaymentResult{Order: after}, nil
		})
}

func (s *Store) stagePayment(uow *dynamo.UnitOfWork, o *Order, status PaymentStatus, fresh []string) (*Order, error) {
	now := s.nowFunc().UTC()
	after := *o
	after.PaymentStatus = status
	after.Status = DeriveStatus(o.Status, status)
	after.PaymentRefs = append(append([]string(nil), o.PaymentRefs...), fresh...)
	after.UpdatedAt = now
	after.Version++

	expr := "SET payment_status = :ps, #st = :st, updated_at = :ua, version = version + :one"
	values := map[string]types.AttributeValue{
		":ps":  dynamo.S(string(status)),
		":st":  dynamo.S(string(after.Status)),
		":ua":  dynamo.S(now.Format(time.RFC3339Nano)),
		":one": dynamo.N(1),
		":v":   dynamo.N(o.Version),
	}
	if len(fresh) > 0 {
		refs, err := attributevalue.Marshal(after.PaymentRefs)
		if err != nil {
			return nil, fmt.Errorf("marshal payment refs: %w", err)
		}
		expr += ", payment_refs = :refs"
		values[":refs"] = refs
	}
	uow.Update(LabelOrder, &types.Update{
		TableName:                 &s.tableName,
		Key:                       dynamo.Key("order_id", o.OrderID),
		UpdateExpression:          &expr,
		ConditionExpression:       dynamo.String("version = :v"),
		ExpressionAttributeNames:  map[string]string{"#st": "status"},
		ExpressionAttributeValues: values,
	})
	return &after, nil
}

// paymentReplay returns the current order when key was already consumed
// for orderID, or (nil, nil).
func (s *Store) paymentReplay(ctx context.Context, orderID, key string) (*PaymentResult, error) {
	rec, err := s.guards.Get(ctx, idempotency.PaymentUpdateKey(key))
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.OrderID != orderID {
		return nil, apperr.Newf(apperr.KindConflict, "idempotency_key_reused",
			"idempotency key %q was used for another order", key)
	}
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	}
	return &PaymentResult{Order: o, Replayed: true}, nil
}

// classifyPaymentCommit maps a cancelled payment transaction: a bound
// reference is a conflict; a consumed key or a lost version race is retried
// (the retry then observes the replay or the new version).
func classifyPaymentCommit(err error) error {
	var cerr *dynamo.CancelledError
	if !errors.As(err, &cerr) {
		return err
	}
	for _, r := range cerr.ConditionFailures() {
		if ref, ok := strings.CutPrefix(r.Label, refLabelPrefix); ok {
			return duplicatePayment(ref)
		}
	}
	return apperr.Transient("payment_update_conflict", err)
}

func dedupe(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := refs[:0:0]
	for _, r := range refs {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
