package checkout

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
	"github.com/imrishuroy/go-storefront-checkout/internal/users"
)

// CancelRequest identifies the order to cancel. Admin requests skip the
// ownership check.
type CancelRequest struct {
	UserID  string
	OrderID string
	Admin   bool
}

// Cancel moves an order to cancelled and gives its stock back: sold lines
// are restored, backordered lines have their reservation released. The
// status change and the spend reversal commit together; stock is returned
// afterwards line by line under keys derived from the order, so calling
// Cancel again on a cancelled order finishes any line a crash left behind.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*orders.Order, error) {
	actor := inventory.ActorCustomer
	if req.Admin {
		actor = inventory.ActorAdmin
	}
	return s.settle(ctx, settlement{
		orderID: req.OrderID,
		userID:  req.UserID,
		admin:   req.Admin,
		to:      orders.StatusCancelled,
		code:    "order_not_cancellable",
		prefix:  "cancel",
		actor:   actor,
		event:   events.OrderCancelled,
	})
}

// Refund settles a refunded order the same way Cancel does. The order may
// already be refunded through its payment status; Refund then only
// reverses the spend and returns the stock. It is safe to repeat.
func (s *Service) Refund(ctx context.Context, orderID string) (*orders.Order, error) {
	return s.settle(ctx, settlement{
		orderID: orderID,
		admin:   true,
		to:      orders.StatusRefunded,
		code:    "order_not_refundable",
		prefix:  "refund",
		actor:   inventory.ActorSystem,
		event:   events.OrderRefunded,
	})
}

type settlement struct {
	orderID string
	userID  string
	admin   bool
	to      orders.Status
	code    string
	prefix  string
	actor   inventory.Actor
	event   events.Type
}

type settleResult struct {
	order   *orders.Order
	settled bool
}

func (s *Service) settle(ctx context.Context, st settlement) (*orders.Order, error) {
	res, err := retry.Do(ctx, s.retry, apperr.IsTransient,
		s.onRetry(ctx, st.prefix, zap.String("order_id", st.orderID)),
		func(ctx context.Context, _ int) (settleResult, error) {
			return s.settleOrder(ctx, st)
		})
	if err != nil {
		return nil, err
	}
	o := res.order
	if err := s.returnStock(ctx, o, st.prefix, st.actor); err != nil {
		return nil, err
	}
	if res.settled {
		s.logger.Info("order settled",
			zap.String("order_id", o.OrderID),
			zap.String("status", string(o.Status)),
			zap.Bool("admin", st.admin))
		s.publish(ctx, events.New(st.event, o))
	}
	return o, nil
}

func (s *Service) settleOrder(ctx context.Context, st settlement) (settleResult, error) {
	o, err := s.orders.Get(ctx, st.orderID)
	if err != nil {
		return settleResult{}, err
	}
	if o == nil || (!st.admin && o.UserID != st.userID) {
		return settleResult{}, apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	}
	if o.SpendReversed {
		if o.Status == st.to {
			return settleResult{order: o}, nil
		}
		return settleResult{}, apperr.Newf(apperr.KindBusiness, st.code,
			"order %s is %s", o.OrderNumber, o.Status)
	}
	if o.Status != st.to && !orders.CanTransition(o.Status, st.to) {
		return settleResult{}, apperr.Newf(apperr.KindBusiness, st.code,
			"order %s is %s and can no longer be %s", o.OrderNumber, o.Status, st.to)
	}

	uow := dynamo.NewUnitOfWork(s.client)
	defer uow.Rollback() // no-op after Commit

	after, err := s.orders.StageSettle(uow, o, st.to)
	if err != nil {
		return settleResult{}, err
	}
	s.users.StageSpendReversal(uow, o.UserID, o.Total)
	if err := uow.Commit(ctx); err != nil {
		var cerr *dynamo.CancelledError
		if errors.As(err, &cerr) {
			if _, ok := cerr.Failed(orders.LabelOrder); ok {
				return settleResult{}, apperr.Transient("order_version_conflict", err)
			}
			if _, ok := cerr.Failed(users.LabelUser); ok {
				return settleResult{}, apperr.Wrap(apperr.KindInternal, "spend_reversal_failed", err)
			}
		}
		return settleResult{}, err
	}
	return settleResult{order: after, settled: true}, nil
}

// returnStock gives back every line of o under the key
// <prefix>:<order>:<product>. Lines already returned are skipped.
func (s *Service) returnStock(ctx context.Context, o *orders.Order, prefix string, actor inventory.Actor) error {
	for _, li := range o.Items {
		opts := inventory.Options{
			IdempotencyKey: prefix + ":" + o.OrderID + ":" + li.ProductID,
			OrderID:        o.OrderID,
			PerformedBy:    actor,
		}
		done, err := s.ledger.Log().ByKey(ctx, opts.IdempotencyKey)
		if err != nil {
			return err
		}
		if done != nil {
			continue
		}
		err = s.returnLine(ctx, li, opts)
		if errors.Is(err, inventory.ErrNotMatched) {
			s.logger.Warn("settled line not returned to stock",
				zap.String("order_id", o.OrderID),
				zap.String("product_id", li.ProductID),
				zap.Int64("quantity", li.Quantity))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// returnLine restores a sold line. A backordered line gives back its
// reservation, unless a restock has since confirmed the reservation into a
// sale, in which case it is restored like any sold line.
func (s *Service) returnLine(ctx context.Context, li orders.LineItem, opts inventory.Options) error {
	if li.Backordered {
		_, err := s.ledger.ReleaseReservedStock(ctx, li.ProductID, li.Quantity, opts)
		if !errors.Is(err, inventory.ErrNotMatched) {
			return err
		}
	}
	_, err := s.ledger.RestoreStock(ctx, li.ProductID, li.Quantity, opts)
	return err
}
