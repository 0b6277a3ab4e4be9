package main

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	storeevents "github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

// OrderService is the part of the order store the worker drives.
type OrderService interface {
	UpdatePaymentStatus(ctx context.Context, orderID string, status orders.PaymentStatus, refs []string, key string) (*orders.PaymentResult, error)
	Transition(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error)
}

// Settler cancels and refunds orders, returning their stock and spend.
type Settler interface {
	Cancel(ctx context.Context, req checkout.CancelRequest) (*orders.Order, error)
	Refund(ctx context.Context, orderID string) (*orders.Order, error)
}

// Processor applies payment and fulfilment notifications from SQS.
type Processor struct {
	orders  OrderService
	settler Settler
	logger  *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(o OrderService, s Settler, logger *zap.Logger) *Processor {
	return &Processor{orders: o, settler: s, logger: logging.OrDefault(logger)}
}

// Handle processes an SQS batch. Messages that failed transiently are
// reported back so SQS redelivers only those; messages that can never
// succeed are logged and acknowledged.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		err := p.processMessage(ctx, rec)
		if err == nil {
			continue
		}
		if permanent(err) {
			p.logger.Error("dropping message",
				zap.String("message_id", rec.MessageId),
				zap.Error(err))
			continue
		}
		p.logger.Warn("message will be retried",
			zap.String("message_id", rec.MessageId),
			zap.Error(err))
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
	}
	return resp, nil
}

var errMalformed = errors.New("malformed message")

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	ev, err := storeevents.Decode([]byte(rec.Body))
	if err != nil {
		return errors.Join(errMalformed, err)
	}
	log := p.logger.With(
		zap.String("event_type", string(ev.Type)),
		zap.String("order_id", ev.OrderID),
		zap.String("correlation_id", ev.CorrelationID))

	switch ev.Type {
	case storeevents.PaymentUpdated:
		res, err := p.orders.UpdatePaymentStatus(ctx, ev.OrderID, ev.PaymentStatus, ev.PaymentRefs, ev.IdempotencyKey)
		if err != nil {
			return err
		}
		log.Info("payment updated",
			zap.String("payment_status", string(res.Order.PaymentStatus)),
			zap.String("status", string(res.Order.Status)),
			zap.Bool("replayed", res.Replayed))
		// A redelivered refund still settles in case the first attempt
		// stopped before stock and spend were returned.
		if res.Order.Status == orders.StatusRefunded {
			if _, err := p.settler.Refund(ctx, ev.OrderID); err != nil {
				return err
			}
		}
	case storeevents.OrderStatus:
		o, err := p.applyStatus(ctx, ev.OrderID, ev.Status)
		if err != nil {
			return err
		}
		log.Info("order status updated", zap.String("status", string(o.Status)))
	default:
		log.Debug("ignoring event")
	}
	return nil
}

// applyStatus sends cancellations and refunds through the settlement path so
// stock and spend follow the status.
func (p *Processor) applyStatus(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error) {
	switch to {
	case orders.StatusCancelled:
		return p.settler.Cancel(ctx, checkout.CancelRequest{OrderID: orderID, Admin: true})
	case orders.StatusRefunded:
		return p.settler.Refund(ctx, orderID)
	}
	return p.orders.Transition(ctx, orderID, to)
}

// permanent reports whether retrying err cannot help.
func permanent(err error) bool {
	if errors.Is(err, errMalformed) {
		return true
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindBusiness, apperr.KindNotFound, apperr.KindConflict:
		return true
	}
	return false
}
