// Package events carries order lifecycle notifications between the API,
// the worker and downstream consumers over SQS or RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

// Type is the event name, also used as the routing key.
type Type string

const (
	OrderPlaced    Type = "order.placed"
	OrderCancelled Type = "order.cancelled"
	OrderRefunded  Type = "order.refunded"
	PaymentUpdated Type = "payment.updated"
	OrderStatus    Type = "order.status"
)

// Event is the message body on the wire.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`

	// Order is set on order.placed, order.cancelled and order.refunded.
	Order *orders.Summary `json:"order,omitempty"`

	// Set on payment.updated.
	PaymentStatus  orders.PaymentStatus `json:"payment_status,omitempty"`
	PaymentRefs    []string             `json:"payment_refs,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`

	// Status is the target status of order.status.
	Status orders.Status `json:"status,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// New returns an event of type t for order o with a fresh id.
func New(t Type, o *orders.Order) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
	}
	if o != nil {
		sum := o.Summary()
		ev.OrderID = o.OrderID
		ev.Order = &sum
	}
	return ev
}

// Decode parses a message body and checks the fields its type needs.
func Decode(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("invalid event body: %w", err)
	}
	if ev.OrderID == "" {
		return Event{}, fmt.Errorf("event %q has no order_id", ev.Type)
	}
	switch ev.Type {
	case PaymentUpdated:
		if ev.PaymentStatus == "" {
			return Event{}, fmt.Errorf("payment.updated for %s has no payment_status", ev.OrderID)
		}
	case OrderStatus:
		if ev.Status == "" {
			return Event{}, fmt.Errorf("order.status for %s has no status", ev.OrderID)
		}
	case OrderPlaced, OrderCancelled, OrderRefunded:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
