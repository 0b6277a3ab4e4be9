package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/app"
	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
	storeevents "github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

var testTables = config.Tables{
	Products: "products", Carts: "carts", Orders: "orders", InventoryLog: "inventory_log",
	Idempotency: "idempotency", Counters: "counters", Users: "users",
}

func newApp(t *testing.T) *app.App {
	t.Helper()
	f := dynamotest.New()
	_, err := tables.Create(context.Background(), f, testTables)
	require.NoError(t, err)
	policy := config.DefaultPolicy()
	policy.RetryBaseDelay = 0
	policy.RetryMaxDelay = 0
	return app.New(f, testTables, policy, nil, nil, nil)
}

func placeOrder(t *testing.T, a *app.App, userID string) *orders.Order {
	t.Helper()
	ctx := context.Background()
	_, err := a.Products.Create(ctx, catalog.Product{
		ProductID: "p-" + userID, SKU: "SKU-" + userID, Title: "Kettle", Price: 2500,
		IsActive: true, TrackQuantity: true, Quantity: 10,
	})
	require.NoError(t, err)
	_, err = a.Carts.AddItem(ctx, userID, false, "p-"+userID, 1)
	require.NoError(t, err)

	addr := orders.Address{
		Name: "Grace Hopper", Line1: "2 Navy Way", City: "Arlington", State: "VA",
		PostalCode: "22202", Country: "US", Phone: "555-0101",
	}
	res, err := a.Checkout.Place(ctx, checkout.Request{
		UserID: userID, ShippingAddress: addr, BillingAddress: addr, PaymentMethod: orders.MethodCard,
	})
	require.NoError(t, err)
	return res.Order
}

func message(t *testing.T, id string, ev storeevents.Event) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestProcessor_PaymentThenFulfilment(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	o := placeOrder(t, a, "u1")
	p := NewProcessor(a.Orders, a.Checkout, nil)

	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", storeevents.Event{Type: storeevents.PaymentUpdated, OrderID: o.OrderID,
			PaymentStatus: orders.PaymentPaid, PaymentRefs: []string{"ch_1"}, IdempotencyKey: "pay-1"}),
		message(t, "m2", storeevents.Event{Type: storeevents.OrderStatus, OrderID: o.OrderID, Status: orders.StatusProcessing}),
		message(t, "m3", storeevents.Event{Type: storeevents.OrderStatus, OrderID: o.OrderID, Status: orders.StatusShipped}),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	got, err := a.Orders.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, orders.StatusShipped, got.Status)
	assert.Equal(t, []string{"ch_1"}, got.PaymentRefs)
	assert.NotNil(t, got.ShippedAt)
}

func TestProcessor_RedeliveredPaymentIsReplayed(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	o := placeOrder(t, a, "u1")
	p := NewProcessor(a.Orders, a.Checkout, nil)

	msg := message(t, "m1", storeevents.Event{Type: storeevents.PaymentUpdated, OrderID: o.OrderID,
		PaymentStatus: orders.PaymentPaid, PaymentRefs: []string{"ch_1"}, IdempotencyKey: "pay-1"})
	for i := 0; i < 2; i++ {
		resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{msg}})
		require.NoError(t, err)
		assert.Empty(t, resp.BatchItemFailures)
	}

	got, err := a.Orders.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}

func TestProcessor_PermanentFailuresAreDropped(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	first := placeOrder(t, a, "u1")
	second := placeOrder(t, a, "u2")
	p := NewProcessor(a.Orders, a.Checkout, nil)

	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{"},
		message(t, "no-order", storeevents.Event{Type: storeevents.OrderStatus, OrderID: "missing", Status: orders.StatusShipped}),
		message(t, "pay-1", storeevents.Event{Type: storeevents.PaymentUpdated, OrderID: first.OrderID,
			PaymentStatus: orders.PaymentPaid, PaymentRefs: []string{"ch_1"}}),
		message(t, "ref-reuse", storeevents.Event{Type: storeevents.PaymentUpdated, OrderID: second.OrderID,
			PaymentStatus: orders.PaymentPaid, PaymentRefs: []string{"ch_1"}}),
		message(t, "skip-state", storeevents.Event{Type: storeevents.OrderStatus, OrderID: second.OrderID, Status: orders.StatusDelivered}),
		message(t, "placed", storeevents.New(storeevents.OrderPlaced, first)),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	got, err := a.Orders.Get(ctx, second.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, got.PaymentStatus)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestProcessor_CancelledStatusReturnsStock(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	o := placeOrder(t, a, "u1")
	p := NewProcessor(a.Orders, a.Checkout, nil)

	msg := message(t, "m1", storeevents.Event{Type: storeevents.OrderStatus, OrderID: o.OrderID, Status: orders.StatusCancelled})
	for i := 0; i < 2; i++ {
		resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{msg}})
		require.NoError(t, err)
		assert.Empty(t, resp.BatchItemFailures)
	}

	got, err := a.Orders.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.True(t, got.SpendReversed)

	prod, err := a.Products.GetConsistent(ctx, "p-u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), prod.Quantity)
	assert.Equal(t, int64(0), prod.SalesCount)

	u, err := a.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, u.TotalSpent)
}

func TestProcessor_PaymentRefundSettlesOrder(t *testing.T) {
	ctx := context.Background()
	a := newApp(t)
	o := placeOrder(t, a, "u1")
	p := NewProcessor(a.Orders, a.Checkout, nil)

	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", storeevents.Event{Type: storeevents.PaymentUpdated, OrderID: o.OrderID,
			PaymentStatus: orders.PaymentPaid, PaymentRefs: []string{"ch_1"}, IdempotencyKey: "pay-1"}),
		message(t, "m2", storeevents.Event{Type: storeevents.PaymentUpdated, OrderID: o.OrderID,
			PaymentStatus: orders.PaymentRefunded, IdempotencyKey: "pay-2"}),
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	got, err := a.Orders.Get(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusRefunded, got.Status)
	assert.True(t, got.SpendReversed)

	prod, err := a.Products.GetConsistent(ctx, "p-u1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), prod.Quantity)
	assert.Equal(t, int64(0), prod.SalesCount)

	u, err := a.Users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, u.TotalSpent)
}

type flakyOrders struct {
	OrderService
	err error
}

func (f flakyOrders) Transition(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error) {
	return nil, f.err
}

func TestProcessor_TransientFailuresAreRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transient", apperr.Transient("transaction_conflict", errors.New("conflict"))},
		{"unclassified", errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(flakyOrders{err: tt.err}, nil, nil)
			resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
				message(t, "m1", storeevents.Event{Type: storeevents.OrderStatus, OrderID: "o1", Status: orders.StatusShipped}),
			}})
			require.NoError(t, err)
			require.Len(t, resp.BatchItemFailures, 1)
			assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)
		})
	}
}
