package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/metrics"
	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

func TestNewWiresStores(t *testing.T) {
	ctx := context.Background()
	f := dynamotest.New()
	tbl := config.Tables{
		Products: "products", Carts: "carts", Orders: "orders", InventoryLog: "inventory_log",
		Idempotency: "idempotency", Counters: "counters", Users: "users",
	}
	_, err := tables.Create(ctx, f, tbl)
	require.NoError(t, err)

	a := New(f, tbl, config.DefaultPolicy(), nil, nil, nil)
	_, err = a.Products.Create(ctx, catalog.Product{ProductID: "p1", SKU: "S1", IsActive: true, TrackQuantity: true, Quantity: 1})
	require.NoError(t, err)
	res, err := a.Ledger.Restock(ctx, "p1", 4, inventory.Options{PerformedBy: inventory.ActorAdmin})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Product.Quantity)
	assert.Equal(t, 40, a.Carts.Pricing().MaxLines)
}

func TestNewPublisherAndRecorder(t *testing.T) {
	clients := &aws.AWSClients{}

	p, closeFn, err := NewPublisher(&config.Config{EventsBackend: "none"}, clients)
	require.NoError(t, err)
	assert.IsType(t, events.Nop{}, p)
	assert.NoError(t, closeFn())

	_, _, err = NewPublisher(&config.Config{EventsBackend: "sqs"}, clients)
	assert.Error(t, err)

	p, _, err = NewPublisher(&config.Config{EventsBackend: "sqs", QueueURL: "https://sqs.local/q"}, clients)
	require.NoError(t, err)
	assert.IsType(t, &events.SQSPublisher{}, p)

	rec, prom := NewRecorder(&config.Config{MetricsBackend: "prometheus", MetricsNamespace: "Storefront/Checkout"}, clients, nil)
	require.NotNil(t, prom)
	assert.Equal(t, metrics.Recorder(prom), rec)

	rec, prom = NewRecorder(&config.Config{MetricsBackend: "cloudwatch", MetricsNamespace: "Storefront/Checkout"}, clients, nil)
	assert.Nil(t, prom)
	assert.IsType(t, &metrics.CloudWatch{}, rec)
}

func TestPromNamespace(t *testing.T) {
	assert.Equal(t, "storefront_checkout", promNamespace("Storefront/Checkout"))
}
