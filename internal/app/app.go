// Package app wires the stores and services from configuration. The API,
// the worker and storectl all build their dependencies here.
package app

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/metrics"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
	"github.com/imrishuroy/go-storefront-checkout/internal/users"
)

// App holds the wired services.
type App struct {
	Products *catalog.Store
	Carts    *cart.Store
	Orders   *orders.Store
	Ledger   *inventory.Ledger
	Users    *users.Store
	Guards   *idempotency.Store
	Checkout *checkout.Service
}

// RetryPolicy is the retry budget of p.
func RetryPolicy(p config.Policy) retry.Policy {
	return retry.Policy{MaxAttempts: p.RetryAttempts, BaseDelay: p.RetryBaseDelay, MaxDelay: p.RetryMaxDelay}
}

// Pricing is the cart pricing of p.
func Pricing(p config.Policy) cart.Pricing {
	return cart.Pricing{
		TaxEnabled:            p.TaxEnabled,
		TaxRate:               p.TaxRate,
		FlatShipping:          p.FlatShipping,
		FreeShippingThreshold: p.FreeShippingThreshold,
		MaxLines:              p.MaxCartLines,
		GuestTTL:              p.GuestCartTTL,
	}
}

// New wires every store against client. publisher and recorder may be nil.
func New(client aws.DynamoDBAPI, tables config.Tables, policy config.Policy, publisher events.Publisher, recorder metrics.Recorder, logger *zap.Logger) *App {
	logger = logging.OrDefault(logger)
	rp := RetryPolicy(policy)

	products := catalog.NewStore(client, tables.Products)
	guards := idempotency.NewStore(client, tables.Idempotency)
	a := &App{
		Products: products,
		Carts:    cart.NewStore(client, tables.Carts, products, Pricing(policy), rp, logger),
		Orders:   orders.NewStore(client, tables.Orders, orders.NewNumberGenerator(client, tables.Counters), guards, rp, logger),
		Ledger:   inventory.NewLedger(client, products, inventory.NewLog(client, tables.InventoryLog), rp, logger),
		Users:    users.NewStore(client, tables.Users),
		Guards:   guards,
	}
	a.Checkout = checkout.NewService(checkout.Deps{
		Client:    client,
		Carts:     a.Carts,
		Products:  products,
		Orders:    a.Orders,
		Ledger:    a.Ledger,
		Users:     a.Users,
		Publisher: publisher,
		Metrics:   recorder,
		Policy:    policy,
		Logger:    logger,
	})
	return a
}

// NewPublisher builds the configured event publisher. The returned close
// function is never nil.
func NewPublisher(cfg *config.Config, clients *aws.AWSClients) (events.Publisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.EventsBackend {
	case "sqs":
		if cfg.QueueURL == "" {
			return nil, noop, fmt.Errorf("ORDERS_QUEUE_URL is required for the sqs events backend")
		}
		return events.NewSQSPublisher(clients.SQS, cfg.QueueURL), noop, nil
	case "amqp":
		p, err := events.DialAMQP(cfg.RabbitMQURL, cfg.OrderExchange)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	default:
		return events.Nop{}, noop, nil
	}
}

// NewRecorder builds the configured metrics recorder. prom is set when the
// backend is Prometheus so the caller can mount its handler.
func NewRecorder(cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) (rec metrics.Recorder, prom *metrics.Prometheus) {
	if cfg.MetricsBackend == "cloudwatch" {
		return metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, logger), nil
	}
	prom = metrics.NewPrometheus(promNamespace(cfg.MetricsNamespace))
	return prom, prom
}

// promNamespace turns "Storefront/Checkout" into "storefront_checkout".
func promNamespace(ns string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return '_'
	}, ns)
}

// Clients loads the AWS clients for cfg.
func Clients(ctx context.Context, cfg *config.Config) (*aws.AWSClients, error) {
	return aws.NewAWSClients(ctx, aws.ConfigOptions{
		Region:           cfg.Region,
		EndpointOverride: cfg.EndpointOverride,
		MaxSDKAttempts:   cfg.MaxSDKAttempts,
	})
}
