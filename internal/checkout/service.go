// Package checkout turns a cart into an order. The order write, the
// checkout-key guard, every line's stock deduction and log entry, the cart
// clear and the user's stats commit in one DynamoDB transaction, retried
// from a fresh read on transient failures.
package checkout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/metrics"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
	"github.com/imrishuroy/go-storefront-checkout/internal/users"
)

// maxLines keeps a checkout inside one transaction: the order, its key
// guard, the cart and the user take four actions and each line takes two.
const maxLines = (100 - 4) / 2

// Deps are the collaborators of a Service. Publisher and Metrics may be nil.
type Deps struct {
	Client    aws.DynamoDBAPI
	Carts     *cart.Store
	Products  *catalog.Store
	Orders    *orders.Store
	Ledger    *inventory.Ledger
	Users     *users.Store
	Publisher events.Publisher
	Metrics   metrics.Recorder
	Policy    config.Policy
	Logger    *zap.Logger
}

// Service is the checkout orchestrator.
type Service struct {
	client    aws.DynamoDBAPI
	carts     *cart.Store
	products  *catalog.Store
	orders    *orders.Store
	ledger    *inventory.Ledger
	users     *users.Store
	publisher events.Publisher
	metrics   metrics.Recorder
	policy    config.Policy
	retry     retry.Policy
	logger    *zap.Logger
}

// NewService wires a Service.
func NewService(d Deps) *Service {
	s := &Service{
		client:    d.Client,
		carts:     d.Carts,
		products:  d.Products,
		orders:    d.Orders,
		ledger:    d.Ledger,
		users:     d.Users,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		policy:    d.Policy,
		retry: retry.Policy{
			MaxAttempts: d.Policy.RetryAttempts,
			BaseDelay:   d.Policy.RetryBaseDelay,
			MaxDelay:    d.Policy.RetryMaxDelay,
		},
		logger: logging.OrDefault(d.Logger),
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	return s
}

// Orders exposes the order store for read endpoints.
func (s *Service) Orders() *orders.Store { return s.orders }

// Carts exposes the cart store for cart endpoints.
func (s *Service) Carts() *cart.Store { return s.carts }

// publish sends ev after a commit. Failures are logged only; the
// committed order stands.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("publish event failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}

func (s *Service) onRetry(ctx context.Context, op string, fields ...zap.Field) retry.Hook {
	return func(attempt int, err error, wait time.Duration) {
		s.metrics.Retry(ctx, op)
		s.logger.Warn(op+" retry", append(fields,
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))...)
	}
}
