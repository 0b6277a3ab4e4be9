package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/idempotency"
	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
	"github.com/imrishuroy/go-storefront-checkout/internal/metrics"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
	"github.com/imrishuroy/go-storefront-checkout/internal/sanitize"
)

const labelCheckoutKey = "checkout_key"

// Request is a checkout submission. UserID comes from authentication.
type Request struct {
	UserID          string
	ShippingAddress orders.Address
	BillingAddress  orders.Address
	PaymentMethod   orders.PaymentMethod
	CustomerNotes   string
	IdempotencyKey  string
}

// Result is the placed order. Replayed is set when the idempotency key had
// already produced it.
type Result struct {
	Order    *orders.Order
	Replayed bool
}

// line is a cart line checked against its live product.
type line struct {
	item    cart.Item
	product *catalog.Product
}

// Place runs checkout for req.
func (s *Service) Place(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.place(ctx, req)
	outcome := metrics.OutcomeCreated
	switch {
	case err != nil && apperr.KindOf(err) == apperr.KindInternal, err != nil && apperr.IsTransient(err):
		outcome = metrics.OutcomeFailed
	case err != nil:
		outcome = metrics.OutcomeRejected
	case res.Replayed:
		outcome = metrics.OutcomeReplayed
	}
	s.metrics.Checkout(ctx, outcome, time.Since(start))
	return res, err
}

func (s *Service) place(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "unauthenticated", "authentication required")
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperr.Validation("invalid payment method",
			apperr.FieldError{Field: "paymentMethod", Message: "must be one of the supported methods"})
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.CheckIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			s.logger.Info("checkout replayed",
				zap.String("order_id", existing.OrderID),
				zap.String("idempotency_key", req.IdempotencyKey))
			return &Result{Order: existing, Replayed: true}, nil
		}
	} else {
		req.IdempotencyKey = uuid.NewString()
	}

	res, err := retry.Do(ctx, s.retry, apperr.IsTransient,
		s.onRetry(ctx, "checkout", zap.String("user_id", req.UserID), zap.String("idempotency_key", req.IdempotencyKey)),
		func(ctx context.Context, _ int) (*Result, error) {
			return s.attempt(ctx, req)
		})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("checkout failed",
				zap.String("user_id", req.UserID),
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
		}
		return nil, err
	}
	if !res.Replayed {
		s.logger.Info("order placed",
			zap.String("order_id", res.Order.OrderID),
			zap.String("order_number", res.Order.OrderNumber),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("total", int64(res.Order.Total)))
		s.publish(ctx, events.New(events.OrderPlaced, res.Order))
	}
	return res, nil
}

// attempt is one pass of the transaction body. Every read is repeated on
// retry so a retried attempt never works from stale state.
func (s *Service) attempt(ctx context.Context, req Request) (*Result, error) {
	c, err := s.carts.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.IsEmpty() {
		return nil, apperr.New(apperr.KindBusiness, "empty_cart", "cart is empty")
	}
	limit := s.policy.MaxCartLines
	if limit <= 0 || limit > maxLines {
		limit = maxLines
	}
	if len(c.Items) > limit {
		return nil, apperr.Newf(apperr.KindBusiness, "cart_too_large", "a checkout holds at most %d products", limit)
	}

	lines, err := s.checkLines(ctx, c)
	if err != nil {
		return nil, err
	}

	shipping := sanitizeAddress(req.ShippingAddress)
	billing := sanitizeAddress(req.BillingAddress)

	o := &orders.Order{
		UserID:          req.UserID,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Currency:        s.policy.Currency,
		CustomerNotes:   sanitize.Text(req.CustomerNotes),
		IdempotencyKey:  req.IdempotencyKey,
	}
	for _, l := range lines {
		o.Items = append(o.Items, orders.LineItem{
			ProductID:   l.product.ProductID,
			SKU:         l.product.SKU,
			Title:       l.product.Title,
			UnitPrice:   l.item.Price,
			Quantity:    l.item.Quantity,
			Subtotal:    l.item.Price.Times(int(l.item.Quantity)),
			Backordered: l.product.TrackQuantity && l.product.AvailableQuantity() < l.item.Quantity,
		})
	}
	if err := s.price(o, c); err != nil {
		return nil, err
	}

	user, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	uow := dynamo.NewUnitOfWork(s.client)
	defer uow.Rollback() // no-op after Commit

	if err := s.orders.Stage(ctx, uow, o); err != nil {
		return nil, err
	}
	if err := s.orders.StageClaimKey(uow, labelCheckoutKey, o); err != nil {
		return nil, err
	}
	for _, l := range lines {
		_, err := s.ledger.StageSale(uow, l.product, l.item.Quantity, inventory.Options{
			IdempotencyKey: lineKey(req.UserID, req.IdempotencyKey, l.product.ProductID),
			OrderID:        o.OrderID,
			PerformedBy:    inventory.ActorCustomer,
		})
		if errors.Is(err, inventory.ErrNotMatched) {
			return nil, insufficientStock(l.product, l.item.Quantity)
		}
		if err != nil {
			return nil, err
		}
	}
	s.carts.StageClear(uow, c)
	if err := s.users.StagePlacement(uow, req.UserID, user, o.Total, shipping, billing); err != nil {
		return nil, err
	}

	if err := uow.Commit(ctx); err != nil {
		return s.resolve(ctx, err, req, lines)
	}
	return &Result{Order: o}, nil
}

// checkLines re-reads every product and rejects inactive products,
// insufficient stock and prices that drifted beyond tolerance.
func (s *Service) checkLines(ctx context.Context, c *cart.Cart) ([]line, error) {
	lines := make([]line, 0, len(c.Items))
	for _, it := range c.Items {
		p, err := s.products.GetConsistent(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		if p == nil || !p.IsActive {
			return nil, apperr.Newf(apperr.KindBusiness, "product_unavailable", "%s is no longer available", it.SKU)
		}
		if !p.CanSell(it.Quantity) {
			return nil, insufficientStock(p, it.Quantity)
		}
		if money.DriftExceeds(it.Price, p.Price, s.policy.PriceDriftTolerance) {
			return nil, apperr.Newf(apperr.KindBusiness, "price_changed",
				"price of %s changed from %s to %s", p.SKU, it.Price, p.Price)
		}
		lines = append(lines, line{item: it, product: p})
	}
	return lines, nil
}

// price fills the order totals. Shipping and discount come from the cart
// policy; tax is computed only when the cart has none set.
func (s *Service) price(o *orders.Order, c *cart.Cart) error {
	totals := cart.Cart{Items: append([]cart.Item(nil), c.Items...), Discount: c.Discount}
	totals.Recalculate(s.carts.Pricing())

	for _, li := range o.Items {
		o.Subtotal += li.Subtotal
	}
	o.Shipping = totals.Shipping
	o.Discount = totals.Discount
	o.Tax = totals.Tax
	if o.Tax == 0 && s.policy.TaxEnabled {
		o.Tax = money.Tax(o.Subtotal, s.policy.TaxRate)
	}
	o.Total = money.Total(o.Subtotal, o.Tax, o.Shipping, o.Discount)
	if o.Total <= 0 {
		return apperr.Newf(apperr.KindBusiness, "invalid_total", "order total %s must be positive", o.Total)
	}
	return nil
}

// resolve classifies a failed commit. A taken checkout key means a
// concurrent request with the same key won, so its order is returned.
// A product condition failure is insufficient stock when the product can
// no longer cover the line, and a lost race otherwise.
func (s *Service) resolve(ctx context.Context, err error, req Request, lines []line) (*Result, error) {
	var cerr *dynamo.CancelledError
	if !errors.As(err, &cerr) {
		return nil, err
	}
	if _, ok := cerr.Failed(labelCheckoutKey); ok {
		existing, gerr := s.orders.CheckIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if gerr != nil {
			return nil, gerr
		}
		if existing != nil {
			return &Result{Order: existing, Replayed: true}, nil
		}
		return nil, apperr.Transient("checkout_key_conflict", err)
	}
	for _, l := range lines {
		productLabel, logLabel := inventory.SaleLabels(l.product.ProductID)
		if r, ok := cerr.Failed(productLabel); ok {
			if len(r.Item) == 0 {
				return nil, apperr.Newf(apperr.KindBusiness, "product_unavailable", "%s is no longer available", l.product.SKU)
			}
			current, uerr := catalog.Unmarshal(r.Item)
			if uerr != nil {
				return nil, uerr
			}
			if !current.IsActive {
				return nil, apperr.Newf(apperr.KindBusiness, "product_unavailable", "%s is no longer available", current.SKU)
			}
			if !current.CanSell(l.item.Quantity) {
				return nil, insufficientStock(current, l.item.Quantity)
			}
		}
		if _, ok := cerr.Failed(logLabel); ok {
			return nil, apperr.Newf(apperr.KindConflict, "idempotency_key_reused",
				"idempotency key %q was already used for %s", req.IdempotencyKey, l.product.SKU)
		}
	}
	// Lost a race on a product version, the cart or the user record.
	return nil, apperr.Transient("checkout_conflict", err)
}

func insufficientStock(p *catalog.Product, qty int64) error {
	return apperr.Newf(apperr.KindBusiness, "insufficient_stock",
		"insufficient stock for %s: requested %d, available %d", p.SKU, qty, p.AvailableQuantity())
}

// lineKey is the inventory log key of one checkout line.
func lineKey(userID, key, productID string) string {
	return idempotency.CheckoutKey(userID, key) + "#" + productID
}

func sanitizeAddress(a orders.Address) orders.Address {
	return orders.Address{
		Name:       sanitize.Text(a.Name),
		Line1:      sanitize.Text(a.Line1),
		Line2:      sanitize.Text(a.Line2),
		City:       sanitize.Text(a.City),
		State:      sanitize.Text(a.State),
		PostalCode: sanitize.Text(a.PostalCode),
		Country:    sanitize.Text(a.Country),
		Phone:      sanitize.Text(a.Phone),
	}
}
