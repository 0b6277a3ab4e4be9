// Package inventory is the stock ledger and its append-only audit log.
//
// Every stock change is one conditional UpdateItem on the product, with the
// business precondition embedded in the ConditionExpression, committed in
// the same transaction as its log entry. Application code never writes a
// stock counter it computed itself. Each update also pins the product's
// ledger_version so the previous/new quantities logged are exact; a pin
// failure whose precondition still holds is retried as transient.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
)

// Transaction labels.
const (
	labelProduct = "product"
	labelLog     = "log"
)

// Ledger mutates product stock.
type Ledger struct {
	client   aws.DynamoDBAPI
	products *catalog.Store
	log      *Log
	retry    retry.Policy
	logger   *zap.Logger
	nowFunc  func() time.Time
}

// NewLedger creates a Ledger. A nil logger discards output.
func NewLedger(client aws.DynamoDBAPI, products *catalog.Store, log *Log, policy retry.Policy, logger *zap.Logger) *Ledger {
	return &Ledger{
		client:   client,
		products: products,
		log:      log,
		retry:    policy,
		logger:   logging.OrDefault(logger),
		nowFunc:  time.Now,
	}
}

// Log returns the ledger's audit log.
func (l *Ledger) Log() *Log { return l.log }

// mutation is one atomic stock change. update and cond use :q for the
// quantity and may use the shared placeholders in baseValues. allowed is
// the same precondition evaluated on a snapshot; next is the expected
// post-image, used only to fill the log entry.
type mutation struct {
	entry   EntryType
	update  string
	cond    string
	allowed func(p *catalog.Product, qty int64) bool
	next    func(p catalog.Product, qty int64) catalog.Product
	// reserved selects which counter the log entry records.
	reserved bool
	sign     int64
}

func reserveMutation(*catalog.Product) mutation {
	return mutation{
		entry:  EntryReserved,
		update: "SET reserved_quantity = reserved_quantity + :q, free_quantity = free_quantity - :q",
		cond:   "is_active = :true AND (track_quantity = :false OR allow_backorder = :true OR free_quantity >= :q)",
		allowed: func(p *catalog.Product, qty int64) bool {
			return p.CanSell(qty)
		},
		next: func(p catalog.Product, qty int64) catalog.Product {
			p.ReservedQuantity += qty
			p.FreeQuantity -= qty
			return p
		},
		reserved: true,
		sign:     1,
	}
}

func releaseMutation(*catalog.Product) mutation {
	return mutation{
		entry:  EntryReleased,
		update: "SET reserved_quantity = reserved_quantity - :q, free_quantity = free_quantity + :q",
		cond:   "reserved_quantity >= :q",
		allowed: func(p *catalog.Product, qty int64) bool {
			return p.ReservedQuantity >= qty
		},
		next: func(p catalog.Product, qty int64) catalog.Product {
			p.ReservedQuantity -= qty
			p.FreeQuantity += qty
			return p
		},
		reserved: true,
		sign:     -1,
	}
}

// confirmMutation converts a reservation into a sale. For tracked products
// on-hand stock must cover it, so a backordered reservation stays reserved
// until a restock arrives.
func confirmMutation(p *catalog.Product) mutation {
	if !p.TrackQuantity {
		return mutation{
			entry:  EntrySale,
			update: "SET reserved_quantity = reserved_quantity - :q, free_quantity = free_quantity + :q, sales_count = sales_count + :q",
			cond:   "reserved_quantity >= :q AND track_quantity = :false",
			allowed: func(p *catalog.Product, qty int64) bool {
				return p.ReservedQuantity >= qty && !p.TrackQuantity
			},
			next: func(p catalog.Product, qty int64) catalog.Product {
				p.ReservedQuantity -= qty
				p.FreeQuantity += qty
				p.SalesCount += qty
				return p
			},
			sign: -1,
		}
	}
	return mutation{
		entry:  EntrySale,
		update: "SET quantity = quantity - :q, reserved_quantity = reserved_quantity - :q, sales_count = sales_count + :q",
		cond:   "reserved_quantity >= :q AND quantity >= :q AND track_quantity = :true",
		allowed: func(p *catalog.Product, qty int64) bool {
			return p.ReservedQuantity >= qty && p.Quantity >= qty && p.TrackQuantity
		},
		next: func(p catalog.Product, qty int64) catalog.Product {
			p.Quantity -= qty
			p.ReservedQuantity -= qty
			p.SalesCount += qty
			return p
		},
		sign: -1,
	}
}

func restoreMutation(p *catalog.Product) mutation {
	if !p.TrackQuantity {
		return mutation{
			entry:  EntryReturn,
			update: "SET sales_count = sales_count - :q",
			cond:   "sales_count >= :q AND track_quantity = :false",
			allowed: func(p *catalog.Product, qty int64) bool {
				return p.SalesCount >= qty && !p.TrackQuantity
			},
			next: func(p catalog.Product, qty int64) catalog.Product {
				p.SalesCount -= qty
				return p
			},
			sign: 1,
		}
	}
	return mutation{
		entry:  EntryReturn,
		update: "SET quantity = quantity + :q, free_quantity = free_quantity + :q, sales_count = sales_count - :q",
		cond:   "sales_count >= :q AND track_quantity = :true",
		allowed: func(p *catalog.Product, qty int64) bool {
			return p.SalesCount >= qty && p.TrackQuantity
		},
		next: func(p catalog.Product, qty int64) catalog.Product {
			p.Quantity += qty
			p.FreeQuantity += qty
			p.SalesCount -= qty
			return p
		},
		sign: 1,
	}
}

func restockMutation(*catalog.Product) mutation {
	return mutation{
		entry:  EntryRestock,
		update: "SET quantity = quantity + :q, free_quantity = free_quantity + :q",
		cond:   "attribute_exists(product_id)",
		allowed: func(*catalog.Product, int64) bool {
			return true
		},
		next: func(p catalog.Product, qty int64) catalog.Product {
			p.Quantity += qty
			p.FreeQuantity += qty
			return p
		},
		sign: 1,
	}
}

// ReserveStock holds qty units against an active product when it is
// untracked, backorderable, or has qty available.
func (l *Ledger) ReserveStock(ctx context.Context, productID string, qty int64, opts Options) (*Result, error) {
	return l.run(ctx, "reserve stock", productID, qty, opts, EntryReserved, reserveMutation)
}

// ReleaseReservedStock gives back qty reserved units.
func (l *Ledger) ReleaseReservedStock(ctx context.Context, productID string, qty int64, opts Options) (*Result, error) {
	return l.run(ctx, "release stock", productID, qty, opts, EntryReleased, releaseMutation)
}

// ConfirmSale turns qty reserved units into a sale in one step.
func (l *Ledger) ConfirmSale(ctx context.Context, productID string, qty int64, opts Options) (*Result, error) {
	return l.run(ctx, "confirm sale", productID, qty, opts, EntrySale, confirmMutation)
}

// RestoreStock puts qty sold units back on hand after a cancellation or refund.
func (l *Ledger) RestoreStock(ctx context.Context, productID string, qty int64, opts Options) (*Result, error) {
	return l.run(ctx, "restore stock", productID, qty, opts, EntryReturn, restoreMutation)
}

// Restock adds qty units of new stock.
func (l *Ledger) Restock(ctx context.Context, productID string, qty int64, opts Options) (*Result, error) {
	return l.run(ctx, "restock", productID, qty, opts, EntryRestock, restockMutation)
}

func (l *Ledger) run(ctx context.Context, op, productID string, qty int64, opts Options, kind EntryType, build func(*catalog.Product) mutation) (*Result, error) {
	if qty <= 0 {
		return nil, apperr.Validation("quantity must be positive", apperr.FieldError{Field: "quantity", Message: "must be greater than 0"})
	}
	res, err := retry.Do(ctx, l.retry, apperr.IsTransient,
		func(attempt int, err error, wait time.Duration) {
			l.logger.Warn("ledger retry",
				zap.String("op", op),
				zap.String("product_id", productID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
		func(ctx context.Context, _ int) (*Result, error) {
			return l.apply(ctx, productID, qty, opts, kind, build)
		})
	if err != nil {
		return nil, err
	}
	if res.LowStock && !res.Replayed {
		l.logger.Warn("low stock",
			zap.String("product_id", productID),
			zap.Int64("available", res.Product.AvailableQuantity()),
			zap.Int64("threshold", res.Product.LowStockThreshold))
	}
	return res, nil
}

func (l *Ledger) apply(ctx context.Context, productID string, qty int64, opts Options, kind EntryType, build func(*catalog.Product) mutation) (*Result, error) {
	if opts.IdempotencyKey != "" {
		if res, err := l.replay(ctx, productID, kind, opts.IdempotencyKey); res != nil || err != nil {
			return res, err
		}
	}

	p, err := l.products.GetConsistent(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	m := build(p)
	if !m.allowed(p, qty) {
		return nil, ErrNotMatched
	}

	uow := dynamo.NewUnitOfWork(l.client)
	defer uow.Rollback() // no-op after Commit

	entry, err := l.stage(uow, labelProduct, labelLog, p, qty, m, opts)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(ctx); err != nil {
		return nil, resolve(err, p, qty, opts, build)
	}

	after := m.next(*p, qty)
	after.LedgerVersion++
	return &Result{Product: &after, Entry: entry, LowStock: after.IsLowStock()}, nil
}

// stage adds the product update and its log entry to uow.
func (l *Ledger) stage(uow *dynamo.UnitOfWork, productLabel, logLabel string, p *catalog.Product, qty int64, m mutation, opts Options) (*Entry, error) {
	values := map[string]types.AttributeValue{
		":q":     dynamo.N(qty),
		":v":     dynamo.N(p.LedgerVersion),
		":one":   dynamo.N(1),
		":true":  dynamo.Bool(true),
		":false": dynamo.Bool(false),
		":ua":    dynamo.S(l.nowFunc().UTC().Format(time.RFC3339Nano)),
	}
	uow.Update(productLabel, &types.Update{
		TableName:                           dynamo.String(l.products.TableName()),
		Key:                                 dynamo.Key("product_id", p.ProductID),
		UpdateExpression:                    dynamo.String(m.update + ", ledger_version = ledger_version + :one, updated_at = :ua"),
		ConditionExpression:                 dynamo.String("(" + m.cond + ") AND ledger_version = :v"),
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})

	after := m.next(*p, qty)
	prev, next := p.Quantity, after.Quantity
	if m.reserved {
		prev, next = p.ReservedQuantity, after.ReservedQuantity
	}
	return l.log.Stage(uow, logLabel, Entry{
		ProductID:        p.ProductID,
		Type:             m.entry,
		Quantity:         m.sign * qty,
		PreviousQuantity: prev,
		NewQuantity:      next,
		OrderID:          opts.OrderID,
		IdempotencyKey:   opts.IdempotencyKey,
		PerformedBy:      opts.PerformedBy,
	})
}

// replay returns the current record when key was already applied, or (nil, nil).
// A key recorded for another product or another kind of movement is a conflict.
func (l *Ledger) replay(ctx context.Context, productID string, kind EntryType, key string) (*Result, error) {
	entry, err := l.log.ByKey(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.ProductID != productID {
		return nil, apperr.Newf(apperr.KindConflict, "idempotency_key_reused",
			"idempotency key %q was used for product %s", key, entry.ProductID)
	}
	if entry.Type != kind {
		return nil, apperr.Newf(apperr.KindConflict, "idempotency_key_reused",
			"idempotency key %q was used for a %s entry", key, entry.Type)
	}
	p, err := l.products.GetConsistent(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return &Result{Product: p, Entry: entry, Replayed: true}, nil
}

// resolve classifies a failed commit: a duplicate log key is a replay, a
// product condition failure is ErrNotMatched when the precondition no
// longer holds on the current image and transient otherwise.
func resolve(err error, p *catalog.Product, qty int64, opts Options, build func(*catalog.Product) mutation) error {
	var cerr *dynamo.CancelledError
	if !errors.As(err, &cerr) {
		return err
	}
	if _, ok := cerr.Failed(labelLog); ok && opts.IdempotencyKey != "" {
		// Another caller applied the same key between our read and commit.
		return apperr.Transient("ledger_replay", err)
	}
	if r, ok := cerr.Failed(labelProduct); ok {
		if len(r.Item) == 0 {
			return fmt.Errorf("%w: %s", ErrProductNotFound, p.ProductID)
		}
		current, uerr := catalog.Unmarshal(r.Item)
		if uerr != nil {
			return uerr
		}
		if !build(current).allowed(current, qty) {
			return ErrNotMatched
		}
		return apperr.Transient("ledger_version_conflict", err)
	}
	return err
}
