package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/retry"
	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

var testTables = config.Tables{
	Products: "products", Carts: "carts", Orders: "orders", InventoryLog: "inventory_log",
	Idempotency: "idempotency", Counters: "counters", Users: "users",
}

type fixture struct {
	fake     *dynamotest.Fake
	products *catalog.Store
	ledger   *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := dynamotest.New()
	_, err := tables.Create(context.Background(), f, testTables)
	require.NoError(t, err)

	products := catalog.NewStore(f, testTables.Products)
	log := NewLog(f, testTables.InventoryLog)
	var tick atomic.Int64
	log.nowFunc = func() time.Time {
		return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick.Add(1)) * time.Second)
	}
	ledger := NewLedger(f, products, log, retry.Policy{MaxAttempts: 25}, nil)
	return &fixture{fake: f, products: products, ledger: ledger}
}

func (fx *fixture) seed(t *testing.T, p catalog.Product) {
	t.Helper()
	if p.SKU == "" {
		p.SKU = "SKU-" + p.ProductID
	}
	_, err := fx.products.Create(context.Background(), p)
	require.NoError(t, err)
}

func (fx *fixture) product(t *testing.T, id string) *catalog.Product {
	t.Helper()
	p, err := fx.products.GetConsistent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestReserveStock(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 5})

	res, err := fx.ledger.ReserveStock(ctx, "p1", 3, Options{PerformedBy: ActorCustomer})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Product.ReservedQuantity)
	assert.Equal(t, int64(2), res.Product.AvailableQuantity())
	assert.Equal(t, EntryReserved, res.Entry.Type)
	assert.Equal(t, int64(0), res.Entry.PreviousQuantity)
	assert.Equal(t, int64(3), res.Entry.NewQuantity)

	_, err = fx.ledger.ReserveStock(ctx, "p1", 3, Options{})
	assert.ErrorIs(t, err, ErrNotMatched)

	stored := fx.product(t, "p1")
	assert.Equal(t, int64(3), stored.ReservedQuantity)
	assert.Equal(t, int64(2), stored.FreeQuantity)
	assert.Len(t, fx.fake.Items(testTables.InventoryLog), 1)
}

func TestReserveStockRejectsInactive(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: false, TrackQuantity: true, Quantity: 5})
	_, err := fx.ledger.ReserveStock(context.Background(), "p1", 1, Options{})
	assert.ErrorIs(t, err, ErrNotMatched)
}

func TestReserveStockUntrackedAndBackorder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "free", IsActive: true, TrackQuantity: false})
	fx.seed(t, catalog.Product{ProductID: "bo", IsActive: true, TrackQuantity: true, AllowBackorder: true})

	_, err := fx.ledger.ReserveStock(ctx, "free", 10, Options{})
	require.NoError(t, err)
	res, err := fx.ledger.ReserveStock(ctx, "bo", 2, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Product.ReservedQuantity)
	assert.Equal(t, int64(0), res.Product.Quantity)
	assert.Equal(t, int64(0), res.Product.AvailableQuantity())
}

func TestReleaseReservedStockGuardsUnderflow(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 5, ReservedQuantity: 1})

	_, err := fx.ledger.ReleaseReservedStock(ctx, "p1", 2, Options{})
	assert.ErrorIs(t, err, ErrNotMatched)

	res, err := fx.ledger.ReleaseReservedStock(ctx, "p1", 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Product.ReservedQuantity)
	assert.Equal(t, int64(-1), res.Entry.Quantity)
	assert.Equal(t, EntryReleased, res.Entry.Type)
}

func TestConfirmSaleIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 5, ReservedQuantity: 2})

	opts := Options{IdempotencyKey: "k1", OrderID: "o1"}
	first, err := fx.ledger.ConfirmSale(ctx, "p1", 2, opts)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(3), first.Product.Quantity)
	assert.Equal(t, int64(5), first.Entry.PreviousQuantity)
	assert.Equal(t, int64(3), first.Entry.NewQuantity)

	second, err := fx.ledger.ConfirmSale(ctx, "p1", 2, opts)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Entry.EntryID, second.Entry.EntryID)

	p := fx.product(t, "p1")
	assert.Equal(t, int64(3), p.Quantity)
	assert.Equal(t, int64(0), p.ReservedQuantity)
	assert.Equal(t, int64(2), p.SalesCount)
	assert.Len(t, fx.fake.Items(testTables.InventoryLog), 1)
}

func TestKeyReusedForAnotherMovementConflicts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 5})

	_, err := fx.ledger.ReserveStock(ctx, "p1", 2, Options{IdempotencyKey: "k1"})
	require.NoError(t, err)

	_, err = fx.ledger.ConfirmSale(ctx, "p1", 2, Options{IdempotencyKey: "k1"})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
	assert.Equal(t, "idempotency_key_reused", appErr.Code)

	p := fx.product(t, "p1")
	assert.Equal(t, int64(5), p.Quantity)
	assert.Equal(t, int64(2), p.ReservedQuantity)
	assert.Equal(t, int64(0), p.SalesCount)

	res, err := fx.ledger.ReserveStock(ctx, "p1", 2, Options{IdempotencyKey: "k1"})
	require.NoError(t, err)
	assert.True(t, res.Replayed)
}

func TestConfirmSaleConcurrentNeverOversells(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	const stock, buyers = 10, 24
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: stock, ReservedQuantity: stock})

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		sold       int
		notMatched int
		other      []error
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.ledger.ConfirmSale(ctx, "p1", 1, Options{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, ErrNotMatched):
				notMatched++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	p := fx.product(t, "p1")
	assert.GreaterOrEqual(t, p.Quantity, int64(0))
	assert.Equal(t, stock, sold)
	assert.Equal(t, buyers-stock, notMatched)
	assert.Equal(t, int64(stock), p.SalesCount)
	assert.Equal(t, int64(stock-sold), p.Quantity)
}

func TestConfirmSaleKeepsBackorderedReservationUntilRestock(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, AllowBackorder: true})

	_, err := fx.ledger.ReserveStock(ctx, "p1", 2, Options{})
	require.NoError(t, err)
	_, err = fx.ledger.ConfirmSale(ctx, "p1", 2, Options{})
	assert.ErrorIs(t, err, ErrNotMatched)

	_, err = fx.ledger.Restock(ctx, "p1", 2, Options{PerformedBy: ActorAdmin})
	require.NoError(t, err)
	res, err := fx.ledger.ConfirmSale(ctx, "p1", 2, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Product.Quantity)
	assert.Equal(t, int64(0), res.Product.ReservedQuantity)
	assert.Equal(t, int64(2), res.Product.SalesCount)
}

func TestRestoreThenRestockReturnsStock(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 5, ReservedQuantity: 2})

	_, err := fx.ledger.ConfirmSale(ctx, "p1", 2, Options{})
	require.NoError(t, err)
	res, err := fx.ledger.RestoreStock(ctx, "p1", 2, Options{OrderID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, EntryReturn, res.Entry.Type)
	assert.Equal(t, int64(5), res.Product.Quantity)
	assert.Equal(t, int64(0), res.Product.SalesCount)

	_, err = fx.ledger.RestoreStock(ctx, "p1", 1, Options{})
	assert.ErrorIs(t, err, ErrNotMatched, "cannot return more than was sold")

	res, err = fx.ledger.Restock(ctx, "p1", 4, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Product.Quantity)
}

func TestLedgerErrors(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	_, err := fx.ledger.Restock(ctx, "missing", 1, Options{})
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = fx.ledger.Restock(ctx, "missing", 0, Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProductNotFound)
}

func TestLowStockReported(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 5, LowStockThreshold: 3})
	res, err := fx.ledger.ReserveStock(context.Background(), "p1", 2, Options{})
	require.NoError(t, err)
	assert.True(t, res.LowStock)
}

func TestStageSale(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 5})
	fx.seed(t, catalog.Product{ProductID: "p2", IsActive: true, TrackQuantity: true, AllowBackorder: true, Quantity: 1})

	uow := dynamo.NewUnitOfWork(fx.fake)
	defer uow.Rollback()
	sale1, err := fx.ledger.StageSale(uow, fx.product(t, "p1"), 2, Options{IdempotencyKey: "chk:p1"})
	require.NoError(t, err)
	assert.False(t, sale1.Backordered)
	sale2, err := fx.ledger.StageSale(uow, fx.product(t, "p2"), 3, Options{IdempotencyKey: "chk:p2"})
	require.NoError(t, err)
	assert.True(t, sale2.Backordered)
	assert.Equal(t, 4, uow.Len())
	require.NoError(t, uow.Commit(ctx))

	p1 := fx.product(t, "p1")
	assert.Equal(t, int64(3), p1.Quantity)
	assert.Equal(t, int64(2), p1.SalesCount)
	p2 := fx.product(t, "p2")
	assert.Equal(t, int64(1), p2.Quantity)
	assert.Equal(t, int64(3), p2.ReservedQuantity)
	assert.Equal(t, int64(0), p2.AvailableQuantity())
}

func TestStageSaleLostRaceIsNotMatched(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seed(t, catalog.Product{ProductID: "p1", IsActive: true, TrackQuantity: true, Quantity: 1})
	snapshot := fx.product(t, "p1")

	_, err := fx.ledger.ReserveStock(ctx, "p1", 1, Options{})
	require.NoError(t, err)

	uow := dynamo.NewUnitOfWork(fx.fake)
	defer uow.Rollback()
	_, err = fx.ledger.StageSale(uow, snapshot, 1, Options{})
	require.NoError(t, err)
	err = uow.Commit(ctx)

	var cerr *dynamo.CancelledError
	require.ErrorAs(t, err, &cerr)
	label, _ := SaleLabels("p1")
	reason, ok := cerr.Failed(label)
	require.True(t, ok)
	current, err := catalog.Unmarshal(reason.Item)
	require.NoError(t, err)
	assert.False(t, current.CanSell(1))
}
