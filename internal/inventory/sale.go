package inventory

import (
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
)

// Sale is a checkout line staged on an order transaction.
type Sale struct {
	Entry *Entry
	// Backordered lines are held as a reservation because on-hand stock
	// did not cover them; they are confirmed after restock.
	Backordered bool
}

// SaleLabels are the transaction labels StageSale uses for a product.
func SaleLabels(productID string) (product, log string) {
	return "product:" + productID, "log:" + productID
}

// saleMutation reserves and confirms in one update, so no window exists
// between the hold and the deduction.
func saleMutation(p *catalog.Product, qty int64) (mutation, bool) {
	switch {
	case !p.TrackQuantity:
		return mutation{
			entry:   EntrySale,
			update:  "SET sales_count = sales_count + :q",
			cond:    "is_active = :true AND track_quantity = :false",
			allowed: func(p *catalog.Product, qty int64) bool { return p.CanSell(qty) },
			next: func(p catalog.Product, qty int64) catalog.Product {
				p.SalesCount += qty
				return p
			},
			sign: -1,
		}, false
	case p.AvailableQuantity() >= qty:
		return mutation{
			entry:   EntrySale,
			update:  "SET quantity = quantity - :q, free_quantity = free_quantity - :q, sales_count = sales_count + :q",
			cond:    "is_active = :true AND track_quantity = :true AND free_quantity >= :q AND quantity >= :q",
			allowed: func(p *catalog.Product, qty int64) bool { return p.CanSell(qty) },
			next: func(p catalog.Product, qty int64) catalog.Product {
				p.Quantity -= qty
				p.FreeQuantity -= qty
				p.SalesCount += qty
				return p
			},
			sign: -1,
		}, false
	default:
		return mutation{
			entry:   EntryReserved,
			update:  "SET reserved_quantity = reserved_quantity + :q, free_quantity = free_quantity - :q",
			cond:    "is_active = :true AND track_quantity = :true AND allow_backorder = :true",
			allowed: func(p *catalog.Product, qty int64) bool { return p.CanSell(qty) },
			next: func(p catalog.Product, qty int64) catalog.Product {
				p.ReservedQuantity += qty
				p.FreeQuantity -= qty
				return p
			},
			reserved: true,
			sign:     1,
		}, true
	}
}

// StageSale stages the sale of qty units of p on uow, together with its log
// entry. p must be a consistent snapshot read in the same attempt; the update
// is pinned to its ledger_version. When the committed transaction is
// cancelled on the product label, callers re-check CanSell on the returned
// image to tell insufficient stock from a lost race.
func (l *Ledger) StageSale(uow *dynamo.UnitOfWork, p *catalog.Product, qty int64, opts Options) (*Sale, error) {
	if !p.CanSell(qty) {
		return nil, ErrNotMatched
	}
	m, backordered := saleMutation(p, qty)
	productLabel, logLabel := SaleLabels(p.ProductID)
	entry, err := l.stage(uow, productLabel, logLabel, p, qty, m, opts)
	if err != nil {
		return nil, err
	}
	return &Sale{Entry: entry, Backordered: backordered}, nil
}
