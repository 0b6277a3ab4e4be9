package catalog

import (
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

// Product is the item stored in the products table. The stock fields are
// owned by the inventory ledger and are only ever changed through its
// conditional updates.
type Product struct {
	ProductID string       `dynamodbav:"product_id" json:"productId"` // PK
	SKU       string       `dynamodbav:"sku" json:"sku"`
	Title     string       `dynamodbav:"title" json:"title"`
	Price     money.Amount `dynamodbav:"price" json:"price"`
	IsActive  bool         `dynamodbav:"is_active" json:"isActive"`

	Quantity          int64 `dynamodbav:"quantity" json:"quantity"`
	ReservedQuantity  int64 `dynamodbav:"reserved_quantity" json:"reservedQuantity"`
	FreeQuantity      int64 `dynamodbav:"free_quantity" json:"-"` // quantity - reserved_quantity, may be negative
	SalesCount        int64 `dynamodbav:"sales_count" json:"salesCount"`
	TrackQuantity     bool  `dynamodbav:"track_quantity" json:"trackQuantity"`
	AllowBackorder    bool  `dynamodbav:"allow_backorder" json:"allowBackorder"`
	LowStockThreshold int64 `dynamodbav:"low_stock_threshold" json:"lowStockThreshold"`
	LedgerVersion     int64 `dynamodbav:"ledger_version" json:"-"`

	CreatedAt time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// AvailableQuantity is max(0, quantity - reserved).
func (p *Product) AvailableQuantity() int64 {
	if avail := p.Quantity - p.ReservedQuantity; avail > 0 {
		return avail
	}
	return 0
}

// IsLowStock reports whether a tracked product is at or under its threshold.
func (p *Product) IsLowStock() bool {
	return p.TrackQuantity && p.LowStockThreshold > 0 && p.AvailableQuantity() <= p.LowStockThreshold
}

// CanSell reports whether qty units may be sold now: the product is active
// and either untracked, backorderable, or has enough available stock.
func (p *Product) CanSell(qty int64) bool {
	if !p.IsActive {
		return false
	}
	return !p.TrackQuantity || p.AllowBackorder || p.AvailableQuantity() >= qty
}
