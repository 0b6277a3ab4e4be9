package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

// Item is a cart line. Price is captured when the product is added.
type Item struct {
	ProductID string       `dynamodbav:"product_id" json:"productId"`
	SKU       string       `dynamodbav:"sku" json:"sku"`
	Title     string       `dynamodbav:"title" json:"title"`
	Price     money.Amount `dynamodbav:"price" json:"price"`
	Quantity  int64        `dynamodbav:"quantity" json:"quantity"`
	Subtotal  money.Amount `dynamodbav:"subtotal" json:"subtotal"`
	AddedAt   time.Time    `dynamodbav:"added_at" json:"addedAt"`
}

// Cart is the item stored in the carts table, one per user or guest session.
type Cart struct {
	UserID   string       `dynamodbav:"user_id" json:"userId"` // PK
	Items    []Item       `dynamodbav:"items" json:"items"`
	Subtotal money.Amount `dynamodbav:"subtotal" json:"subtotal"`
	Tax      money.Amount `dynamodbav:"tax" json:"tax"`
	Shipping money.Amount `dynamodbav:"shipping" json:"shipping"`
	Discount money.Amount `dynamodbav:"discount" json:"discount"`
	Total    money.Amount `dynamodbav:"total" json:"total"`
	Guest    bool         `dynamodbav:"guest,omitempty" json:"guest,omitempty"`
	// ExpiresAt is the TTL (epoch seconds) of a guest cart.
	ExpiresAt int64     `dynamodbav:"expires_at,omitempty" json:"-"`
	Version   int64     `dynamodbav:"version" json:"-"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 999

// Pricing is the business policy applied to cart totals.
type Pricing struct {
	TaxEnabled            bool
	TaxRate               decimal.Decimal
	FlatShipping          money.Amount
	FreeShippingThreshold money.Amount
	MaxLines              int
	GuestTTL              time.Duration
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// Recalculate derives line subtotals and cart totals from the lines.
// Shipping is free above the threshold; the discount never exceeds the subtotal.
func (c *Cart) Recalculate(p Pricing) {
	var subtotal money.Amount
	for i := range c.Items {
		c.Items[i].Subtotal = c.Items[i].Price.Times(int(c.Items[i].Quantity))
		subtotal += c.Items[i].Subtotal
	}
	c.Subtotal = subtotal
	if c.Discount > subtotal {
		c.Discount = subtotal
	}
	c.Shipping = 0
	if subtotal > 0 && (p.FreeShippingThreshold <= 0 || subtotal < p.FreeShippingThreshold) {
		c.Shipping = p.FlatShipping
	}
	c.Tax = 0
	if p.TaxEnabled {
		c.Tax = money.Tax(subtotal, p.TaxRate)
	}
	c.Total = money.Total(c.Subtotal, c.Tax, c.Shipping, c.Discount)
	if subtotal == 0 {
		c.Discount, c.Total = 0, 0
	}
}

func (c *Cart) find(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}
