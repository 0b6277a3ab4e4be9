package orders

import (
	"strings"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// PaymentMethod is the closed set of accepted payment selectors.
type PaymentMethod string

const (
	MethodCard           PaymentMethod = "card"
	MethodPayPal         PaymentMethod = "paypal"
	MethodBankTransfer   PaymentMethod = "bank_transfer"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	MethodWallet         PaymentMethod = "wallet"
)

// PaymentMethods lists every accepted method.
var PaymentMethods = []PaymentMethod{MethodCard, MethodPayPal, MethodBankTransfer, MethodCashOnDelivery, MethodWallet}

// Valid reports whether m is an accepted method.
func (m PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if m == v {
			return true
		}
	}
	return false
}

// Address is a postal address snapshot. Line2 is optional.
type Address struct {
	Name       string `dynamodbav:"name" json:"name"`
	Line1      string `dynamodbav:"line1" json:"line1"`
	Line2      string `dynamodbav:"line2,omitempty" json:"line2,omitempty"`
	City       string `dynamodbav:"city" json:"city"`
	State      string `dynamodbav:"state" json:"state"`
	PostalCode string `dynamodbav:"postal_code" json:"postalCode"`
	Country    string `dynamodbav:"country" json:"country"`
	Phone      string `dynamodbav:"phone" json:"phone"`
}

// missing returns the names of empty required fields.
func (a Address) missing() []string {
	var out []string
	for _, f := range []struct{ name, v string }{
		{"name", a.Name}, {"line1", a.Line1}, {"city", a.City}, {"state", a.State},
		{"postalCode", a.PostalCode}, {"country", a.Country}, {"phone", a.Phone},
	} {
		if strings.TrimSpace(f.v) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

// LineItem is a purchased product, copied at purchase time.
type LineItem struct {
	ProductID   string       `dynamodbav:"product_id" json:"productId"`
	SKU         string       `dynamodbav:"sku" json:"sku"`
	Title       string       `dynamodbav:"title" json:"title"`
	UnitPrice   money.Amount `dynamodbav:"unit_price" json:"unitPrice"`
	Quantity    int64        `dynamodbav:"quantity" json:"quantity"`
	Subtotal    money.Amount `dynamodbav:"subtotal" json:"subtotal"`
	Backordered bool         `dynamodbav:"backordered,omitempty" json:"backordered,omitempty"`
}

// Order represents the item stored in the Orders DynamoDB table. Items,
// prices and addresses never change after creation.
type Order struct {
	OrderID         string        `dynamodbav:"order_id"` // PK
	OrderNumber     string        `dynamodbav:"order_number"`
	UserID          string        `dynamodbav:"user_id"` // GSI hash
	Status          Status        `dynamodbav:"status"`
	PaymentStatus   PaymentStatus `dynamodbav:"payment_status"`
	PaymentMethod   PaymentMethod `dynamodbav:"payment_method"`
	PaymentRefs     []string      `dynamodbav:"payment_refs,omitempty"`
	Items           []LineItem    `dynamodbav:"items"`
	ShippingAddress Address       `dynamodbav:"shipping_address"`
	BillingAddress  Address       `dynamodbav:"billing_address"`
	Subtotal        money.Amount  `dynamodbav:"subtotal"`
	Tax             money.Amount  `dynamodbav:"tax"`
	Shipping        money.Amount  `dynamodbav:"shipping"`
	Discount        money.Amount  `dynamodbav:"discount"`
	Total           money.Amount  `dynamodbav:"total"`
	Currency        string        `dynamodbav:"currency"`
	CustomerNotes   string        `dynamodbav:"customer_notes,omitempty"`
	IdempotencyKey  string        `dynamodbav:"idempotency_key,omitempty"`
	Version         int64         `dynamodbav:"version"`
	CreatedAt       time.Time     `dynamodbav:"created_at"` // GSI range
	UpdatedAt       time.Time     `dynamodbav:"updated_at"`
	ShippedAt       *time.Time    `dynamodbav:"shipped_at,omitempty"`
	DeliveredAt     *time.Time    `dynamodbav:"delivered_at,omitempty"`
	CancelledAt     *time.Time    `dynamodbav:"cancelled_at,omitempty"`
	// SpendReversed is set once the total has been taken back out of the
	// user's lifetime spend by a cancellation or refund.
	SpendReversed bool `dynamodbav:"spend_reversed,omitempty"`
}

// Validate checks the structural invariants that must hold before an order
// is persisted.
func (o *Order) Validate() error {
	var details []apperr.FieldError
	if o.UserID == "" {
		details = append(details, apperr.FieldError{Field: "userId", Message: "required"})
	}
	if len(o.Items) == 0 {
		details = append(details, apperr.FieldError{Field: "items", Message: "must not be empty"})
	}
	for i, it := range o.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			details = append(details, apperr.FieldError{Field: "items[" + itoa(i) + "]", Message: "needs a product and a positive quantity"})
		}
	}
	for _, f := range o.ShippingAddress.missing() {
		details = append(details, apperr.FieldError{Field: "shippingAddress." + f, Message: "required"})
	}
	for _, f := range o.BillingAddress.missing() {
		details = append(details, apperr.FieldError{Field: "billingAddress." + f, Message: "required"})
	}
	if !o.PaymentMethod.Valid() {
		details = append(details, apperr.FieldError{Field: "paymentMethod", Message: "unsupported"})
	}
	if len(details) > 0 {
		return apperr.Validation("invalid order", details...)
	}
	return nil
}

// HasPaymentRef reports whether ref is attached to the order.
func (o *Order) HasPaymentRef(ref string) bool {
	for _, r := range o.PaymentRefs {
		if r == ref {
			return true
		}
	}
	return false
}

// Summary is the public view of an order.
type Summary struct {
	ID            string        `json:"id"`
	OrderNumber   string        `json:"orderNumber"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Subtotal      money.Amount  `json:"subtotal"`
	Tax           money.Amount  `json:"tax"`
	Shipping      money.Amount  `json:"shipping"`
	Discount      money.Amount  `json:"discount"`
	Total         money.Amount  `json:"total"`
	Currency      string        `json:"currency"`
	Items         []LineItem    `json:"items"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Summary returns the public view of o.
func (o *Order) Summary() Summary {
	return Summary{
		ID:            o.OrderID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Subtotal:      o.Subtotal,
		Tax:           o.Tax,
		Shipping:      o.Shipping,
		Discount:      o.Discount,
		Total:         o.Total,
		Currency:      o.Currency,
		Items:         o.Items,
		CreatedAt:     o.CreatedAt,
	}
}
