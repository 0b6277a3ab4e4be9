package validation

import "github.com/imrishuroy/go-storefront-checkout/internal/orders"

// AddressInput is a postal address as submitted by the client.
type AddressInput struct {
	Name       string `json:"name" validate:"required,max=100"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=60"`
	Phone      string `json:"phone" validate:"required,max=30"`
}

// Address converts the input to the order snapshot type.
func (a AddressInput) Address() orders.Address {
	return orders.Address{
		Name: a.Name, Line1: a.Line1, Line2: a.Line2, City: a.City, State: a.State,
		PostalCode: a.PostalCode, Country: a.Country, Phone: a.Phone,
	}
}

// CheckoutRequest is the payload for POST /api/checkout.
type CheckoutRequest struct {
	ShippingAddress AddressInput `json:"shippingAddress" validate:"required"`
	BillingAddress  AddressInput `json:"billingAddress" validate:"required"`
	PaymentMethod   string       `json:"paymentMethod" validate:"required,payment_method"`
	CustomerNotes   string       `json:"customerNotes,omitempty" validate:"max=1000"`
	IdempotencyKey  string       `json:"idempotencyKey,omitempty" validate:"omitempty,max=128,printascii"`
}

// CartItemRequest is the payload for POST /api/cart/items.
type CartItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int64  `json:"quantity" validate:"required,min=1,max=999"`
}

// CartQuantityRequest is the payload for PATCH /api/cart/items/:productId.
// Zero removes the line.
type CartQuantityRequest struct {
	Quantity *int64 `json:"quantity" validate:"required,min=0,max=999"`
}
