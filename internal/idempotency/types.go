package idempotency

import "time"

// Kinds of guard records.
const (
	KindCheckout      = "CHECKOUT"
	KindPaymentUpdate = "PAYMENT_UPDATE"
	KindPaymentRef    = "PAYMENT_REF"
)

// Record is the shape persisted in the idempotency DynamoDB table. Each
// record claims a key for one order; a second claim fails its condition.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Kind           string    `dynamodbav:"kind"`
	OrderID        string    `dynamodbav:"order_id"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
}

// CheckoutKey scopes a client checkout key to its user.
func CheckoutKey(userID, key string) string {
	return "checkout#" + userID + "#" + key
}

// PaymentUpdateKey is the guard key of a payment-status update.
func PaymentUpdateKey(key string) string {
	return "payidem#" + key
}

// PaymentRefKey binds a payment reference to the order it was applied to.
func PaymentRefKey(ref string) string {
	return "payref#" + ref
}
