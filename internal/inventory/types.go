package inventory

import (
	"errors"
	"time"

	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
)

// EntryType classifies a stock mutation.
type EntryType string

const (
	EntrySale       EntryType = "sale"
	EntryRestock    EntryType = "restock"
	EntryAdjustment EntryType = "adjustment"
	EntryReturn     EntryType = "return"
	EntryReserved   EntryType = "reserved"
	EntryReleased   EntryType = "released"
)

// Actor is who performed a mutation.
type Actor string

const (
	ActorSystem   Actor = "system"
	ActorAdmin    Actor = "admin"
	ActorCustomer Actor = "customer"
	ActorAPI      Actor = "api"
)

// Entry is one immutable inventory log record. For reserved and released
// entries the previous/new quantities are the reserved counter; for every
// other type they are the on-hand quantity.
type Entry struct {
	EntryID          string    `dynamodbav:"entry_id" json:"entryId"` // PK
	ProductID        string    `dynamodbav:"product_id" json:"productId"`
	Type             EntryType `dynamodbav:"type" json:"type"`
	Quantity         int64     `dynamodbav:"quantity" json:"quantity"` // signed delta
	PreviousQuantity int64     `dynamodbav:"previous_quantity" json:"previousQuantity"`
	NewQuantity      int64     `dynamodbav:"new_quantity" json:"newQuantity"`
	OrderID          string    `dynamodbav:"order_id,omitempty" json:"orderId,omitempty"`
	IdempotencyKey   string    `dynamodbav:"idempotency_key,omitempty" json:"idempotencyKey,omitempty"`
	PerformedBy      Actor     `dynamodbav:"performed_by" json:"performedBy"`
	CreatedAt        time.Time `dynamodbav:"created_at" json:"createdAt"`
}

// Options carry the audit context of a ledger call.
type Options struct {
	IdempotencyKey string
	OrderID        string
	PerformedBy    Actor
}

// Result is the outcome of a ledger operation.
type Result struct {
	Product *catalog.Product
	Entry   *Entry
	// Replayed is set when the idempotency key had already been applied;
	// nothing was mutated and Product is the current record.
	Replayed bool
	LowStock bool
}

// ErrNotMatched is the not-matched signal: the operation's precondition
// did not hold (insufficient stock, inactive product, counter underflow).
// It is a business outcome, never an infrastructure failure.
var ErrNotMatched = errors.New("inventory precondition not matched")

// ErrProductNotFound is returned for an unknown product id.
var ErrProductNotFound = errors.New("product not found")
