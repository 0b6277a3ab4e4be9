package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
)

// MaxTransactItems is DynamoDB's limit on actions per TransactWriteItems call.
const MaxTransactItems = 100

// ErrRolledBack is returned by Commit after Rollback.
var ErrRolledBack = errors.New("unit of work rolled back")

// UnitOfWork collects writes that must land together and sends them as one
// TransactWriteItems call. Nothing reaches the table before Commit, so an
// abandoned unit leaves no partial state:
//
//	uow := dynamo.NewUnitOfWork(client)
//	defer uow.Rollback() // no-op after Commit
type UnitOfWork struct {
	client aws.DynamoDBAPI
	items  []types.TransactWriteItem
	labels []string
	closed bool
}

// NewUnitOfWork returns an empty unit bound to client.
func NewUnitOfWork(client aws.DynamoDBAPI) *UnitOfWork {
	return &UnitOfWork{client: client}
}

// Put stages a put. label names the action in cancellation reasons.
func (u *UnitOfWork) Put(label string, p *types.Put) {
	u.add(label, types.TransactWriteItem{Put: p})
}

// Update stages an update.
func (u *UnitOfWork) Update(label string, up *types.Update) {
	u.add(label, types.TransactWriteItem{Update: up})
}

// Check stages a condition check that writes nothing.
func (u *UnitOfWork) Check(label string, c *types.ConditionCheck) {
	u.add(label, types.TransactWriteItem{ConditionCheck: c})
}

func (u *UnitOfWork) add(label string, item types.TransactWriteItem) {
	u.items = append(u.items, item)
	u.labels = append(u.labels, label)
}

// Len is the number of staged actions.
func (u *UnitOfWork) Len() int { return len(u.items) }

// Labels returns the staged action labels in order.
func (u *UnitOfWork) Labels() []string { return append([]string(nil), u.labels...) }

// Rollback discards the staged actions. Safe to call after Commit.
func (u *UnitOfWork) Rollback() {
	if u.closed {
		return
	}
	u.closed = true
	u.items = nil
	u.labels = nil
}

// Commit sends every staged action atomically. A cancelled transaction is
// reported as *CancelledError; transient failures carry apperr.KindTransient.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.closed {
		return ErrRolledBack
	}
	if len(u.items) == 0 {
		u.closed = true
		return nil
	}
	if len(u.items) > MaxTransactItems {
		return apperr.Newf(apperr.KindBusiness, "transaction_too_large",
			"transaction has %d actions, limit is %d", len(u.items), MaxTransactItems)
	}

	_, err := u.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: u.items,
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			cerr := &CancelledError{Err: err}
			for i, r := range tce.CancellationReasons {
				reason := Reason{Code: deref(r.Code), Message: deref(r.Message), Item: r.Item}
				if i < len(u.labels) {
					reason.Label = u.labels[i]
				}
				cerr.Reasons = append(cerr.Reasons, reason)
			}
			if cerr.Transient() {
				return apperr.Transient("transaction_conflict", cerr)
			}
			return cerr
		}
		return Classify("transact write", err)
	}

	u.closed = true
	return nil
}

// Reason is one action's outcome in a cancelled transaction.
type Reason struct {
	Label   string
	Code    string
	Message string
	// Item is the pre-image when the action asked for ALL_OLD on condition failure.
	Item map[string]types.AttributeValue
}

// CancelledError reports a TransactionCanceledException with labelled reasons.
type CancelledError struct {
	Reasons []Reason
	Err     error
}

func (e *CancelledError) Error() string {
	var failed []string
	for _, r := range e.Reasons {
		if r.Code != "" && r.Code != "None" {
			failed = append(failed, fmt.Sprintf("%s=%s", r.Label, r.Code))
		}
	}
	return "transaction cancelled: " + strings.Join(failed, ", ")
}

func (e *CancelledError) Unwrap() error { return e.Err }

// ConditionFailures returns the reasons whose condition expression failed.
func (e *CancelledError) ConditionFailures() []Reason {
	var out []Reason
	for _, r := range e.Reasons {
		if r.Code == "ConditionalCheckFailed" {
			out = append(out, r)
		}
	}
	return out
}

// Failed returns the condition failure for label, if any.
func (e *CancelledError) Failed(label string) (Reason, bool) {
	for _, r := range e.Reasons {
		if r.Label == label && r.Code == "ConditionalCheckFailed" {
			return r, true
		}
	}
	return Reason{}, false
}

// Transient reports whether the cancellation was caused only by retryable reasons.
func (e *CancelledError) Transient() bool {
	transient := false
	for _, r := range e.Reasons {
		switch {
		case r.Code == "ConditionalCheckFailed":
			return false
		case transientReasons[r.Code]:
			transient = true
		}
	}
	return transient
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
