package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	f := dynamotest.New()
	f.AddTable("idempotency", "idempotency_key", "")
	s := NewStore(f, "idempotency")
	s.nowFunc = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s, f
}

func TestClaimOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)
	key := CheckoutKey("u1", "abc")

	uow := dynamo.NewUnitOfWork(f)
	require.NoError(t, s.StageClaim(uow, "guard", key, KindCheckout, "o1"))
	require.NoError(t, uow.Commit(ctx))

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "o1", rec.OrderID)
	assert.Equal(t, KindCheckout, rec.Kind)

	uow = dynamo.NewUnitOfWork(f)
	require.NoError(t, s.StageClaim(uow, "guard", key, KindCheckout, "o2"))
	err = uow.Commit(ctx)
	var cerr *dynamo.CancelledError
	require.ErrorAs(t, err, &cerr)
	_, failed := cerr.Failed("guard")
	assert.True(t, failed)
}

func TestBindAllowsSameOrder(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)
	key := PaymentRefKey("pi_123")

	for _, orderID := range []string{"o1", "o1"} {
		uow := dynamo.NewUnitOfWork(f)
		require.NoError(t, s.StageBind(uow, "ref", key, KindPaymentRef, orderID))
		require.NoError(t, uow.Commit(ctx))
	}

	uow := dynamo.NewUnitOfWork(f)
	require.NoError(t, s.StageBind(uow, "ref", key, KindPaymentRef, "o2"))
	assert.Error(t, uow.Commit(ctx))
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	rec, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestKeysAreScoped(t *testing.T) {
	assert.NotEqual(t, CheckoutKey("u1", "abc"), CheckoutKey("u2", "abc"))
	assert.NotEqual(t, PaymentUpdateKey("abc"), PaymentRefKey("abc"))
}
