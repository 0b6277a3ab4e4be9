package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/dynamo"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

var home = orders.Address{
	Name: "Ada", Line1: "1 Main St", City: "Springfield", State: "IL",
	PostalCode: "62701", Country: "US", Phone: "555-0100",
}

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	f := dynamotest.New()
	f.AddTable("users", "user_id", "")
	return NewStore(f, "users"), f
}

func place(t *testing.T, s *Store, f *dynamotest.Fake, userID string, total money.Amount, addrs ...orders.Address) error {
	t.Helper()
	snapshot, err := s.Get(context.Background(), userID)
	require.NoError(t, err)
	uow := dynamo.NewUnitOfWork(f)
	require.NoError(t, s.StagePlacement(uow, userID, snapshot, total, addrs...))
	return uow.Commit(context.Background())
}

func TestMergeAddresses(t *testing.T) {
	work := home
	work.Line1 = "2 Office Park"

	got := MergeAddresses([]orders.Address{home}, home, work, work)
	assert.Equal(t, []orders.Address{home, work}, got)
	assert.Empty(t, MergeAddresses(nil))
}

func TestStagePlacementCreatesAndAccumulates(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)

	require.NoError(t, place(t, s, f, "u1", 2500, home, home))
	u, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, int64(1), u.OrderCount)
	assert.Equal(t, money.Amount(2500), u.TotalSpent)
	assert.Equal(t, []orders.Address{home}, u.SavedAddresses)
	assert.Equal(t, int64(1), u.Version)
	require.NotNil(t, u.LastOrderAt)

	require.NoError(t, place(t, s, f, "u1", 1000, home))
	u, err = s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.OrderCount)
	assert.Equal(t, money.Amount(3500), u.TotalSpent)
	assert.Len(t, u.SavedAddresses, 1)
	assert.Equal(t, int64(2), u.Version)
}

func TestStagePlacementStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)
	require.NoError(t, place(t, s, f, "u1", 100))

	stale, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, place(t, s, f, "u1", 100))

	uow := dynamo.NewUnitOfWork(f)
	require.NoError(t, s.StagePlacement(uow, "u1", stale, 100))
	err = uow.Commit(ctx)
	var cancelled *dynamo.CancelledError
	require.ErrorAs(t, err, &cancelled)
	_, failed := cancelled.Failed(LabelUser)
	assert.True(t, failed)
}

func TestStageSpendReversal(t *testing.T) {
	ctx := context.Background()
	s, f := newTestStore(t)
	require.NoError(t, place(t, s, f, "u1", 2500))

	uow := dynamo.NewUnitOfWork(f)
	s.StageSpendReversal(uow, "u1", 2500)
	require.NoError(t, uow.Commit(ctx))

	u, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), u.TotalSpent)
	assert.Equal(t, int64(1), u.OrderCount)

	uow = dynamo.NewUnitOfWork(f)
	s.StageSpendReversal(uow, "u1", 1)
	assert.Error(t, uow.Commit(ctx))
}
