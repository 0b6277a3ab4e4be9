package tables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
)

func testTables() config.Tables {
	return config.Tables{
		Products: "products", Carts: "carts", Orders: "orders", InventoryLog: "inventory_log",
		Idempotency: "idempotency", Counters: "counters", Users: "users",
	}
}

func TestCreateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	f := dynamotest.New()

	created, err := Create(ctx, f, testTables())
	require.NoError(t, err)
	assert.Len(t, created, 7)
	assert.Equal(t, 1, f.Calls("UpdateTimeToLive"))

	created, err = Create(ctx, f, testTables())
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestOrdersDefinitionHasUserIndex(t *testing.T) {
	in := Definitions(testTables())[2].Input()
	require.Len(t, in.GlobalSecondaryIndexes, 1)
	assert.Equal(t, OrdersByUserIndex, *in.GlobalSecondaryIndexes[0].IndexName)
	assert.Len(t, in.AttributeDefinitions, 3)
}
