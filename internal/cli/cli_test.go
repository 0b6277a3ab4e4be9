package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/middleware"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

type harness struct {
	fake    *dynamotest.Fake
	backend *Backend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		Tables: config.Tables{
			Products: "products", Carts: "carts", Orders: "orders", InventoryLog: "inventory_log",
			Idempotency: "idempotency", Counters: "counters", Users: "users",
		},
		Policy: config.DefaultPolicy(),
	}
	cfg.Policy.RetryBaseDelay = 0
	cfg.Policy.RetryMaxDelay = 0
	f := dynamotest.New()
	return &harness{fake: f, backend: NewBackend(f, cfg, nil, nil)}
}

// run executes storectl with args against the harness backend.
func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(func(context.Context, *RootOptions) (*Backend, error) {
		return h.backend, nil
	})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func (h *harness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "--format", "yaml", "tables", "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestTablesCreateIsRepeatable(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "tables", "create")
	assert.Contains(t, out, "created orders")

	out = h.mustRun(t, "tables", "create")
	assert.Equal(t, "all tables already exist\n", out)
}

func TestProductsCreateAndShow(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "tables", "create")
	h.mustRun(t, "products", "create", "--id", "p1", "--sku", "MUG-1", "--price", "12.50", "--quantity", "4")

	out := h.mustRun(t, "--format", "json", "products", "show", "--id", "p1")
	var p struct {
		Price    int64 `json:"price"`
		Quantity int64 `json:"quantity"`
		IsActive bool  `json:"isActive"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, int64(1250), p.Price)
	assert.Equal(t, int64(4), p.Quantity)
	assert.True(t, p.IsActive)

	_, err := h.run(t, "products", "create", "--id", "p1", "--sku", "MUG-1", "--price", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = h.run(t, "products", "create", "--id", "p2", "--sku", "X", "--price", "abc")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInventoryMovements(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "tables", "create")
	h.mustRun(t, "products", "create", "--id", "p1", "--sku", "MUG-1", "--price", "10", "--quantity", "2", "--low-stock", "3")

	out := h.mustRun(t, "inventory", "restock", "--product", "p1", "--qty", "5", "--key", "po-77")
	assert.Contains(t, out, "on_hand=7")

	out = h.mustRun(t, "inventory", "restock", "--product", "p1", "--qty", "5", "--key", "po-77")
	assert.Contains(t, out, "already applied")
	assert.Contains(t, out, "on_hand=7")

	out = h.mustRun(t, "inventory", "reserve", "--product", "p1", "--qty", "5")
	assert.Contains(t, out, "reserved=5 available=2")
	assert.Contains(t, out, "low stock")

	_, err := h.run(t, "inventory", "reserve", "--product", "p1", "--qty", "3")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	h.mustRun(t, "inventory", "confirm", "--product", "p1", "--qty", "2")
	h.mustRun(t, "inventory", "release", "--product", "p1", "--qty", "3")

	out = h.mustRun(t, "--format", "json", "inventory", "history", "--product", "p1")
	var page struct {
		Entries []struct {
			Type        string `json:"type"`
			PerformedBy string `json:"performedBy"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Entries, 4)
	for _, e := range page.Entries {
		assert.Equal(t, "admin", e.PerformedBy)
	}

	_, err = h.run(t, "inventory", "restock", "--product", "missing", "--qty", "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = h.run(t, "inventory", "history", "--product", "p1", "--limit", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestOrdersShowAndCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.mustRun(t, "tables", "create")
	h.mustRun(t, "products", "create", "--id", "p1", "--sku", "MUG-1", "--price", "10", "--quantity", "5")

	a := h.backend.App
	_, err := a.Carts.AddItem(ctx, "u1", false, "p1", 2)
	require.NoError(t, err)
	addr := orders.Address{
		Name: "Ada Lovelace", Line1: "1 Main St", City: "Springfield", State: "IL",
		PostalCode: "62701", Country: "US", Phone: "555-0100",
	}
	res, err := a.Checkout.Place(ctx, checkout.Request{
		UserID: "u1", ShippingAddress: addr, BillingAddress: addr, PaymentMethod: orders.MethodCard,
	})
	require.NoError(t, err)
	id := res.Order.OrderID

	out := h.mustRun(t, "orders", "show", "--id", id)
	assert.Contains(t, out, "status=pending")
	assert.Contains(t, out, "MUG-1")

	out = h.mustRun(t, "orders", "cancel", "--id", id)
	assert.Contains(t, out, "status=cancelled")
	out = h.mustRun(t, "products", "show", "--id", "p1")
	assert.Contains(t, out, "on_hand=5")

	_, err = h.run(t, "orders", "refund", "--id", id)
	assert.Equal(t, ExitFailure, GetExitCode(err), "a cancelled order cannot be refunded")

	_, err = h.run(t, "orders", "show", "--id", "nope")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestTokenIssue(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun(t, "--format", "json", "token", "issue", "--user", "u1", "--admin", "--secret", "s3cret")
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))

	claims, err := middleware.ParseToken([]byte("s3cret"), body.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, middleware.RoleAdmin, claims.Role)
}

func TestTablesCreatesWhatTheServiceNeeds(t *testing.T) {
	h := newHarness(t)
	h.mustRun(t, "tables", "create")
	assert.Len(t, tables.Definitions(h.backend.Config.Tables), 7)
	assert.Equal(t, 7, h.fake.Calls("CreateTable"))
}
