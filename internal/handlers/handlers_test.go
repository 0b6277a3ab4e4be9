package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-checkout/internal/app"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-checkout/internal/middleware"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

var secret = []byte("handler-secret")

const checkoutBody = `{
  "shippingAddress": {"name":"Ada","line1":"1 Main St","city":"Springfield","state":"IL","postalCode":"62701","country":"US","phone":"555-0100"},
  "billingAddress":  {"name":"Ada","line1":"1 Main St","city":"Springfield","state":"IL","postalCode":"62701","country":"US","phone":"555-0100"},
  "paymentMethod": "card"
}`

type testServer struct {
	router *gin.Engine
	app    *app.App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := dynamotest.New()
	tbl := config.Tables{
		Products: "products", Carts: "carts", Orders: "orders", InventoryLog: "inventory_log",
		Idempotency: "idempotency", Counters: "counters", Users: "users",
	}
	_, err := tables.Create(context.Background(), f, tbl)
	require.NoError(t, err)

	policy := config.DefaultPolicy()
	policy.RetryBaseDelay, policy.RetryMaxDelay = 0, 0
	a := app.New(f, tbl, policy, nil, nil, nil)
	_, err = a.Products.Create(context.Background(), catalog.Product{
		ProductID: "p1", SKU: "MUG-1", Title: "Mug", Price: 1000, IsActive: true, TrackQuantity: true, Quantity: 5,
	})
	require.NoError(t, err)

	r := gin.New()
	RegisterRoutes(r, HandlerConfig{
		Checkout: a.Checkout,
		Orders:   a.Orders,
		Carts:    a.Carts,
		Auth:     middleware.Auth(secret),
	})
	return &testServer{router: r, app: a}
}

func (s *testServer) do(t *testing.T, userID, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		role := ""
		if userID == "admin" {
			role = middleware.RoleAdmin
		}
		token, err := middleware.IssueToken(secret, userID, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, "", http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "u1", http.MethodPost, "/api/cart/items", `{"productId":"p1","quantity":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, "u1", http.MethodPost, "/api/checkout", checkoutBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[orders.Summary](t, w)
	assert.Equal(t, "/api/orders/"+created.ID, w.Header().Get("Location"))
	assert.Equal(t, orders.StatusPending, created.Status)
	assert.Equal(t, created.Subtotal+created.Tax+created.Shipping-created.Discount, created.Total)
	require.Len(t, created.Items, 1)

	w = s.do(t, "u1", http.MethodPost, "/api/checkout", checkoutBody, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, created.ID, decode[orders.Summary](t, w).ID)

	w = s.do(t, "u1", http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)

	w = s.do(t, "u1", http.MethodGet, "/api/orders?status=pending&limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Orders []orders.Summary `json:"orders"`
	}](t, w)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, created.ID, list.Orders[0].ID)

	w = s.do(t, "u1", http.MethodGet, "/api/orders/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"shippingAddress"`)

	w = s.do(t, "u2", http.MethodGet, "/api/orders/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "u1", http.MethodPost, "/api/orders/"+created.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"cancelled"`)

	p, err := s.app.Products.GetConsistent(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Quantity)
}

func TestCheckoutErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "", http.MethodPost, "/api/checkout", checkoutBody)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "u1", http.MethodPost, "/api/checkout", `{"paymentMethod":"barter"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "validation failed", body.Error)
	assert.NotEmpty(t, body.Details)

	w = s.do(t, "u1", http.MethodPost, "/api/checkout", checkoutBody)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_cart", decode[errorBody](t, w).Code)

	for _, key := range []string{strings.Repeat("k", 129), "has space", "caf\u00e9"} {
		w = s.do(t, "u1", http.MethodPost, "/api/checkout", checkoutBody, "Idempotency-Key", key)
		require.Equal(t, http.StatusBadRequest, w.Code, key)
		body = decode[errorBody](t, w)
		assert.Equal(t, "validation failed", body.Error)
		require.Len(t, body.Details, 1)
		assert.Equal(t, "Idempotency-Key", body.Details[0].Field)
	}

	w = s.do(t, "u1", http.MethodPost, "/api/cart/items", `{"productId":"p1","quantity":9}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "insufficient_stock", decode[errorBody](t, w).Code)

	w = s.do(t, "u1", http.MethodGet, "/api/orders?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "u1", http.MethodGet, "/api/orders?cursor=@@@", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "u1", http.MethodPost, "/api/cart/items", `{"productId":"p1","quantity":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, "u1", http.MethodPatch, "/api/cart/items/p1", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quantity":3`)

	w = s.do(t, "u1", http.MethodPatch, "/api/cart/items/p1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "u1", http.MethodDelete, "/api/cart/items/p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)

	w = s.do(t, "u1", http.MethodDelete, "/api/cart/items/p1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type failingCheckout struct{ err error }

func (f failingCheckout) Place(context.Context, checkout.Request) (*checkout.Result, error) {
	return nil, f.err
}

func (f failingCheckout) Cancel(context.Context, checkout.CancelRequest) (*orders.Order, error) {
	return nil, f.err
}

func TestUnclassifiedErrorsAreGeneric(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", "u1") })
	RegisterRoutes(r, HandlerConfig{Checkout: failingCheckout{err: errors.New("dial tcp 10.0.0.1: secret detail")}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(checkoutBody))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}
