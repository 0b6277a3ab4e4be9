// Package handlers exposes checkout, orders and cart over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/cart"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/middleware"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

// CheckoutService places and cancels orders.
type CheckoutService interface {
	Place(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	Cancel(ctx context.Context, req checkout.CancelRequest) (*orders.Order, error)
}

// OrderReader is the read side of the order store.
type OrderReader interface {
	GetForUser(ctx context.Context, userID, orderID string) (*orders.Order, error)
	ListByUser(ctx context.Context, userID string, q orders.ListQuery) (*orders.Page, error)
}

// CartService edits carts.
type CartService interface {
	GetOrEmpty(ctx context.Context, userID string) (*cart.Cart, error)
	AddItem(ctx context.Context, userID string, guest bool, productID string, qty int64) (*cart.Cart, error)
	UpdateQuantity(ctx context.Context, userID, productID string, qty int64) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*cart.Cart, error)
}

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Checkout CheckoutService
	Orders   OrderReader
	Carts    CartService
	// Auth guards every /api route.
	Auth   gin.HandlerFunc
	Logger *zap.Logger
}

type handler struct {
	checkout CheckoutService
	orders   OrderReader
	carts    CartService
	validate *validatorv10.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers the health check and the /api routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	h := &handler{
		checkout: cfg.Checkout,
		orders:   cfg.Orders,
		carts:    cfg.Carts,
		validate: validation.New(),
		logger:   logging.OrDefault(cfg.Logger),
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	if cfg.Auth != nil {
		api.Use(cfg.Auth)
	}
	api.POST("/checkout", h.placeOrder)
	api.GET("/orders", h.listOrders)
	api.GET("/orders/:id", h.getOrder)
	api.POST("/orders/:id/cancel", h.cancelOrder)
	api.GET("/cart", h.getCart)
	api.POST("/cart/items", h.addCartItem)
	api.PATCH("/cart/items/:productId", h.updateCartItem)
	api.DELETE("/cart/items/:productId", h.removeCartItem)
}

type errorBody struct {
	Error   string              `json:"error"`
	Code    string              `json:"code,omitempty"`
	Details []apperr.FieldError `json:"details,omitempty"`
}

// writeError maps err to a status. Unclassified and transient errors are
// logged and answered with a generic 500.
func (h *handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindBusiness:
		status = http.StatusBadRequest
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", middleware.RequestID(c)),
			zap.String("user_id", middleware.UserID(c)),
			zap.Error(err))
		c.JSON(status, errorBody{Error: "internal server error"})
		return
	}

	body := errorBody{Error: err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) {
		body = errorBody{Error: e.Message, Code: e.Code, Details: e.Details}
	}
	c.JSON(status, body)
}
