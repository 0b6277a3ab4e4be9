package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-checkout/internal/apperr"
	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/middleware"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

// orderDetail is the single-order view: the summary plus addresses and
// fulfilment timestamps.
type orderDetail struct {
	orders.Summary
	ShippingAddress orders.Address `json:"shippingAddress"`
	BillingAddress  orders.Address `json:"billingAddress"`
	PaymentRefs     []string       `json:"paymentRefs,omitempty"`
	CustomerNotes   string         `json:"customerNotes,omitempty"`
	ShippedAt       *time.Time     `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time     `json:"deliveredAt,omitempty"`
	CancelledAt     *time.Time     `json:"cancelledAt,omitempty"`
}

func detail(o *orders.Order) orderDetail {
	return orderDetail{
		Summary:         o.Summary(),
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		PaymentRefs:     o.PaymentRefs,
		CustomerNotes:   o.CustomerNotes,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
	}
}

// placeOrder handles POST /api/checkout. The Idempotency-Key header wins
// over the body field.
func (h *handler) placeOrder(c *gin.Context) {
	var req validation.CheckoutRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		h.writeError(c, err)
		return
	}
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	} else if err := h.validate.Var(key, "max=128,printascii"); err != nil || strings.ContainsAny(key, " \t") {
		h.writeError(c, apperr.Validation("validation failed", apperr.FieldError{
			Field:   "Idempotency-Key",
			Message: "must be at most 128 printable characters without whitespace",
		}))
		return
	}

	res, err := h.checkout.Place(c.Request.Context(), checkout.Request{
		UserID:          middleware.UserID(c),
		ShippingAddress: req.ShippingAddress.Address(),
		BillingAddress:  req.BillingAddress.Address(),
		PaymentMethod:   orders.PaymentMethod(req.PaymentMethod),
		CustomerNotes:   req.CustomerNotes,
		IdempotencyKey:  key,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/api/orders/%s", res.Order.OrderID))
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res.Order.Summary())
}

// listOrders handles GET /api/orders?status=&limit=&cursor=.
func (h *handler) listOrders(c *gin.Context) {
	q := orders.ListQuery{
		Status: orders.Status(c.Query("status")),
		Cursor: c.Query("cursor"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			h.writeError(c, apperr.Validation("invalid limit", apperr.FieldError{Field: "limit", Message: "must be a positive integer"}))
			return
		}
		q.Limit = limit
	}

	page, err := h.orders.ListByUser(c.Request.Context(), middleware.UserID(c), q)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]orders.Summary, 0, len(page.Orders))
	for i := range page.Orders {
		out = append(out, page.Orders[i].Summary())
	}
	c.JSON(http.StatusOK, gin.H{"orders": out, "nextCursor": page.NextCursor})
}

// getOrder handles GET /api/orders/:id. Another user's order is a 404.
func (h *handler) getOrder(c *gin.Context) {
	o, err := h.orders.GetForUser(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail(o))
}

// cancelOrder handles POST /api/orders/:id/cancel.
func (h *handler) cancelOrder(c *gin.Context) {
	o, err := h.checkout.Cancel(c.Request.Context(), checkout.CancelRequest{
		UserID:  middleware.UserID(c),
		OrderID: c.Param("id"),
		Admin:   middleware.IsAdmin(c),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail(o))
}
