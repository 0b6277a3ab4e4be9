package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-storefront-checkout/internal/middleware"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

func (h *handler) getCart(c *gin.Context) {
	ct, err := h.carts.GetOrEmpty(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h *handler) addCartItem(c *gin.Context) {
	var req validation.CartItemRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		h.writeError(c, err)
		return
	}
	ct, err := h.carts.AddItem(c.Request.Context(), middleware.UserID(c), middleware.IsGuest(c), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h *handler) updateCartItem(c *gin.Context) {
	var req validation.CartQuantityRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		h.writeError(c, err)
		return
	}
	ct, err := h.carts.UpdateQuantity(c.Request.Context(), middleware.UserID(c), c.Param("productId"), *req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (h *handler) removeCartItem(c *gin.Context) {
	ct, err := h.carts.RemoveItem(c.Request.Context(), middleware.UserID(c), c.Param("productId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}
