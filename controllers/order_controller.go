package controllers

import (
	"context"
	"net/http"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/middleware"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID uint, items []services.CartItemInput) (*models.Order, error)
	GetOrder(ctx context.Context, id uint) (*models.Order, error)
	ListOrders(ctx context.Context, page, limit int) (*services.OrderResponse, error)
	ListUserOrders(ctx context.Context, userID uint, page, limit int) (*services.OrderResponse, error)
	UpdateOrder(ctx context.Context, id uint, patch services.OrderPatch) (*models.Order, error)
	DeleteOrder(ctx context.Context, id uint) error
}

type OrderController struct {
	orders OrderService
}

func NewOrderController(orders OrderService) *OrderController {
	return &OrderController{orders: orders}
}

type createOrderRequest struct {
	UserID uint                     `json:"userId"`
	Total  *decimal.Decimal         `json:"total"`
	Items  []services.CartItemInput `json:"items"`
}

// CreateOrder records a pending order. Admins may create orders for any
// user; everyone else only for themself.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	userID, ok := actingUser(c, req.UserID)
	if !ok {
		return
	}
	order, err := oc.orders.CreateOrder(c.Request.Context(), userID, req.Items)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// ListOrders returns every order for admins and the caller's own otherwise.
func (oc *OrderController) ListOrders(c *gin.Context) {
	page, limit := parsePaginationParams(c)

	var (
		result *services.OrderResponse
		err    error
	)
	if middleware.IsAdmin(c) {
		result, err = oc.orders.ListOrders(c.Request.Context(), page, limit)
	} else {
		userID, _ := middleware.GetUserID(c)
		result, err = oc.orders.ListUserOrders(c.Request.Context(), userID, page, limit)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	order, err := oc.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if caller, _ := middleware.GetUserID(c); order.UserID != caller && !middleware.IsAdmin(c) {
		fail(c, apperrors.NotFound("Order not found"))
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) UpdateOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var patch services.OrderPatch
	if !bindJSON(c, &patch) {
		return
	}
	order, err := oc.orders.UpdateOrder(c.Request.Context(), id, patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) DeleteOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := oc.orders.DeleteOrder(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// actingUser resolves the user a request acts for. An omitted id means the
// caller.
func actingUser(c *gin.Context, requested uint) (uint, bool) {
	caller, _ := middleware.GetUserID(c)
	if requested == 0 {
		return caller, true
	}
	if requested != caller && !middleware.IsAdmin(c) {
		fail(c, apperrors.Forbidden("Cannot act on behalf of another user"))
		return 0, false
	}
	return requested, true
}
