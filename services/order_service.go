package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartItemInput is one requested line. Price and UnitPrice are aliases used
// by different clients; hosted checkout ignores both.
type CartItemInput struct {
	ProductID uint             `json:"productId"`
	Name      string           `json:"name,omitempty"`
	Quantity  *int             `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	UnitPrice *decimal.Decimal `json:"unitPrice,omitempty"`
}

func (in CartItemInput) clientPrice() *decimal.Decimal {
	if in.UnitPrice != nil {
		return in.UnitPrice
	}
	return in.Price
}

func (in CartItemInput) quantity() int {
	if in.Quantity == nil {
		return 1
	}
	return *in.Quantity
}

// OrderPatch is a partial update. Total is accepted for compatibility but
// the stored total is always derived from the items.
type OrderPatch struct {
	UserID *uint            `json:"userId"`
	Total  *decimal.Decimal `json:"total"`
	Items  *[]CartItemInput `json:"items"`
}

type OrderResponse struct {
	Orders []models.Order `json:"orders"`
	Meta   MetaData       `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

type OrderService struct {
	store  repository.Store
	prices PriceResolver
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

func NewOrderService(store repository.Store, prices PriceResolver, events EventPublisher, logger *zap.Logger) *OrderService {
	if events == nil {
		events = NoopPublisher{}
	}
	return &OrderService{store: store, prices: prices, events: events, logger: logger, now: time.Now}
}

// CreateOrder writes a pending order and its items in one transaction.
// Lines without a price are priced from the catalog.
func (s *OrderService) CreateOrder(ctx context.Context, userID uint, items []CartItemInput) (*models.Order, error) {
	if userID == 0 {
		return nil, apperrors.Validation("userId is required")
	}
	lines, err := buildOrderItems(ctx, s.prices, items)
	if err != nil {
		return nil, err
	}

	order := models.NewOrder(userID, lines, models.OrderStatusPending, s.now())
	if err := s.store.Orders().Create(ctx, order); err != nil {
		return nil, apperrors.FromDB(err, "Order not found")
	}

	publish(ctx, s.events, s.logger, orderEvent(models.EventOrderCreated, order, s.now()))
	return s.GetOrder(ctx, order.ID)
}

func (s *OrderService) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	order, err := s.store.Orders().FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.FromDB(err, "Order not found")
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, page, limit int) (*OrderResponse, error) {
	orders, total, err := s.store.Orders().FindAll(ctx, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch orders", zap.Error(err))
		return nil, apperrors.FromDB(err, "Order not found")
	}
	return newOrderResponse(orders, total, page, limit), nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID uint, page, limit int) (*OrderResponse, error) {
	orders, total, err := s.store.Orders().FindByUserID(ctx, userID, page, limit)
	if err != nil {
		s.logger.Error("Failed to fetch orders for user", zap.Uint("user_id", userID), zap.Error(err))
		return nil, apperrors.FromDB(err, "Order not found")
	}
	return newOrderResponse(orders, total, page, limit), nil
}

// UpdateOrder applies patch. Supplied items replace the whole item set
// (delete then insert) and are only accepted while the order is pending.
func (s *OrderService) UpdateOrder(ctx context.Context, id uint, patch OrderPatch) (*models.Order, error) {
	current, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	var lines []models.OrderItem
	if patch.Items != nil {
		if current.Status != models.OrderStatusPending {
			return nil, apperrors.Conflict(fmt.Sprintf("Order items cannot be replaced once the order is %s", current.Status))
		}
		if lines, err = buildOrderItems(ctx, s.prices, *patch.Items); err != nil {
			return nil, err
		}
	}
	if patch.Total != nil && patch.Items != nil && !patch.Total.Equal(models.ItemsTotal(lines)) {
		s.logger.Warn("Ignoring client order total", zap.Uint("order_id", id),
			zap.String("client_total", patch.Total.String()), zap.String("items_total", models.ItemsTotal(lines).String()))
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if patch.UserID != nil {
			if *patch.UserID == 0 {
				return apperrors.Validation("userId must be a positive integer")
			}
			if err := tx.Orders().UpdateFields(ctx, id, map[string]any{"user_id": *patch.UserID}); err != nil {
				return err
			}
		}
		if patch.Items == nil {
			return nil
		}
		open, err := tx.Payments().CountOpenAttemptsForOrder(ctx, id)
		if err != nil {
			return err
		}
		if open > 0 {
			return apperrors.Conflict("Order items cannot be replaced while a checkout session is open")
		}
		return tx.Orders().ReplaceItems(ctx, id, lines)
	})
	if errors.Is(err, repository.ErrOrderNotPending) {
		status := "no longer pending"
		if latest, ferr := s.store.Orders().FindByID(ctx, id); ferr == nil {
			status = string(latest.Status)
		}
		return nil, apperrors.Conflict(fmt.Sprintf("Order items cannot be replaced once the order is %s", status))
	}
	if err != nil {
		return nil, apperrors.FromDB(err, "Order not found")
	}
	return s.GetOrder(ctx, id)
}

func (s *OrderService) DeleteOrder(ctx context.Context, id uint) error {
	if err := s.store.Orders().Delete(ctx, id); err != nil {
		return apperrors.FromDB(err, "Order not found")
	}
	return nil
}

// buildOrderItems validates lines and prices those without a client price
// from the catalog.
func buildOrderItems(ctx context.Context, prices PriceResolver, items []CartItemInput) ([]models.OrderItem, error) {
	if len(items) == 0 {
		return nil, apperrors.Validation("items is required and must be a non-empty array")
	}

	var unpriced []uint
	for _, in := range items {
		if in.ProductID == 0 {
			return nil, apperrors.Validation("productId is required for every item")
		}
		if in.quantity() <= 0 {
			return nil, apperrors.Validation("quantity must be a positive integer")
		}
		if p := in.clientPrice(); p == nil {
			unpriced = append(unpriced, in.ProductID)
		} else if p.IsNegative() {
			return nil, apperrors.Validation("price must be a non-negative amount")
		}
	}

	var catalog map[uint]models.Product
	if len(unpriced) > 0 {
		var err error
		if catalog, err = prices.ResolveProducts(ctx, unpriced); err != nil {
			return nil, err
		}
	}

	lines := make([]models.OrderItem, 0, len(items))
	for _, in := range items {
		price := in.clientPrice()
		unit := catalog[in.ProductID].Price
		if price != nil {
			unit = *price
		}
		lines = append(lines, models.OrderItem{
			ProductID: in.ProductID,
			Quantity:  in.quantity(),
			UnitPrice: unit.Round(2),
		})
	}
	return lines, nil
}

func newOrderResponse(orders []models.Order, total int64, page, limit int) *OrderResponse {
	if orders == nil {
		orders = []models.Order{}
	}
	return &OrderResponse{
		Orders: orders,
		Meta: MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}

func orderEvent(eventType string, order *models.Order, at time.Time) models.OrderEvent {
	return models.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Total:      order.TotalPrice.StringFixed(2),
		OccurredAt: at.UTC(),
	}
}

// publish delivers event best-effort; the state change it reports is
// already committed, so failures are only logged.
func publish(ctx context.Context, events EventPublisher, logger *zap.Logger, event models.OrderEvent) {
	if err := events.Publish(context.WithoutCancel(ctx), event); err != nil {
		logger.Error("Failed to publish order event",
			zap.String("event_type", event.Type),
			zap.Uint("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}
