package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uint) (*models.Order, error)
	FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error)
	FindByUserID(ctx context.Context, userID uint, page, limit int) ([]models.Order, int64, error)
	UpdateFields(ctx context.Context, id uint, updates map[string]any) error
	ReplaceItems(ctx context.Context, id uint, items []models.OrderItem) error
	Delete(ctx context.Context, id uint) error
	MarkConfirmed(ctx context.Context, id uint) (bool, error)
	MarkStatusIfPending(ctx context.Context, id uint, status models.OrderStatus) (bool, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// Create writes the order row and all of its items atomically. The order
// total is recomputed from the items before insert.
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	order.TotalPrice = models.ItemsTotal(order.Items)
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return nil
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		return tx.Omit(clause.Associations).Create(&order.Items).Error
	})
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items.Product").
		First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindAll retrieves all orders by ascending id with pagination
func (r *GormOrderRepository) FindAll(ctx context.Context, page, limit int) ([]models.Order, int64, error) {
	return r.paginate(ctx, r.db.WithContext(ctx).Model(&models.Order{}), "id ASC", page, limit)
}

// FindByUserID retrieves a user's orders, newest first
func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID uint, page, limit int) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	return r.paginate(ctx, query, "created_at DESC", page, limit)
}

func (r *GormOrderRepository) paginate(_ context.Context, query *gorm.DB, order string, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Preload("Items.Product").
		Offset(offset).
		Limit(limit).
		Order(order).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *GormOrderRepository) UpdateFields(ctx context.Context, id uint, updates map[string]any) error {
	return updateByID(ctx, r.db, &models.Order{}, id, updates)
}

// ErrOrderNotPending is returned when an order's items are changed after it
// left the pending status.
var ErrOrderNotPending = errors.New("order is not pending")

// ReplaceItems deletes every item of a pending order, inserts items and
// rewrites the order total in one transaction. The order row is locked first
// so a concurrent status transition waits for the replacement or sees it
// refused with ErrOrderNotPending.
func (r *GormOrderRepository) ReplaceItems(ctx context.Context, id uint, items []models.OrderItem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "status").
			First(&order, id).Error; err != nil {
			return err
		}
		if order.Status != models.OrderStatusPending {
			return ErrOrderNotPending
		}

		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].ID = 0
			items[i].OrderID = id
		}
		if len(items) > 0 {
			if err := tx.Omit(clause.Associations).Create(&items).Error; err != nil {
				return err
			}
		}
		result := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", id, models.OrderStatusPending).
			Update("total_price", models.ItemsTotal(items))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOrderNotPending
		}
		return nil
	})
}

// Delete removes the order and its items. A missing order yields gorm.ErrRecordNotFound.
func (r *GormOrderRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Select("id").First(&order, id).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Order{}, id).Error
	})
}

// MarkConfirmed moves a pending order to confirmed. It reports whether this
// call performed the transition; concurrent callers see exactly one true.
func (r *GormOrderRepository) MarkConfirmed(ctx context.Context, id uint) (bool, error) {
	now := time.Now()
	return r.transitionFromPending(ctx, id, map[string]any{
		"status":       models.OrderStatusConfirmed,
		"confirmed_at": now,
		"updated_at":   now,
	})
}

// MarkStatusIfPending moves a pending order to status (expired or failed).
func (r *GormOrderRepository) MarkStatusIfPending(ctx context.Context, id uint, status models.OrderStatus) (bool, error) {
	return r.transitionFromPending(ctx, id, map[string]any{
		"status":     status,
		"updated_at": time.Now(),
	})
}

func (r *GormOrderRepository) transitionFromPending(ctx context.Context, id uint, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
