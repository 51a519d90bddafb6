package repository

import (
	"context"
	"time"

	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository interface {
	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	FindAttemptByKey(ctx context.Context, key string) (*models.PaymentAttempt, error)
	FindAttemptByGatewayRef(ctx context.Context, ref string) (*models.PaymentAttempt, error)
	ListAttemptsByStatus(ctx context.Context, statuses ...models.AttemptStatus) ([]models.PaymentAttempt, error)
	CountOpenAttemptsForOrder(ctx context.Context, orderID uint) (int64, error)
	UpdateAttempt(ctx context.Context, id uint, updates map[string]any) error
	TransitionAttempt(ctx context.Context, id uint, from []models.AttemptStatus, updates map[string]any) (bool, error)
	MarkEventProcessed(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error)
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) PaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *GormPaymentRepository) FindAttemptByKey(ctx context.Context, key string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).Where("attempt_key = ?", key).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *GormPaymentRepository) FindAttemptByGatewayRef(ctx context.Context, ref string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).Where("gateway_ref = ?", ref).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *GormPaymentRepository) ListAttemptsByStatus(ctx context.Context, statuses ...models.AttemptStatus) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

// CountOpenAttemptsForOrder counts attempts on the order whose gateway
// session may still be paid.
func (r *GormPaymentRepository) CountOpenAttemptsForOrder(ctx context.Context, orderID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("order_id = ? AND status IN ?", orderID, []models.AttemptStatus{models.AttemptInitiated, models.AttemptSessionCreated}).
		Count(&n).Error
	return n, err
}

// UpdateAttempt always bumps updated_at.
func (r *GormPaymentRepository) UpdateAttempt(ctx context.Context, id uint, updates map[string]any) error {
	updates["updated_at"] = time.Now()
	return updateByID(ctx, r.db, &models.PaymentAttempt{}, id, updates)
}

// TransitionAttempt applies updates only while the attempt is in one of the
// from statuses, reporting whether a row changed.
func (r *GormPaymentRepository) TransitionAttempt(ctx context.Context, id uint, from []models.AttemptStatus, updates map[string]any) (bool, error) {
	updates["updated_at"] = time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkEventProcessed records the event id. It returns false when the event
// was already recorded, in which case the caller must not apply it again.
func (r *GormPaymentRepository) MarkEventProcessed(ctx context.Context, event *models.ProcessedWebhookEvent) (bool, error) {
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = time.Now()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
