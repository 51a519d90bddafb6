package repository

import (
	"context"

	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"gorm.io/gorm"
)

type ProductRepository interface {
	FindAll(ctx context.Context, categoryID uint) ([]models.Product, error)
	FindByID(ctx context.Context, id uint) (*models.Product, error)
	FindByIDs(ctx context.Context, ids []uint) ([]models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, id uint, updates map[string]any) error
	Delete(ctx context.Context, id uint) error
}

type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) ProductRepository {
	return &GormProductRepository{db: db}
}

// FindAll lists products by name. A zero categoryID lists every category.
func (r *GormProductRepository) FindAll(ctx context.Context, categoryID uint) ([]models.Product, error) {
	var products []models.Product
	query := r.db.WithContext(ctx).Preload("Category")
	if categoryID != 0 {
		query = query.Where("category_id = ?", categoryID)
	}
	if err := query.Order("name ASC").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *GormProductRepository) FindByID(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Preload("Category").First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *GormProductRepository) FindByIDs(ctx context.Context, ids []uint) ([]models.Product, error) {
	var products []models.Product
	if len(ids) == 0 {
		return products, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *GormProductRepository) Create(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Omit("Category").Create(product).Error
}

func (r *GormProductRepository) Update(ctx context.Context, id uint, updates map[string]any) error {
	return updateByID(ctx, r.db, &models.Product{}, id, updates)
}

// Delete fails with a foreign key violation while order items reference the product.
func (r *GormProductRepository) Delete(ctx context.Context, id uint) error {
	return deleteByID(ctx, r.db, &models.Product{}, id)
}
