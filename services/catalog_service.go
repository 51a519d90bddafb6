package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	productCachePrefix = "product:detail:"
	productCacheTTL    = 10 * time.Minute
	imageUploadExpiry  = 15 * time.Minute
)

// PriceResolver returns trusted catalog records for the given product ids.
type PriceResolver interface {
	ResolveProducts(ctx context.Context, ids []uint) (map[uint]models.Product, error)
}

// ImagePresigner issues browser upload URLs for product images.
type ImagePresigner interface {
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, map[string]string, error)
	ObjectURL(key string) string
}

type CategoryInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type ProductInput struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	ImgURL      *string          `json:"img_url"`
	CategoryID  *uint            `json:"category_id"`
}

type ImageUpload struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Key       string            `json:"key"`
	PublicURL string            `json:"public_url"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresIn int               `json:"expires_in"`
}

// CatalogService owns categories and products. Product reads used for
// pricing go through a Redis cache when one is configured.
type CatalogService struct {
	categories repository.CategoryRepository
	products   repository.ProductRepository
	cache      *redis.Client
	presigner  ImagePresigner
	logger     *zap.Logger
}

func NewCatalogService(categories repository.CategoryRepository, products repository.ProductRepository, cache *redis.Client, presigner ImagePresigner, logger *zap.Logger) *CatalogService {
	return &CatalogService{
		categories: categories,
		products:   products,
		cache:      cache,
		presigner:  presigner,
		logger:     logger,
	}
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories, err := s.categories.FindAll(ctx)
	if err != nil {
		return nil, apperrors.FromDB(err, "Category not found")
	}
	return categories, nil
}

func (s *CatalogService) GetCategory(ctx context.Context, id uint) (*models.Category, error) {
	category, err := s.categories.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.FromDB(err, "Category not found")
	}
	return category, nil
}

func (s *CatalogService) CreateCategory(ctx context.Context, in CategoryInput) (*models.Category, error) {
	name, err := requiredName(in.Name, "name is required")
	if err != nil {
		return nil, err
	}
	category := &models.Category{Name: name, Description: deref(in.Description)}
	if err := s.categories.Create(ctx, category); err != nil {
		return nil, apperrors.FromDB(err, "Category not found")
	}
	return category, nil
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id uint, in CategoryInput) (*models.Category, error) {
	updates := map[string]any{}
	if in.Name != nil {
		name, err := requiredName(in.Name, "name must be a non-empty string")
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if len(updates) > 0 {
		if err := s.categories.Update(ctx, id, updates); err != nil {
			return nil, apperrors.FromDB(err, "Category not found")
		}
	}
	return s.GetCategory(ctx, id)
}

func (s *CatalogService) DeleteCategory(ctx context.Context, id uint) error {
	if err := s.categories.Delete(ctx, id); err != nil {
		if apperrors.IsForeignKeyViolation(err) {
			return apperrors.ConstraintViolation("Category still has products and cannot be deleted", err)
		}
		return apperrors.FromDB(err, "Category not found")
	}
	return nil
}

func (s *CatalogService) ListProducts(ctx context.Context, categoryID uint) ([]models.Product, error) {
	products, err := s.products.FindAll(ctx, categoryID)
	if err != nil {
		return nil, apperrors.FromDB(err, "Product not found")
	}
	return products, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.FromDB(err, "Product not found")
	}
	return product, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	name, err := requiredName(in.Name, "name is required")
	if err != nil {
		return nil, err
	}
	if in.Price == nil || in.Price.IsNegative() {
		return nil, apperrors.Validation("price must be a non-negative amount")
	}
	if in.CategoryID == nil || *in.CategoryID == 0 {
		return nil, apperrors.Validation("category_id is required")
	}

	product := &models.Product{
		Name:        name,
		Description: deref(in.Description),
		Price:       in.Price.Round(2),
		ImgURL:      deref(in.ImgURL),
		CategoryID:  *in.CategoryID,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, apperrors.FromDB(err, "Product not found")
	}
	return product, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id uint, in ProductInput) (*models.Product, error) {
	updates := map[string]any{}
	if in.Name != nil {
		name, err := requiredName(in.Name, "name must be a non-empty string")
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.Price != nil {
		if in.Price.IsNegative() {
			return nil, apperrors.Validation("price must be a non-negative amount")
		}
		updates["price"] = in.Price.Round(2)
	}
	if in.ImgURL != nil {
		updates["img_url"] = *in.ImgURL
	}
	if in.CategoryID != nil {
		updates["category_id"] = *in.CategoryID
	}
	if len(updates) > 0 {
		if err := s.products.Update(ctx, id, updates); err != nil {
			return nil, apperrors.FromDB(err, "Product not found")
		}
		s.invalidate(ctx, id)
	}
	return s.GetProduct(ctx, id)
}

// DeleteProduct refuses to delete a product that order items still
// reference; purchase history is never removed with it.
func (s *CatalogService) DeleteProduct(ctx context.Context, id uint) error {
	if err := s.products.Delete(ctx, id); err != nil {
		if apperrors.IsForeignKeyViolation(err) {
			return apperrors.ConstraintViolation("Product is referenced by existing orders and cannot be deleted", err)
		}
		return apperrors.FromDB(err, "Product not found")
	}
	s.invalidate(ctx, id)
	return nil
}

// PresignImageUpload returns a presigned PUT URL for a new image of product id.
func (s *CatalogService) PresignImageUpload(ctx context.Context, id uint, filename, contentType string) (*ImageUpload, error) {
	if s.presigner == nil {
		return nil, apperrors.New(http.StatusServiceUnavailable, "Image uploads are not configured", nil)
	}
	if _, err := s.GetProduct(ctx, id); err != nil {
		return nil, err
	}
	ext := strings.ToLower(path.Ext(filename))
	if !allowedImageExt[ext] {
		return nil, apperrors.Validation("Invalid image type. Allowed: jpg, jpeg, png, webp, gif")
	}

	key := fmt.Sprintf("products/%d/%s%s", id, uuid.NewString(), ext)
	url, headers, err := s.presigner.PresignPut(ctx, key, contentType, imageUploadExpiry)
	if err != nil {
		return nil, apperrors.Internal("Failed to generate presigned upload", err)
	}
	return &ImageUpload{
		UploadURL: url,
		Method:    "PUT",
		Key:       key,
		PublicURL: s.presigner.ObjectURL(key),
		Headers:   headers,
		ExpiresIn: int(imageUploadExpiry.Seconds()),
	}, nil
}

var allowedImageExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// ResolveProducts implements PriceResolver. Missing ids are reported as a
// validation error naming the first unknown product.
func (s *CatalogService) ResolveProducts(ctx context.Context, ids []uint) (map[uint]models.Product, error) {
	found := make(map[uint]models.Product, len(ids))
	var misses []uint
	for _, id := range ids {
		if _, dup := found[id]; dup {
			continue
		}
		if p, ok := s.cached(ctx, id); ok {
			found[id] = p
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		products, err := s.products.FindByIDs(ctx, misses)
		if err != nil {
			return nil, apperrors.FromDB(err, "Product not found")
		}
		for _, p := range products {
			found[p.ID] = p
			s.store(ctx, p)
		}
	}

	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, apperrors.Validation(fmt.Sprintf("Product %d not found", id))
		}
	}
	return found, nil
}

func (s *CatalogService) cached(ctx context.Context, id uint) (models.Product, bool) {
	var p models.Product
	if s.cache == nil {
		return p, false
	}
	raw, err := s.cache.Get(ctx, productCacheKey(id)).Bytes()
	if err != nil {
		return p, false
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("Failed to unmarshal cached product", zap.Uint("product_id", id), zap.Error(err))
		return p, false
	}
	return p, true
}

func (s *CatalogService) store(ctx context.Context, p models.Product) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, productCacheKey(p.ID), data, productCacheTTL).Err(); err != nil {
		s.logger.Debug("Failed to cache product", zap.Uint("product_id", p.ID), zap.Error(err))
	}
}

func (s *CatalogService) invalidate(ctx context.Context, id uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, productCacheKey(id)).Err(); err != nil {
		s.logger.Warn("Failed to invalidate cached product", zap.Uint("product_id", id), zap.Error(err))
	}
}

func productCacheKey(id uint) string {
	return productCachePrefix + strconv.FormatUint(uint64(id), 10)
}

func requiredName(v *string, message string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", apperrors.Validation(message)
	}
	return strings.TrimSpace(*v), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
