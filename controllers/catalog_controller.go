package controllers

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/gin-gonic/gin"
)

type CatalogService interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id uint) (*models.Category, error)
	CreateCategory(ctx context.Context, in services.CategoryInput) (*models.Category, error)
	UpdateCategory(ctx context.Context, id uint, in services.CategoryInput) (*models.Category, error)
	DeleteCategory(ctx context.Context, id uint) error
	ListProducts(ctx context.Context, categoryID uint) ([]models.Product, error)
	GetProduct(ctx context.Context, id uint) (*models.Product, error)
	CreateProduct(ctx context.Context, in services.ProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, id uint, in services.ProductInput) (*models.Product, error)
	DeleteProduct(ctx context.Context, id uint) error
	PresignImageUpload(ctx context.Context, id uint, filename, contentType string) (*services.ImageUpload, error)
}

type CatalogController struct {
	catalog CatalogService
}

func NewCatalogController(catalog CatalogService) *CatalogController {
	return &CatalogController{catalog: catalog}
}

func (cc *CatalogController) ListCategories(c *gin.Context) {
	categories, err := cc.catalog.ListCategories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (cc *CatalogController) GetCategory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	category, err := cc.catalog.GetCategory(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (cc *CatalogController) CreateCategory(c *gin.Context) {
	var in services.CategoryInput
	if !bindJSON(c, &in) {
		return
	}
	category, err := cc.catalog.CreateCategory(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (cc *CatalogController) UpdateCategory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.CategoryInput
	if !bindJSON(c, &in) {
		return
	}
	category, err := cc.catalog.UpdateCategory(c.Request.Context(), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

func (cc *CatalogController) DeleteCategory(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := cc.catalog.DeleteCategory(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListProducts accepts an optional category_id filter.
func (cc *CatalogController) ListProducts(c *gin.Context) {
	var categoryID uint
	if raw := c.Query("category_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fail(c, apperrors.Validation("Invalid category_id"))
			return
		}
		categoryID = uint(id)
	}
	products, err := cc.catalog.ListProducts(c.Request.Context(), categoryID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (cc *CatalogController) GetProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	product, err := cc.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (cc *CatalogController) CreateProduct(c *gin.Context) {
	var in services.ProductInput
	if !bindJSON(c, &in) {
		return
	}
	product, err := cc.catalog.CreateProduct(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (cc *CatalogController) UpdateProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.ProductInput
	if !bindJSON(c, &in) {
		return
	}
	product, err := cc.catalog.UpdateProduct(c.Request.Context(), id, in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (cc *CatalogController) DeleteProduct(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := cc.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type imageUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// ImageUploadURL returns a presigned S3 PUT for a product image. The client
// uploads directly and then sets img_url with UpdateProduct.
func (cc *CatalogController) ImageUploadURL(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req imageUploadRequest
	if !bindJSON(c, &req) {
		return
	}
	upload, err := cc.catalog.PresignImageUpload(c.Request.Context(), id, req.Filename, req.ContentType)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, upload)
}
