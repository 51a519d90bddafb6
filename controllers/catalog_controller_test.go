package controllers_test

import (
	"context"
	"net/http"
	"testing"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/controllers"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// fakeCatalog overrides only what these tests exercise.
type fakeCatalog struct {
	controllers.CatalogService
	listedCategory uint
}

func (f *fakeCatalog) ListProducts(_ context.Context, categoryID uint) ([]models.Product, error) {
	f.listedCategory = categoryID
	return []models.Product{}, nil
}

func (f *fakeCatalog) DeleteProduct(_ context.Context, id uint) error {
	if id == 1 {
		return apperrors.ConstraintViolation("Product is referenced by existing orders and cannot be deleted", nil)
	}
	return nil
}

func (f *fakeCatalog) PresignImageUpload(_ context.Context, id uint, filename, contentType string) (*services.ImageUpload, error) {
	if id == 404 {
		return nil, apperrors.NotFound("Product not found")
	}
	return &services.ImageUpload{
		UploadURL: "https://bucket.test/products/1/x.png?sig=1",
		Method:    http.MethodPut,
		Key:       "products/1/x.png",
		ExpiresIn: 900,
	}, nil
}

func setupCatalogRouter(svc controllers.CatalogService) *gin.Engine {
	r := newRouter(1, models.RoleAdmin)
	cc := controllers.NewCatalogController(svc)
	r.GET("/products", cc.ListProducts)
	r.DELETE("/products/:id", cc.DeleteProduct)
	r.POST("/products/:id/image-upload-url", cc.ImageUploadURL)
	return r
}

func TestCatalogController_ListProductsFilter(t *testing.T) {
	svc := &fakeCatalog{}
	r := setupCatalogRouter(svc)

	w := doJSON(r, http.MethodGet, "/products?category_id=3", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint(3), svc.listedCategory)

	w = doJSON(r, http.MethodGet, "/products?category_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid category_id", decodeBody(w)["message"])
}

func TestCatalogController_DeleteReferencedProduct(t *testing.T) {
	r := setupCatalogRouter(&fakeCatalog{})

	w := doJSON(r, http.MethodDelete, "/products/1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"message":"Product is referenced by existing orders and cannot be deleted"}`, w.Body.String())

	w = doJSON(r, http.MethodDelete, "/products/2", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCatalogController_ImageUploadURL(t *testing.T) {
	r := setupCatalogRouter(&fakeCatalog{})

	w := doJSON(r, http.MethodPost, "/products/1/image-upload-url", `{"filename":"x.png","content_type":"image/png"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(w)
	assert.Equal(t, "PUT", body["method"])
	assert.Equal(t, "products/1/x.png", body["key"])

	w = doJSON(r, http.MethodPost, "/products/1/image-upload-url", `{"filename":"x.png"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/products/404/image-upload-url", `{"filename":"x.png","content_type":"image/png"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
