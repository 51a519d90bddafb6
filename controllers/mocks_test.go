package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/middleware"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- Mock OrderService ---

type MockOrderService struct{ mock.Mock }

func (m *MockOrderService) CreateOrder(ctx context.Context, userID uint, items []services.CartItemInput) (*models.Order, error) {
	args := m.Called(ctx, userID, items)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) ListOrders(ctx context.Context, page, limit int) (*services.OrderResponse, error) {
	args := m.Called(ctx, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.OrderResponse), args.Error(1)
}

func (m *MockOrderService) ListUserOrders(ctx context.Context, userID uint, page, limit int) (*services.OrderResponse, error) {
	args := m.Called(ctx, userID, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.OrderResponse), args.Error(1)
}

func (m *MockOrderService) UpdateOrder(ctx context.Context, id uint, patch services.OrderPatch) (*models.Order, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockOrderService) DeleteOrder(ctx context.Context, id uint) error {
	return m.Called(ctx, id).Error(0)
}

// --- Mock CheckoutService ---

type MockCheckoutService struct{ mock.Mock }

func (m *MockCheckoutService) ProcessPayment(ctx context.Context, in services.DirectChargeInput) (*services.DirectChargeResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DirectChargeResult), args.Error(1)
}

func (m *MockCheckoutService) CreateCheckoutSession(ctx context.Context, in services.HostedCheckoutInput) (*services.HostedCheckoutResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.HostedCheckoutResult), args.Error(1)
}

func (m *MockCheckoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

// --- Helpers ---

// newRouter returns an engine that acts as the given caller. A zero userID
// leaves the request anonymous.
func newRouter(userID uint, role models.Role) *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	r.Use(func(c *gin.Context) {
		if userID != 0 {
			c.Set(middleware.UserIDKey, userID)
			c.Set(middleware.RoleKey, string(role))
		}
		c.Next()
	})
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}
