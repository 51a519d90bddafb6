package routes

import (
	"net/http"
	"time"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/controllers"
	"github.com/Reyuuh/eshop-soulcaller-backend/middleware"
	awspkg "github.com/Reyuuh/eshop-soulcaller-backend/pkg/aws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "storefront-api"

// Handlers groups the controllers mounted by RegisterRoutes.
type Handlers struct {
	Auth     *controllers.AuthController
	Users    *controllers.UserController
	Catalog  *controllers.CatalogController
	Orders   *controllers.OrderController
	Payments *controllers.PaymentController
}

// Options configures the global middleware chain.
type Options struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
	Metrics            *awspkg.MetricsClient
	Logger             *zap.Logger
}

// NewRouter builds the engine with global middleware and every route.
func NewRouter(opts Options, h Handlers, tokens middleware.TokenParser) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(cors.New(cors.Config{
		AllowOrigins:     opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(opts.Logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimitMiddleware(opts.RateLimitPerMinute))
	r.Use(middleware.MetricsMiddleware(opts.Metrics, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	r.NoRoute(func(c *gin.Context) {
		apperrors.HandleError(c.Writer, apperrors.NotFound("Route not found"))
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	RegisterRoutes(r, h, tokens)
	return r
}

// RegisterRoutes mounts every API route on r.
func RegisterRoutes(r *gin.Engine, h Handlers, tokens middleware.TokenParser) {
	requireAuth := middleware.RequireAuth(tokens)
	requireAdmin := middleware.RequireAdmin()

	// ===== AUTH ROUTES (PUBLIC) =====
	auth := r.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/register", h.Auth.Register)
	r.POST("/users/login", h.Auth.Login)

	r.GET("/admin/dashboard", requireAuth, requireAdmin, h.Auth.Dashboard)

	// ===== CATALOG =====
	categories := r.Group("/categories")
	categories.GET("", h.Catalog.ListCategories)
	categories.GET("/:id", h.Catalog.GetCategory)
	categories.POST("", requireAuth, requireAdmin, h.Catalog.CreateCategory)
	categories.PUT("/:id", requireAuth, requireAdmin, h.Catalog.UpdateCategory)
	categories.DELETE("/:id", requireAuth, requireAdmin, h.Catalog.DeleteCategory)

	products := r.Group("/products")
	products.GET("", h.Catalog.ListProducts)
	products.GET("/:id", h.Catalog.GetProduct)
	products.POST("", requireAuth, requireAdmin, h.Catalog.CreateProduct)
	products.PUT("/:id", requireAuth, requireAdmin, h.Catalog.UpdateProduct)
	products.DELETE("/:id", requireAuth, requireAdmin, h.Catalog.DeleteProduct)
	products.POST("/:id/image-upload-url", requireAuth, requireAdmin, h.Catalog.ImageUploadURL)

	// ===== USERS =====
	users := r.Group("/users", requireAuth)
	users.GET("/:id", h.Users.Get)
	users.PUT("/:id", h.Users.Update)
	users.GET("", requireAdmin, h.Users.List)
	users.POST("", requireAdmin, h.Users.Create)
	users.DELETE("/:id", requireAdmin, h.Users.Delete)

	// ===== ORDERS =====
	r.POST("/orders/webhook", h.Payments.Webhook)

	orders := r.Group("/orders", requireAuth)
	orders.GET("", h.Orders.ListOrders)
	orders.GET("/:id", h.Orders.GetOrder)
	orders.POST("", h.Orders.CreateOrder)
	orders.PUT("/:id", requireAdmin, h.Orders.UpdateOrder)
	orders.DELETE("/:id", requireAdmin, h.Orders.DeleteOrder)

	// ===== PAYMENTS =====
	r.POST("/payment/process", requireAuth, h.Payments.ProcessPayment)
	r.POST("/create-checkout-session", requireAuth, h.Payments.CreateCheckoutSession)
	r.POST("/webhook", h.Payments.Webhook)
}
