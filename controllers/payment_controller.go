package controllers

import (
	"context"
	"io"
	"net/http"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/middleware"
	"github.com/Reyuuh/eshop-soulcaller-backend/services"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type CheckoutService interface {
	ProcessPayment(ctx context.Context, in services.DirectChargeInput) (*services.DirectChargeResult, error)
	CreateCheckoutSession(ctx context.Context, in services.HostedCheckoutInput) (*services.HostedCheckoutResult, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type PaymentController struct {
	checkout CheckoutService
}

func NewPaymentController(checkout CheckoutService) *PaymentController {
	return &PaymentController{checkout: checkout}
}

// ProcessPayment charges a card and saves the order. Responses carry a
// success flag; an Idempotency-Key header makes retries safe.
func (pc *PaymentController) ProcessPayment(c *gin.Context) {
	var in services.DirectChargeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondPaymentError(c, apperrors.New(http.StatusBadRequest, "Invalid request body", err))
		return
	}
	if caller, _ := middleware.GetUserID(c); in.UserID != 0 && in.UserID != caller && !middleware.IsAdmin(c) {
		respondPaymentError(c, apperrors.Forbidden("Cannot pay on behalf of another user"))
		return
	}
	in.IdempotencyKey = c.GetHeader("Idempotency-Key")

	result, err := pc.checkout.ProcessPayment(c.Request.Context(), in)
	if err != nil {
		respondPaymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         "Payment successful & order saved",
		"paymentIntentId": result.PaymentIntentID,
		"orderId":         result.OrderID,
		"attemptKey":      result.AttemptKey,
	})
}

func (pc *PaymentController) CreateCheckoutSession(c *gin.Context) {
	var in services.HostedCheckoutInput
	if !bindJSON(c, &in) {
		return
	}
	userID, ok := actingUser(c, in.UserID)
	if !ok {
		return
	}
	in.UserID = userID

	result, err := pc.checkout.CreateCheckoutSession(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Webhook verifies the raw body before anything in it is used.
func (pc *PaymentController) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		fail(c, apperrors.New(http.StatusRequestEntityTooLarge, "Webhook body too large", err))
		return
	}
	if err := pc.checkout.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func respondPaymentError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Internal("Internal server error", err)
	}
	body := appErr.Body()
	body["success"] = false
	_ = c.Error(err)
	c.AbortWithStatusJSON(appErr.Code, body)
}
