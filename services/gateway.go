package services

import (
	"context"
	"errors"
)

var (
	// ErrSignatureInvalid is returned when a webhook payload fails verification.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrGatewayUnknownOutcome means the provider may or may not have acted
	// on the request (timeout, transport failure, 5xx).
	ErrGatewayUnknownOutcome = errors.New("payment gateway outcome unknown")
)

const ChargeSucceeded = "succeeded"

// PaymentGateway is the narrow surface of the payment provider used by checkout.
type PaymentGateway interface {
	AuthorizeAndCapture(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	VerifyWebhook(payload []byte, signatureHeader string) (*GatewayEvent, error)
}

type ChargeRequest struct {
	AmountMinor     int64
	Currency        string
	PaymentMethodID string
	IdempotencyKey  string
	ReceiptEmail    string
	Description     string
	ShippingName    string
	ShippingAddress string
	Metadata        map[string]string
}

// ChargeResult carries the provider status ("succeeded", "failed",
// "requires_action", ...) and the charge reference when one exists.
type ChargeResult struct {
	Status        string
	ChargeID      string
	FailureReason string
}

func (r *ChargeResult) Succeeded() bool {
	return r != nil && r.Status == ChargeSucceeded
}

type CheckoutLine struct {
	Name            string
	UnitAmountMinor int64
	Quantity        int64
}

type CheckoutSessionRequest struct {
	Lines             []CheckoutLine
	Currency          string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	CustomerEmail     string
	IdempotencyKey    string
	Metadata          map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// GatewayEvent is a verified webhook event reduced to what reconciliation needs.
// ObjectID is the checkout session id or payment intent id the event is about.
type GatewayEvent struct {
	ID            string
	Type          string
	ObjectID      string
	PaymentIntent string
	PaymentStatus string
	Metadata      map[string]string
}

const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed        = "checkout.session.async_payment_failed"
	EventCheckoutExpired            = "checkout.session.expired"
	EventPaymentIntentSucceeded     = "payment_intent.succeeded"
	EventPaymentIntentPaymentFailed = "payment_intent.payment_failed"
)
