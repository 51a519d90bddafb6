package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// StripeGateway implements PaymentGateway on stripe-go. Every outbound call
// is bounded by the configured timeout.
type StripeGateway struct {
	api        *client.API
	webhookKey string
	timeout    time.Duration
}

func NewStripeGateway(secretKey, webhookKey string, timeout time.Duration) *StripeGateway {
	httpClient := &http.Client{Timeout: timeout}
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(httpClient))
	return &StripeGateway{api: api, webhookKey: webhookKey, timeout: timeout}
}

func (g *StripeGateway) AuthorizeAndCapture(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
		Shipping: &stripe.ShippingDetailsParams{
			Name:    stripe.String(req.ShippingName),
			Address: &stripe.AddressParams{Line1: stripe.String(req.ShippingAddress)},
		},
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return classifyStripeError(err)
	}
	return &ChargeResult{Status: string(pi.Status), ChargeID: pi.ID}, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	lines := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(l.UnitAmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(l.Name),
				},
			},
			Quantity: stripe.Int64(l.Quantity),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lines,
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ClientReferenceID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnknownOutcome, err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the raw payload
// before anything in the payload is trusted.
func (g *StripeGateway) VerifyWebhook(payload []byte, signatureHeader string) (*GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookKey,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return toGatewayEvent(event)
}

func toGatewayEvent(event stripe.Event) (*GatewayEvent, error) {
	ev := &GatewayEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return ev, nil
	}

	switch {
	case strings.HasPrefix(ev.Type, "checkout.session."):
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		ev.ObjectID = sess.ID
		ev.PaymentStatus = string(sess.PaymentStatus)
		ev.Metadata = sess.Metadata
		if sess.PaymentIntent != nil {
			ev.PaymentIntent = sess.PaymentIntent.ID
		}
	case strings.HasPrefix(ev.Type, "payment_intent."):
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		ev.ObjectID = pi.ID
		ev.PaymentIntent = pi.ID
		ev.PaymentStatus = string(pi.Status)
		ev.Metadata = pi.Metadata
	}
	return ev, nil
}

// classifyStripeError separates definitive rejections from outcomes that
// must be reconciled. A 4xx other than 409/429 means nothing was charged.
func classifyStripeError(err error) (*ChargeResult, error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusConflict && code != http.StatusTooManyRequests {
			result := &ChargeResult{Status: "failed", FailureReason: stripeErr.Msg}
			if stripeErr.PaymentIntent != nil {
				result.ChargeID = stripeErr.PaymentIntent.ID
				if stripeErr.PaymentIntent.Status != "" {
					result.Status = string(stripeErr.PaymentIntent.Status)
				}
			}
			return result, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayUnknownOutcome, err)
}
