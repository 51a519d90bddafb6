package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/Reyuuh/eshop-soulcaller-backend/common/errors"
	"github.com/Reyuuh/eshop-soulcaller-backend/models"
	awspkg "github.com/Reyuuh/eshop-soulcaller-backend/pkg/aws"
	"github.com/Reyuuh/eshop-soulcaller-backend/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	msgDirectChargeRequired = "paymentMethodId, amount, cartItems and userId are required"
	msgItemsRequired        = "items is required and must be a non-empty array"
	checkoutPaidStatus      = "paid"
	maxFailureReason        = 1000
)

var (
	errAttemptSettled = errors.New("payment attempt already settled")
	errEventReplayed  = errors.New("webhook event already processed")
)

// Deduper is a read-through cache of webhook event ids already applied. Keys
// are only remembered after the event commits; the processed_webhook_events
// table stays authoritative.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

type CheckoutConfig struct {
	Currency       string
	SuccessURL     string
	CancelURL      string
	PersistTimeout time.Duration
}

type DirectChargeInput struct {
	PaymentMethodID string          `json:"paymentMethodId"`
	Amount          int64           `json:"amount"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Address         string          `json:"address"`
	CartItems       []CartItemInput `json:"cartItems"`
	UserID          uint            `json:"userId"`
	IdempotencyKey  string          `json:"-"`
}

type DirectChargeResult struct {
	PaymentIntentID string `json:"paymentIntentId"`
	OrderID         uint   `json:"orderId"`
	AttemptKey      string `json:"attemptKey"`
	Replayed        bool   `json:"-"`
}

type HostedCheckoutInput struct {
	Items  []CartItemInput `json:"items"`
	UserID uint            `json:"userId"`
	Email  string          `json:"email"`
}

type HostedCheckoutResult struct {
	URL       string `json:"url"`
	OrderID   uint   `json:"orderId"`
	SessionID string `json:"sessionId"`
}

// CheckoutService coordinates the payment gateway with the order ledger so
// that captured money always ends up as a confirmed order or a recorded
// reconciliation case.
type CheckoutService struct {
	store   repository.Store
	gateway PaymentGateway
	prices  PriceResolver
	events  EventPublisher
	dedup   Deduper
	metrics *awspkg.MetricsClient
	logger  *zap.Logger
	cfg     CheckoutConfig
	now     func() time.Time
	newKey  func() string
}

func NewCheckoutService(
	store repository.Store,
	gateway PaymentGateway,
	prices PriceResolver,
	events EventPublisher,
	dedup Deduper,
	metrics *awspkg.MetricsClient,
	logger *zap.Logger,
	cfg CheckoutConfig,
) *CheckoutService {
	if events == nil {
		events = NoopPublisher{}
	}
	if cfg.Currency == "" {
		cfg.Currency = "sek"
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &CheckoutService{
		store:   store,
		gateway: gateway,
		prices:  prices,
		events:  events,
		dedup:   dedup,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		newKey:  uuid.NewString,
	}
}

// ProcessPayment charges the card and records the confirmed order. A request
// carrying a known IdempotencyKey resumes that attempt instead of charging again.
func (s *CheckoutService) ProcessPayment(ctx context.Context, in DirectChargeInput) (*DirectChargeResult, error) {
	if in.PaymentMethodID == "" || in.Amount <= 0 || len(in.CartItems) == 0 || in.UserID == 0 {
		return nil, apperrors.Validation(msgDirectChargeRequired)
	}
	lines, err := buildOrderItems(ctx, s.prices, in.CartItems)
	if err != nil {
		return nil, err
	}
	if sum := models.ToMinorUnits(models.ItemsTotal(lines)); sum != in.Amount {
		s.logger.Warn("Charge amount differs from cart total",
			zap.Int64("amount", in.Amount),
			zap.Int64("cart_total", sum),
			zap.Uint("user_id", in.UserID),
		)
	}

	if in.IdempotencyKey != "" {
		attempt, err := s.store.Payments().FindAttemptByKey(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			return s.resumeDirect(ctx, attempt, in)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, apperrors.FromDB(err, "Payment attempt not found")
		}
	}

	key := in.IdempotencyKey
	if key == "" {
		key = s.newKey()
	}
	cart, err := encodeCart(in.CartItems, lines)
	if err != nil {
		return nil, apperrors.Internal("Failed to encode cart", err)
	}
	attempt := &models.PaymentAttempt{
		AttemptKey:  key,
		Flow:        models.FlowDirect,
		UserID:      in.UserID,
		AmountMinor: in.Amount,
		Currency:    s.cfg.Currency,
		Status:      models.AttemptInitiated,
		Cart:        cart,
	}
	if err := s.store.Payments().CreateAttempt(ctx, attempt); err != nil {
		return nil, apperrors.FromDB(err, "Payment attempt not found")
	}
	return s.charge(ctx, attempt, in)
}

func (s *CheckoutService) resumeDirect(ctx context.Context, attempt *models.PaymentAttempt, in DirectChargeInput) (*DirectChargeResult, error) {
	if attempt.Flow != models.FlowDirect || attempt.UserID != in.UserID {
		return nil, apperrors.Conflict("Idempotency-Key was already used for a different payment")
	}

	switch attempt.Status {
	case models.AttemptPersisted:
		result := &DirectChargeResult{AttemptKey: attempt.AttemptKey, Replayed: true}
		if attempt.GatewayRef != nil {
			result.PaymentIntentID = *attempt.GatewayRef
		}
		if attempt.OrderID != nil {
			result.OrderID = *attempt.OrderID
		}
		return result, nil
	case models.AttemptDeclined:
		return nil, apperrors.GatewayDeclined(attempt.FailureReason, nil)
	case models.AttemptPersistFailed:
		return nil, apperrors.ReconciliationRequired(attempt.AttemptKey, errors.New(attempt.FailureReason))
	case models.AttemptCaptured:
		order, err := s.persistDirect(ctx, attempt, gatewayRef(attempt), nil)
		if err != nil {
			return nil, err
		}
		return &DirectChargeResult{PaymentIntentID: gatewayRef(attempt), OrderID: order.ID, AttemptKey: attempt.AttemptKey, Replayed: true}, nil
	default:
		return s.charge(ctx, attempt, in)
	}
}

func (s *CheckoutService) charge(ctx context.Context, attempt *models.PaymentAttempt, in DirectChargeInput) (*DirectChargeResult, error) {
	log := s.logger.With(zap.String("attempt_key", attempt.AttemptKey), zap.Uint("user_id", attempt.UserID))

	ok, err := s.store.Payments().TransitionAttempt(ctx, attempt.ID,
		[]models.AttemptStatus{models.AttemptInitiated, models.AttemptAuthorizing, models.AttemptUnknown},
		map[string]any{"status": models.AttemptAuthorizing})
	if err != nil {
		return nil, apperrors.FromDB(err, "Payment attempt not found")
	}
	if !ok {
		return nil, apperrors.Conflict("Payment attempt is already being processed")
	}
	attempt.Status = models.AttemptAuthorizing

	name := in.Name
	if name == "" {
		name = "Unknown"
	}
	address := in.Address
	if address == "" {
		address = "Unknown address"
	}

	started := s.now()
	result, err := s.gateway.AuthorizeAndCapture(ctx, ChargeRequest{
		AmountMinor:     attempt.AmountMinor,
		Currency:        attempt.Currency,
		PaymentMethodID: in.PaymentMethodID,
		IdempotencyKey:  attempt.AttemptKey,
		ReceiptEmail:    in.Email,
		Description:     fmt.Sprintf("Order by %s", name),
		ShippingName:    name,
		ShippingAddress: address,
		Metadata: map[string]string{
			"attempt_key": attempt.AttemptKey,
			"user_id":     strconv.FormatUint(uint64(attempt.UserID), 10),
		},
	})
	s.latency(ctx, awspkg.MetricGatewayLatency, s.now().Sub(started))

	if err != nil {
		log.Error("Payment gateway outcome unknown", zap.Error(err))
		s.transitionAttempt(ctx, attempt, []models.AttemptStatus{models.AttemptAuthorizing}, map[string]any{
			"status":         models.AttemptUnknown,
			"failure_reason": truncate(err.Error()),
		})
		s.count(ctx, awspkg.MetricPaymentUnknown)
		return nil, apperrors.GatewayUnavailable("Payment provider did not respond; retry with the same Idempotency-Key", err).
			With("reconciliationToken", attempt.AttemptKey)
	}

	if !result.Succeeded() {
		reason := fmt.Sprintf("Unexpected payment status: %s", result.Status)
		if result.FailureReason != "" {
			reason = fmt.Sprintf("%s (%s)", reason, result.FailureReason)
		}
		updates := map[string]any{"status": models.AttemptDeclined, "failure_reason": truncate(reason)}
		if result.ChargeID != "" {
			updates["gateway_ref"] = result.ChargeID
		}
		s.transitionAttempt(ctx, attempt, []models.AttemptStatus{models.AttemptAuthorizing}, updates)
		log.Info("Payment declined", zap.String("status", result.Status), zap.String("charge_id", result.ChargeID))
		s.count(ctx, awspkg.MetricPaymentDeclined)
		return nil, apperrors.GatewayDeclined(reason, nil)
	}

	s.count(ctx, awspkg.MetricPaymentSucceeded)
	ref := result.ChargeID
	attempt.GatewayRef = &ref
	// A webhook may have recorded the capture first; persistDirect then
	// resolves to the order it wrote.
	s.transitionAttempt(ctx, attempt, []models.AttemptStatus{models.AttemptAuthorizing, models.AttemptUnknown}, map[string]any{
		"status":      models.AttemptCaptured,
		"gateway_ref": ref,
	})
	attempt.Status = models.AttemptCaptured

	order, err := s.persistDirect(ctx, attempt, ref, nil)
	if err != nil {
		return nil, err
	}
	return &DirectChargeResult{PaymentIntentID: ref, OrderID: order.ID, AttemptKey: attempt.AttemptKey}, nil
}

// persistDirect writes the confirmed order for a captured attempt. It runs
// detached from the caller's cancellation so a client disconnect cannot
// strand a captured charge. processed, when set, is recorded in the same
// transaction.
func (s *CheckoutService) persistDirect(ctx context.Context, attempt *models.PaymentAttempt, chargeID string, processed *models.ProcessedWebhookEvent) (*models.Order, error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	lines, err := decodeCart(attempt.Cart)
	if err != nil {
		return nil, s.persistFailed(persistCtx, attempt, chargeID, err)
	}
	order := models.NewOrder(attempt.UserID, lines, models.OrderStatusConfirmed, s.now())

	err = s.store.Transaction(persistCtx, func(tx repository.Store) error {
		if err := tx.Orders().Create(persistCtx, order); err != nil {
			return err
		}
		moved, err := tx.Payments().TransitionAttempt(persistCtx, attempt.ID,
			[]models.AttemptStatus{models.AttemptCaptured, models.AttemptPersistFailed},
			map[string]any{"status": models.AttemptPersisted, "order_id": order.ID, "failure_reason": ""})
		if err != nil {
			return err
		}
		if !moved {
			return errAttemptSettled
		}
		if processed == nil {
			return nil
		}
		processed.OrderID = &order.ID
		fresh, err := tx.Payments().MarkEventProcessed(persistCtx, processed)
		if err != nil {
			return err
		}
		if !fresh {
			return errEventReplayed
		}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errEventReplayed):
		return nil, err
	case errors.Is(err, errAttemptSettled):
		return s.settledOrder(persistCtx, attempt.AttemptKey)
	default:
		return nil, s.persistFailed(persistCtx, attempt, chargeID, err)
	}

	attempt.Status = models.AttemptPersisted
	attempt.OrderID = &order.ID
	s.logger.Info("Order saved for captured payment",
		zap.Uint("order_id", order.ID),
		zap.String("charge_id", chargeID),
		zap.String("attempt_key", attempt.AttemptKey),
	)
	s.count(ctx, awspkg.MetricOrdersConfirmed)
	ev := orderEvent(models.EventOrderConfirmed, order, s.now())
	ev.AttemptKey = attempt.AttemptKey
	ev.ChargeID = chargeID
	publish(ctx, s.events, s.logger, ev)
	return order, nil
}

// settledOrder returns the order another writer already recorded for key.
func (s *CheckoutService) settledOrder(ctx context.Context, key string) (*models.Order, error) {
	current, err := s.store.Payments().FindAttemptByKey(ctx, key)
	if err != nil {
		return nil, apperrors.FromDB(err, "Payment attempt not found")
	}
	if current.OrderID == nil {
		return nil, apperrors.Conflict(fmt.Sprintf("Payment attempt is %s", current.Status))
	}
	order, err := s.store.Orders().FindByID(ctx, *current.OrderID)
	if err != nil {
		return nil, apperrors.FromDB(err, "Order not found")
	}
	return order, nil
}

func (s *CheckoutService) persistFailed(ctx context.Context, attempt *models.PaymentAttempt, chargeID string, cause error) error {
	s.logger.Error("Payment captured but order could not be saved",
		zap.String("charge_id", chargeID),
		zap.String("attempt_key", attempt.AttemptKey),
		zap.Uint("user_id", attempt.UserID),
		zap.Int64("amount_minor", attempt.AmountMinor),
		zap.String("cart", attempt.Cart),
		zap.Error(cause),
	)
	s.transitionAttempt(ctx, attempt, []models.AttemptStatus{models.AttemptCaptured, models.AttemptPersistFailed}, map[string]any{
		"status":         models.AttemptPersistFailed,
		"failure_reason": truncate(cause.Error()),
	})
	attempt.Status = models.AttemptPersistFailed
	s.count(ctx, awspkg.MetricReconciliationRequired)
	publish(ctx, s.events, s.logger, models.OrderEvent{
		Type:       models.EventReconciliationRequired,
		UserID:     attempt.UserID,
		Total:      models.FromMinorUnits(attempt.AmountMinor).StringFixed(2),
		AttemptKey: attempt.AttemptKey,
		ChargeID:   chargeID,
		OccurredAt: s.now().UTC(),
	})
	return apperrors.ReconciliationRequired(attempt.AttemptKey, cause)
}

// RetryPersist re-runs order persistence for a captured attempt, returning
// the existing order when one was already recorded.
func (s *CheckoutService) RetryPersist(ctx context.Context, key string) (*models.Order, error) {
	attempt, err := s.store.Payments().FindAttemptByKey(ctx, key)
	if err != nil {
		return nil, apperrors.FromDB(err, "Payment attempt not found")
	}
	switch attempt.Status {
	case models.AttemptPersisted, models.AttemptWebhookConfirmed:
		return s.settledOrder(ctx, key)
	case models.AttemptCaptured, models.AttemptPersistFailed:
		return s.persistDirect(ctx, attempt, gatewayRef(attempt), nil)
	case models.AttemptUnknown:
		return nil, apperrors.Conflict("Payment outcome is unknown; confirm the charge with the provider first")
	default:
		return nil, apperrors.Conflict(fmt.Sprintf("Payment attempt is %s and has no captured charge", attempt.Status))
	}
}

// ListReconciliation returns attempts where money may have moved without a
// confirmed order.
func (s *CheckoutService) ListReconciliation(ctx context.Context) ([]models.PaymentAttempt, error) {
	attempts, err := s.store.Payments().ListAttemptsByStatus(ctx, models.AttemptPersistFailed, models.AttemptUnknown)
	if err != nil {
		return nil, apperrors.FromDB(err, "Payment attempt not found")
	}
	return attempts, nil
}

// CreateCheckoutSession records a pending order priced from the catalog and
// opens a hosted checkout for it.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, in HostedCheckoutInput) (*HostedCheckoutResult, error) {
	if len(in.Items) == 0 {
		return nil, apperrors.Validation(msgItemsRequired)
	}
	if in.UserID == 0 {
		return nil, apperrors.Validation("userId is required")
	}

	ids := make([]uint, 0, len(in.Items))
	for _, item := range in.Items {
		if item.ProductID == 0 {
			return nil, apperrors.Validation("productId is required for every item")
		}
		if item.quantity() <= 0 {
			return nil, apperrors.Validation("quantity must be a positive integer")
		}
		ids = append(ids, item.ProductID)
	}
	catalog, err := s.prices.ResolveProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]models.OrderItem, 0, len(in.Items))
	sessionLines := make([]CheckoutLine, 0, len(in.Items))
	priced := make([]CartItemInput, 0, len(in.Items))
	for _, item := range in.Items {
		product := catalog[item.ProductID]
		unit := product.Price.Round(2)
		lines = append(lines, models.OrderItem{ProductID: item.ProductID, Quantity: item.quantity(), UnitPrice: unit})
		sessionLines = append(sessionLines, CheckoutLine{
			Name:            product.Name,
			UnitAmountMinor: models.ToMinorUnits(unit),
			Quantity:        int64(item.quantity()),
		})
		item.Name = product.Name
		priced = append(priced, item)
	}

	order := models.NewOrder(in.UserID, lines, models.OrderStatusPending, s.now())
	cart, err := encodeCart(priced, lines)
	if err != nil {
		return nil, apperrors.Internal("Failed to encode cart", err)
	}
	attempt := &models.PaymentAttempt{
		AttemptKey:  s.newKey(),
		Flow:        models.FlowHosted,
		UserID:      in.UserID,
		AmountMinor: models.ToMinorUnits(order.TotalPrice),
		Currency:    s.cfg.Currency,
		Status:      models.AttemptInitiated,
		Cart:        cart,
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		attempt.OrderID = &order.ID
		return tx.Payments().CreateAttempt(ctx, attempt)
	})
	if err != nil {
		return nil, apperrors.FromDB(err, "Order not found")
	}
	s.count(ctx, awspkg.MetricOrdersCreated)
	publish(ctx, s.events, s.logger, orderEvent(models.EventOrderCreated, order, s.now()))

	orderRef := strconv.FormatUint(uint64(order.ID), 10)
	started := s.now()
	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		Lines:             sessionLines,
		Currency:          s.cfg.Currency,
		SuccessURL:        s.cfg.SuccessURL,
		CancelURL:         s.cfg.CancelURL,
		ClientReferenceID: orderRef,
		CustomerEmail:     in.Email,
		IdempotencyKey:    attempt.AttemptKey,
		Metadata: map[string]string{
			"order_id":    orderRef,
			"attempt_key": attempt.AttemptKey,
			"user_id":     strconv.FormatUint(uint64(in.UserID), 10),
		},
	})
	s.latency(ctx, awspkg.MetricGatewayLatency, s.now().Sub(started))
	if err != nil {
		s.abandonHosted(ctx, order, attempt, err)
		return nil, apperrors.GatewayUnavailable("Failed to create checkout session", err)
	}

	moved, err := s.store.Payments().TransitionAttempt(context.WithoutCancel(ctx), attempt.ID,
		[]models.AttemptStatus{models.AttemptInitiated},
		map[string]any{"status": models.AttemptSessionCreated, "gateway_ref": session.ID})
	if err == nil && !moved {
		// Settled by an early webhook; keep its status.
		err = s.store.Payments().UpdateAttempt(context.WithoutCancel(ctx), attempt.ID, map[string]any{"gateway_ref": session.ID})
	}
	if err != nil {
		// The webhook still finds the attempt through its metadata.
		s.logger.Error("Failed to record checkout session",
			zap.String("session_id", session.ID),
			zap.String("attempt_key", attempt.AttemptKey),
			zap.Error(err),
		)
	}

	return &HostedCheckoutResult{URL: session.URL, OrderID: order.ID, SessionID: session.ID}, nil
}

func (s *CheckoutService) abandonHosted(ctx context.Context, order *models.Order, attempt *models.PaymentAttempt, cause error) {
	ctx = context.WithoutCancel(ctx)
	s.logger.Error("Failed to create checkout session",
		zap.Uint("order_id", order.ID),
		zap.String("attempt_key", attempt.AttemptKey),
		zap.Error(cause),
	)
	if _, err := s.store.Orders().MarkStatusIfPending(ctx, order.ID, models.OrderStatusFailed); err != nil {
		s.logger.Error("Failed to mark order failed", zap.Uint("order_id", order.ID), zap.Error(err))
		return
	}
	s.transitionAttempt(ctx, attempt, []models.AttemptStatus{models.AttemptInitiated}, map[string]any{
		"status":         models.AttemptDeclined,
		"failure_reason": truncate(cause.Error()),
	})
	order.Status = models.OrderStatusFailed
	publish(ctx, s.events, s.logger, orderEvent(models.EventOrderFailed, order, s.now()))
}

// HandleWebhook verifies and applies one gateway event. Replays of an event
// already applied are acknowledged without changing state.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		s.logger.Warn("Rejected webhook with invalid signature", zap.Error(err))
		return apperrors.SignatureInvalid(err)
	}
	log := s.logger.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	dedupKey := "webhook:" + event.ID
	if s.dedup != nil {
		seen, err := s.dedup.Seen(ctx, dedupKey)
		switch {
		case err != nil:
			log.Warn("Webhook dedup unavailable, relying on database", zap.Error(err))
		case seen:
			log.Info("Duplicate webhook ignored")
			s.count(ctx, awspkg.MetricWebhookDuplicate)
			return nil
		}
	}

	if err := s.applyEvent(ctx, event, log); err != nil {
		log.Error("Failed to process webhook", zap.Error(err))
		if appErr, ok := apperrors.As(err); ok {
			return appErr
		}
		return apperrors.Internal("Failed to process webhook", err)
	}
	if s.dedup != nil {
		if err := s.dedup.Remember(context.WithoutCancel(ctx), dedupKey); err != nil {
			log.Warn("Failed to remember webhook event", zap.Error(err))
		}
	}
	return nil
}

func (s *CheckoutService) applyEvent(ctx context.Context, event *GatewayEvent, log *zap.Logger) error {
	switch event.Type {
	case EventCheckoutCompleted:
		if event.PaymentStatus != checkoutPaidStatus {
			log.Info("Checkout completed without payment, awaiting async result", zap.String("payment_status", event.PaymentStatus))
			return nil
		}
		return s.settleHosted(ctx, event, models.OrderStatusConfirmed, log)
	case EventCheckoutAsyncSucceeded:
		return s.settleHosted(ctx, event, models.OrderStatusConfirmed, log)
	case EventCheckoutExpired:
		return s.settleHosted(ctx, event, models.OrderStatusExpired, log)
	case EventCheckoutAsyncFailed:
		return s.settleHosted(ctx, event, models.OrderStatusFailed, log)
	case EventPaymentIntentSucceeded:
		return s.intentSucceeded(ctx, event, log)
	default:
		log.Debug("Unhandled webhook event acknowledged")
		return nil
	}
}

// locateAttempt finds the attempt an event refers to, first by gateway
// reference and then by the attempt key carried in metadata.
func (s *CheckoutService) locateAttempt(ctx context.Context, event *GatewayEvent) (*models.PaymentAttempt, error) {
	if event.ObjectID != "" {
		attempt, err := s.store.Payments().FindAttemptByGatewayRef(ctx, event.ObjectID)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if key := event.Metadata["attempt_key"]; key != "" {
		attempt, err := s.store.Payments().FindAttemptByKey(ctx, key)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *CheckoutService) settleHosted(ctx context.Context, event *GatewayEvent, target models.OrderStatus, log *zap.Logger) error {
	attempt, err := s.locateAttempt(ctx, event)
	if err != nil {
		return err
	}

	var orderID uint
	switch {
	case attempt != nil && attempt.OrderID != nil:
		orderID = *attempt.OrderID
	case event.Metadata["order_id"] != "":
		id, perr := strconv.ParseUint(event.Metadata["order_id"], 10, 64)
		if perr != nil {
			log.Warn("Webhook carries malformed order_id", zap.String("order_id", event.Metadata["order_id"]))
			return nil
		}
		orderID = uint(id)
	default:
		log.Warn("Webhook references no known order")
		return nil
	}
	return s.settleOrder(ctx, event, attempt, orderID, target, log)
}

// settleOrder moves a pending order to target and records the event in the
// same transaction. Only the caller that performs the transition publishes.
func (s *CheckoutService) settleOrder(ctx context.Context, event *GatewayEvent, attempt *models.PaymentAttempt, orderID uint, target models.OrderStatus, log *zap.Logger) error {
	var changed bool
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		fresh, err := tx.Payments().MarkEventProcessed(ctx, &models.ProcessedWebhookEvent{
			EventID:     event.ID,
			EventType:   event.Type,
			OrderID:     &orderID,
			ProcessedAt: s.now(),
		})
		if err != nil {
			return err
		}
		if !fresh {
			return nil
		}

		if target == models.OrderStatusConfirmed {
			changed, err = tx.Orders().MarkConfirmed(ctx, orderID)
		} else {
			changed, err = tx.Orders().MarkStatusIfPending(ctx, orderID, target)
		}
		if err != nil {
			return err
		}

		if attempt == nil {
			return nil
		}
		updates := map[string]any{"status": attemptStatusFor(target)}
		if target == models.OrderStatusFailed {
			updates["failure_reason"] = "asynchronous payment failed"
		}
		_, err = tx.Payments().TransitionAttempt(ctx, attempt.ID,
			[]models.AttemptStatus{models.AttemptInitiated, models.AttemptSessionCreated}, updates)
		return err
	})
	if err != nil {
		return err
	}
	if !changed {
		log.Info("Order already settled", zap.Uint("order_id", orderID))
		return nil
	}

	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		log.Warn("Order settled but could not be reloaded for publishing", zap.Uint("order_id", orderID), zap.Error(err))
		return nil
	}
	log.Info("Order settled from webhook", zap.Uint("order_id", orderID), zap.String("status", string(target)))

	eventType, metric := models.EventOrderConfirmed, awspkg.MetricOrdersConfirmed
	switch target {
	case models.OrderStatusExpired:
		eventType, metric = models.EventOrderExpired, awspkg.MetricOrdersExpired
	case models.OrderStatusFailed:
		eventType, metric = models.EventOrderFailed, awspkg.MetricPaymentDeclined
	}
	s.count(ctx, metric)
	ev := orderEvent(eventType, order, s.now())
	if attempt != nil {
		ev.AttemptKey = attempt.AttemptKey
	}
	ev.ChargeID = event.PaymentIntent
	publish(ctx, s.events, s.logger, ev)
	return nil
}

func (s *CheckoutService) intentSucceeded(ctx context.Context, event *GatewayEvent, log *zap.Logger) error {
	attempt, err := s.locateAttempt(ctx, event)
	if err != nil {
		return err
	}
	if attempt == nil {
		log.Warn("Payment intent succeeded for unknown attempt", zap.String("payment_intent", event.PaymentIntent))
		return nil
	}
	log = log.With(zap.String("attempt_key", attempt.AttemptKey))

	if attempt.Flow == models.FlowHosted {
		if attempt.OrderID == nil {
			log.Warn("Hosted attempt has no order")
			return nil
		}
		return s.settleOrder(ctx, event, attempt, *attempt.OrderID, models.OrderStatusConfirmed, log)
	}

	processed := &models.ProcessedWebhookEvent{EventID: event.ID, EventType: event.Type, ProcessedAt: s.now()}
	switch attempt.Status {
	case models.AttemptUnknown, models.AttemptAuthorizing:
		moved, err := s.store.Payments().TransitionAttempt(ctx, attempt.ID,
			[]models.AttemptStatus{models.AttemptUnknown, models.AttemptAuthorizing},
			map[string]any{"status": models.AttemptCaptured, "gateway_ref": event.PaymentIntent})
		if err != nil {
			return err
		}
		if !moved {
			log.Info("Attempt settled concurrently")
			return nil
		}
		ref := event.PaymentIntent
		attempt.GatewayRef = &ref
		attempt.Status = models.AttemptCaptured
		fallthrough
	case models.AttemptCaptured, models.AttemptPersistFailed:
		if _, err := s.persistDirect(ctx, attempt, event.PaymentIntent, processed); err != nil && !errors.Is(err, errEventReplayed) {
			return err
		}
		return nil
	case models.AttemptDeclined:
		log.Error("Payment intent succeeded for an attempt recorded as declined; manual reconciliation required",
			zap.String("payment_intent", event.PaymentIntent))
		s.count(ctx, awspkg.MetricReconciliationRequired)
		return nil
	default:
		_, err := s.store.Payments().MarkEventProcessed(ctx, processed)
		return err
	}
}

func attemptStatusFor(target models.OrderStatus) models.AttemptStatus {
	switch target {
	case models.OrderStatusConfirmed:
		return models.AttemptWebhookConfirmed
	case models.OrderStatusExpired:
		return models.AttemptWebhookExpired
	default:
		return models.AttemptDeclined
	}
}

// transitionAttempt records a best-effort status change; losing the race to
// a concurrent writer is not an error.
func (s *CheckoutService) transitionAttempt(ctx context.Context, attempt *models.PaymentAttempt, from []models.AttemptStatus, updates map[string]any) {
	moved, err := s.store.Payments().TransitionAttempt(context.WithoutCancel(ctx), attempt.ID, from, updates)
	if err != nil {
		s.logger.Error("Failed to update payment attempt",
			zap.String("attempt_key", attempt.AttemptKey),
			zap.Any("updates", updates),
			zap.Error(err),
		)
		return
	}
	if !moved {
		s.logger.Info("Payment attempt already moved on", zap.String("attempt_key", attempt.AttemptKey))
	}
}

func (s *CheckoutService) count(ctx context.Context, metric string) {
	if !s.metrics.IsEnabled() {
		return
	}
	if err := s.metrics.RecordCount(context.WithoutCancel(ctx), metric, nil); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

func (s *CheckoutService) latency(ctx context.Context, metric string, d time.Duration) {
	if !s.metrics.IsEnabled() {
		return
	}
	if err := s.metrics.RecordLatency(context.WithoutCancel(ctx), metric, d, nil); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

func encodeCart(items []CartItemInput, lines []models.OrderItem) (string, error) {
	cart := make([]models.CartLine, 0, len(lines))
	for i, line := range lines {
		cl := models.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
		}
		if i < len(items) {
			cl.Name = items[i].Name
		}
		cart = append(cart, cl)
	}
	raw, err := json.Marshal(cart)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeCart(raw string) ([]models.OrderItem, error) {
	var cart []models.CartLine
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return nil, fmt.Errorf("decode cart snapshot: %w", err)
	}
	if len(cart) == 0 {
		return nil, errors.New("cart snapshot is empty")
	}
	lines := make([]models.OrderItem, 0, len(cart))
	for _, cl := range cart {
		price, err := decimal.NewFromString(cl.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("decode cart price for product %d: %w", cl.ProductID, err)
		}
		lines = append(lines, models.OrderItem{ProductID: cl.ProductID, Quantity: cl.Quantity, UnitPrice: price})
	}
	return lines, nil
}

func gatewayRef(attempt *models.PaymentAttempt) string {
	if attempt.GatewayRef == nil {
		return ""
	}
	return *attempt.GatewayRef
}

func truncate(s string) string {
	if len(s) > maxFailureReason {
		return s[:maxFailureReason]
	}
	return s
}
