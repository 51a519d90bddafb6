package models

import "time"

type PaymentFlow string

const (
	FlowDirect PaymentFlow = "direct"
	FlowHosted PaymentFlow = "hosted"
)

// AttemptStatus tracks one payment attempt.
//
//	direct: initiated -> authorizing -> captured | declined | unknown
//	        captured -> persisted | persist_failed
//	        persist_failed -> persisted (recovery)
//	hosted: initiated -> session_created -> webhook_confirmed | webhook_expired
type AttemptStatus string

const (
	AttemptInitiated        AttemptStatus = "initiated"
	AttemptAuthorizing      AttemptStatus = "authorizing"
	AttemptCaptured         AttemptStatus = "captured"
	AttemptDeclined         AttemptStatus = "declined"
	AttemptUnknown          AttemptStatus = "unknown"
	AttemptPersisted        AttemptStatus = "persisted"
	AttemptPersistFailed    AttemptStatus = "persist_failed"
	AttemptSessionCreated   AttemptStatus = "session_created"
	AttemptWebhookConfirmed AttemptStatus = "webhook_confirmed"
	AttemptWebhookExpired   AttemptStatus = "webhook_expired"
)

// NeedsReconciliation reports whether money may have moved without a
// matching confirmed order.
func (s AttemptStatus) NeedsReconciliation() bool {
	return s == AttemptPersistFailed || s == AttemptUnknown
}

// PaymentAttempt is the durable record of one checkout attempt. AttemptKey
// doubles as the gateway idempotency key and the reconciliation token.
type PaymentAttempt struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	AttemptKey    string        `gorm:"size:64;uniqueIndex;not null" json:"attempt_key"`
	Flow          PaymentFlow   `gorm:"type:varchar(16);not null" json:"flow"`
	OrderID       *uint         `gorm:"index" json:"order_id,omitempty"`
	UserID        uint          `gorm:"not null;index" json:"user_id"`
	AmountMinor   int64         `gorm:"not null" json:"amount_minor"`
	Currency      string        `gorm:"size:8;not null" json:"currency"`
	GatewayRef    *string       `gorm:"size:255;uniqueIndex" json:"gateway_ref,omitempty"`
	Status        AttemptStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	Cart          string        `gorm:"type:text" json:"cart,omitempty"`
	FailureReason string        `gorm:"size:1024;not null;default:''" json:"failure_reason,omitempty"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProcessedWebhookEvent marks a gateway event id as applied.
type ProcessedWebhookEvent struct {
	EventID     string    `gorm:"primaryKey;size:255" json:"event_id"`
	EventType   string    `gorm:"size:128;not null" json:"event_type"`
	OrderID     *uint     `json:"order_id,omitempty"`
	ProcessedAt time.Time `gorm:"not null" json:"processed_at"`
}

// CartLine is the snapshot of one cart entry stored on an attempt.
type CartLine struct {
	ProductID uint   `json:"productId"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"price"`
}
