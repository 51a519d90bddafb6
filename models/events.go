package models

import "time"

const (
	EventOrderCreated           = "order.created"
	EventOrderConfirmed         = "order.confirmed"
	EventOrderExpired           = "order.expired"
	EventOrderFailed            = "order.failed"
	EventReconciliationRequired = "payment.reconciliation_required"
)

// OrderEvent is published after a committed order state change.
type OrderEvent struct {
	Type       string      `json:"type"`
	OrderID    uint        `json:"order_id,omitempty"`
	UserID     uint        `json:"user_id"`
	Status     OrderStatus `json:"status,omitempty"`
	Total      string      `json:"total,omitempty"`
	AttemptKey string      `json:"attempt_key,omitempty"`
	ChargeID   string      `json:"charge_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
