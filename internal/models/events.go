package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LifecycleEvent is the message fanned out for every timeline entry a
// committed operation produced.
type LifecycleEvent struct {
	EventID      string       `json:"event_id"`
	PolicyID     string       `json:"policy_id"`
	PolicyNumber string       `json:"policy_number"`
	ClientID     string       `json:"client_id"`
	Event        string       `json:"event"`
	Description  string       `json:"description"`
	Status       PolicyStatus `json:"status"`
	RelatedID    *string      `json:"related_id,omitempty"`
	PerformedBy  string       `json:"performed_by"`
	OccurredAt   time.Time    `json:"occurred_at"`
	Version      int64        `json:"version"`
}

// PaymentConfirmation is the payload consumed from the payment queue.
type PaymentConfirmation struct {
	PolicyID      string           `json:"policy_id"`
	InstallmentID string           `json:"installment_id"`
	PaidDate      string           `json:"paid_date"`
	Reference     string           `json:"reference"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Provider      string           `json:"provider,omitempty"`
}
