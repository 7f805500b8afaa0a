package gateway

import (
	"encoding/json"
	"fmt"

	"fulfillment-service/internal/models"
)

// EventType is a gateway webhook event name.
type EventType string

const (
	EventPaymentAuthorized EventType = "payment.authorized"
	EventPaymentCaptured   EventType = "payment.captured"
	EventPaymentFailed     EventType = "payment.failed"
	EventOrderPaid         EventType = "order.paid"
	EventRefundCreated     EventType = "refund.created"
	EventRefundProcessed   EventType = "refund.processed"
)

// IsRefund reports whether the event carries a refund.
func (e EventType) IsRefund() bool {
	return e == EventRefundCreated || e == EventRefundProcessed
}

// WebhookEvent is the envelope of every gateway webhook.
type WebhookEvent struct {
	Event     EventType      `json:"event"`
	AccountID string         `json:"account_id"`
	Payload   WebhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

type WebhookPayload struct {
	Payment *struct {
		Entity Payment `json:"entity"`
	} `json:"payment,omitempty"`
	Order *struct {
		Entity Order `json:"entity"`
	} `json:"order,omitempty"`
	Refund *struct {
		Entity Refund `json:"entity"`
	} `json:"refund,omitempty"`
}

// ParseWebhook decodes a raw webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode gateway webhook: %w", err)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("gateway webhook has no event name")
	}
	return &event, nil
}

func (e *WebhookEvent) PaymentEntity() *Payment {
	if e.Payload.Payment == nil {
		return nil
	}
	return &e.Payload.Payment.Entity
}

func (e *WebhookEvent) OrderEntity() *Order {
	if e.Payload.Order == nil {
		return nil
	}
	return &e.Payload.Order.Entity
}

func (e *WebhookEvent) RefundEntity() *Refund {
	if e.Payload.Refund == nil {
		return nil
	}
	return &e.Payload.Refund.Entity
}

// GatewayOrderID returns the gateway order the event refers to, if any.
func (e *WebhookEvent) GatewayOrderID() string {
	if p := e.PaymentEntity(); p != nil && p.OrderID != "" {
		return p.OrderID
	}
	if o := e.OrderEntity(); o != nil {
		return o.ID
	}
	return ""
}

// PaymentID returns the payment the event refers to, if any.
func (e *WebhookEvent) PaymentID() string {
	if p := e.PaymentEntity(); p != nil && p.ID != "" {
		return p.ID
	}
	if r := e.RefundEntity(); r != nil {
		return r.PaymentID
	}
	return ""
}

// OrderNumber returns our order number from the notes or receipt.
func (e *WebhookEvent) OrderNumber() string {
	if p := e.PaymentEntity(); p != nil && p.Notes["order_number"] != "" {
		return p.Notes["order_number"]
	}
	if o := e.OrderEntity(); o != nil {
		if o.Notes["order_number"] != "" {
			return o.Notes["order_number"]
		}
		return o.Receipt
	}
	return ""
}

// MapPaymentStatus maps a gateway event onto the payment status axis. Refund events are
// resolved by comparing the cumulative refunded amount with the original amount.
// ok is false when the event leaves the payment status unchanged.
func MapPaymentStatus(event EventType, refundedAmount, originalAmount int64) (status models.PaymentStatus, ok bool) {
	switch event {
	case EventPaymentAuthorized:
		return models.PaymentStatusProcessing, true
	case EventPaymentCaptured:
		return models.PaymentStatusPaid, true
	case EventPaymentFailed:
		return models.PaymentStatusFailed, true
	case EventOrderPaid:
		return models.PaymentStatusPaid, true
	case EventRefundCreated, EventRefundProcessed:
		return RefundStatus(refundedAmount, originalAmount)
	default:
		return "", false
	}
}

// RefundStatus classifies a cumulative refund against the original amount.
func RefundStatus(refundedAmount, originalAmount int64) (models.PaymentStatus, bool) {
	switch {
	case refundedAmount <= 0:
		return "", false
	case refundedAmount >= originalAmount:
		return models.PaymentStatusRefunded, true
	default:
		return models.PaymentStatusPartiallyRefunded, true
	}
}
