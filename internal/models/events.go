package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated    = "order.created"
	EventTypePaymentReceived = "payment.received"
	EventTypePaymentFailed   = "payment.failed"
	EventTypeOrderCancelled  = "order.cancelled"
	EventTypeOrderDelivered  = "order.delivered"
	EventTypeShippingIssue   = "shipping.issue"
	EventTypeRefundProcessed = "refund.processed"
	EventTypeStockLow        = "stock.low"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func newBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderEvent is published whenever a customer-visible order fact changes
type OrderEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	UserID         int64           `json:"user_id"`
	Status         OrderStatus     `json:"status"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	ShippingStatus ShippingStatus  `json:"shipping_status"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	Currency       string          `json:"currency"`
	AWBCode        string          `json:"awb_code,omitempty"`
	TrackingURL    string          `json:"tracking_url,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// NewOrderEvent snapshots the order into an event of the given type.
func NewOrderEvent(eventType string, o *Order, reason string) *OrderEvent {
	return &OrderEvent{
		BaseEvent:      newBaseEvent(eventType),
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		ShippingStatus: o.ShippingStatus,
		GrandTotal:     o.GrandTotal,
		Currency:       o.Currency,
		AWBCode:        o.AWBCode,
		TrackingURL:    o.TrackingURL,
		Reason:         reason,
	}
}

// StockLowEvent is published when a debit leaves a product at or under the threshold
type StockLowEvent struct {
	BaseEvent
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

// NewStockLowEvent builds a low-stock alert for p.
func NewStockLowEvent(p *Product, threshold int) *StockLowEvent {
	return &StockLowEvent{
		BaseEvent: newBaseEvent(EventTypeStockLow),
		ProductID: p.ID,
		SKU:       p.SKU,
		Name:      p.Name,
		Stock:     p.StockQuantity,
		Threshold: threshold,
	}
}
