package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID            int64           `db:"id" json:"id"`
	SKU           string          `db:"sku" json:"sku"`
	Name          string          `db:"name" json:"name"`
	ImageURL      string          `db:"image_url" json:"image_url"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	StockStatus   StockStatus     `db:"stock_status" json:"stock_status"`
	WeightKg      decimal.Decimal `db:"weight_kg" json:"weight_kg"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order and its three status axes
type Order struct {
	ID                 int64           `db:"id" json:"id"`
	OrderNumber        string          `db:"order_number" json:"order_number"`
	UserID             int64           `db:"user_id" json:"user_id"`
	PaymentMethod      PaymentMethod   `db:"payment_method" json:"payment_method"`
	Subtotal           decimal.Decimal `db:"subtotal" json:"subtotal"`
	Discount           decimal.Decimal `db:"discount" json:"discount"`
	ShippingCharge     decimal.Decimal `db:"shipping_charge" json:"shipping_charge"`
	Tax                decimal.Decimal `db:"tax" json:"tax"`
	GrandTotal         decimal.Decimal `db:"grand_total" json:"grand_total"`
	Currency           string          `db:"currency" json:"currency"`
	CouponCode         string          `db:"coupon_code" json:"coupon_code,omitempty"`
	Status             OrderStatus     `db:"status" json:"status"`
	PaymentStatus      PaymentStatus   `db:"payment_status" json:"payment_status"`
	ShippingStatus     ShippingStatus  `db:"shipping_status" json:"shipping_status"`
	GatewayOrderID     string          `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	GatewayPaymentID   string          `db:"gateway_payment_id" json:"gateway_payment_id,omitempty"`
	RefundedAmount     decimal.Decimal `db:"refunded_amount" json:"refunded_amount"`
	CarrierOrderID     string          `db:"carrier_order_id" json:"carrier_order_id,omitempty"`
	CarrierShipmentID  string          `db:"carrier_shipment_id" json:"carrier_shipment_id,omitempty"`
	AWBCode            string          `db:"awb_code" json:"awb_code,omitempty"`
	CourierName        string          `db:"courier_name" json:"courier_name,omitempty"`
	TrackingURL        string          `db:"tracking_url" json:"tracking_url,omitempty"`
	TrackingNumber     string          `db:"tracking_number" json:"tracking_number,omitempty"`
	EstimatedDelivery  string          `db:"estimated_delivery" json:"estimated_delivery,omitempty"`
	CancellationReason string          `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	// StockRestored is set once the order's items have been credited back.
	StockRestored      bool            `db:"stock_restored" json:"stock_restored"`
	IdempotencyKey     string          `db:"idempotency_key" json:"-"`
	Version            int             `db:"version" json:"version"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	PaidAt             *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	DeliveredAt        *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	CancelledAt        *time.Time      `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// Balanced checks grand_total == subtotal - discount + shipping + tax within a cent.
func (o *Order) Balanced() bool {
	expected := o.Subtotal.Sub(o.Discount).Add(o.ShippingCharge).Add(o.Tax)
	return expected.Sub(o.GrandTotal).Abs().LessThanOrEqual(decimal.New(1, -2))
}

// OrderItem is an immutable snapshot of a purchased line
type OrderItem struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	ProductID    int64           `db:"product_id" json:"product_id"`
	SKU          string          `db:"sku" json:"sku"`
	ProductName  string          `db:"product_name" json:"product_name"`
	ProductImage string          `db:"product_image" json:"product_image"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity     int             `db:"quantity" json:"quantity"`
	LineTotal    decimal.Decimal `db:"line_total" json:"line_total"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// OrderAddress is the address snapshot taken at checkout
type OrderAddress struct {
	ID         int64  `db:"id" json:"id"`
	OrderID    int64  `db:"order_id" json:"order_id"`
	Kind       string `db:"kind" json:"kind"`
	Name       string `db:"name" json:"name"`
	Phone      string `db:"phone" json:"phone"`
	Email      string `db:"email" json:"email"`
	Line1      string `db:"line1" json:"line1"`
	Line2      string `db:"line2" json:"line2"`
	City       string `db:"city" json:"city"`
	State      string `db:"state" json:"state"`
	PostalCode string `db:"postal_code" json:"postal_code"`
	Country    string `db:"country" json:"country"`
}

// Address is a saved user address
type Address struct {
	ID         int64  `db:"id" json:"id"`
	UserID     int64  `db:"user_id" json:"user_id"`
	Kind       string `db:"kind" json:"kind"`
	IsDefault  bool   `db:"is_default" json:"is_default"`
	Name       string `db:"name" json:"name"`
	Phone      string `db:"phone" json:"phone"`
	Email      string `db:"email" json:"email"`
	Line1      string `db:"line1" json:"line1"`
	Line2      string `db:"line2" json:"line2"`
	City       string `db:"city" json:"city"`
	State      string `db:"state" json:"state"`
	PostalCode string `db:"postal_code" json:"postal_code"`
	Country    string `db:"country" json:"country"`
}

// Snapshot copies the address onto an order.
func (a *Address) Snapshot(orderID int64, kind string) OrderAddress {
	return OrderAddress{
		OrderID:    orderID,
		Kind:       kind,
		Name:       a.Name,
		Phone:      a.Phone,
		Email:      a.Email,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// CartItem is a line in a user's cart
type CartItem struct {
	UserID    int64 `db:"user_id" json:"user_id"`
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// Coupon is a discount code
type Coupon struct {
	ID           int64           `db:"id" json:"id"`
	Code         string          `db:"code" json:"code"`
	Type         string          `db:"type" json:"type"`
	Value        decimal.Decimal `db:"value" json:"value"`
	MaxDiscount  decimal.Decimal `db:"max_discount" json:"max_discount"`
	MinPurchase  decimal.Decimal `db:"min_purchase" json:"min_purchase"`
	ValidFrom    time.Time       `db:"valid_from" json:"valid_from"`
	ValidUntil   time.Time       `db:"valid_until" json:"valid_until"`
	UsageLimit   int             `db:"usage_limit" json:"usage_limit"`
	UsedCount    int             `db:"used_count" json:"used_count"`
	PerUserLimit int             `db:"per_user_limit" json:"per_user_limit"`
	Active       bool            `db:"active" json:"active"`
}

// CouponRedemption links a coupon use to an order
type CouponRedemption struct {
	ID        int64     `db:"id" json:"id"`
	CouponID  int64     `db:"coupon_id" json:"coupon_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StockMovement is an append-only stock ledger entry
type StockMovement struct {
	ID            int64        `db:"id" json:"id"`
	ProductID     int64        `db:"product_id" json:"product_id"`
	Type          MovementType `db:"type" json:"type"`
	Quantity      int          `db:"quantity" json:"quantity"`
	PreviousStock int          `db:"previous_stock" json:"previous_stock"`
	NewStock      int          `db:"new_stock" json:"new_stock"`
	Reason        string       `db:"reason" json:"reason"`
	OrderID       *int64       `db:"order_id" json:"order_id,omitempty"`
	Actor         string       `db:"actor" json:"actor"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// Delta is the signed stock change recorded by the movement.
func (m *StockMovement) Delta() int {
	return m.NewStock - m.PreviousStock
}

// WebhookRecord is a raw inbound webhook, stored before any effect is applied
type WebhookRecord struct {
	ID              int64           `db:"id" json:"id"`
	Source          string          `db:"source" json:"source"`
	EventID         string          `db:"event_id" json:"event_id"`
	EventType       string          `db:"event_type" json:"event_type"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	SignatureValid  bool            `db:"signature_valid" json:"signature_valid"`
	Processed       bool            `db:"processed" json:"processed"`
	ProcessingError string          `db:"processing_error" json:"processing_error,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt     *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// OutboxTask is a durable unit of follow-up work
type OutboxTask struct {
	ID            int64     `db:"id" json:"id"`
	Kind          string    `db:"kind" json:"kind"`
	OrderID       int64     `db:"order_id" json:"order_id"`
	Status        string    `db:"status" json:"status"`
	Attempts      int       `db:"attempts" json:"attempts"`
	MaxAttempts   int       `db:"max_attempts" json:"max_attempts"`
	NextAttemptAt time.Time `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultTaskMaxAttempts is how often a task is tried before it is marked dead.
const DefaultTaskMaxAttempts = 8

// NewTask builds a pending task that is due immediately.
func NewTask(kind string, orderID int64) OutboxTask {
	return OutboxTask{
		Kind:          kind,
		OrderID:       orderID,
		Status:        TaskStatusPending,
		MaxAttempts:   DefaultTaskMaxAttempts,
		NextAttemptAt: time.Now(),
	}
}
