package models

// OrderStatus is the business status of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus tracks the payment axis of an order.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Settled reports whether money has been captured for the order at some point.
func (s PaymentStatus) Settled() bool {
	return s == PaymentStatusPaid || s == PaymentStatusRefunded || s == PaymentStatusPartiallyRefunded
}

// ShippingStatus tracks the carrier axis of an order.
type ShippingStatus string

const (
	ShippingStatusPending        ShippingStatus = "pending"
	ShippingStatusConfirmed      ShippingStatus = "confirmed"
	ShippingStatusProcessing     ShippingStatus = "processing"
	ShippingStatusShipped        ShippingStatus = "shipped"
	ShippingStatusOutForDelivery ShippingStatus = "out_for_delivery"
	ShippingStatusDelivered      ShippingStatus = "delivered"
	ShippingStatusCancelled      ShippingStatus = "cancelled"
	ShippingStatusReturned       ShippingStatus = "returned"
)

// rank orders the forward shipping path. Cancelled and returned sit off the path.
func (s ShippingStatus) rank() int {
	switch s {
	case ShippingStatusPending:
		return 0
	case ShippingStatusConfirmed:
		return 1
	case ShippingStatusProcessing:
		return 2
	case ShippingStatusShipped:
		return 3
	case ShippingStatusOutForDelivery:
		return 4
	case ShippingStatusDelivered:
		return 5
	default:
		return -1
	}
}

// CanFollow reports whether the carrier may move a shipment from current to s.
// Forward progress is monotonic, so a late "in transit" after "delivered" is refused.
func (s ShippingStatus) CanFollow(current ShippingStatus) bool {
	if s == current {
		return false
	}
	switch current {
	case ShippingStatusReturned:
		return false
	case ShippingStatusCancelled:
		return s == ShippingStatusReturned
	}
	switch s {
	case ShippingStatusReturned:
		return true
	case ShippingStatusCancelled:
		return current.rank() < ShippingStatusDelivered.rank()
	}
	return s.rank() > current.rank()
}

// PaymentMethod selects the checkout payment flow.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCOD || m == PaymentMethodOnline
}

// StockStatus is derived from a product's stock quantity.
type StockStatus string

const (
	StockStatusInStock    StockStatus = "in_stock"
	StockStatusLowStock   StockStatus = "low_stock"
	StockStatusOutOfStock StockStatus = "out_of_stock"
)

// DeriveStockStatus maps a quantity to its stock status for the given low-stock threshold.
func DeriveStockStatus(quantity, lowStockThreshold int) StockStatus {
	switch {
	case quantity <= 0:
		return StockStatusOutOfStock
	case quantity <= lowStockThreshold:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}

// MovementType classifies a stock ledger entry.
type MovementType string

const (
	MovementStockIn    MovementType = "stock_in"
	MovementStockOut   MovementType = "stock_out"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
	MovementDamaged    MovementType = "damaged"
)

// Outbound reports whether the movement removes units from stock.
func (t MovementType) Outbound() bool {
	return t == MovementStockOut || t == MovementDamaged
}

// Webhook sources
const (
	WebhookSourcePaymentGateway  = "payment_gateway"
	WebhookSourceShippingCarrier = "shipping_carrier"
)

// Outbox task kinds and statuses
const (
	TaskCreateShipment = "create_shipment"
	TaskCancelShipment = "cancel_shipment"

	TaskStatusPending = "pending"
	TaskStatusDone    = "done"
	TaskStatusDead    = "dead"
)

// Address kinds
const (
	AddressShipping = "shipping"
	AddressBilling  = "billing"
)

// Coupon types
const (
	CouponPercentage = "percentage"
	CouponFixed      = "fixed"
)
