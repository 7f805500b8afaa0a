package service

import (
	"context"
	"time"

	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
)

type ProductRepository interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

type StockRepository interface {
	DebitStock(ctx context.Context, mv *models.StockMovement, lowStockThreshold int) (*models.Product, error)
	CreditStock(ctx context.Context, mv *models.StockMovement, lowStockThreshold int) (*models.Product, error)
	ListMovements(ctx context.Context, productID int64) ([]models.StockMovement, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	SaveOrder(ctx context.Context, order *models.Order, tasks ...models.OutboxTask) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)
	GetOrderByAWB(ctx context.Context, awb string) (*models.Order, error)
	GetOrderByCarrierOrderID(ctx context.Context, carrierOrderID string) (*models.Order, error)
	GetOrderByCarrierShipmentID(ctx context.Context, shipmentID string) (*models.Order, error)
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	CreateOrderAddress(ctx context.Context, addr *models.OrderAddress) error
	GetOrderAddress(ctx context.Context, orderID int64, kind string) (*models.OrderAddress, error)
}

type WebhookRepository interface {
	RecordWebhook(ctx context.Context, rec *models.WebhookRecord) (duplicate bool, err error)
	MarkWebhookProcessed(ctx context.Context, id int64, processingError string) error
}

type OutboxRepository interface {
	EnqueueTask(ctx context.Context, task models.OutboxTask) error
	ClaimDueTasks(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxTask, error)
	CompleteTask(ctx context.Context, id int64) error
	FailTask(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time, dead bool) error
	ListTasksForOrder(ctx context.Context, orderID int64) ([]models.OutboxTask, error)
}

type CheckoutRepository interface {
	GetCartItems(ctx context.Context, userID int64) ([]models.CartItem, error)
	ClearCart(ctx context.Context, userID int64) error
	GetAddressByID(ctx context.Context, id int64) (*models.Address, error)
	GetDefaultAddress(ctx context.Context, userID int64, kind string) (*models.Address, error)
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CountCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error)
	RedeemCoupon(ctx context.Context, redemption *models.CouponRedemption) error
	DeleteCouponRedemption(ctx context.Context, orderID int64) error
}

// Repository is everything the services persist. *store.Store implements it.
type Repository interface {
	ProductRepository
	StockRepository
	OrderRepository
	WebhookRepository
	OutboxRepository
	CheckoutRepository
}

// Locker is a distributed lock with owner tokens.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// IdempotencyCache remembers the outcome of idempotent requests.
type IdempotencyCache interface {
	SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
}

// NotificationSink receives customer-facing order events.
type NotificationSink interface {
	Notify(ctx context.Context, event *models.OrderEvent) error
}

// StockAlertSink receives low-stock alerts.
type StockAlertSink interface {
	StockLow(ctx context.Context, event *models.StockLowEvent) error
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (*gateway.Payment, error)
	CreateRefund(ctx context.Context, paymentID string, amount int64, notes gateway.Notes) (*gateway.Refund, error)
}

type Carrier interface {
	CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResponse, error)
	AvailableCouriers(ctx context.Context, q carrier.ServiceabilityQuery) ([]carrier.Courier, error)
	AssignAWB(ctx context.Context, shipmentID string, courierID int) (*carrier.AWBAssignment, error)
	SchedulePickup(ctx context.Context, shipmentID string) (*carrier.PickupResponse, error)
	TrackByAWB(ctx context.Context, awb string) (*carrier.TrackingData, error)
	TrackByShipment(ctx context.Context, shipmentID string) (*carrier.TrackingData, error)
	CancelShipment(ctx context.Context, carrierOrderID string) error
	PrintLabel(ctx context.Context, shipmentID string) (string, error)
	GenerateManifest(ctx context.Context, shipmentIDs []string) (string, error)
}

// ShipmentCreator starts shipment creation for an order.
type ShipmentCreator interface {
	CreateShipmentForOrder(ctx context.Context, orderID int64) ShipmentResult
}

// ShipmentCanceller cancels an order's carrier shipment.
type ShipmentCanceller interface {
	CancelShipment(ctx context.Context, orderID int64) error
}
