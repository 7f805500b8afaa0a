package service

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type orderStore interface {
	OrderRepository
	OutboxRepository
}

// OrderService reads orders and handles cancellation
type OrderService struct {
	repo      orderStore
	ledger    *StockLedger
	shipments ShipmentCanceller
	notifier  NotificationSink
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo orderStore,
	ledger *StockLedger,
	shipments ShipmentCanceller,
	notifier NotificationSink,
) *OrderService {
	return &OrderService{
		repo:      repo,
		ledger:    ledger,
		shipments: shipments,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// OrderDetails is an order with its lines and address snapshots
type OrderDetails struct {
	Order           *models.Order        `json:"order"`
	Items           []models.OrderItem   `json:"items"`
	ShippingAddress *models.OrderAddress `json:"shipping_address,omitempty"`
	BillingAddress  *models.OrderAddress `json:"billing_address,omitempty"`
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err, "order %d", orderID)
	}
	return s.details(ctx, order)
}

// GetOrderByNumber retrieves an order by its order number
func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*OrderDetails, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrderByNumber", attribute.String("order_number", orderNumber))
	defer span.End()

	order, err := s.repo.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, lookupError(err, "order %s", orderNumber)
	}
	return s.details(ctx, order)
}

func (s *OrderService) details(ctx context.Context, order *models.Order) (*OrderDetails, error) {
	items, err := s.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	details := &OrderDetails{Order: order, Items: items}
	for _, kind := range []string{models.AddressShipping, models.AddressBilling} {
		addr, err := s.repo.GetOrderAddress(ctx, order.ID, kind)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s address: %w", kind, err)
		}
		if kind == models.AddressShipping {
			details.ShippingAddress = addr
		} else {
			details.BillingAddress = addr
		}
	}
	return details, nil
}

// TasksForOrder lists the order's outbox tasks.
func (s *OrderService) TasksForOrder(ctx context.Context, orderID int64) ([]models.OutboxTask, error) {
	return s.repo.ListTasksForOrder(ctx, orderID)
}
