package worker

import (
	"context"

	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// Notifier delivers a customer-facing message for an order event.
type Notifier interface {
	NotifyCustomer(ctx context.Context, event *models.OrderEvent) error
}

// LogNotifier writes notifications to the log. Used until a mail provider is wired.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) NotifyCustomer(ctx context.Context, event *models.OrderEvent) error {
	n.logger.Info("Customer notification",
		zap.String("event_type", event.EventType),
		zap.String("order_number", event.OrderNumber),
		zap.Int64("user_id", event.UserID),
		zap.String("status", string(event.Status)),
		zap.String("awb", event.AWBCode),
		zap.String("reason", event.Reason))
	return nil
}

// MessageSource is where notification events come from.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// NotificationWorker relays order events and stock alerts from the broker.
type NotificationWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	notifier     Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source MessageSource, notifier Notifier) *NotificationWorker {
	w := &NotificationWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		notifier:     notifier,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderEvent(w.handleOrderEvent)
	w.eventHandler.OnStockLow(w.handleStockLow)
	return w
}

// Handler exposes the routing handler, mostly for tests.
func (w *NotificationWorker) Handler() broker.MessageHandler {
	return w.eventHandler.HandleMessage
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

func (w *NotificationWorker) handleOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	if err := w.notifier.NotifyCustomer(ctx, event); err != nil {
		util.NotificationsTotal.WithLabelValues(event.EventType, "error").Inc()
		return err
	}
	util.NotificationsTotal.WithLabelValues(event.EventType, "sent").Inc()
	return nil
}

func (w *NotificationWorker) handleStockLow(ctx context.Context, event *models.StockLowEvent) error {
	w.logger.Warn("Product stock is low",
		zap.Int64("product_id", event.ProductID),
		zap.String("sku", event.SKU),
		zap.Int("stock", event.Stock),
		zap.Int("threshold", event.Threshold))
	util.NotificationsTotal.WithLabelValues(event.EventType, "sent").Inc()
	return nil
}
