package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the part of Producer the publisher needs.
type EventWriter interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher publishes order events and stock alerts to the events topic.
type EventPublisher struct {
	producer EventWriter
	logger   *zap.Logger
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventWriter) *EventPublisher {
	return &EventPublisher{producer: producer, logger: util.GetLogger()}
}

// OrderKey is the partition key for an order's events.
func OrderKey(orderNumber string) string {
	return "order-" + orderNumber
}

// Notify publishes an order event
func (ep *EventPublisher) Notify(ctx context.Context, event *models.OrderEvent) error {
	if err := ep.producer.PublishEvent(ctx, OrderKey(event.OrderNumber), event.EventType, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}
	ep.logger.Info("Order event published",
		zap.String("event_type", event.EventType),
		zap.String("order_number", event.OrderNumber))
	return nil
}

// StockLow publishes a low-stock alert keyed by SKU
func (ep *EventPublisher) StockLow(ctx context.Context, event *models.StockLowEvent) error {
	if err := ep.producer.PublishEvent(ctx, "product-"+event.SKU, event.EventType, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}
	ep.logger.Info("Low stock alert published",
		zap.String("sku", event.SKU),
		zap.Int("stock", event.Stock))
	return nil
}

// EventHandler routes incoming events by type
type EventHandler struct {
	onOrderEvent func(context.Context, *models.OrderEvent) error
	onStockLow   func(context.Context, *models.StockLowEvent) error
	logger       *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderEvent registers a handler for every order event type
func (eh *EventHandler) OnOrderEvent(handler func(context.Context, *models.OrderEvent) error) {
	eh.onOrderEvent = handler
}

// OnStockLow registers a handler for stock.low alerts
func (eh *EventHandler) OnStockLow(handler func(context.Context, *models.StockLowEvent) error) {
	eh.onStockLow = handler
}

// HandleMessage routes messages to the registered handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}
	if header := EventType(msg); header != "" && header != baseEvent.EventType {
		eh.logger.Warn("Event type header disagrees with payload",
			zap.String("header", header),
			zap.String("payload", baseEvent.EventType))
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated, models.EventTypePaymentReceived, models.EventTypePaymentFailed,
		models.EventTypeOrderCancelled, models.EventTypeOrderDelivered, models.EventTypeShippingIssue,
		models.EventTypeRefundProcessed:
		if eh.onOrderEvent != nil {
			var event models.OrderEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onOrderEvent(ctx, &event)
		}

	case models.EventTypeStockLow:
		if eh.onStockLow != nil {
			var event models.StockLowEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal stock.low event: %w", err)
			}
			return eh.onStockLow(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
