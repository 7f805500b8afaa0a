package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fulfillment-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key       string
	eventType string
	event     interface{}
}

type fakeWriter struct {
	messages []published
	err      error
}

func (f *fakeWriter) PublishEvent(ctx context.Context, key, eventType string, event interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{key: key, eventType: eventType, event: event})
	return nil
}

func testOrder() *models.Order {
	return &models.Order{
		ID:          5,
		OrderNumber: "ORD-20260101-000005",
		UserID:      7,
		Status:      models.OrderStatusConfirmed,
		GrandTotal:  decimal.RequireFromString("1294.46"),
		Currency:    "INR",
	}
}

func TestNotifyKeysByOrderNumber(t *testing.T) {
	w := &fakeWriter{}
	p := NewEventPublisher(w)

	event := models.NewOrderEvent(models.EventTypePaymentReceived, testOrder(), "")
	require.NoError(t, p.Notify(context.Background(), event))

	require.Len(t, w.messages, 1)
	assert.Equal(t, "order-ORD-20260101-000005", w.messages[0].key)
	assert.Equal(t, models.EventTypePaymentReceived, w.messages[0].eventType)
	assert.Same(t, event, w.messages[0].event)
}

func TestNotifyWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewEventPublisher(&fakeWriter{err: boom})

	err := p.Notify(context.Background(), models.NewOrderEvent(models.EventTypeOrderCreated, testOrder(), ""))
	assert.ErrorIs(t, err, boom)
}

func TestStockLowKeysBySKU(t *testing.T) {
	w := &fakeWriter{}
	p := NewEventPublisher(w)

	product := &models.Product{ID: 3, SKU: "MUG-CERAMIC", Name: "Mug", StockQuantity: 2}
	require.NoError(t, p.StockLow(context.Background(), models.NewStockLowEvent(product, 5)))
	assert.Equal(t, "product-MUG-CERAMIC", w.messages[0].key)
	assert.Equal(t, models.EventTypeStockLow, w.messages[0].eventType)
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRoutesByType(t *testing.T) {
	h := NewEventHandler()
	var orders []*models.OrderEvent
	var alerts []*models.StockLowEvent
	h.OnOrderEvent(func(ctx context.Context, e *models.OrderEvent) error {
		orders = append(orders, e)
		return nil
	})
	h.OnStockLow(func(ctx context.Context, e *models.StockLowEvent) error {
		alerts = append(alerts, e)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, h.HandleMessage(ctx, message(t, models.NewOrderEvent(models.EventTypeOrderDelivered, testOrder(), ""))))
	require.NoError(t, h.HandleMessage(ctx, message(t, models.NewStockLowEvent(&models.Product{SKU: "X", StockQuantity: 1}, 5))))
	require.NoError(t, h.HandleMessage(ctx, message(t, map[string]string{"event_type": "catalog.updated"})))

	require.Len(t, orders, 1)
	assert.Equal(t, models.EventTypeOrderDelivered, orders[0].EventType)
	assert.Equal(t, "ORD-20260101-000005", orders[0].OrderNumber)
	assert.True(t, orders[0].GrandTotal.Equal(decimal.RequireFromString("1294.46")))
	require.Len(t, alerts, 1)
	assert.Equal(t, 1, alerts[0].Stock)

	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte("{")}))
}

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(models.EventTypeOrderCreated)}}}
	carrier := headerCarrier{headers: &msg.Headers}

	carrier.Set("traceparent", "00-abc-def-01")
	carrier.Set("traceparent", "00-123-456-01")

	assert.Equal(t, models.EventTypeOrderCreated, EventType(msg))
	assert.Equal(t, "00-123-456-01", carrier.Get("traceparent"))
	assert.ElementsMatch(t, []string{eventTypeHeader, "traceparent"}, carrier.Keys())
	assert.Empty(t, EventType(kafka.Message{}))
}
