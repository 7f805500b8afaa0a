package service

import (
	"context"
	"testing"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onlineTotalPaise int64 = 129446

func TestCaptureSchedulesShipmentOnce(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)

	body := paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0)
	require.NoError(t, h.deliver(t, body, "evt_1"))
	// a distinct delivery of the same fact
	require.NoError(t, h.deliver(t, body, "evt_2"))

	stored := h.order(order.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, "pay_1", stored.GatewayPaymentID)
	assert.NotNil(t, stored.PaidAt)

	tasks := h.store.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskCreateShipment, tasks[0].Kind)
	assert.Equal(t, order.ID, tasks[0].OrderID)
	assert.Equal(t, 1, h.events.Count(models.EventTypePaymentReceived))

	// shipment creation is left to the outbox worker
	assert.Empty(t, h.carrier.CreateCalls)

	for _, w := range h.store.Webhooks() {
		assert.True(t, w.Processed)
		assert.True(t, w.SignatureValid)
	}
}

func TestDuplicateDeliveryIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	body := paymentWebhook(t, gateway.EventOrderPaid, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0)

	require.NoError(t, h.deliver(t, body, ""))
	version := h.order(order.ID).Version
	require.NoError(t, h.deliver(t, body, ""))

	webhooks := h.store.Webhooks()
	require.Len(t, webhooks, 2)
	assert.Equal(t, webhooks[0].EventID, webhooks[1].EventID)
	assert.Len(t, webhooks[0].EventID, 64)
	assert.False(t, webhooks[1].Processed)
	assert.Equal(t, version, h.order(order.ID).Version)
}

func TestWebhookWithBadSignatureIsRecordedAndRejected(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	body := paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0)

	err := h.payments.HandleWebhook(context.Background(), body, "deadbeef", "evt_forged")
	assert.ErrorIs(t, err, apperr.ErrSignature)
	assert.Equal(t, 400, apperr.HTTPStatus(err))

	webhooks := h.store.Webhooks()
	require.Len(t, webhooks, 1)
	assert.False(t, webhooks[0].SignatureValid)
	assert.False(t, webhooks[0].Processed)
	assert.Equal(t, models.PaymentStatusPending, h.order(order.ID).PaymentStatus)
	assert.Empty(t, h.store.Tasks())
}

func TestLateFailureNeverDowngradesCapture(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0), "evt_1"))
	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentFailed, order.GatewayOrderID, "pay_0", onlineTotalPaise, 0), "evt_2"))

	assert.Equal(t, models.PaymentStatusPaid, h.order(order.ID).PaymentStatus)
	assert.Zero(t, h.events.Count(models.EventTypePaymentFailed))
}

func TestAuthorizeFailCapture(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentAuthorized, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0), "evt_1"))
	assert.Equal(t, models.PaymentStatusProcessing, h.order(order.ID).PaymentStatus)

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentFailed, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0), "evt_2"))
	assert.Equal(t, models.PaymentStatusFailed, h.order(order.ID).PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, h.order(order.ID).Status)
	assert.Equal(t, 1, h.events.Count(models.EventTypePaymentFailed))

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_2", onlineTotalPaise, 0), "evt_3"))
	stored := h.order(order.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, "pay_2", stored.GatewayPaymentID)
}

func TestRefundEventsTrackCumulativeAmount(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0), "evt_1"))

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventRefundProcessed, order.GatewayOrderID, "pay_1", onlineTotalPaise, 50000), "evt_2"))
	stored := h.order(order.ID)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, stored.PaymentStatus)
	assert.Equal(t, "500.00", stored.RefundedAmount.StringFixed(2))

	// an older partial refund arriving late changes nothing
	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventRefundCreated, order.GatewayOrderID, "pay_1", onlineTotalPaise, 20000), "evt_3"))
	assert.Equal(t, "500.00", h.order(order.ID).RefundedAmount.StringFixed(2))

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventRefundProcessed, order.GatewayOrderID, "pay_1", onlineTotalPaise, onlineTotalPaise), "evt_4"))
	stored = h.order(order.ID)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)
	// confirmed -> refunded is not an order edge; only the payment axis moves
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, 2, h.events.Count(models.EventTypeRefundProcessed))
}

func TestFullRefundOfDeliveredOrderRefundsOrder(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0), "evt_1"))
	h.store.BumpVersion(order.ID, func(o *models.Order) { o.Status = models.OrderStatusDelivered })

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventRefundProcessed, order.GatewayOrderID, "pay_1", onlineTotalPaise, onlineTotalPaise), "evt_2"))
	assert.Equal(t, models.OrderStatusRefunded, h.order(order.ID).Status)
}

func TestWebhookForUnknownOrderIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	body := paymentWebhook(t, gateway.EventPaymentCaptured, "order_unknown", "pay_x", 1000, 0)

	require.NoError(t, h.deliver(t, body, "evt_1"))
	webhooks := h.store.Webhooks()
	require.Len(t, webhooks, 1)
	assert.True(t, webhooks[0].Processed)
	assert.Empty(t, h.store.Tasks())
}

func TestMalformedWebhookIsKeptForAudit(t *testing.T) {
	h := newHarness(t)
	body := []byte("not json")

	require.NoError(t, h.deliver(t, body, "evt_1"))
	webhooks := h.store.Webhooks()
	require.Len(t, webhooks, 1)
	assert.JSONEq(t, `"not json"`, string(webhooks[0].Payload))
	assert.NotEmpty(t, webhooks[0].ProcessingError)
}

func TestCaptureOfCancelledOrderSchedulesNothing(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	_, err := h.orders.CancelOrder(context.Background(), order.ID, "customer request", "admin")
	require.NoError(t, err)

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0), "evt_1"))
	stored := h.order(order.ID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Empty(t, h.store.Tasks())
}

func TestVerifyPaymentCapturesAuthorizedPayment(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	h.gateway.AddPayment(gateway.Payment{
		ID: "pay_9", OrderID: order.GatewayOrderID, Amount: onlineTotalPaise,
		Currency: "INR", Status: gateway.PaymentAuthorized,
	})
	sig := gateway.ComputeSignature(testKeySecret, gateway.PaymentSignatureMessage(order.GatewayOrderID, "pay_9"))

	updated, err := h.payments.VerifyPayment(context.Background(), order.GatewayOrderID, "pay_9", sig)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, updated.PaymentStatus)
	assert.Equal(t, models.OrderStatusConfirmed, updated.Status)
	assert.Equal(t, []string{"pay_9"}, h.gateway.CaptureCalls)
	assert.Len(t, h.store.Tasks(), 1)

	// the capture webhook that follows is a no-op
	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_9", onlineTotalPaise, 0), "evt_1"))
	assert.Len(t, h.store.Tasks(), 1)
	assert.Equal(t, 1, h.events.Count(models.EventTypePaymentReceived))
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)

	_, err := h.payments.VerifyPayment(context.Background(), order.GatewayOrderID, "pay_9", "00")
	assert.ErrorIs(t, err, apperr.ErrSignature)
	assert.Empty(t, h.gateway.CaptureCalls)
	assert.Equal(t, models.PaymentStatusPending, h.order(order.ID).PaymentStatus)
}

func TestRefundOrder(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	h.gateway.AddPayment(gateway.Payment{
		ID: "pay_1", OrderID: order.GatewayOrderID, Amount: onlineTotalPaise,
		Currency: "INR", Status: gateway.PaymentCaptured,
	})

	_, err := h.payments.RefundOrder(context.Background(), order.ID, decimal.NewFromInt(100), "damaged")
	assert.ErrorIs(t, err, apperr.ErrValidation, "unpaid orders cannot be refunded")

	require.NoError(t, h.deliver(t, paymentWebhook(t, gateway.EventPaymentCaptured, order.GatewayOrderID, "pay_1", onlineTotalPaise, 0), "evt_1"))

	updated, err := h.payments.RefundOrder(context.Background(), order.ID, decimal.NewFromInt(200), "damaged")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartiallyRefunded, updated.PaymentStatus)
	assert.Equal(t, "200.00", updated.RefundedAmount.StringFixed(2))
	assert.Equal(t, []int64{20000}, h.gateway.RefundCalls)

	_, err = h.payments.RefundOrder(context.Background(), order.ID, decimal.NewFromInt(2000), "too much")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = h.payments.RefundOrder(context.Background(), order.ID, decimal.Zero, "nothing")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
