package service

import (
	"context"
	"errors"
	"testing"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// placeThreeLines books a COD order for 2 t-shirts, 1 mug and 3 notebooks.
func (h *harness) placeThreeLines(t *testing.T) *CheckoutResult {
	t.Helper()
	h.store.AddCartItem(testUserID, h.tshirt.ID, 2)
	h.store.AddCartItem(testUserID, h.mug.ID, 1)
	h.store.AddCartItem(testUserID, h.notebook.ID, 3)
	result := h.place(t, models.PaymentMethodCOD)
	require.True(t, result.Shipment.Success, result.Shipment.Error)
	return result
}

func TestCancelOrderReturnsEveryItem(t *testing.T) {
	h := newHarness(t)
	placed := h.placeThreeLines(t)
	ctx := context.Background()

	assert.Equal(t, 8, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Equal(t, 4, h.store.Product(h.mug.ID).StockQuantity)
	assert.Equal(t, 1, h.store.Product(h.notebook.ID).StockQuantity)

	cancelled, err := h.orders.CancelOrder(ctx, placed.Order.ID, "customer request", "admin:3")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "customer request", cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, models.ShippingStatusCancelled, cancelled.ShippingStatus)

	assert.Equal(t, 10, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Equal(t, 5, h.store.Product(h.mug.ID).StockQuantity)
	assert.Equal(t, 4, h.store.Product(h.notebook.ID).StockQuantity)

	var credits []models.StockMovement
	for _, mv := range h.store.AllMovements() {
		if mv.Type == models.MovementStockIn {
			credits = append(credits, mv)
		}
	}
	require.Len(t, credits, 3)
	for _, mv := range credits {
		require.NotNil(t, mv.OrderID)
		assert.Equal(t, placed.Order.ID, *mv.OrderID)
		assert.Equal(t, "admin:3", mv.Actor)
		assert.Equal(t, "order cancelled", mv.Reason)
	}

	for _, p := range []*models.Product{h.tshirt, h.mug, h.notebook} {
		assert.NoError(t, h.ledger.Reconcile(ctx, p.ID))
	}

	assert.Equal(t, []string{"5001"}, h.carrier.CancelCalls)
	assert.Equal(t, 1, h.events.Count(models.EventTypeOrderCancelled))
	assert.Empty(t, h.store.Tasks())
}

func TestCancelOrderTwiceIsNoOp(t *testing.T) {
	h := newHarness(t)
	placed := h.placeThreeLines(t)
	ctx := context.Background()

	_, err := h.orders.CancelOrder(ctx, placed.Order.ID, "first", "admin")
	require.NoError(t, err)
	movements := len(h.store.AllMovements())

	again, err := h.orders.CancelOrder(ctx, placed.Order.ID, "second", "admin")
	require.NoError(t, err)
	assert.Equal(t, "first", again.CancellationReason)
	assert.Len(t, h.store.AllMovements(), movements)
	assert.Equal(t, 10, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Len(t, h.carrier.CancelCalls, 1)
	assert.Equal(t, 1, h.events.Count(models.EventTypeOrderCancelled))
}

func TestCancelShippedOrderIsRejected(t *testing.T) {
	h := newHarness(t)
	placed := h.placeThreeLines(t)
	h.store.BumpVersion(placed.Order.ID, func(o *models.Order) { o.Status = models.OrderStatusShipped })

	_, err := h.orders.CancelOrder(context.Background(), placed.Order.ID, "too late", "admin")
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, 409, apperr.HTTPStatus(err))

	assert.Equal(t, models.OrderStatusShipped, h.order(placed.Order.ID).Status)
	assert.Equal(t, 8, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Empty(t, h.carrier.CancelCalls)
}

func TestCancelOrderWithInvalidQuantity(t *testing.T) {
	h := newHarness(t)
	placed := h.placeThreeLines(t)
	h.store.PutOrderItems(placed.Order.ID, []models.OrderItem{
		{ID: 1, OrderID: placed.Order.ID, ProductID: h.tshirt.ID, Quantity: 0},
	})

	_, err := h.orders.CancelOrder(context.Background(), placed.Order.ID, "bad data", "admin")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, models.OrderStatusPending, h.order(placed.Order.ID).Status)
}

func TestCancelOrderSchedulesCarrierRetry(t *testing.T) {
	h := newHarness(t)
	placed := h.placeThreeLines(t)
	h.carrier.CancelErr = errors.New("carrier unavailable")

	cancelled, err := h.orders.CancelOrder(context.Background(), placed.Order.ID, "customer request", "admin")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.ShippingStatusConfirmed, cancelled.ShippingStatus)

	tasks := h.store.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskCancelShipment, tasks[0].Kind)

	h.carrier.CancelErr = nil
	require.NoError(t, h.shipping.HandleTask(context.Background(), tasks[0]))
	assert.Equal(t, models.ShippingStatusCancelled, h.order(placed.Order.ID).ShippingStatus)
}

func TestCancelOrderReportsStockFailures(t *testing.T) {
	h := newHarness(t)
	placed := h.placeThreeLines(t)
	h.store.FailOn("CreditStock", errors.New("connection reset"))

	cancelled, err := h.orders.CancelOrder(context.Background(), placed.Order.ID, "customer request", "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fully returned")
	require.NotNil(t, cancelled)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}

func TestCancelUnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.orders.CancelOrder(context.Background(), 4242, "nope", "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetOrderIncludesSnapshots(t *testing.T) {
	h := newHarness(t)
	placed := h.placeThreeLines(t)
	ctx := context.Background()

	details, err := h.orders.GetOrder(ctx, placed.Order.ID)
	require.NoError(t, err)
	assert.Len(t, details.Items, 3)
	require.NotNil(t, details.ShippingAddress)
	assert.Equal(t, "560001", details.ShippingAddress.PostalCode)
	require.NotNil(t, details.BillingAddress)

	byNumber, err := h.orders.GetOrderByNumber(ctx, placed.Order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, placed.Order.ID, byNumber.Order.ID)

	_, err = h.orders.GetOrder(ctx, 4242)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelRestocksOrderCancelledWithoutCompensation(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)
	ctx := context.Background()
	require.Equal(t, 9, h.store.Product(h.tshirt.ID).StockQuantity)

	// cancelled by a writer that never returned the stock
	h.store.BumpVersion(order.ID, func(o *models.Order) { o.Status = models.OrderStatusCancelled })

	restocked, err := h.orders.CancelOrder(ctx, order.ID, "cleanup", "admin:2")
	require.NoError(t, err)
	assert.True(t, restocked.StockRestored)
	assert.Equal(t, 10, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Equal(t, 5, h.store.Product(h.mug.ID).StockQuantity)
	assert.Zero(t, h.events.Count(models.EventTypeOrderCancelled))

	_, err = h.orders.CancelOrder(ctx, order.ID, "cleanup", "admin:2")
	require.NoError(t, err)
	assert.Equal(t, 10, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.NoError(t, h.ledger.Reconcile(ctx, h.mug.ID))
}
