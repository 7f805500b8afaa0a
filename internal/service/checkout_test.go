package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutCODBooksShipment(t *testing.T) {
	h := newHarness(t)
	h.store.AddCartItem(testUserID, h.tshirt.ID, 2)

	result := h.place(t, models.PaymentMethodCOD)
	order := result.Order

	assert.Equal(t, models.PaymentMethodCOD, order.PaymentMethod)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.True(t, order.Balanced())
	assert.Equal(t, "998.00", order.Subtotal.StringFixed(2))
	assert.Equal(t, "49.00", order.ShippingCharge.StringFixed(2))
	assert.Equal(t, "179.64", order.Tax.StringFixed(2))
	assert.Equal(t, "1226.64", order.GrandTotal.StringFixed(2))

	require.NotNil(t, result.Shipment)
	assert.True(t, result.Shipment.Success)
	assert.Equal(t, "AWB9001", order.AWBCode)
	assert.Equal(t, "Economy", order.CourierName)
	assert.Equal(t, "https://track.example/AWB9001", order.TrackingURL)
	assert.Equal(t, models.ShippingStatusConfirmed, order.ShippingStatus)

	require.Len(t, h.carrier.CreateCalls, 1)
	assert.Equal(t, carrier.PaymentCOD, h.carrier.CreateCalls[0].PaymentMethod)
	assert.Equal(t, order.OrderNumber, h.carrier.CreateCalls[0].OrderID)
	assert.InDelta(t, 0.8, h.carrier.CreateCalls[0].Weight, 0.001)
	assert.Empty(t, h.gateway.CreateOrderCalls)

	assert.Equal(t, 8, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Empty(t, h.store.CartItems(testUserID))
	assert.Equal(t, 1, h.events.Count(models.EventTypeOrderCreated))
	assert.NoError(t, h.ledger.Reconcile(context.Background(), h.tshirt.ID))
	assert.False(t, h.redis.Held("checkout:user:7"))
}

func TestCheckoutOnlineOpensGatewayOrder(t *testing.T) {
	h := newHarness(t)
	order := h.placeOnline(t)

	assert.Equal(t, "0.00", order.ShippingCharge.StringFixed(2))
	assert.Equal(t, "197.46", order.Tax.StringFixed(2))
	assert.Equal(t, "1294.46", order.GrandTotal.StringFixed(2))
	assert.Equal(t, "order_mock1", order.GatewayOrderID)
	assert.Equal(t, "order_mock1", h.order(order.ID).GatewayOrderID)

	require.Len(t, h.gateway.CreateOrderCalls, 1)
	call := h.gateway.CreateOrderCalls[0]
	assert.Equal(t, int64(129446), call.Amount)
	assert.Equal(t, order.OrderNumber, call.Receipt)
	assert.Equal(t, order.OrderNumber, call.Notes["order_number"])

	assert.Empty(t, h.carrier.CreateCalls)
	assert.Empty(t, h.store.Tasks())
	assert.Equal(t, 9, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Equal(t, 3, h.store.Product(h.mug.ID).StockQuantity)
}

func TestCheckoutGatewayFailureLeavesOrderPayable(t *testing.T) {
	h := newHarness(t)
	h.gateway.CreateOrderErr = apperr.Gateway(errors.New("timeout"), "gateway create_order")
	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)

	result := h.place(t, models.PaymentMethodOnline)
	assert.Empty(t, result.GatewayOrderID)
	assert.Equal(t, models.OrderStatusPending, h.order(result.Order.ID).Status)
}

func TestCheckoutReplaysIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
	req := CheckoutRequest{UserID: testUserID, PaymentMethod: models.PaymentMethodOnline, IdempotencyKey: "key-1"}

	first, err := h.checkout.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
	second, err := h.checkout.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Len(t, second.Items, 1)

	assert.Len(t, h.store.Orders(), 1)
	assert.Equal(t, 9, h.store.Product(h.tshirt.ID).StockQuantity)
}

func TestCheckoutRejectsKeyOfAnotherUser(t *testing.T) {
	h := newHarness(t)
	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
	_, err := h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: testUserID, PaymentMethod: models.PaymentMethodCOD, IdempotencyKey: "shared",
	})
	require.NoError(t, err)

	_, err = h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: 99, PaymentMethod: models.PaymentMethodCOD, IdempotencyKey: "shared",
	})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCheckoutPreflightFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.store.AddCartItem(testUserID, h.tshirt.ID, 2)
	h.store.AddCartItem(testUserID, h.notebook.ID, 5)

	_, err := h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: testUserID, PaymentMethod: models.PaymentMethodCOD,
	})
	require.Error(t, err)

	var stockErr *apperr.StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, h.notebook.ID, stockErr.ProductID)
	assert.Equal(t, 4, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.ErrorIs(t, err, apperr.ErrStock)

	assert.Empty(t, h.store.WriteCalls)
	assert.Empty(t, h.store.Orders())
	assert.Equal(t, 10, h.store.Product(h.tshirt.ID).StockQuantity)
}

func TestCheckoutValidation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		req     CheckoutRequest
		wantErr error
	}{
		{
			name:    "empty cart",
			req:     CheckoutRequest{UserID: testUserID, PaymentMethod: models.PaymentMethodCOD},
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "unknown payment method",
			setup:   func(h *harness) { h.store.AddCartItem(testUserID, h.tshirt.ID, 1) },
			req:     CheckoutRequest{UserID: testUserID, PaymentMethod: "wire"},
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "zero quantity",
			setup:   func(h *harness) { h.store.AddCartItem(testUserID, h.tshirt.ID, 0) },
			req:     CheckoutRequest{UserID: testUserID, PaymentMethod: models.PaymentMethodCOD},
			wantErr: apperr.ErrValidation,
		},
		{
			name:    "missing product",
			setup:   func(h *harness) { h.store.AddCartItem(testUserID, 12345, 1) },
			req:     CheckoutRequest{UserID: testUserID, PaymentMethod: models.PaymentMethodCOD},
			wantErr: apperr.ErrNotFound,
		},
		{
			name:    "no address",
			setup:   func(h *harness) { h.store.AddCartItem(42, h.tshirt.ID, 1) },
			req:     CheckoutRequest{UserID: 42, PaymentMethod: models.PaymentMethodCOD},
			wantErr: apperr.ErrValidation,
		},
		{
			name: "address of another user",
			setup: func(h *harness) {
				h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
				h.store.AddAddress(models.Address{ID: 500, UserID: 8, Name: "Other", Line1: "x", City: "y", State: "z", PostalCode: "400001"})
			},
			req:     CheckoutRequest{UserID: testUserID, PaymentMethod: models.PaymentMethodCOD, ShippingAddressID: 500},
			wantErr: apperr.ErrAuthorization,
		},
		{
			name:    "unknown coupon",
			setup:   func(h *harness) { h.store.AddCartItem(testUserID, h.tshirt.ID, 1) },
			req:     CheckoutRequest{UserID: testUserID, PaymentMethod: models.PaymentMethodCOD, CouponCode: "NOPE"},
			wantErr: apperr.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.checkout.CreateOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.store.Orders())
		})
	}
}

func TestCheckoutCompensatesOnLateFailure(t *testing.T) {
	h := newHarness(t)
	h.store.AddCartItem(testUserID, h.tshirt.ID, 2)
	h.store.AddCartItem(testUserID, h.mug.ID, 1)
	h.store.FailOn("CreateOrderAddress", errors.New("connection reset"))

	_, err := h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: testUserID, PaymentMethod: models.PaymentMethodOnline,
	})
	require.Error(t, err)

	orders := h.store.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusCancelled, orders[0].Status)
	assert.True(t, strings.HasPrefix(orders[0].CancellationReason, "checkout_failed: "))
	assert.NotNil(t, orders[0].CancelledAt)

	assert.Equal(t, 10, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Equal(t, 5, h.store.Product(h.mug.ID).StockQuantity)
	assert.NoError(t, h.ledger.Reconcile(context.Background(), h.tshirt.ID))
	assert.NoError(t, h.ledger.Reconcile(context.Background(), h.mug.ID))
	assert.Len(t, h.store.AllMovements(), 4)

	assert.Empty(t, h.gateway.CreateOrderCalls)
	assert.Zero(t, h.events.Count(models.EventTypeOrderCreated))
	assert.Len(t, h.store.CartItems(testUserID), 2)
}

func TestCheckoutAppliesCoupon(t *testing.T) {
	h := newHarness(t)
	h.store.AddCoupon(models.Coupon{
		Code: "SAVE10", Type: models.CouponPercentage, Value: decimal.NewFromInt(10),
		MaxDiscount: decimal.NewFromInt(50), ValidFrom: time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour), PerUserLimit: 1, Active: true,
	})
	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
	h.store.AddCartItem(testUserID, h.mug.ID, 2)

	result, err := h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: testUserID, PaymentMethod: models.PaymentMethodOnline, CouponCode: "save10",
	})
	require.NoError(t, err)

	order := result.Order
	assert.Equal(t, "SAVE10", order.CouponCode)
	assert.Equal(t, "50.00", order.Discount.StringFixed(2))
	assert.Equal(t, "0.00", order.ShippingCharge.StringFixed(2))
	assert.Equal(t, "188.46", order.Tax.StringFixed(2))
	assert.Equal(t, "1235.46", order.GrandTotal.StringFixed(2))
	assert.Len(t, h.store.Redemptions(), 1)
	assert.Equal(t, 1, h.store.Coupon("SAVE10").UsedCount)

	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
	_, err = h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: testUserID, PaymentMethod: models.PaymentMethodOnline, CouponCode: "SAVE10",
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCheckoutReleasesStockWhenCouponRedemptionFails(t *testing.T) {
	h := newHarness(t)
	h.store.AddCoupon(models.Coupon{
		Code: "FLAT100", Type: models.CouponFixed, Value: decimal.NewFromInt(100),
		ValidFrom: time.Now().Add(-time.Hour), ValidUntil: time.Now().Add(time.Hour), Active: true,
	})
	h.store.AddCartItem(testUserID, h.tshirt.ID, 3)
	h.store.FailOn("RedeemCoupon", errors.New("deadlock detected"))

	_, err := h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: testUserID, PaymentMethod: models.PaymentMethodCOD, CouponCode: "FLAT100",
	})
	require.Error(t, err)

	assert.Equal(t, 10, h.store.Product(h.tshirt.ID).StockQuantity)
	assert.Empty(t, h.store.Redemptions())
	assert.Equal(t, models.OrderStatusCancelled, h.store.Orders()[0].Status)
	assert.Empty(t, h.carrier.CreateCalls)
}

func TestCheckoutRefusesConcurrentRun(t *testing.T) {
	h := newHarness(t)
	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
	h.redis.Hold("checkout:user:7")

	_, err := h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID: testUserID, PaymentMethod: models.PaymentMethodCOD,
	})
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.Equal(t, 409, apperr.HTTPStatus(err))
	assert.Empty(t, h.store.Orders())
}

func TestCheckoutCODShipmentFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t)
	h.carrier.CreateErr = apperr.Carrier(errors.New("503"), "carrier create_shipment")
	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)

	result := h.place(t, models.PaymentMethodCOD)
	require.NotNil(t, result.Shipment)
	assert.False(t, result.Shipment.Success)
	assert.NotEmpty(t, result.Shipment.Error)
	assert.Empty(t, result.Order.AWBCode)

	tasks := h.store.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskCreateShipment, tasks[0].Kind)
	assert.Equal(t, result.Order.ID, tasks[0].OrderID)

	h.carrier.CreateErr = nil
	require.NoError(t, h.shipping.HandleTask(context.Background(), tasks[0]))
	assert.Equal(t, "AWB9001", h.order(result.Order.ID).AWBCode)
}
