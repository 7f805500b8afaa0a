package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDeriveStockStatus(t *testing.T) {
	assert.Equal(t, StockStatusOutOfStock, DeriveStockStatus(0, 5))
	assert.Equal(t, StockStatusLowStock, DeriveStockStatus(1, 5))
	assert.Equal(t, StockStatusLowStock, DeriveStockStatus(5, 5))
	assert.Equal(t, StockStatusInStock, DeriveStockStatus(6, 5))
}

func TestShippingStatusCanFollow(t *testing.T) {
	tests := []struct {
		current, next ShippingStatus
		want          bool
	}{
		{ShippingStatusPending, ShippingStatusConfirmed, true},
		{ShippingStatusConfirmed, ShippingStatusShipped, true},
		{ShippingStatusShipped, ShippingStatusDelivered, true},
		{ShippingStatusDelivered, ShippingStatusShipped, false},
		{ShippingStatusOutForDelivery, ShippingStatusShipped, false},
		{ShippingStatusShipped, ShippingStatusShipped, false},
		{ShippingStatusShipped, ShippingStatusCancelled, true},
		{ShippingStatusDelivered, ShippingStatusCancelled, false},
		{ShippingStatusDelivered, ShippingStatusReturned, true},
		{ShippingStatusCancelled, ShippingStatusReturned, true},
		{ShippingStatusCancelled, ShippingStatusShipped, false},
		{ShippingStatusReturned, ShippingStatusDelivered, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.next.CanFollow(tt.current), "%s -> %s", tt.current, tt.next)
	}
}

func TestOrderBalanced(t *testing.T) {
	o := &Order{
		Subtotal:       decimal.RequireFromString("1200.00"),
		Discount:       decimal.RequireFromString("100.00"),
		ShippingCharge: decimal.Zero,
		Tax:            decimal.RequireFromString("198.00"),
		GrandTotal:     decimal.RequireFromString("1298.00"),
	}
	assert.True(t, o.Balanced())

	o.GrandTotal = decimal.RequireFromString("1298.05")
	assert.False(t, o.Balanced())
}

func TestPaymentStatusSettled(t *testing.T) {
	assert.True(t, PaymentStatusPaid.Settled())
	assert.True(t, PaymentStatusPartiallyRefunded.Settled())
	assert.False(t, PaymentStatusProcessing.Settled())
	assert.False(t, PaymentStatusFailed.Settled())
}
