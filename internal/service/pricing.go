package service

import (
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PricingRules holds the shipping tiers and tax rate applied at checkout.
type PricingRules struct {
	FreeShippingThreshold  decimal.Decimal
	MetroShippingCharge    decimal.Decimal
	StandardShippingCharge decimal.Decimal
	MetroPostcodePrefixes  []string
	TaxRatePercent         decimal.Decimal
}

func DefaultPricingRules() PricingRules {
	return PricingRules{
		FreeShippingThreshold:  decimal.NewFromInt(999),
		MetroShippingCharge:    decimal.NewFromInt(49),
		StandardShippingCharge: decimal.NewFromInt(79),
		MetroPostcodePrefixes:  []string{"110", "400", "560", "600", "700", "500"},
		TaxRatePercent:         decimal.NewFromInt(18),
	}
}

// PriceBreakdown is the pricing snapshot stored on an order.
type PriceBreakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	ShippingCharge decimal.Decimal `json:"shipping_charge"`
	Tax            decimal.Decimal `json:"tax"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
}

// ShippingCharge picks the shipping tier for the discounted subtotal and destination.
func (r PricingRules) ShippingCharge(afterDiscount decimal.Decimal, postalCode string) decimal.Decimal {
	if afterDiscount.GreaterThanOrEqual(r.FreeShippingThreshold) {
		return decimal.Zero
	}
	postalCode = strings.TrimSpace(postalCode)
	for _, prefix := range r.MetroPostcodePrefixes {
		if prefix != "" && strings.HasPrefix(postalCode, prefix) {
			return r.MetroShippingCharge
		}
	}
	return r.StandardShippingCharge
}

// Price computes the full breakdown. Amounts are rounded half-up to paise.
func (r PricingRules) Price(subtotal, discount decimal.Decimal, postalCode string) PriceBreakdown {
	subtotal = subtotal.Round(2)
	discount = decimal.Min(discount, subtotal).Round(2)
	afterDiscount := subtotal.Sub(discount)

	shipping := r.ShippingCharge(afterDiscount, postalCode).Round(2)
	tax := afterDiscount.Mul(r.TaxRatePercent).Div(hundred).Round(2)

	return PriceBreakdown{
		Subtotal:       subtotal,
		Discount:       discount,
		ShippingCharge: shipping,
		Tax:            tax,
		GrandTotal:     afterDiscount.Add(shipping).Add(tax),
	}
}

// LineTotal is unit price times quantity.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// ValidateCoupon checks that c can be applied by a user who has redeemed it
// userRedemptions times to a cart worth subtotal.
func ValidateCoupon(c *models.Coupon, subtotal decimal.Decimal, userRedemptions int, now time.Time) error {
	switch {
	case !c.Active:
		return apperr.Validation("coupon %s is not active", c.Code)
	case now.Before(c.ValidFrom):
		return apperr.Validation("coupon %s is not valid yet", c.Code)
	case now.After(c.ValidUntil):
		return apperr.Validation("coupon %s has expired", c.Code)
	case c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit:
		return apperr.Validation("coupon %s has reached its usage limit", c.Code)
	case c.PerUserLimit > 0 && userRedemptions >= c.PerUserLimit:
		return apperr.Validation("coupon %s already used", c.Code)
	case subtotal.LessThan(c.MinPurchase):
		return apperr.Validation("coupon %s needs a minimum purchase of %s", c.Code, c.MinPurchase.StringFixed(2))
	}
	if c.Type != models.CouponPercentage && c.Type != models.CouponFixed {
		return apperr.Validation("coupon %s has unknown type %q", c.Code, c.Type)
	}
	return nil
}

// CouponDiscount is the discount c gives on subtotal, never more than the subtotal.
func CouponDiscount(c *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.Type {
	case models.CouponPercentage:
		discount = subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscount.IsPositive() {
			discount = decimal.Min(discount, c.MaxDiscount)
		}
	case models.CouponFixed:
		discount = c.Value
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, subtotal).Round(2)
}
