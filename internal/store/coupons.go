package store

import (
	"context"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCouponByCode retrieves a coupon, matching the code case-insensitively
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon,
		"SELECT * FROM coupons WHERE code = $1", strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, notFound(err)
	}
	return &coupon, nil
}

// CountCouponRedemptions counts how often a user has redeemed a coupon
func (s *Store) CountCouponRedemptions(ctx context.Context, couponID, userID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2", couponID, userID)
	return n, err
}

// RedeemCoupon records a redemption and bumps the usage counter while the limit allows it
func (s *Store) RedeemCoupon(ctx context.Context, redemption *models.CouponRedemption) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE coupons SET used_count = used_count + 1
			WHERE id = $1 AND (usage_limit = 0 OR used_count < usage_limit)`, redemption.CouponID)
		if err != nil {
			return fmt.Errorf("failed to update coupon usage: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrCouponExhausted
		}

		return tx.QueryRowxContext(ctx, `
			INSERT INTO coupon_redemptions (coupon_id, user_id, order_id)
			VALUES ($1, $2, $3)
			RETURNING id, created_at`,
			redemption.CouponID, redemption.UserID, redemption.OrderID,
		).Scan(&redemption.ID, &redemption.CreatedAt)
	})
}

// DeleteCouponRedemption undoes the redemption recorded for an order
func (s *Store) DeleteCouponRedemption(ctx context.Context, orderID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var couponIDs []int64
		err := tx.SelectContext(ctx, &couponIDs,
			"DELETE FROM coupon_redemptions WHERE order_id = $1 RETURNING coupon_id", orderID)
		if err != nil {
			return fmt.Errorf("failed to delete coupon redemption: %w", err)
		}
		for _, id := range couponIDs {
			if _, err := tx.ExecContext(ctx,
				"UPDATE coupons SET used_count = GREATEST(used_count - 1, 0) WHERE id = $1", id); err != nil {
				return err
			}
		}
		return nil
	})
}
