package store

import (
	"context"

	"fulfillment-service/internal/models"
)

// GetCartItems returns the user's cart lines
func (s *Store) GetCartItems(ctx context.Context, userID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT user_id, product_id, quantity FROM cart_items WHERE user_id = $1 ORDER BY product_id", userID)
	return items, err
}

// ClearCart empties the user's cart
func (s *Store) ClearCart(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}

// GetAddressByID retrieves a saved address
func (s *Store) GetAddressByID(ctx context.Context, id int64) (*models.Address, error) {
	var addr models.Address
	err := s.db.GetContext(ctx, &addr, "SELECT * FROM addresses WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &addr, nil
}

// GetDefaultAddress retrieves the user's default address of the given kind
func (s *Store) GetDefaultAddress(ctx context.Context, userID int64, kind string) (*models.Address, error) {
	var addr models.Address
	err := s.db.GetContext(ctx, &addr, `
		SELECT * FROM addresses
		WHERE user_id = $1 AND kind = $2
		ORDER BY is_default DESC, id
		LIMIT 1`, userID, kind)
	if err != nil {
		return nil, notFound(err)
	}
	return &addr, nil
}
