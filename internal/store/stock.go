package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// DebitStock removes mv.Quantity units from a product, refusing to go below zero.
// The stock change, the derived stock status and the movement row commit together.
func (s *Store) DebitStock(ctx context.Context, mv *models.StockMovement, lowStockThreshold int) (*models.Product, error) {
	var product models.Product
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &product, `
			UPDATE products
			SET stock_quantity = stock_quantity - $1, updated_at = NOW()
			WHERE id = $2 AND stock_quantity >= $1
			RETURNING *`, mv.Quantity, mv.ProductID)
		if err != nil {
			if notFound(err) != ErrNotFound {
				return fmt.Errorf("failed to debit stock: %w", err)
			}
			var exists bool
			if err := tx.GetContext(ctx, &exists,
				"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", mv.ProductID); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrInsufficientStock
		}

		mv.NewStock = product.StockQuantity
		mv.PreviousStock = product.StockQuantity + mv.Quantity
		return applyMovement(ctx, tx, &product, mv, lowStockThreshold)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// CreditStock adds mv.Quantity units to a product.
func (s *Store) CreditStock(ctx context.Context, mv *models.StockMovement, lowStockThreshold int) (*models.Product, error) {
	var product models.Product
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &product, `
			UPDATE products
			SET stock_quantity = stock_quantity + $1, updated_at = NOW()
			WHERE id = $2
			RETURNING *`, mv.Quantity, mv.ProductID)
		if err != nil {
			return notFound(err)
		}

		mv.NewStock = product.StockQuantity
		mv.PreviousStock = product.StockQuantity - mv.Quantity
		return applyMovement(ctx, tx, &product, mv, lowStockThreshold)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func applyMovement(ctx context.Context, tx *sqlx.Tx, product *models.Product, mv *models.StockMovement, lowStockThreshold int) error {
	status := models.DeriveStockStatus(product.StockQuantity, lowStockThreshold)
	if status != product.StockStatus {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock_status = $1 WHERE id = $2", status, product.ID); err != nil {
			return fmt.Errorf("failed to update stock status: %w", err)
		}
		product.StockStatus = status
	}

	query := `
		INSERT INTO stock_movements (product_id, type, quantity, previous_stock, new_stock, reason, order_id, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := tx.QueryRowxContext(ctx, query,
		mv.ProductID, mv.Type, mv.Quantity, mv.PreviousStock, mv.NewStock, mv.Reason, mv.OrderID, mv.Actor,
	).Scan(&mv.ID, &mv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record stock movement: %w", err)
	}
	return nil
}

// ListMovements returns a product's stock history, oldest first
func (s *Store) ListMovements(ctx context.Context, productID int64) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM stock_movements WHERE product_id = $1 ORDER BY id", productID)
	return movements, err
}
