package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts a new order. The order number is drawn from a database sequence.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (
			order_number, user_id, payment_method, subtotal, discount, shipping_charge, tax,
			grand_total, currency, coupon_code, status, payment_status, shipping_status,
			idempotency_key
		)
		VALUES (
			'ORD-' || to_char(NOW(), 'YYYYMMDD') || '-' || lpad(nextval('order_number_seq')::text, 6, '0'),
			:user_id, :payment_method, :subtotal, :discount, :shipping_charge, :tax,
			:grand_total, :currency, :coupon_code, :status, :payment_status, :shipping_status,
			:idempotency_key
		)
		RETURNING id, order_number, version, created_at, updated_at`

	rows, err := sqlx.NamedQueryContext(ctx, s.db, query, order)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return fmt.Errorf("failed to insert order: no row returned")
	}
	return rows.StructScan(order)
}

// SaveOrder persists the mutable columns of order when its version still matches,
// and enqueues tasks in the same transaction.
func (s *Store) SaveOrder(ctx context.Context, order *models.Order, tasks ...models.OutboxTask) error {
	query := `
		UPDATE orders SET
			status = :status,
			payment_status = :payment_status,
			shipping_status = :shipping_status,
			gateway_order_id = :gateway_order_id,
			gateway_payment_id = :gateway_payment_id,
			refunded_amount = :refunded_amount,
			carrier_order_id = :carrier_order_id,
			carrier_shipment_id = :carrier_shipment_id,
			awb_code = :awb_code,
			courier_name = :courier_name,
			tracking_url = :tracking_url,
			tracking_number = :tracking_number,
			estimated_delivery = :estimated_delivery,
			cancellation_reason = :cancellation_reason,
			stock_restored = :stock_restored,
			paid_at = :paid_at,
			delivered_at = :delivered_at,
			cancelled_at = :cancelled_at,
			version = version + 1,
			updated_at = NOW()
		WHERE id = :id AND version = :version`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, query, order)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrConcurrentUpdate
		}

		for _, task := range tasks {
			if err := enqueueTask(ctx, tx, task); err != nil {
				return err
			}
		}

		order.Version++
		return nil
	})
}

func (s *Store) getOrder(ctx context.Context, where string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE "+where, arg)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "id = $1", id)
}

// GetOrderByNumber retrieves an order by its business key
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.getOrder(ctx, "order_number = $1", orderNumber)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key. It returns nil when none exists.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	order, err := s.getOrder(ctx, "idempotency_key = $1", key)
	if err == ErrNotFound {
		return nil, nil
	}
	return order, err
}

func (s *Store) GetOrderByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error) {
	return s.getOrder(ctx, "gateway_order_id = $1", gatewayOrderID)
}

func (s *Store) GetOrderByAWB(ctx context.Context, awb string) (*models.Order, error) {
	return s.getOrder(ctx, "awb_code = $1", awb)
}

func (s *Store) GetOrderByCarrierOrderID(ctx context.Context, carrierOrderID string) (*models.Order, error) {
	return s.getOrder(ctx, "carrier_order_id = $1", carrierOrderID)
}

func (s *Store) GetOrderByCarrierShipmentID(ctx context.Context, shipmentID string) (*models.Order, error) {
	return s.getOrder(ctx, "carrier_shipment_id = $1", shipmentID)
}

// CreateOrderItem creates a new order item
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, sku, product_name, product_image, unit_price, quantity, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query,
		item.OrderID, item.ProductID, item.SKU, item.ProductName, item.ProductImage,
		item.UnitPrice, item.Quantity, item.LineTotal).Scan(&item.ID, &item.CreatedAt)
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// CreateOrderAddress stores an address snapshot for an order
func (s *Store) CreateOrderAddress(ctx context.Context, addr *models.OrderAddress) error {
	query := `
		INSERT INTO order_addresses (order_id, kind, name, phone, email, line1, line2, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	return s.db.GetContext(ctx, &addr.ID, query,
		addr.OrderID, addr.Kind, addr.Name, addr.Phone, addr.Email, addr.Line1, addr.Line2,
		addr.City, addr.State, addr.PostalCode, addr.Country)
}

// GetOrderAddress retrieves the snapshot of the given kind
func (s *Store) GetOrderAddress(ctx context.Context, orderID int64, kind string) (*models.OrderAddress, error) {
	var addr models.OrderAddress
	err := s.db.GetContext(ctx, &addr,
		"SELECT * FROM order_addresses WHERE order_id = $1 AND kind = $2", orderID, kind)
	if err != nil {
		return nil, notFound(err)
	}
	return &addr, nil
}
