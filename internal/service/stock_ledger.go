package service

import (
	"context"
	"errors"
	"fmt"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type stockStore interface {
	ProductRepository
	StockRepository
}

// StockLedger is the only writer of product stock. Every change is paired with exactly
// one movement row.
type StockLedger struct {
	repo              stockStore
	alerts            StockAlertSink
	lowStockThreshold int
	logger            *zap.Logger
}

func NewStockLedger(repo stockStore, alerts StockAlertSink, lowStockThreshold int) *StockLedger {
	return &StockLedger{
		repo:              repo,
		alerts:            alerts,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

// MovementRef ties a movement to its cause.
type MovementRef struct {
	OrderID int64
	Actor   string
}

func (r MovementRef) orderID() *int64 {
	if r.OrderID == 0 {
		return nil
	}
	id := r.OrderID
	return &id
}

func (r MovementRef) actor() string {
	if r.Actor == "" {
		return "system"
	}
	return r.Actor
}

// Debit removes qty units. It fails with a StockError rather than let stock go negative.
func (l *StockLedger) Debit(ctx context.Context, productID int64, qty int, reason string, ref MovementRef) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Debit",
		attribute.Int64("product_id", productID), attribute.Int("quantity", qty))
	defer span.End()

	if qty <= 0 {
		return nil, apperr.Validation("debit quantity must be positive, got %d", qty)
	}

	mv := &models.StockMovement{
		ProductID: productID,
		Type:      models.MovementStockOut,
		Quantity:  qty,
		Reason:    reason,
		OrderID:   ref.orderID(),
		Actor:     ref.actor(),
	}

	product, err := l.repo.DebitStock(ctx, mv, l.lowStockThreshold)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.NotFound("product %d not found", productID)
	case errors.Is(err, store.ErrInsufficientStock):
		util.StockInsufficientTotal.Inc()
		stockErr := &apperr.StockError{ProductID: productID, Requested: qty}
		if current, lookupErr := l.repo.GetProductByID(ctx, productID); lookupErr == nil {
			stockErr.SKU = current.SKU
			stockErr.Available = current.StockQuantity
		}
		return nil, stockErr
	case err != nil:
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to debit product %d: %w", productID, err)
	}

	util.StockMovementsTotal.WithLabelValues(string(mv.Type)).Inc()
	l.logger.Info("Stock debited",
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int("new_stock", mv.NewStock),
		zap.String("reason", reason))

	if product.StockStatus == models.StockStatusLowStock && l.alerts != nil {
		if err := l.alerts.StockLow(ctx, models.NewStockLowEvent(product, l.lowStockThreshold)); err != nil {
			l.logger.Error("Failed to publish low stock alert",
				zap.Int64("product_id", productID), zap.Error(err))
		}
	}

	return mv, nil
}

// Credit adds qty units back as stock_in.
func (l *StockLedger) Credit(ctx context.Context, productID int64, qty int, reason string, ref MovementRef) (*models.StockMovement, error) {
	return l.CreditAs(ctx, models.MovementStockIn, productID, qty, reason, ref)
}

// CreditAs adds qty units with an explicit inbound movement type (e.g. return).
func (l *StockLedger) CreditAs(ctx context.Context, movementType models.MovementType, productID int64, qty int, reason string, ref MovementRef) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Credit",
		attribute.Int64("product_id", productID), attribute.Int("quantity", qty))
	defer span.End()

	if qty <= 0 {
		return nil, apperr.Validation("credit quantity must be positive, got %d", qty)
	}
	if movementType.Outbound() {
		return nil, apperr.Validation("%s is not an inbound movement", movementType)
	}

	mv := &models.StockMovement{
		ProductID: productID,
		Type:      movementType,
		Quantity:  qty,
		Reason:    reason,
		OrderID:   ref.orderID(),
		Actor:     ref.actor(),
	}

	if _, err := l.repo.CreditStock(ctx, mv, l.lowStockThreshold); err != nil {
		util.RecordError(span, err)
		return nil, lookupError(err, "product %d", productID)
	}

	util.StockMovementsTotal.WithLabelValues(string(mv.Type)).Inc()
	l.logger.Info("Stock credited",
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int("new_stock", mv.NewStock),
		zap.String("reason", reason))

	return mv, nil
}

// RestockItems credits every order line back with its exact quantity. A failed line does
// not stop the others; the failures come back joined.
func (l *StockLedger) RestockItems(ctx context.Context, movementType models.MovementType, items []models.OrderItem, reason string, ref MovementRef) error {
	var errs []error
	for _, item := range items {
		if _, err := l.CreditAs(ctx, movementType, item.ProductID, item.Quantity, reason, ref); err != nil {
			l.logger.Error("Failed to return stock for order",
				zap.Int64("order_id", ref.OrderID),
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Movements returns the product's stock history, oldest first.
func (l *StockLedger) Movements(ctx context.Context, productID int64) ([]models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "StockLedger.Movements")
	defer span.End()

	if _, err := l.repo.GetProductByID(ctx, productID); err != nil {
		return nil, lookupError(err, "product %d", productID)
	}
	return l.repo.ListMovements(ctx, productID)
}

// ErrLedgerMismatch means the movement history does not add up to the stored stock.
var ErrLedgerMismatch = errors.New("stock ledger mismatch")

// Reconcile replays the movement history and checks it against the stored quantity.
func (l *StockLedger) Reconcile(ctx context.Context, productID int64) error {
	ctx, span := util.StartSpan(ctx, "StockLedger.Reconcile")
	defer span.End()

	product, err := l.repo.GetProductByID(ctx, productID)
	if err != nil {
		return lookupError(err, "product %d", productID)
	}
	movements, err := l.repo.ListMovements(ctx, productID)
	if err != nil {
		return err
	}
	if len(movements) == 0 {
		return nil
	}

	stock := movements[0].PreviousStock
	for _, mv := range movements {
		if mv.PreviousStock != stock {
			return fmt.Errorf("%w: movement %d starts at %d, expected %d", ErrLedgerMismatch, mv.ID, mv.PreviousStock, stock)
		}
		want := mv.Quantity
		if mv.Type.Outbound() {
			want = -want
		}
		if mv.Delta() != want && mv.Type != models.MovementAdjustment {
			return fmt.Errorf("%w: movement %d changes stock by %d for a %s of %d", ErrLedgerMismatch, mv.ID, mv.Delta(), mv.Type, mv.Quantity)
		}
		if mv.NewStock < 0 {
			return fmt.Errorf("%w: movement %d leaves negative stock", ErrLedgerMismatch, mv.ID)
		}
		stock = mv.NewStock
	}
	if stock != product.StockQuantity {
		return fmt.Errorf("%w: history ends at %d, product has %d", ErrLedgerMismatch, stock, product.StockQuantity)
	}
	return nil
}
