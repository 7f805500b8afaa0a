package service

import (
	"context"
	"fmt"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CancelOrder cancels a pending or confirmed order and returns every item to stock.
// Cancelling an already cancelled order only returns stock that never came back.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, reason, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	items, err := s.repo.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, apperr.Validation("order item %d has invalid quantity %d", item.ID, item.Quantity)
		}
	}

	restockOnly := false
	order, changed, err := mutateOrder(ctx, s.repo, orderID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		restockOnly = false
		if o.Status == models.OrderStatusCancelled {
			if o.StockRestored {
				return nil, false, nil
			}
			restockOnly = true
			o.StockRestored = true
			return nil, true, nil
		}
		if _, err := Transition(o, models.OrderStatusCancelled, CauseAdmin); err != nil {
			return nil, false, err
		}
		o.CancellationReason = reason
		o.StockRestored = true
		return nil, true, nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if !changed {
		s.logger.Info("Order already cancelled", zap.Int64("order_id", orderID))
		return order, nil
	}

	ref := MovementRef{OrderID: order.ID, Actor: actor}
	creditErr := s.ledger.RestockItems(ctx, models.MovementStockIn, items, "order cancelled", ref)
	if restockOnly {
		// cancelled elsewhere without its stock coming back
		s.logger.Info("Returned stock for cancelled order",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.String("actor", actor))
		if creditErr != nil {
			return order, fmt.Errorf("stock for order %s was not fully returned: %w", order.OrderNumber, creditErr)
		}
		return order, nil
	}
	util.OrdersCancelledTotal.WithLabelValues(string(CauseAdmin)).Inc()

	if order.CarrierOrderID != "" {
		if err := s.shipments.CancelShipment(ctx, order.ID); err != nil {
			s.logger.Warn("Carrier cancellation failed, scheduling retry",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			if err := s.repo.EnqueueTask(ctx, models.NewTask(models.TaskCancelShipment, order.ID)); err != nil {
				s.logger.Error("Failed to schedule carrier cancellation", zap.Int64("order_id", order.ID), zap.Error(err))
			}
		}
	}

	if reloaded, err := s.repo.GetOrderByID(ctx, order.ID); err == nil {
		order = reloaded
	}

	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", reason),
		zap.String("actor", actor))
	if err := s.notifier.Notify(ctx, models.NewOrderEvent(models.EventTypeOrderCancelled, order, reason)); err != nil {
		s.logger.Error("Failed to publish order cancelled event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	if creditErr != nil {
		return order, fmt.Errorf("order %s cancelled but stock was not fully returned: %w", order.OrderNumber, creditErr)
	}
	return order, nil
}
