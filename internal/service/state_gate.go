package service

import (
	"errors"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"
)

// Cause identifies who asked for a status change.
type Cause string

const (
	CauseCheckout Cause = "checkout"
	CausePayment  Cause = "payment"
	CauseCarrier  Cause = "carrier"
	CauseAdmin    Cause = "admin"
)

var (
	ErrIllegalTransition    = errors.New("illegal order status transition")
	ErrOutOfOrderTransition = errors.New("order cannot leave pending before payment")
)

var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
	models.OrderStatusDelivered:  {models.OrderStatusReturned, models.OrderStatusRefunded},
	models.OrderStatusCancelled:  {models.OrderStatusReturned, models.OrderStatusRefunded},
}

// fulfilmentPath is the forward chain the carrier may walk several steps of at once.
var fulfilmentPath = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusProcessing,
	models.OrderStatusShipped,
	models.OrderStatusDelivered,
}

func canTransition(from, to models.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func pathIndex(s models.OrderStatus) int {
	for i, step := range fulfilmentPath {
		if step == s {
			return i
		}
	}
	return -1
}

// Transition moves order to the requested status if the edge is allowed for cause.
// Asking for the current status is a no-op. It is the only code that writes Order.Status.
func Transition(order *models.Order, to models.OrderStatus, cause Cause) (bool, error) {
	if !to.Valid() {
		return false, apperr.Validation("unknown order status %q", to)
	}
	from := order.Status
	if from == to {
		return false, nil
	}

	if from == models.OrderStatusPending && to != models.OrderStatusCancelled &&
		order.PaymentStatus != models.PaymentStatusPaid && order.PaymentMethod != models.PaymentMethodCOD {
		util.OrderTransitionsRejected.WithLabelValues(string(cause)).Inc()
		return false, apperr.Conflict(ErrOutOfOrderTransition, "order %s: %s -> %s requested by %s",
			order.OrderNumber, from, to, cause)
	}

	allowed := canTransition(from, to)
	if !allowed && cause == CauseCarrier {
		fromIdx, toIdx := pathIndex(from), pathIndex(to)
		allowed = fromIdx >= 0 && toIdx > fromIdx
	}
	if !allowed {
		util.OrderTransitionsRejected.WithLabelValues(string(cause)).Inc()
		return false, apperr.Conflict(ErrIllegalTransition, "order %s: %s -> %s requested by %s",
			order.OrderNumber, from, to, cause)
	}

	order.Status = to
	now := time.Now()
	switch to {
	case models.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	case models.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	}
	return true, nil
}
