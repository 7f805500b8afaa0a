package service

import (
	"context"
	"errors"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
)

const maxUpdateAttempts = 3

// orderMutation edits an order in place. It reports whether anything changed and may
// return tasks to enqueue in the same write.
type orderMutation func(order *models.Order) (tasks []models.OutboxTask, changed bool, err error)

// mutateOrder loads the order, applies fn and saves it under the version check, reloading
// and reapplying fn when another writer got there first.
func mutateOrder(ctx context.Context, repo OrderRepository, orderID int64, fn orderMutation) (*models.Order, bool, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		order, err := repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, false, lookupError(err, "order %d", orderID)
		}

		tasks, changed, err := fn(order)
		if err != nil {
			return order, false, err
		}
		if !changed {
			return order, false, nil
		}

		err = repo.SaveOrder(ctx, order, tasks...)
		if errors.Is(err, store.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return order, true, nil
	}
	return nil, false, apperr.Conflict(store.ErrConcurrentUpdate, "order %d kept changing, giving up", orderID)
}

// lookupError turns a store miss into a NotFound error.
func lookupError(err error, format string, args ...interface{}) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(format+" not found", args...)
	}
	return err
}
