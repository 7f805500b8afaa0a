package store

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

func enqueueTask(ctx context.Context, ext sqlx.ExtContext, task models.OutboxTask) error {
	if task.NextAttemptAt.IsZero() {
		task.NextAttemptAt = time.Now()
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = models.DefaultTaskMaxAttempts
	}
	_, err := ext.ExecContext(ctx, `
		INSERT INTO outbox_tasks (kind, order_id, status, max_attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, order_id) DO NOTHING`,
		task.Kind, task.OrderID, models.TaskStatusPending, task.MaxAttempts, task.NextAttemptAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", task.Kind, err)
	}
	return nil
}

// EnqueueTask schedules a task unless one of the same kind already exists for the order
func (s *Store) EnqueueTask(ctx context.Context, task models.OutboxTask) error {
	return enqueueTask(ctx, s.db, task)
}

// ClaimDueTasks leases up to limit due tasks. Each claim counts as an attempt and hides
// the task for the lease duration, after which an unfinished task becomes due again.
func (s *Store) ClaimDueTasks(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxTask, error) {
	var tasks []models.OutboxTask
	err := s.db.SelectContext(ctx, &tasks, `
		UPDATE outbox_tasks
		SET attempts = attempts + 1,
			next_attempt_at = NOW() + make_interval(secs => $2),
			updated_at = NOW()
		WHERE id IN (
			SELECT id FROM outbox_tasks
			WHERE status = $3 AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`, limit, lease.Seconds(), models.TaskStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask marks a task done
func (s *Store) CompleteTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_tasks SET status = $1, last_error = '', updated_at = NOW() WHERE id = $2",
		models.TaskStatusDone, id)
	return err
}

// FailTask records a failed attempt and either reschedules the task or marks it dead
func (s *Store) FailTask(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time, dead bool) error {
	status := models.TaskStatusPending
	if dead {
		status = models.TaskStatusDead
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_tasks
		SET status = $1, last_error = $2, next_attempt_at = $3, updated_at = NOW()
		WHERE id = $4`, status, lastError, nextAttemptAt, id)
	return err
}

// ListTasksForOrder returns all tasks scheduled for an order
func (s *Store) ListTasksForOrder(ctx context.Context, orderID int64) ([]models.OutboxTask, error) {
	var tasks []models.OutboxTask
	err := s.db.SelectContext(ctx, &tasks,
		"SELECT * FROM outbox_tasks WHERE order_id = $1 ORDER BY id", orderID)
	return tasks, err
}
