package worker

import (
	"context"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TaskHandler runs one kind of outbox task.
type TaskHandler interface {
	HandleTask(ctx context.Context, task models.OutboxTask) error
}

// TaskQueue is the outbox side of the store.
type TaskQueue interface {
	ClaimDueTasks(ctx context.Context, limit int, lease time.Duration) ([]models.OutboxTask, error)
	CompleteTask(ctx context.Context, id int64) error
	FailTask(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time, dead bool) error
}

const (
	baseBackoff = 5 * time.Second
	maxBackoff  = 10 * time.Minute
)

// OutboxConfig tunes the polling loop.
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Lease        time.Duration
}

// OutboxWorker drains due outbox tasks and retries failures with backoff.
type OutboxWorker struct {
	queue    TaskQueue
	handlers map[string]TaskHandler
	cfg      OutboxConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewOutboxWorker creates a new outbox worker
func NewOutboxWorker(queue TaskQueue, cfg OutboxConfig) *OutboxWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &OutboxWorker{
		queue:    queue,
		handlers: make(map[string]TaskHandler),
		cfg:      cfg,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// Register routes tasks of kind to handler.
func (w *OutboxWorker) Register(kind string, handler TaskHandler) {
	w.handlers[kind] = handler
}

// Start polls until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting outbox worker",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("batch_size", w.cfg.BatchSize))

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("Outbox poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping outbox worker")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due tasks and runs them. It returns how many tasks completed.
func (w *OutboxWorker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.queue.ClaimDueTasks(ctx, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return 0, fmt.Errorf("failed to claim tasks: %w", err)
	}

	done := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if w.run(ctx, task) {
			done++
		}
	}
	return done, nil
}

func (w *OutboxWorker) run(ctx context.Context, task models.OutboxTask) bool {
	ctx, span := util.StartSpan(ctx, "OutboxWorker.run",
		attribute.String("task_kind", task.Kind),
		attribute.Int64("order_id", task.OrderID))
	defer span.End()

	logger := w.logger.With(
		zap.Int64("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int64("order_id", task.OrderID),
		zap.Int("attempt", task.Attempts))

	handler, ok := w.handlers[task.Kind]
	if !ok {
		logger.Error("No handler for task kind")
		w.fail(ctx, logger, task, fmt.Errorf("no handler for task kind %q", task.Kind), true)
		return false
	}

	if err := handler.HandleTask(ctx, task); err != nil {
		util.RecordError(span, err)
		maxAttempts := task.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = models.DefaultTaskMaxAttempts
		}
		w.fail(ctx, logger, task, err, task.Attempts >= maxAttempts)
		return false
	}

	if err := w.queue.CompleteTask(ctx, task.ID); err != nil {
		logger.Error("Failed to mark task done", zap.Error(err))
		return false
	}
	util.OutboxTasksTotal.WithLabelValues(task.Kind, "done").Inc()
	logger.Info("Outbox task completed")
	return true
}

func (w *OutboxWorker) fail(ctx context.Context, logger *zap.Logger, task models.OutboxTask, cause error, dead bool) {
	next := w.now().Add(Backoff(task.Attempts))
	if err := w.queue.FailTask(ctx, task.ID, cause.Error(), next, dead); err != nil {
		logger.Error("Failed to record task failure", zap.Error(err))
		return
	}
	if dead {
		util.OutboxTasksTotal.WithLabelValues(task.Kind, "dead").Inc()
		logger.Error("Outbox task gave up", zap.Error(cause))
		return
	}
	util.OutboxTasksTotal.WithLabelValues(task.Kind, "retry").Inc()
	logger.Warn("Outbox task failed, will retry", zap.Time("next_attempt_at", next), zap.Error(cause))
}

// Backoff is the delay after the given attempt: 5s doubled per attempt, capped at 10m.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
