package service

import (
	"context"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga collects compensations for completed steps and runs them newest first on failure.
type saga struct {
	name          string
	compensations []compensation
	logger        *zap.Logger
}

func newSaga(name string, logger *zap.Logger) *saga {
	return &saga{name: name, logger: logger}
}

// addCompensation registers the undo action for a step that has just succeeded.
func (s *saga) addCompensation(step string, undo func(ctx context.Context) error) {
	s.compensations = append(s.compensations, compensation{step: step, undo: undo})
}

// compensate runs every registered compensation even if some fail, and returns the failures.
// It ignores cancellation of ctx so a dropped request still cleans up.
func (s *saga) compensate(ctx context.Context) []error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		if err := c.undo(ctx); err != nil {
			util.SagaCompensationsTotal.WithLabelValues(c.step, "error").Inc()
			s.logger.Error("Compensation failed",
				zap.String("saga", s.name),
				zap.String("step", c.step),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		util.SagaCompensationsTotal.WithLabelValues(c.step, "ok").Inc()
	}
	s.compensations = nil
	return errs
}
