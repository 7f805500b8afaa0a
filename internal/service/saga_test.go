package service

import (
	"context"
	"errors"
	"testing"

	"fulfillment-service/internal/util"

	"github.com/stretchr/testify/assert"
)

func TestSagaCompensatesNewestFirst(t *testing.T) {
	s := newSaga("test", util.GetLogger())
	var ran []string
	for _, step := range []string{"create_order", "debit_stock", "redeem_coupon"} {
		step := step
		s.addCompensation(step, func(ctx context.Context) error {
			ran = append(ran, step)
			return nil
		})
	}

	assert.Empty(t, s.compensate(context.Background()))
	assert.Equal(t, []string{"redeem_coupon", "debit_stock", "create_order"}, ran)
	assert.Empty(t, s.compensate(context.Background()), "compensations run once")
	assert.Len(t, ran, 3)
}

func TestSagaKeepsGoingPastFailures(t *testing.T) {
	s := newSaga("test", util.GetLogger())
	var ran []string
	boom := errors.New("boom")
	s.addCompensation("first", func(ctx context.Context) error {
		ran = append(ran, "first")
		return nil
	})
	s.addCompensation("second", func(ctx context.Context) error {
		ran = append(ran, "second")
		return boom
	})

	errs := s.compensate(context.Background())
	assert.Equal(t, []error{boom}, errs)
	assert.Equal(t, []string{"second", "first"}, ran)
}

func TestSagaIgnoresCancelledContext(t *testing.T) {
	s := newSaga("test", util.GetLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	s.addCompensation("credit_stock", func(ctx context.Context) error {
		seen = ctx.Err()
		return nil
	})
	s.compensate(ctx)
	assert.NoError(t, seen)
}
