package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/mocks"
	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T, stock int) (*StockLedger, *mocks.MockStore, *mocks.MockPublisher, *models.Product) {
	t.Helper()
	repo := mocks.NewMockStore()
	alerts := mocks.NewMockPublisher()
	p := repo.AddProduct(models.Product{SKU: "SKU-1", Name: "Widget", Price: decimal.NewFromInt(100), StockQuantity: stock})
	return NewStockLedger(repo, alerts, 5), repo, alerts, p
}

func TestDebitRecordsMovement(t *testing.T) {
	ledger, repo, _, p := newLedger(t, 20)

	mv, err := ledger.Debit(context.Background(), p.ID, 3, "order placed", MovementRef{OrderID: 99})
	require.NoError(t, err)
	assert.Equal(t, models.MovementStockOut, mv.Type)
	assert.Equal(t, 20, mv.PreviousStock)
	assert.Equal(t, 17, mv.NewStock)
	assert.Equal(t, "system", mv.Actor)
	require.NotNil(t, mv.OrderID)
	assert.Equal(t, int64(99), *mv.OrderID)
	assert.Equal(t, 17, repo.Product(p.ID).StockQuantity)
}

func TestDebitRejectsBadQuantity(t *testing.T) {
	ledger, repo, _, p := newLedger(t, 20)

	for _, qty := range []int{0, -2} {
		_, err := ledger.Debit(context.Background(), p.ID, qty, "bad", MovementRef{})
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = ledger.Credit(context.Background(), p.ID, qty, "bad", MovementRef{})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	assert.Empty(t, repo.AllMovements())
}

func TestDebitNeverGoesNegative(t *testing.T) {
	ledger, repo, _, p := newLedger(t, 2)

	_, err := ledger.Debit(context.Background(), p.ID, 3, "order placed", MovementRef{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStock)

	var stockErr *apperr.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "SKU-1", stockErr.SKU)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)

	assert.Equal(t, 2, repo.Product(p.ID).StockQuantity)
	assert.Empty(t, repo.AllMovements())
}

func TestDebitUnknownProduct(t *testing.T) {
	ledger, _, _, _ := newLedger(t, 2)
	_, err := ledger.Debit(context.Background(), 777, 1, "order placed", MovementRef{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDebitIntoLowStockRaisesAlert(t *testing.T) {
	ledger, repo, alerts, p := newLedger(t, 7)

	_, err := ledger.Debit(context.Background(), p.ID, 1, "order placed", MovementRef{})
	require.NoError(t, err)
	assert.Empty(t, alerts.StockAlerts)

	_, err = ledger.Debit(context.Background(), p.ID, 2, "order placed", MovementRef{})
	require.NoError(t, err)
	require.Len(t, alerts.StockAlerts, 1)
	assert.Equal(t, p.ID, alerts.StockAlerts[0].ProductID)
	assert.Equal(t, 4, alerts.StockAlerts[0].Stock)
	assert.Equal(t, models.StockStatusLowStock, repo.Product(p.ID).StockStatus)
}

func TestCreditAsReturn(t *testing.T) {
	ledger, repo, _, p := newLedger(t, 0)
	assert.Equal(t, models.StockStatusOutOfStock, repo.Product(p.ID).StockStatus)

	mv, err := ledger.CreditAs(context.Background(), models.MovementReturn, p.ID, 8, "customer return", MovementRef{Actor: "warehouse"})
	require.NoError(t, err)
	assert.Equal(t, models.MovementReturn, mv.Type)
	assert.Equal(t, "warehouse", mv.Actor)
	assert.Equal(t, models.StockStatusInStock, repo.Product(p.ID).StockStatus)

	_, err = ledger.CreditAs(context.Background(), models.MovementStockOut, p.ID, 1, "wrong way", MovementRef{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReconcile(t *testing.T) {
	ledger, repo, _, p := newLedger(t, 10)
	ctx := context.Background()

	require.NoError(t, ledger.Reconcile(ctx, p.ID), "no history yet")

	_, err := ledger.Debit(ctx, p.ID, 4, "order placed", MovementRef{})
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, p.ID, 1, "order cancelled", MovementRef{})
	require.NoError(t, err)
	require.NoError(t, ledger.Reconcile(ctx, p.ID))

	movements, err := ledger.Movements(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 2)

	// stock edited behind the ledger's back
	drifted := repo.Product(p.ID)
	drifted.StockQuantity = 12
	repo.AddProduct(drifted)
	assert.ErrorIs(t, ledger.Reconcile(ctx, p.ID), ErrLedgerMismatch)

	_, err = ledger.Movements(ctx, 777)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConcurrentDebitsSellLastUnitOnce(t *testing.T) {
	ledger, repo, _, p := newLedger(t, 1)

	const buyers = 10
	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Debit(context.Background(), p.ID, 1, "order placed", MovementRef{OrderID: int64(i + 1)})
		}(i)
	}
	wg.Wait()

	sold := 0
	for _, err := range errs {
		if err == nil {
			sold++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrStock)
	}
	assert.Equal(t, 1, sold)
	assert.Equal(t, 0, repo.Product(p.ID).StockQuantity)
	assert.Len(t, repo.AllMovements(), 1)
	assert.NoError(t, ledger.Reconcile(context.Background(), p.ID))
}

func TestRestockItemsContinuesPastFailures(t *testing.T) {
	ledger, repo, _, p := newLedger(t, 4)
	items := []models.OrderItem{
		{ProductID: p.ID, Quantity: 2},
		{ProductID: 4242, Quantity: 1},
		{ProductID: p.ID, Quantity: 1},
	}

	err := ledger.RestockItems(context.Background(), models.MovementReturn, items, "returned to origin", MovementRef{OrderID: 5, Actor: "carrier"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, 7, repo.Product(p.ID).StockQuantity)

	movements := repo.AllMovements()
	require.Len(t, movements, 2)
	for _, mv := range movements {
		assert.Equal(t, models.MovementReturn, mv.Type)
		assert.Equal(t, "carrier", mv.Actor)
	}

	err = ledger.RestockItems(context.Background(), models.MovementStockOut, items[:1], "wrong way", MovementRef{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
