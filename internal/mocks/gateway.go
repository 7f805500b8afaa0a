package mocks

import (
	"context"
	"fmt"
	"sync"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/gateway"
)

// MockGateway is an in-memory payment gateway.
type MockGateway struct {
	mu       sync.Mutex
	seq      int
	Payments map[string]*gateway.Payment

	CreateOrderCalls []gateway.CreateOrderRequest
	CaptureCalls     []string
	RefundCalls      []int64

	CreateOrderErr error
	FetchErr       error
	CaptureErr     error
	RefundErr      error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{Payments: make(map[string]*gateway.Payment)}
}

// AddPayment registers a payment the gateway knows about.
func (m *MockGateway) AddPayment(p gateway.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payments[p.ID] = &p
}

func (m *MockGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateOrderCalls = append(m.CreateOrderCalls, req)
	if m.CreateOrderErr != nil {
		return nil, m.CreateOrderErr
	}
	m.seq++
	return &gateway.Order{
		ID:       fmt.Sprintf("order_mock%d", m.seq),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		Notes:    req.Notes,
	}, nil
}

func (m *MockGateway) FetchPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	p, ok := m.Payments[paymentID]
	if !ok {
		return nil, apperr.Gateway(&gateway.APIError{StatusCode: 400, Code: "BAD_REQUEST_ERROR", Description: "payment not found"}, "gateway fetch_payment")
	}
	cp := *p
	return &cp, nil
}

func (m *MockGateway) CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (*gateway.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaptureCalls = append(m.CaptureCalls, paymentID)
	if m.CaptureErr != nil {
		return nil, m.CaptureErr
	}
	p, ok := m.Payments[paymentID]
	if !ok {
		return nil, apperr.Gateway(fmt.Errorf("payment %s not found", paymentID), "gateway capture_payment")
	}
	p.Status = gateway.PaymentCaptured
	p.Captured = true
	cp := *p
	return &cp, nil
}

func (m *MockGateway) CreateRefund(ctx context.Context, paymentID string, amount int64, notes gateway.Notes) (*gateway.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefundCalls = append(m.RefundCalls, amount)
	if m.RefundErr != nil {
		return nil, m.RefundErr
	}
	p, ok := m.Payments[paymentID]
	if !ok {
		return nil, apperr.Gateway(fmt.Errorf("payment %s not found", paymentID), "gateway create_refund")
	}
	p.AmountRefunded += amount
	m.seq++
	return &gateway.Refund{
		ID:        fmt.Sprintf("rfnd_mock%d", m.seq),
		PaymentID: paymentID,
		Amount:    amount,
		Currency:  p.Currency,
		Status:    gateway.RefundProcessed,
		Notes:     notes,
	}, nil
}
