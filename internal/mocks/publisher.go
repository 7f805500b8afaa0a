package mocks

import (
	"context"
	"sync"

	"fulfillment-service/internal/models"
)

// MockPublisher records order events and stock alerts.
type MockPublisher struct {
	mu          sync.Mutex
	Events      []*models.OrderEvent
	StockAlerts []*models.StockLowEvent
	Err         error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Notify(ctx context.Context, event *models.OrderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return m.Err
}

func (m *MockPublisher) StockLow(ctx context.Context, event *models.StockLowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StockAlerts = append(m.StockAlerts, event)
	return m.Err
}

// EventTypes lists the recorded order event types in publish order.
func (m *MockPublisher) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.Events))
	for _, e := range m.Events {
		types = append(types, e.EventType)
	}
	return types
}

// Count returns how many events of eventType were published.
func (m *MockPublisher) Count(eventType string) int {
	n := 0
	for _, t := range m.EventTypes() {
		if t == eventType {
			n++
		}
	}
	return n
}
