package mocks

import (
	"context"
	"fmt"
	"sync"

	"fulfillment-service/internal/carrier"
)

// MockCarrier is a scripted shipping carrier that records its calls.
type MockCarrier struct {
	mu  sync.Mutex
	seq int

	Couriers []carrier.Courier

	CreateCalls   []carrier.ShipmentRequest
	AssignCalls   []string
	PickupCalls   []string
	CancelCalls   []string
	ManifestCalls [][]string

	CreateErr   error
	CouriersErr error
	AssignErr   error
	PickupErr   error
	CancelErr   error

	// BeforeCreate and BeforeAssign run ahead of the matching call, outside the lock.
	BeforeCreate func()
	BeforeAssign func()
}

func NewMockCarrier() *MockCarrier {
	return &MockCarrier{
		Couriers: []carrier.Courier{
			{CourierCompanyID: 10, CourierName: "Express", Rate: 120, ETD: "2026-01-03"},
			{CourierCompanyID: 20, CourierName: "Economy", Rate: 80, ETD: "2026-01-06"},
		},
	}
}

func (m *MockCarrier) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (*carrier.ShipmentResponse, error) {
	if m.BeforeCreate != nil {
		m.BeforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = append(m.CreateCalls, req)
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.seq++
	return &carrier.ShipmentResponse{
		OrderID:    carrier.FlexString(fmt.Sprintf("%d", 5000+m.seq)),
		ShipmentID: carrier.FlexString(fmt.Sprintf("%d", 9000+m.seq)),
		Status:     "NEW",
	}, nil
}

func (m *MockCarrier) AvailableCouriers(ctx context.Context, q carrier.ServiceabilityQuery) ([]carrier.Courier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CouriersErr != nil {
		return nil, m.CouriersErr
	}
	return append([]carrier.Courier(nil), m.Couriers...), nil
}

func (m *MockCarrier) AssignAWB(ctx context.Context, shipmentID string, courierID int) (*carrier.AWBAssignment, error) {
	if m.BeforeAssign != nil {
		m.BeforeAssign()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssignCalls = append(m.AssignCalls, shipmentID)
	if m.AssignErr != nil {
		return nil, m.AssignErr
	}
	name := ""
	for _, c := range m.Couriers {
		if c.CourierCompanyID == courierID {
			name = c.CourierName
		}
	}
	return &carrier.AWBAssignment{
		AWBCode:          "AWB" + shipmentID,
		CourierCompanyID: courierID,
		CourierName:      name,
	}, nil
}

func (m *MockCarrier) SchedulePickup(ctx context.Context, shipmentID string) (*carrier.PickupResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PickupCalls = append(m.PickupCalls, shipmentID)
	if m.PickupErr != nil {
		return nil, m.PickupErr
	}
	return &carrier.PickupResponse{PickupStatus: 1}, nil
}

func (m *MockCarrier) TrackByAWB(ctx context.Context, awb string) (*carrier.TrackingData, error) {
	return &carrier.TrackingData{TrackStatus: 1, TrackURL: "https://track.example/" + awb}, nil
}

func (m *MockCarrier) TrackByShipment(ctx context.Context, shipmentID string) (*carrier.TrackingData, error) {
	return &carrier.TrackingData{TrackStatus: 1}, nil
}

func (m *MockCarrier) CancelShipment(ctx context.Context, carrierOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls = append(m.CancelCalls, carrierOrderID)
	return m.CancelErr
}

func (m *MockCarrier) PrintLabel(ctx context.Context, shipmentID string) (string, error) {
	return "https://labels.example/" + shipmentID + ".pdf", nil
}

func (m *MockCarrier) GenerateManifest(ctx context.Context, shipmentIDs []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ManifestCalls = append(m.ManifestCalls, shipmentIDs)
	return "https://manifests.example/1.pdf", nil
}

// Calls returns the number of create and assign calls made so far.
func (m *MockCarrier) Calls() (creates, assigns int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateCalls), len(m.AssignCalls)
}
