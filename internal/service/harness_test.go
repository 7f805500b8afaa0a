package service

import (
	"context"
	"encoding/json"
	"testing"

	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/mocks"
	"fulfillment-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testUserID        int64 = 7
	testWebhookSecret       = "whsec_test"
	testKeySecret           = "key_secret_test"
)

type harness struct {
	store    *mocks.MockStore
	redis    *mocks.MockRedis
	events   *mocks.MockPublisher
	gateway  *mocks.MockGateway
	carrier  *mocks.MockCarrier
	ledger   *StockLedger
	shipping *ShippingReconciler
	payments *PaymentReconciler
	checkout *CheckoutOrchestrator
	orders   *OrderService

	tshirt, mug, notebook *models.Product
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:   mocks.NewMockStore(),
		redis:   mocks.NewMockRedis(),
		events:  mocks.NewMockPublisher(),
		gateway: mocks.NewMockGateway(),
		carrier: mocks.NewMockCarrier(),
	}
	h.ledger = NewStockLedger(h.store, h.events, 5)
	h.shipping = NewShippingReconciler(h.store, h.carrier, h.redis, h.ledger, h.events, ShippingConfig{
		PickupPostcode:  "110001",
		PickupLocation:  "Primary",
		TrackingURLBase: "https://track.example/",
	})
	h.payments = NewPaymentReconciler(h.store, h.gateway, h.events, testWebhookSecret, testKeySecret)
	h.checkout = NewCheckoutOrchestrator(h.store, h.ledger, h.gateway, h.shipping, h.events, h.redis, h.redis,
		CheckoutConfig{Currency: "INR", Pricing: DefaultPricingRules()})
	h.orders = NewOrderService(h.store, h.ledger, h.shipping, h.events)

	h.tshirt = h.store.AddProduct(models.Product{
		SKU: "TSHIRT-BLK-M", Name: "Black T-Shirt", Price: decimal.NewFromInt(499),
		StockQuantity: 10, WeightKg: decimal.RequireFromString("0.4"),
	})
	h.mug = h.store.AddProduct(models.Product{
		SKU: "MUG-CERAMIC", Name: "Ceramic Mug", Price: decimal.NewFromInt(299),
		StockQuantity: 5, WeightKg: decimal.RequireFromString("0.6"),
	})
	h.notebook = h.store.AddProduct(models.Product{
		SKU: "NOTEBOOK-A5", Name: "A5 Notebook", Price: decimal.NewFromInt(149),
		StockQuantity: 4,
	})
	h.store.AddAddress(models.Address{
		UserID: testUserID, Kind: models.AddressShipping, IsDefault: true,
		Name: "Asha Rao", Phone: "9000000000", Line1: "12 MG Road",
		City: "Bengaluru", State: "KA", PostalCode: "560001", Country: "India",
	})
	return h
}

// place checks out the current cart for the test user.
func (h *harness) place(t *testing.T, method models.PaymentMethod) *CheckoutResult {
	t.Helper()
	result, err := h.checkout.CreateOrder(context.Background(), CheckoutRequest{
		UserID:         testUserID,
		PaymentMethod:  method,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	return result
}

// placeOnline places an online order for one t-shirt and two mugs (1294.46 INR).
func (h *harness) placeOnline(t *testing.T) *models.Order {
	t.Helper()
	h.store.AddCartItem(testUserID, h.tshirt.ID, 1)
	h.store.AddCartItem(testUserID, h.mug.ID, 2)
	result := h.place(t, models.PaymentMethodOnline)
	require.NotEmpty(t, result.GatewayOrderID)
	return result.Order
}

func paymentWebhook(t *testing.T, event gateway.EventType, gwOrderID, paymentID string, amount, refunded int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event":      event,
		"account_id": "acc_test",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":              paymentID,
					"order_id":        gwOrderID,
					"amount":          amount,
					"amount_refunded": refunded,
					"currency":        "INR",
					"status":          "captured",
					"notes":           []string{},
				},
			},
		},
		"created_at": 1767225600,
	})
	require.NoError(t, err)
	return body
}

func (h *harness) deliver(t *testing.T, body []byte, eventID string) error {
	t.Helper()
	return h.payments.HandleWebhook(context.Background(), body, gateway.ComputeSignature(testWebhookSecret, body), eventID)
}

func carrierWebhook(t *testing.T, awb string, statusID int, status, timestamp string) []byte {
	t.Helper()
	return carrierWebhookETD(t, awb, statusID, status, timestamp, "2026-01-06 18:00:00")
}

func carrierWebhookETD(t *testing.T, awb string, statusID int, status, timestamp, etd string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"awb":               awb,
		"current_status":    status,
		"current_status_id": statusID,
		"current_timestamp": timestamp,
		"etd":               etd,
	})
	require.NoError(t, err)
	return body
}

func (h *harness) order(id int64) models.Order {
	return h.store.Order(id)
}
