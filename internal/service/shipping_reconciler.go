package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultParcelWeightKg = 0.5
	defaultParcelSizeCm   = 10
)

var errOrderCancelled = errors.New("order is cancelled")

type shippingStore interface {
	ProductRepository
	OrderRepository
	WebhookRepository
}

type ShippingConfig struct {
	PickupPostcode  string
	PickupLocation  string
	TrackingURLBase string
	LockTTL         time.Duration
	// WebhookToken is the shared secret expected in X-Api-Key. Empty disables the check.
	WebhookToken string
	// Location reads carrier timestamps that carry no offset. Nil means UTC.
	Location *time.Location
}

// ShipmentResult is the outcome of a shipment creation attempt. Remote failures are
// reported here and never returned as errors.
type ShipmentResult struct {
	Success bool   `json:"success"`
	AWB     string `json:"awb,omitempty"`
	Courier string `json:"courier,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ShippingReconciler creates shipments and applies carrier tracking to orders.
type ShippingReconciler struct {
	repo     shippingStore
	carrier  Carrier
	locks    Locker
	ledger   *StockLedger
	notifier NotificationSink
	cfg      ShippingConfig
	logger   *zap.Logger
}

// NewShippingReconciler creates a new shipping reconciler
func NewShippingReconciler(repo shippingStore, c Carrier, locks Locker, ledger *StockLedger, notifier NotificationSink, cfg ShippingConfig) *ShippingReconciler {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = time.Minute
	}
	return &ShippingReconciler{
		repo:     repo,
		carrier:  c,
		locks:    locks,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

func (s *ShippingReconciler) fail(stage string, orderID int64, err error) ShipmentResult {
	util.ShipmentsFailedTotal.WithLabelValues(stage).Inc()
	s.logger.Error("Shipment creation failed",
		zap.Int64("order_id", orderID),
		zap.String("stage", stage),
		zap.Error(err))
	return ShipmentResult{Error: fmt.Sprintf("%s: %v", stage, err)}
}

// CreateShipmentForOrder books the order with the carrier and assigns an AWB. It is safe
// to call repeatedly: an order with an AWB returns at once, and one with a carrier
// shipment but no AWB resumes at courier selection.
func (s *ShippingReconciler) CreateShipmentForOrder(ctx context.Context, orderID int64) ShipmentResult {
	ctx, span := util.StartSpan(ctx, "ShippingReconciler.CreateShipmentForOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	lockKey := fmt.Sprintf("shipment:%d", orderID)
	token, ok, err := s.locks.AcquireLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		return s.fail("lock", orderID, err)
	}
	if !ok {
		return ShipmentResult{Error: "shipment creation already in progress"}
	}
	defer func() {
		if err := s.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Warn("Failed to release shipment lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return s.fail("load", orderID, err)
	}
	if order.AWBCode != "" {
		return ShipmentResult{Success: true, AWB: order.AWBCode, Courier: order.CourierName}
	}
	if order.Status == models.OrderStatusCancelled {
		return s.fail("load", orderID, errOrderCancelled)
	}
	if order.PaymentMethod == models.PaymentMethodOnline && order.PaymentStatus != models.PaymentStatusPaid {
		return s.fail("load", orderID, errors.New("order is not paid"))
	}

	items, err := s.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return s.fail("load", orderID, err)
	}
	shipping, err := s.repo.GetOrderAddress(ctx, order.ID, models.AddressShipping)
	if err != nil {
		return s.fail("load", orderID, err)
	}
	weight, err := s.parcelWeight(ctx, items)
	if err != nil {
		return s.fail("load", orderID, err)
	}

	shipmentID := order.CarrierShipmentID
	if shipmentID == "" {
		billing, err := s.repo.GetOrderAddress(ctx, order.ID, models.AddressBilling)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return s.fail("load", orderID, err)
		}

		resp, err := s.carrier.CreateShipment(ctx, s.shipmentRequest(order, items, shipping, billing, weight))
		if err != nil {
			return s.fail("create", orderID, err)
		}
		shipmentID = resp.ShipmentID.String()
		if shipmentID == "" {
			return s.fail("create", orderID, errors.New("carrier returned no shipment id"))
		}

		cancelled := false
		_, _, err = mutateOrder(ctx, s.repo, order.ID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
			if o.CarrierShipmentID != "" {
				return nil, false, nil
			}
			o.CarrierOrderID = resp.OrderID.String()
			o.CarrierShipmentID = shipmentID
			// cancelled while the carrier was booking; keep the ids so the booking can be undone
			cancelled = o.Status == models.OrderStatusCancelled
			if cancelled {
				return []models.OutboxTask{models.NewTask(models.TaskCancelShipment, o.ID)}, true, nil
			}
			return nil, true, nil
		})
		if err != nil {
			return s.fail("persist", orderID, err)
		}
		if cancelled {
			return s.fail("create", orderID, errOrderCancelled)
		}
		s.logger.Info("Carrier shipment created",
			zap.Int64("order_id", order.ID),
			zap.String("carrier_order_id", resp.OrderID.String()),
			zap.String("shipment_id", shipmentID))
	}

	couriers, err := s.carrier.AvailableCouriers(ctx, carrier.ServiceabilityQuery{
		PickupPostcode:   s.cfg.PickupPostcode,
		DeliveryPostcode: shipping.PostalCode,
		WeightKg:         weight,
		COD:              order.PaymentMethod == models.PaymentMethodCOD,
	})
	if err != nil {
		return s.fail("serviceability", orderID, err)
	}
	courier, ok := carrier.CheapestCourier(couriers)
	if !ok {
		return s.fail("serviceability", orderID, fmt.Errorf("no courier serves %s", shipping.PostalCode))
	}

	assignment, err := s.carrier.AssignAWB(ctx, shipmentID, courier.CourierCompanyID)
	if err != nil {
		return s.fail("awb", orderID, err)
	}
	courierName := assignment.CourierName
	if courierName == "" {
		courierName = courier.CourierName
	}

	updated, _, err := mutateOrder(ctx, s.repo, order.ID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		if o.AWBCode != "" {
			return nil, false, nil
		}
		// the cancellation saw the carrier ids and undoes the booking itself
		if o.Status == models.OrderStatusCancelled {
			return nil, false, errOrderCancelled
		}
		o.AWBCode = assignment.AWBCode
		o.CourierName = courierName
		o.TrackingURL = s.cfg.TrackingURLBase + assignment.AWBCode
		if o.EstimatedDelivery == "" {
			o.EstimatedDelivery = courier.ETD
		}
		if models.ShippingStatusConfirmed.CanFollow(o.ShippingStatus) {
			o.ShippingStatus = models.ShippingStatusConfirmed
		}
		return nil, true, nil
	})
	if err != nil {
		return s.fail("persist", orderID, err)
	}

	util.ShipmentsCreatedTotal.Inc()
	s.logger.Info("AWB assigned",
		zap.Int64("order_id", updated.ID),
		zap.String("order_number", updated.OrderNumber),
		zap.String("awb", updated.AWBCode),
		zap.String("courier", updated.CourierName))

	if _, err := s.carrier.SchedulePickup(ctx, shipmentID); err != nil {
		s.logger.Warn("Failed to schedule pickup", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return ShipmentResult{Success: true, AWB: updated.AWBCode, Courier: updated.CourierName}
}

// parcelWeight sums catalog weights. Products without a weight count as the default parcel.
func (s *ShippingReconciler) parcelWeight(ctx context.Context, items []models.OrderItem) (float64, error) {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	weights := make(map[int64]decimal.Decimal, len(products))
	for _, p := range products {
		weights[p.ID] = p.WeightKg
	}

	total := decimal.Zero
	for _, item := range items {
		w := weights[item.ProductID]
		if !w.IsPositive() {
			w = decimal.NewFromFloat(defaultParcelWeightKg)
		}
		total = total.Add(w.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !total.IsPositive() {
		total = decimal.NewFromFloat(defaultParcelWeightKg)
	}
	return total.Round(3).InexactFloat64(), nil
}

func (s *ShippingReconciler) shipmentRequest(order *models.Order, items []models.OrderItem, shipping, billing *models.OrderAddress, weight float64) carrier.ShipmentRequest {
	if billing == nil {
		billing = shipping
	}
	req := carrier.ShipmentRequest{
		OrderID:             order.OrderNumber,
		OrderDate:           order.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:      s.cfg.PickupLocation,
		BillingCustomerName: billing.Name,
		BillingAddress:      billing.Line1,
		BillingAddress2:     billing.Line2,
		BillingCity:         billing.City,
		BillingPincode:      billing.PostalCode,
		BillingState:        billing.State,
		BillingCountry:      billing.Country,
		BillingEmail:        billing.Email,
		BillingPhone:        billing.Phone,
		ShippingIsBilling:   sameAddress(shipping, billing),
		PaymentMethod:       carrier.PaymentPrepaid,
		SubTotal:            order.GrandTotal.InexactFloat64(),
		Length:              defaultParcelSizeCm,
		Breadth:             defaultParcelSizeCm,
		Height:              defaultParcelSizeCm,
		Weight:              weight,
	}
	if order.PaymentMethod == models.PaymentMethodCOD {
		req.PaymentMethod = carrier.PaymentCOD
	}
	if !req.ShippingIsBilling {
		req.ShippingCustomerName = shipping.Name
		req.ShippingAddress = shipping.Line1
		req.ShippingAddress2 = shipping.Line2
		req.ShippingCity = shipping.City
		req.ShippingPincode = shipping.PostalCode
		req.ShippingState = shipping.State
		req.ShippingCountry = shipping.Country
		req.ShippingEmail = shipping.Email
		req.ShippingPhone = shipping.Phone
	}
	for _, item := range items {
		req.OrderItems = append(req.OrderItems, carrier.ShipmentItem{
			Name:         item.ProductName,
			SKU:          item.SKU,
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice.InexactFloat64(),
		})
	}
	return req
}

func sameAddress(a, b *models.OrderAddress) bool {
	return a.Name == b.Name && a.Line1 == b.Line1 && a.Line2 == b.Line2 &&
		a.City == b.City && a.PostalCode == b.PostalCode
}

// VerifyWebhookToken checks the carrier's shared secret.
func (s *ShippingReconciler) VerifyWebhookToken(apiKey string) bool {
	if s.cfg.WebhookToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.cfg.WebhookToken)) == 1
}

// HandleWebhook records a tracking push and applies it. Like the payment webhook it
// returns nil once the record is stored.
func (s *ShippingReconciler) HandleWebhook(ctx context.Context, body []byte) error {
	ctx, span := util.StartSpan(ctx, "ShippingReconciler.HandleWebhook")
	defer span.End()

	sum := sha256.Sum256(body)
	event, parseErr := carrier.ParseWebhook(body)
	rec := &models.WebhookRecord{
		Source:         models.WebhookSourceShippingCarrier,
		EventID:        hex.EncodeToString(sum[:]),
		Payload:        auditPayload(body),
		SignatureValid: true,
	}
	if event != nil {
		rec.EventType = fmt.Sprintf("status_%d", event.StatusCode())
	}

	duplicate, err := s.repo.RecordWebhook(ctx, rec)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "error").Inc()
		return fmt.Errorf("failed to record webhook: %w", err)
	}
	if duplicate {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "duplicate").Inc()
		return nil
	}
	if parseErr != nil {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "malformed").Inc()
		s.markProcessed(ctx, rec.ID, parseErr)
		s.logger.Warn("Malformed carrier webhook", zap.Error(parseErr))
		return nil
	}

	procErr := s.ApplyCarrierEvent(ctx, event)
	s.markProcessed(ctx, rec.ID, procErr)
	if procErr != nil {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "failed").Inc()
		util.RecordError(span, procErr)
		s.logger.Error("Failed to apply carrier webhook", zap.String("awb", event.AWB.String()), zap.Error(procErr))
		return nil
	}
	util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "processed").Inc()
	return nil
}

func (s *ShippingReconciler) markProcessed(ctx context.Context, id int64, procErr error) {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := s.repo.MarkWebhookProcessed(ctx, id, msg); err != nil {
		s.logger.Error("Failed to mark webhook processed", zap.Int64("webhook_id", id), zap.Error(err))
	}
}

// findOrder looks the event up by AWB, then carrier order id, then shipment id.
func (s *ShippingReconciler) findOrder(ctx context.Context, event *carrier.WebhookEvent) (*models.Order, error) {
	lookups := []struct {
		key string
		get func(context.Context, string) (*models.Order, error)
	}{
		{event.AWB.String(), s.repo.GetOrderByAWB},
		{event.OrderID.String(), s.repo.GetOrderByCarrierOrderID},
		{event.ShipmentID.String(), s.repo.GetOrderByCarrierShipmentID},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		order, err := l.get(ctx, l.key)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
	}
	return nil, nil
}

// carrierOrderStatus is the order status a shipping status asks the gate for.
func carrierOrderStatus(status models.ShippingStatus) (models.OrderStatus, bool) {
	switch status {
	case models.ShippingStatusProcessing:
		return models.OrderStatusProcessing, true
	case models.ShippingStatusShipped, models.ShippingStatusOutForDelivery:
		return models.OrderStatusShipped, true
	case models.ShippingStatusDelivered:
		return models.OrderStatusDelivered, true
	case models.ShippingStatusCancelled:
		return models.OrderStatusCancelled, true
	case models.ShippingStatusReturned:
		return models.OrderStatusReturned, true
	default:
		return "", false
	}
}

// ApplyCarrierEvent moves the shipping status forward and asks the gate for the matching
// order status. Rejected order transitions are logged; the shipping status still moves.
// Tracking number and ETD are stored whenever they change.
func (s *ShippingReconciler) ApplyCarrierEvent(ctx context.Context, event *carrier.WebhookEvent) error {
	ctx, span := util.StartSpan(ctx, "ShippingReconciler.ApplyCarrierEvent",
		attribute.String("awb", event.AWB.String()),
		attribute.Int("status_code", event.StatusCode()))
	defer span.End()

	order, err := s.findOrder(ctx, event)
	if err != nil {
		return err
	}
	if order == nil {
		s.logger.Warn("Carrier event for unknown order",
			zap.String("awb", event.AWB.String()),
			zap.String("carrier_order_id", event.OrderID.String()))
		return nil
	}

	status, mapped := carrier.MapStatus(event.StatusCode())
	if !mapped {
		s.logger.Info("Carrier status leaves shipment unchanged",
			zap.Int64("order_id", order.ID),
			zap.Int("status_code", event.StatusCode()),
			zap.String("status", event.CurrentStatus))
	}

	eventTime := time.Now()
	if t, ok := carrier.ParseTimestamp(event.CurrentTimestamp, s.cfg.Location); ok {
		eventTime = t
	}

	var (
		notifyType string
		restock    models.MovementType
		advanced   bool
	)
	updated, changed, err := mutateOrder(ctx, s.repo, order.ID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		notifyType, restock, advanced = "", "", false
		changed := false
		if awb := event.AWB.String(); awb != "" && o.TrackingNumber != awb {
			o.TrackingNumber = awb
			changed = true
		}
		if event.ETD != "" && o.EstimatedDelivery != event.ETD {
			o.EstimatedDelivery = event.ETD
			changed = true
		}

		if mapped {
			if status.CanFollow(o.ShippingStatus) {
				notifyType = s.advanceShipping(o, status, eventTime)
				advanced = true
				changed = true
				if o.Status == models.OrderStatusCancelled && !o.StockRestored {
					o.StockRestored = true
					restock = models.MovementStockIn
				}
			} else if status != o.ShippingStatus {
				s.logger.Info("Ignoring out of order carrier status",
					zap.Int64("order_id", o.ID),
					zap.String("current", string(o.ShippingStatus)),
					zap.String("received", string(status)))
			}
		}

		// the parcel is back at the warehouse
		if event.StatusCode() == carrier.StatusRTODelivered && !o.StockRestored {
			o.StockRestored = true
			restock = models.MovementReturn
			changed = true
		}
		return nil, changed, nil
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if !changed {
		return nil
	}

	var restockErr error
	if restock != "" {
		restockErr = s.restock(ctx, updated, restock)
	}
	if !advanced {
		s.logger.Info("Shipment tracking updated",
			zap.Int64("order_id", updated.ID),
			zap.String("tracking_number", updated.TrackingNumber),
			zap.String("estimated_delivery", updated.EstimatedDelivery))
		return restockErr
	}

	s.logger.Info("Shipping status updated",
		zap.Int64("order_id", updated.ID),
		zap.String("order_number", updated.OrderNumber),
		zap.String("shipping_status", string(updated.ShippingStatus)),
		zap.String("status", string(updated.Status)))

	if notifyType != "" {
		if err := s.notifier.Notify(ctx, models.NewOrderEvent(notifyType, updated, event.CurrentStatus)); err != nil {
			s.logger.Error("Failed to publish order event",
				zap.String("event_type", notifyType),
				zap.Int64("order_id", updated.ID),
				zap.Error(err))
		}
	}
	return restockErr
}

// advanceShipping moves the shipping status and gates the order status to match. It
// returns the event type to publish, if any.
func (s *ShippingReconciler) advanceShipping(o *models.Order, status models.ShippingStatus, eventTime time.Time) string {
	o.ShippingStatus = status

	notifyType := ""
	if target, ok := carrierOrderStatus(status); ok {
		moved, err := Transition(o, target, CauseCarrier)
		if err != nil {
			s.logger.Warn("Order status left unchanged on carrier event",
				zap.Int64("order_id", o.ID),
				zap.String("status", string(o.Status)),
				zap.String("requested", string(target)),
				zap.Error(err))
		}
		if moved && target == models.OrderStatusDelivered {
			delivered := eventTime
			o.DeliveredAt = &delivered
			notifyType = models.EventTypeOrderDelivered
		}
	}

	if status == models.ShippingStatusCancelled || status == models.ShippingStatusReturned {
		notifyType = models.EventTypeShippingIssue
	}
	return notifyType
}

// restock credits the order's items back after the carrier cancelled or returned it.
func (s *ShippingReconciler) restock(ctx context.Context, order *models.Order, movementType models.MovementType) error {
	items, err := s.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		s.logger.Error("Failed to load items to restock",
			zap.Int64("order_id", order.ID), zap.Error(err))
		return fmt.Errorf("failed to load order items: %w", err)
	}

	reason := "carrier cancelled shipment"
	if movementType == models.MovementReturn {
		reason = "returned to origin"
	}
	if err := s.ledger.RestockItems(ctx, movementType, items, reason, MovementRef{OrderID: order.ID, Actor: "carrier"}); err != nil {
		return fmt.Errorf("stock for order %s was not fully returned: %w", order.OrderNumber, err)
	}
	s.logger.Info("Stock returned for order",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("movement", string(movementType)))
	return nil
}

// CancelShipment cancels the order's carrier shipment, if it has one.
func (s *ShippingReconciler) CancelShipment(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "ShippingReconciler.CancelShipment", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return lookupError(err, "order %d", orderID)
	}
	if order.CarrierOrderID == "" {
		return nil
	}
	if err := s.carrier.CancelShipment(ctx, order.CarrierOrderID); err != nil {
		util.RecordError(span, err)
		return err
	}

	_, _, err = mutateOrder(ctx, s.repo, orderID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		if !models.ShippingStatusCancelled.CanFollow(o.ShippingStatus) {
			return nil, false, nil
		}
		o.ShippingStatus = models.ShippingStatusCancelled
		return nil, true, nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("Carrier shipment cancelled",
		zap.Int64("order_id", orderID),
		zap.String("carrier_order_id", order.CarrierOrderID))
	return nil
}

// TrackShipment fetches live tracking by AWB, or by shipment id before an AWB exists.
func (s *ShippingReconciler) TrackShipment(ctx context.Context, orderID int64) (*carrier.TrackingData, error) {
	ctx, span := util.StartSpan(ctx, "ShippingReconciler.TrackShipment", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err, "order %d", orderID)
	}
	switch {
	case order.AWBCode != "":
		return s.carrier.TrackByAWB(ctx, order.AWBCode)
	case order.CarrierShipmentID != "":
		return s.carrier.TrackByShipment(ctx, order.CarrierShipmentID)
	default:
		return nil, apperr.Validation("order %s has no shipment", order.OrderNumber)
	}
}

func (s *ShippingReconciler) PrintLabel(ctx context.Context, orderID int64) (string, error) {
	ctx, span := util.StartSpan(ctx, "ShippingReconciler.PrintLabel", attribute.Int64("order_id", orderID))
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return "", lookupError(err, "order %d", orderID)
	}
	if order.CarrierShipmentID == "" {
		return "", apperr.Validation("order %s has no shipment", order.OrderNumber)
	}
	return s.carrier.PrintLabel(ctx, order.CarrierShipmentID)
}

// GenerateManifest builds one pickup manifest for the given orders.
func (s *ShippingReconciler) GenerateManifest(ctx context.Context, orderIDs []int64) (string, error) {
	ctx, span := util.StartSpan(ctx, "ShippingReconciler.GenerateManifest", attribute.Int("orders", len(orderIDs)))
	defer span.End()

	if len(orderIDs) == 0 {
		return "", apperr.Validation("no orders given")
	}
	shipmentIDs := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		order, err := s.repo.GetOrderByID(ctx, id)
		if err != nil {
			return "", lookupError(err, "order %d", id)
		}
		if order.CarrierShipmentID == "" {
			return "", apperr.Validation("order %s has no shipment", order.OrderNumber)
		}
		shipmentIDs = append(shipmentIDs, order.CarrierShipmentID)
	}
	return s.carrier.GenerateManifest(ctx, shipmentIDs)
}

// HandleTask runs an outbox task.
func (s *ShippingReconciler) HandleTask(ctx context.Context, task models.OutboxTask) error {
	switch task.Kind {
	case models.TaskCreateShipment:
		order, err := s.repo.GetOrderByID(ctx, task.OrderID)
		if err != nil {
			return lookupError(err, "order %d", task.OrderID)
		}
		if order.Status == models.OrderStatusCancelled {
			s.logger.Info("Skipping shipment for cancelled order", zap.Int64("order_id", order.ID))
			return nil
		}
		if result := s.CreateShipmentForOrder(ctx, task.OrderID); !result.Success {
			return errors.New(result.Error)
		}
		return nil
	case models.TaskCancelShipment:
		return s.CancelShipment(ctx, task.OrderID)
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}
