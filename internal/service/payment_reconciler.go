package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type paymentStore interface {
	OrderRepository
	WebhookRepository
}

// PaymentReconciler applies gateway facts to orders.
type PaymentReconciler struct {
	repo          paymentStore
	gateway       PaymentGateway
	notifier      NotificationSink
	webhookSecret string
	keySecret     string
	logger        *zap.Logger
}

// NewPaymentReconciler creates a new payment reconciler
func NewPaymentReconciler(repo paymentStore, gw PaymentGateway, notifier NotificationSink, webhookSecret, keySecret string) *PaymentReconciler {
	return &PaymentReconciler{
		repo:          repo,
		gateway:       gw,
		notifier:      notifier,
		webhookSecret: webhookSecret,
		keySecret:     keySecret,
		logger:        util.GetLogger(),
	}
}

// HandleWebhook records a gateway delivery and applies it. It returns nil once the
// delivery is stored, even when applying it failed; the failure is kept on the record.
func (p *PaymentReconciler) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) error {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.HandleWebhook")
	defer span.End()

	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = hex.EncodeToString(sum[:])
	}
	valid := gateway.VerifySignature(p.webhookSecret, body, signature)
	event, parseErr := gateway.ParseWebhook(body)

	rec := &models.WebhookRecord{
		Source:         models.WebhookSourcePaymentGateway,
		EventID:        eventID,
		Payload:        auditPayload(body),
		SignatureValid: valid,
	}
	if event != nil {
		rec.EventType = string(event.Event)
		span.SetAttributes(attribute.String("event", rec.EventType))
	}

	duplicate, err := p.repo.RecordWebhook(ctx, rec)
	if err != nil {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "error").Inc()
		return fmt.Errorf("failed to record webhook: %w", err)
	}

	if !valid {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "invalid_signature").Inc()
		p.markProcessed(ctx, rec.ID, errors.New("invalid signature"))
		p.logger.Warn("Rejected gateway webhook with invalid signature", zap.String("event_id", eventID))
		return apperr.Signature("invalid webhook signature")
	}
	if duplicate {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "duplicate").Inc()
		p.logger.Info("Duplicate gateway webhook ignored",
			zap.String("event_id", eventID),
			zap.String("event", rec.EventType))
		return nil
	}
	if parseErr != nil {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "malformed").Inc()
		p.markProcessed(ctx, rec.ID, parseErr)
		p.logger.Warn("Malformed gateway webhook", zap.String("event_id", eventID), zap.Error(parseErr))
		return nil
	}

	procErr := p.apply(ctx, event)
	p.markProcessed(ctx, rec.ID, procErr)
	if procErr != nil {
		util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "failed").Inc()
		util.RecordError(span, procErr)
		p.logger.Error("Failed to apply gateway webhook",
			zap.String("event_id", eventID),
			zap.String("event", rec.EventType),
			zap.Error(procErr))
		return nil
	}
	util.WebhooksReceivedTotal.WithLabelValues(rec.Source, "processed").Inc()
	return nil
}

func (p *PaymentReconciler) markProcessed(ctx context.Context, id int64, procErr error) {
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := p.repo.MarkWebhookProcessed(ctx, id, msg); err != nil {
		p.logger.Error("Failed to mark webhook processed", zap.Int64("webhook_id", id), zap.Error(err))
	}
}

// auditPayload keeps non-JSON bodies storable in the jsonb column.
func auditPayload(body []byte) json.RawMessage {
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, _ := json.Marshal(string(body))
	return wrapped
}

func (p *PaymentReconciler) apply(ctx context.Context, event *gateway.WebhookEvent) error {
	order, err := p.resolveOrder(ctx, event)
	if err != nil {
		return err
	}
	if order == nil {
		p.logger.Warn("Gateway webhook for unknown order",
			zap.String("event", string(event.Event)),
			zap.String("gateway_order_id", event.GatewayOrderID()))
		return nil
	}

	if event.Event.IsRefund() {
		refunded, err := p.cumulativeRefund(ctx, event, order)
		if err != nil {
			return err
		}
		_, _, err = p.applyRefund(ctx, order.ID, refunded)
		return err
	}

	status, ok := gateway.MapPaymentStatus(event.Event, 0, 0)
	if !ok {
		p.logger.Info("Gateway event leaves payment unchanged",
			zap.String("event", string(event.Event)),
			zap.Int64("order_id", order.ID))
		return nil
	}

	switch status {
	case models.PaymentStatusPaid:
		_, _, err = p.applyPaid(ctx, order.ID, event.PaymentID())
	case models.PaymentStatusProcessing:
		_, _, err = p.applyAuthorized(ctx, order.ID, event.PaymentID())
	case models.PaymentStatusFailed:
		reason := ""
		if payment := event.PaymentEntity(); payment != nil {
			reason = payment.ErrorDescription
		}
		_, _, err = p.applyFailed(ctx, order.ID, reason)
	}
	return err
}

// resolveOrder finds the order by gateway order id, then by our order number.
// A miss returns nil, nil.
func (p *PaymentReconciler) resolveOrder(ctx context.Context, event *gateway.WebhookEvent) (*models.Order, error) {
	if id := event.GatewayOrderID(); id != "" {
		order, err := p.repo.GetOrderByGatewayOrderID(ctx, id)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
	}
	if number := event.OrderNumber(); number != "" {
		order, err := p.repo.GetOrderByNumber(ctx, number)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load order: %w", err)
		}
	}
	return nil, nil
}

// cumulativeRefund is the total refunded on the order's payment so far.
func (p *PaymentReconciler) cumulativeRefund(ctx context.Context, event *gateway.WebhookEvent, order *models.Order) (decimal.Decimal, error) {
	if payment := event.PaymentEntity(); payment != nil && payment.AmountRefunded > 0 {
		return gateway.FromPaise(payment.AmountRefunded), nil
	}
	paymentID := event.PaymentID()
	if paymentID == "" {
		paymentID = order.GatewayPaymentID
	}
	if paymentID == "" {
		return decimal.Zero, apperr.Validation("refund event for order %s has no payment", order.OrderNumber)
	}
	payment, err := p.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		return decimal.Zero, err
	}
	return gateway.FromPaise(payment.AmountRefunded), nil
}

// applyPaid records the capture, confirms the order and schedules its shipment in the
// same write. A second capture finds the order settled and changes nothing.
func (p *PaymentReconciler) applyPaid(ctx context.Context, orderID int64, paymentID string) (*models.Order, bool, error) {
	order, changed, err := mutateOrder(ctx, p.repo, orderID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		if o.PaymentStatus.Settled() {
			return nil, false, nil
		}
		now := time.Now()
		o.PaymentStatus = models.PaymentStatusPaid
		o.PaidAt = &now
		if paymentID != "" {
			o.GatewayPaymentID = paymentID
		}

		if o.Status == models.OrderStatusCancelled {
			p.logger.Warn("Payment captured for cancelled order, refund required",
				zap.Int64("order_id", o.ID),
				zap.String("order_number", o.OrderNumber),
				zap.String("payment_id", paymentID))
			return nil, true, nil
		}

		if _, err := Transition(o, models.OrderStatusConfirmed, CausePayment); err != nil {
			p.logger.Warn("Order status left unchanged on capture",
				zap.Int64("order_id", o.ID),
				zap.String("status", string(o.Status)),
				zap.Error(err))
		}

		var tasks []models.OutboxTask
		if o.AWBCode == "" {
			tasks = append(tasks, models.NewTask(models.TaskCreateShipment, o.ID))
		}
		return tasks, true, nil
	})
	if err != nil || !changed {
		return order, changed, err
	}

	util.PaymentsCapturedTotal.Inc()
	p.logger.Info("Payment captured",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_id", order.GatewayPaymentID))
	p.notify(ctx, models.EventTypePaymentReceived, order, "")
	return order, true, nil
}

func (p *PaymentReconciler) applyAuthorized(ctx context.Context, orderID int64, paymentID string) (*models.Order, bool, error) {
	return mutateOrder(ctx, p.repo, orderID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		if o.PaymentStatus != models.PaymentStatusPending && o.PaymentStatus != models.PaymentStatusFailed {
			return nil, false, nil
		}
		o.PaymentStatus = models.PaymentStatusProcessing
		if paymentID != "" {
			o.GatewayPaymentID = paymentID
		}
		return nil, true, nil
	})
}

// applyFailed never downgrades a settled payment.
func (p *PaymentReconciler) applyFailed(ctx context.Context, orderID int64, reason string) (*models.Order, bool, error) {
	order, changed, err := mutateOrder(ctx, p.repo, orderID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		if o.PaymentStatus.Settled() || o.PaymentStatus == models.PaymentStatusFailed {
			return nil, false, nil
		}
		o.PaymentStatus = models.PaymentStatusFailed
		return nil, true, nil
	})
	if err != nil || !changed {
		return order, changed, err
	}

	util.PaymentsFailedTotal.Inc()
	p.logger.Info("Payment failed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", reason))
	p.notify(ctx, models.EventTypePaymentFailed, order, reason)
	return order, true, nil
}

// applyRefund records a cumulative refunded amount. Only increases are applied.
func (p *PaymentReconciler) applyRefund(ctx context.Context, orderID int64, refunded decimal.Decimal) (*models.Order, bool, error) {
	order, changed, err := mutateOrder(ctx, p.repo, orderID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		if !refunded.GreaterThan(o.RefundedAmount) {
			return nil, false, nil
		}
		o.RefundedAmount = refunded
		status, ok := gateway.RefundStatus(gateway.ToPaise(refunded), gateway.ToPaise(o.GrandTotal))
		if !ok {
			return nil, true, nil
		}
		o.PaymentStatus = status
		if status == models.PaymentStatusRefunded {
			if _, err := Transition(o, models.OrderStatusRefunded, CausePayment); err != nil {
				p.logger.Warn("Order status left unchanged on full refund",
					zap.Int64("order_id", o.ID),
					zap.String("status", string(o.Status)),
					zap.Error(err))
			}
		}
		return nil, true, nil
	})
	if err != nil || !changed {
		return order, changed, err
	}

	util.RefundsTotal.WithLabelValues(string(order.PaymentStatus)).Inc()
	p.logger.Info("Refund applied",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("refunded_amount", order.RefundedAmount.StringFixed(2)),
		zap.String("payment_status", string(order.PaymentStatus)))
	p.notify(ctx, models.EventTypeRefundProcessed, order, "")
	return order, true, nil
}

// VerifyPayment confirms a client-side checkout. The payment is captured if it is only
// authorized, then the order takes the same paid transition as a capture webhook.
func (p *PaymentReconciler) VerifyPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.VerifyPayment",
		attribute.String("gateway_order_id", gatewayOrderID))
	defer span.End()

	if gatewayOrderID == "" || gatewayPaymentID == "" {
		return nil, apperr.Validation("gateway order id and payment id are required")
	}
	msg := gateway.PaymentSignatureMessage(gatewayOrderID, gatewayPaymentID)
	if !gateway.VerifySignature(p.keySecret, msg, signature) {
		return nil, apperr.Signature("payment signature mismatch")
	}

	order, err := p.repo.GetOrderByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, lookupError(err, "order for gateway order %s", gatewayOrderID)
	}

	payment, err := p.gateway.FetchPayment(ctx, gatewayPaymentID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if payment.OrderID != "" && payment.OrderID != gatewayOrderID {
		return nil, apperr.Validation("payment %s does not belong to gateway order %s", gatewayPaymentID, gatewayOrderID)
	}

	switch payment.Status {
	case gateway.PaymentCaptured:
	case gateway.PaymentAuthorized:
		if _, err := p.gateway.CapturePayment(ctx, payment.ID, payment.Amount, payment.Currency); err != nil {
			util.RecordError(span, err)
			return nil, err
		}
	default:
		return nil, apperr.Validation("payment %s is %s", gatewayPaymentID, payment.Status)
	}

	updated, _, err := p.applyPaid(ctx, order.ID, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RefundOrder issues a refund of amount against the order's captured payment.
func (p *PaymentReconciler) RefundOrder(ctx context.Context, orderID int64, amount decimal.Decimal, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.RefundOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	if !amount.IsPositive() {
		return nil, apperr.Validation("refund amount must be positive")
	}
	order, err := p.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err, "order %d", orderID)
	}
	if order.PaymentStatus != models.PaymentStatusPaid && order.PaymentStatus != models.PaymentStatusPartiallyRefunded {
		return nil, apperr.Validation("order %s has payment status %s and cannot be refunded", order.OrderNumber, order.PaymentStatus)
	}
	if order.GatewayPaymentID == "" {
		return nil, apperr.Validation("order %s has no gateway payment", order.OrderNumber)
	}
	remaining := order.GrandTotal.Sub(order.RefundedAmount)
	if amount.GreaterThan(remaining) {
		return nil, apperr.Validation("refund %s exceeds refundable amount %s", amount.StringFixed(2), remaining.StringFixed(2))
	}

	refund, err := p.gateway.CreateRefund(ctx, order.GatewayPaymentID, gateway.ToPaise(amount), gateway.Notes{
		"order_number": order.OrderNumber,
		"reason":       reason,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	cumulative := order.RefundedAmount.Add(gateway.FromPaise(refund.Amount))
	if payment, err := p.gateway.FetchPayment(ctx, order.GatewayPaymentID); err == nil && payment.AmountRefunded > 0 {
		cumulative = gateway.FromPaise(payment.AmountRefunded)
	}

	p.logger.Info("Refund issued",
		zap.Int64("order_id", order.ID),
		zap.String("refund_id", refund.ID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("reason", reason))

	updated, _, err := p.applyRefund(ctx, order.ID, cumulative)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (p *PaymentReconciler) notify(ctx context.Context, eventType string, order *models.Order, reason string) {
	if err := p.notifier.Notify(ctx, models.NewOrderEvent(eventType, order, reason)); err != nil {
		p.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
