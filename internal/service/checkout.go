package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrCheckoutInProgress   = errors.New("checkout already in progress")
	ErrIdempotencyKeyReused = errors.New("idempotency key belongs to another user")
)

type CheckoutConfig struct {
	Currency       string
	Pricing        PricingRules
	LockTTL        time.Duration
	IdempotencyTTL time.Duration
}

// CheckoutOrchestrator turns a cart into an order.
type CheckoutOrchestrator struct {
	repo        Repository
	ledger      *StockLedger
	gateway     PaymentGateway
	shipments   ShipmentCreator
	notifier    NotificationSink
	locks       Locker
	idempotency IdempotencyCache
	cfg         CheckoutConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewCheckoutOrchestrator creates a new checkout orchestrator
func NewCheckoutOrchestrator(
	repo Repository,
	ledger *StockLedger,
	gw PaymentGateway,
	shipments ShipmentCreator,
	notifier NotificationSink,
	locks Locker,
	idempotency IdempotencyCache,
	cfg CheckoutConfig,
) *CheckoutOrchestrator {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &CheckoutOrchestrator{
		repo:        repo,
		ledger:      ledger,
		gateway:     gw,
		shipments:   shipments,
		notifier:    notifier,
		locks:       locks,
		idempotency: idempotency,
		cfg:         cfg,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// CheckoutRequest represents a request to check out the user's cart
type CheckoutRequest struct {
	UserID            int64                `json:"-"`
	PaymentMethod     models.PaymentMethod `json:"payment_method" binding:"required"`
	CouponCode        string               `json:"coupon_code"`
	ShippingAddressID int64                `json:"shipping_address_id"`
	BillingAddressID  int64                `json:"billing_address_id"`
	IdempotencyKey    string               `json:"-"`
}

// CheckoutResult is the placed (or replayed) order
type CheckoutResult struct {
	Order          *models.Order      `json:"order"`
	Items          []models.OrderItem `json:"items"`
	GatewayOrderID string             `json:"gateway_order_id,omitempty"`
	Shipment       *ShipmentResult    `json:"shipment,omitempty"`
	Replayed       bool               `json:"replayed"`
}

type plannedLine struct {
	product  models.Product
	quantity int
}

// checkoutPlan is everything resolved before the first write.
type checkoutPlan struct {
	lines    []plannedLine
	shipping *models.Address
	billing  *models.Address
	coupon   *models.Coupon
	price    PriceBreakdown
}

// CreateOrder validates the cart, prices it and places the order as a saga. Any failure
// after the order row exists voids the order and returns debited stock.
func (c *CheckoutOrchestrator) CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.CreateOrder", attribute.Int64("user_id", req.UserID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if req.UserID <= 0 {
		return nil, apperr.Validation("user is required")
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperr.Validation("unsupported payment method %q", req.PaymentMethod)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if result, err := c.replay(ctx, req); err != nil || result != nil {
		return result, err
	}

	lockKey := fmt.Sprintf("checkout:user:%d", req.UserID)
	token, ok, err := c.locks.AcquireLock(ctx, lockKey, c.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock checkout: %w", err)
	}
	if !ok {
		util.CheckoutFailedTotal.WithLabelValues("in_progress").Inc()
		return nil, apperr.Conflict(ErrCheckoutInProgress, "checkout already running for user %d", req.UserID)
	}
	defer func() {
		if err := c.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			c.logger.Warn("Failed to release checkout lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	// a concurrent duplicate may have finished while we waited for the lock
	if result, err := c.replay(ctx, req); err != nil || result != nil {
		return result, err
	}

	plan, err := c.prepare(ctx, req)
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	order, items, err := c.place(ctx, req, plan)
	if err != nil {
		util.CheckoutFailedTotal.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(span, err)
		return nil, err
	}

	util.OrdersCreatedTotal.WithLabelValues(string(order.PaymentMethod)).Inc()
	c.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_method", string(order.PaymentMethod)),
		zap.String("grand_total", order.GrandTotal.StringFixed(2)))

	if err := c.repo.ClearCart(ctx, req.UserID); err != nil {
		c.logger.Warn("Failed to clear cart", zap.Int64("user_id", req.UserID), zap.Error(err))
	}
	if err := c.notifier.Notify(ctx, models.NewOrderEvent(models.EventTypeOrderCreated, order, "")); err != nil {
		c.logger.Error("Failed to publish order created event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	if err := c.idempotency.SetIdempotencyKey(ctx, idempotencyCacheKey(req), order.OrderNumber, c.cfg.IdempotencyTTL); err != nil {
		c.logger.Warn("Failed to cache idempotency key", zap.Error(err))
	}

	result := &CheckoutResult{Order: order, Items: items}
	switch order.PaymentMethod {
	case models.PaymentMethodOnline:
		result.Order = c.openPayment(ctx, order)
		result.GatewayOrderID = result.Order.GatewayOrderID
	case models.PaymentMethodCOD:
		shipment := c.startShipment(ctx, order)
		result.Shipment = &shipment
		if reloaded, err := c.repo.GetOrderByID(ctx, order.ID); err == nil {
			result.Order = reloaded
		}
	}

	return result, nil
}

func idempotencyCacheKey(req CheckoutRequest) string {
	return fmt.Sprintf("checkout:%d:%s", req.UserID, req.IdempotencyKey)
}

// replay returns the order already placed under the request's idempotency key, if any.
func (c *CheckoutOrchestrator) replay(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	var existing *models.Order

	number, err := c.idempotency.GetIdempotencyKey(ctx, idempotencyCacheKey(req))
	if err != nil {
		c.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
	}
	if number != "" {
		existing, _ = c.repo.GetOrderByNumber(ctx, number)
	}
	if existing == nil {
		existing, err = c.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != req.UserID {
		return nil, apperr.Conflict(ErrIdempotencyKeyReused, "idempotency key already used")
	}

	items, err := c.repo.GetOrderItems(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	c.logger.Info("Duplicate checkout request detected",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Int64("order_id", existing.ID))

	return &CheckoutResult{
		Order:          existing,
		Items:          items,
		GatewayOrderID: existing.GatewayOrderID,
		Replayed:       true,
	}, nil
}

// prepare resolves the cart, stock, addresses, coupon and price without writing anything.
func (c *CheckoutOrchestrator) prepare(ctx context.Context, req CheckoutRequest) (*checkoutPlan, error) {
	cart, err := c.repo.GetCartItems(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(cart) == 0 {
		return nil, apperr.Validation("cart is empty")
	}

	ids := make([]int64, 0, len(cart))
	for _, item := range cart {
		if item.Quantity < 1 {
			return nil, apperr.Validation("invalid quantity %d for product %d", item.Quantity, item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := c.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	plan := &checkoutPlan{}
	subtotal := decimal.Zero
	for _, item := range cart {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, apperr.NotFound("product %d not found", item.ProductID)
		}
		if product.StockQuantity < item.Quantity {
			util.StockInsufficientTotal.Inc()
			return nil, &apperr.StockError{
				ProductID: product.ID,
				SKU:       product.SKU,
				Available: product.StockQuantity,
				Requested: item.Quantity,
			}
		}
		plan.lines = append(plan.lines, plannedLine{product: product, quantity: item.Quantity})
		subtotal = subtotal.Add(LineTotal(product.Price, item.Quantity))
	}

	plan.shipping, err = c.resolveAddress(ctx, req.UserID, req.ShippingAddressID, models.AddressShipping)
	if err != nil {
		return nil, err
	}
	if plan.shipping == nil {
		return nil, apperr.Validation("no shipping address")
	}
	plan.billing = plan.shipping
	if req.BillingAddressID != 0 {
		if plan.billing, err = c.resolveAddress(ctx, req.UserID, req.BillingAddressID, models.AddressBilling); err != nil {
			return nil, err
		}
	}

	discount := decimal.Zero
	if req.CouponCode != "" {
		plan.coupon, err = c.resolveCoupon(ctx, req.UserID, req.CouponCode, subtotal)
		if err != nil {
			return nil, err
		}
		discount = CouponDiscount(plan.coupon, subtotal)
	}

	plan.price = c.cfg.Pricing.Price(subtotal, discount, plan.shipping.PostalCode)
	return plan, nil
}

func (c *CheckoutOrchestrator) resolveAddress(ctx context.Context, userID, addressID int64, kind string) (*models.Address, error) {
	if addressID != 0 {
		addr, err := c.repo.GetAddressByID(ctx, addressID)
		if err != nil {
			return nil, lookupError(err, "address %d", addressID)
		}
		if addr.UserID != userID {
			return nil, apperr.Authorization("address %d does not belong to user", addressID)
		}
		return addr, nil
	}

	addr, err := c.repo.GetDefaultAddress(ctx, userID, kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default address: %w", err)
	}
	return addr, nil
}

func (c *CheckoutOrchestrator) resolveCoupon(ctx context.Context, userID int64, code string, subtotal decimal.Decimal) (*models.Coupon, error) {
	coupon, err := c.repo.GetCouponByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Validation("coupon %s is not valid", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	used, err := c.repo.CountCouponRedemptions(ctx, coupon.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count coupon redemptions: %w", err)
	}
	if err := ValidateCoupon(coupon, subtotal, used, c.now()); err != nil {
		return nil, err
	}
	return coupon, nil
}

// place writes the order, its lines and addresses and debits stock, compensating on failure.
func (c *CheckoutOrchestrator) place(ctx context.Context, req CheckoutRequest, plan *checkoutPlan) (*models.Order, []models.OrderItem, error) {
	order := &models.Order{
		UserID:         req.UserID,
		PaymentMethod:  req.PaymentMethod,
		Subtotal:       plan.price.Subtotal,
		Discount:       plan.price.Discount,
		ShippingCharge: plan.price.ShippingCharge,
		Tax:            plan.price.Tax,
		GrandTotal:     plan.price.GrandTotal,
		Currency:       c.cfg.Currency,
		Status:         models.OrderStatusPending,
		PaymentStatus:  models.PaymentStatusPending,
		ShippingStatus: models.ShippingStatusPending,
		RefundedAmount: decimal.Zero,
		IdempotencyKey: req.IdempotencyKey,
	}
	if plan.coupon != nil {
		order.CouponCode = plan.coupon.Code
	}
	if !order.Balanced() {
		return nil, nil, fmt.Errorf("order totals do not balance: %s", order.GrandTotal)
	}

	if err := c.repo.CreateOrder(ctx, order); err != nil {
		return nil, nil, fmt.Errorf("failed to create order: %w", err)
	}

	sg := newSaga("checkout", c.logger)
	var failure error
	sg.addCompensation("void_order", func(ctx context.Context) error {
		return c.voidOrder(ctx, order.ID, failure)
	})
	abort := func(err error) (*models.Order, []models.OrderItem, error) {
		failure = err
		c.logger.Warn("Checkout failed, compensating",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
		sg.compensate(ctx)
		return nil, nil, err
	}

	items := make([]models.OrderItem, 0, len(plan.lines))
	for _, line := range plan.lines {
		item := &models.OrderItem{
			OrderID:      order.ID,
			ProductID:    line.product.ID,
			SKU:          line.product.SKU,
			ProductName:  line.product.Name,
			ProductImage: line.product.ImageURL,
			UnitPrice:    line.product.Price,
			Quantity:     line.quantity,
			LineTotal:    LineTotal(line.product.Price, line.quantity),
		}
		if err := c.repo.CreateOrderItem(ctx, item); err != nil {
			return abort(fmt.Errorf("failed to create order item: %w", err))
		}
		items = append(items, *item)

		ref := MovementRef{OrderID: order.ID, Actor: "checkout"}
		if _, err := c.ledger.Debit(ctx, line.product.ID, line.quantity, "order "+order.OrderNumber, ref); err != nil {
			return abort(err)
		}
		productID, qty := line.product.ID, line.quantity
		sg.addCompensation("credit_stock", func(ctx context.Context) error {
			_, err := c.ledger.Credit(ctx, productID, qty, "checkout rolled back "+order.OrderNumber, ref)
			return err
		})
	}

	addresses := []models.OrderAddress{
		plan.shipping.Snapshot(order.ID, models.AddressShipping),
		plan.billing.Snapshot(order.ID, models.AddressBilling),
	}
	for i := range addresses {
		if err := c.repo.CreateOrderAddress(ctx, &addresses[i]); err != nil {
			return abort(fmt.Errorf("failed to create %s address: %w", addresses[i].Kind, err))
		}
	}

	if plan.coupon != nil {
		redemption := &models.CouponRedemption{CouponID: plan.coupon.ID, UserID: req.UserID, OrderID: order.ID}
		if err := c.repo.RedeemCoupon(ctx, redemption); err != nil {
			if errors.Is(err, store.ErrCouponExhausted) {
				err = apperr.Validation("coupon %s has reached its usage limit", plan.coupon.Code)
			}
			return abort(err)
		}
		sg.addCompensation("release_coupon", func(ctx context.Context) error {
			return c.repo.DeleteCouponRedemption(ctx, order.ID)
		})
	}

	return order, items, nil
}

// voidOrder cancels an order whose checkout did not complete.
func (c *CheckoutOrchestrator) voidOrder(ctx context.Context, orderID int64, cause error) error {
	reason := "checkout_failed"
	if cause != nil {
		reason += ": " + cause.Error()
	}
	_, _, err := mutateOrder(ctx, c.repo, orderID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		changed, err := Transition(o, models.OrderStatusCancelled, CauseCheckout)
		if err != nil || !changed {
			return nil, false, err
		}
		o.CancellationReason = reason
		// the saga credits each debited line itself
		o.StockRestored = true
		return nil, true, nil
	})
	if err == nil {
		util.OrdersCancelledTotal.WithLabelValues(string(CauseCheckout)).Inc()
	}
	return err
}

// openPayment creates the gateway order. A failure leaves the order payable later.
func (c *CheckoutOrchestrator) openPayment(ctx context.Context, order *models.Order) *models.Order {
	gwOrder, err := c.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:   gateway.ToPaise(order.GrandTotal),
		Currency: order.Currency,
		Receipt:  order.OrderNumber,
		Notes:    gateway.Notes{"order_number": order.OrderNumber},
	})
	if err != nil {
		c.logger.Error("Failed to create gateway order",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err))
		return order
	}

	updated, _, err := mutateOrder(ctx, c.repo, order.ID, func(o *models.Order) ([]models.OutboxTask, bool, error) {
		if o.GatewayOrderID != "" {
			return nil, false, nil
		}
		o.GatewayOrderID = gwOrder.ID
		return nil, true, nil
	})
	if err != nil {
		c.logger.Error("Failed to store gateway order id",
			zap.Int64("order_id", order.ID),
			zap.String("gateway_order_id", gwOrder.ID),
			zap.Error(err))
		order.GatewayOrderID = gwOrder.ID
		return order
	}
	return updated
}

// startShipment books a COD shipment now and falls back to the outbox on failure.
func (c *CheckoutOrchestrator) startShipment(ctx context.Context, order *models.Order) ShipmentResult {
	result := c.shipments.CreateShipmentForOrder(ctx, order.ID)
	if result.Success {
		return result
	}

	c.logger.Warn("Shipment creation failed, scheduling retry",
		zap.Int64("order_id", order.ID),
		zap.String("error", result.Error))
	if err := c.repo.EnqueueTask(ctx, models.NewTask(models.TaskCreateShipment, order.ID)); err != nil {
		c.logger.Error("Failed to schedule shipment retry", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return result
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrStock):
		return "insufficient_stock"
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrAuthorization):
		return "authorization"
	default:
		return "internal"
	}
}
