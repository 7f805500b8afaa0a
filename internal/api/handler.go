package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the use cases exposed over HTTP.
type Services struct {
	Checkout *service.CheckoutOrchestrator
	Payments *service.PaymentReconciler
	Shipping *service.ShippingReconciler
	Orders   *service.OrderService
	Ledger   *service.StockLedger
}

// Handler contains HTTP handlers
type Handler struct {
	svc      Services
	verifier *auth.Verifier
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, verifier *auth.Verifier, checks map[string]Pinger) *Handler {
	return &Handler{
		svc:      svc,
		verifier: verifier,
		checks:   checks,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/payment-gateway", h.paymentWebhook)
		webhooks.POST("/shipping-carrier", h.carrierWebhook)
	}

	v1 := router.Group("/api/v1", authMiddleware(h.verifier))
	{
		v1.POST("/checkout", h.checkout)
		v1.POST("/payments/verify", h.verifyPayment)
		v1.GET("/orders/:number", h.getOrder)
	}

	admin := v1.Group("/admin", requireRole(auth.RoleAdmin))
	{
		admin.POST("/orders/:number/cancel", h.cancelOrder)
		admin.POST("/orders/:number/refund", h.refundOrder)
		admin.POST("/orders/:number/shipment", h.createShipment)
		admin.GET("/orders/:number/tracking", h.trackShipment)
		admin.GET("/orders/:number/label", h.printLabel)
		admin.GET("/orders/:number/tasks", h.orderTasks)
		admin.POST("/manifests", h.generateManifest)
		admin.GET("/products/:id/movements", h.productMovements)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"checks": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError writes err with the status its kind maps to
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(c.Request.Context()).Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		return nil, apperr.Validation("failed to read request body: %v", err)
	}
	return body, nil
}

// paymentWebhook receives gateway deliveries. The raw body is needed for the signature.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	err = h.svc.Payments.HandleWebhook(c.Request.Context(), body,
		c.GetHeader("X-Razorpay-Signature"), c.GetHeader("X-Razorpay-Event-Id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// carrierWebhook receives tracking pushes authenticated by a shared token
func (h *Handler) carrierWebhook(c *gin.Context) {
	if !h.svc.Shipping.VerifyWebhookToken(c.GetHeader("X-Api-Key")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	body, err := readBody(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if err := h.svc.Shipping.HandleWebhook(c.Request.Context(), body); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// checkout places an order from the caller's cart
func (h *Handler) checkout(c *gin.Context) {
	claims, _ := claimsFrom(c)

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.UserID = claims.UserID
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	result, err := h.svc.Checkout.CreateOrder(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

// verifyPayment handles the client-side checkout callback
func (h *Handler) verifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.svc.Payments.VerifyPayment(c.Request.Context(), req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// getOrder returns the caller's order. Admins can read any order.
func (h *Handler) getOrder(c *gin.Context) {
	claims, _ := claimsFrom(c)
	number := c.Param("number")

	details, err := h.svc.Orders.GetOrderByNumber(c.Request.Context(), number)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !claims.IsAdmin() && details.Order.UserID != claims.UserID {
		h.respondError(c, apperr.NotFound("order %s not found", number))
		return
	}
	c.JSON(http.StatusOK, details)
}

// orderID resolves the :number path parameter
func (h *Handler) orderID(c *gin.Context) (int64, bool) {
	details, err := h.svc.Orders.GetOrderByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.respondError(c, err)
		return 0, false
	}
	return details.Order.ID, true
}

func actor(c *gin.Context) string {
	claims, _ := claimsFrom(c)
	return fmt.Sprintf("admin:%d", claims.UserID)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by admin"
	}

	id, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.svc.Orders.CancelOrder(c.Request.Context(), id, req.Reason, actor(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *Handler) refundOrder(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	id, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.svc.Payments.RefundOrder(c.Request.Context(), id, req.Amount, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// createShipment retries shipment creation for an order
func (h *Handler) createShipment(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	result := h.svc.Shipping.CreateShipmentForOrder(c.Request.Context(), id)
	if !result.Success {
		c.JSON(http.StatusBadGateway, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) trackShipment(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	tracking, err := h.svc.Shipping.TrackShipment(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

func (h *Handler) printLabel(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	url, err := h.svc.Shipping.PrintLabel(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"label_url": url})
}

func (h *Handler) orderTasks(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	tasks, err := h.svc.Orders.TasksForOrder(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

type manifestRequest struct {
	OrderNumbers []string `json:"order_numbers" binding:"required,min=1"`
}

func (h *Handler) generateManifest(c *gin.Context) {
	var req manifestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ids := make([]int64, 0, len(req.OrderNumbers))
	for _, number := range req.OrderNumbers {
		details, err := h.svc.Orders.GetOrderByNumber(c.Request.Context(), number)
		if err != nil {
			h.respondError(c, err)
			return
		}
		ids = append(ids, details.Order.ID)
	}

	url, err := h.svc.Shipping.GenerateManifest(c.Request.Context(), ids)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest_url": url})
}

// productMovements lists a product's ledger and whether it still adds up
func (h *Handler) productMovements(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	movements, err := h.svc.Ledger.Movements(c.Request.Context(), productID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{"movements": movements, "consistent": true}
	if err := h.svc.Ledger.Reconcile(c.Request.Context(), productID); err != nil {
		if !errors.Is(err, service.ErrLedgerMismatch) {
			h.respondError(c, err)
			return
		}
		resp["consistent"] = false
		resp["mismatch"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
