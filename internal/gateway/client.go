// Package gateway is a client for the payment gateway's REST API and webhook payloads.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client talks to the payment gateway with basic auth.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ToPaise converts a rupee amount to the gateway's minor units.
func ToPaise(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromPaise converts minor units back to rupees.
func FromPaise(paise int64) decimal.Decimal {
	return decimal.New(paise, -2)
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, "create_order", http.MethodPost, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, "fetch_payment", http.MethodGet, "/payments/"+paymentID, nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CapturePayment captures an authorized payment for the given amount.
func (c *Client) CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (*Payment, error) {
	body := map[string]interface{}{"amount": amount, "currency": currency}
	var payment Payment
	if err := c.do(ctx, "capture_payment", http.MethodPost, "/payments/"+paymentID+"/capture", body, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreateRefund refunds amount (in paise) of a captured payment.
func (c *Client) CreateRefund(ctx context.Context, paymentID string, amount int64, notes Notes) (*Refund, error) {
	body := map[string]interface{}{"amount": amount, "notes": notes}
	var refund Refund
	if err := c.do(ctx, "create_refund", http.MethodPost, "/payments/"+paymentID+"/refund", body, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) FetchRefund(ctx context.Context, paymentID, refundID string) (*Refund, error) {
	var refund Refund
	if err := c.do(ctx, "fetch_refund", http.MethodGet, "/payments/"+paymentID+"/refunds/"+refundID, nil, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) (err error) {
	ctx, span := util.StartSpan(ctx, "gateway."+op)
	defer span.End()

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			util.RecordError(span, err)
		}
		util.ExternalCallLatency.WithLabelValues("gateway", op, result).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return apperr.Gateway(err, "gateway %s", op)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Gateway(err, "gateway %s", op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Gateway(err, "gateway %s", op)
	}

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		envelope.Error.StatusCode = resp.StatusCode
		if envelope.Error.Code == "" {
			envelope.Error.Code = http.StatusText(resp.StatusCode)
		}
		return apperr.Gateway(&envelope.Error, "gateway %s", op)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Gateway(err, "gateway %s: decode response", op)
		}
	}
	return nil
}
