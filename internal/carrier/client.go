// Package carrier is a client for the shipping carrier's REST API and tracking webhooks.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL  string
	Email    string
	Password string
	// TokenTTL is how long a login token is trusted.
	TokenTTL time.Duration
	Timeout  time.Duration
}

type Client struct {
	cfg    Config
	tokens *TokenCache
	http   *http.Client
}

// NewClient builds a carrier client that authenticates through tokens.
func NewClient(cfg Config, tokens *TokenCache) *Client {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = 240 * time.Hour
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if tokens == nil {
		tokens = NewTokenCache()
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Authenticate logs in and returns a fresh token with its expiry.
func (c *Client) Authenticate(ctx context.Context) (string, time.Time, error) {
	body := map[string]string{"email": c.cfg.Email, "password": c.cfg.Password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, "authenticate", http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return "", time.Time{}, err
	}
	if resp.Token == "" {
		return "", time.Time{}, apperr.Carrier(fmt.Errorf("empty token"), "carrier authenticate")
	}
	return resp.Token, time.Now().Add(c.cfg.TokenTTL), nil
}

func (c *Client) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResponse, error) {
	var resp ShipmentResponse
	if err := c.do(ctx, "create_shipment", http.MethodPost, "/orders/create/adhoc", req, &resp); err != nil {
		return nil, err
	}
	if resp.ShipmentID == "" {
		return nil, apperr.Carrier(fmt.Errorf("no shipment id in response (status %q)", resp.Status), "carrier create_shipment")
	}
	return &resp, nil
}

// AvailableCouriers lists couriers that serve the lane described by q.
func (c *Client) AvailableCouriers(ctx context.Context, q ServiceabilityQuery) ([]Courier, error) {
	params := url.Values{}
	params.Set("pickup_postcode", q.PickupPostcode)
	params.Set("delivery_postcode", q.DeliveryPostcode)
	params.Set("weight", strconv.FormatFloat(q.WeightKg, 'f', 3, 64))
	cod := "0"
	if q.COD {
		cod = "1"
	}
	params.Set("cod", cod)

	var resp struct {
		Data struct {
			Couriers []Courier `json:"available_courier_companies"`
		} `json:"data"`
	}
	if err := c.do(ctx, "serviceability", http.MethodGet, "/courier/serviceability/?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Couriers, nil
}

func (c *Client) AssignAWB(ctx context.Context, shipmentID string, courierID int) (*AWBAssignment, error) {
	body := map[string]interface{}{"shipment_id": FlexString(shipmentID), "courier_id": courierID}
	var resp struct {
		AWBAssignStatus int    `json:"awb_assign_status"`
		Message         string `json:"message"`
		Response        struct {
			Data AWBAssignment `json:"data"`
		} `json:"response"`
	}
	if err := c.do(ctx, "assign_awb", http.MethodPost, "/courier/assign/awb", body, &resp); err != nil {
		return nil, err
	}
	if resp.AWBAssignStatus != 1 || resp.Response.Data.AWBCode == "" {
		return nil, apperr.Carrier(fmt.Errorf("awb not assigned: %s", resp.Message), "carrier assign_awb")
	}
	return &resp.Response.Data, nil
}

func (c *Client) SchedulePickup(ctx context.Context, shipmentID string) (*PickupResponse, error) {
	body := map[string]interface{}{"shipment_id": []FlexString{FlexString(shipmentID)}}
	var resp PickupResponse
	if err := c.do(ctx, "schedule_pickup", http.MethodPost, "/courier/generate/pickup", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TrackByAWB(ctx context.Context, awb string) (*TrackingData, error) {
	var resp struct {
		TrackingData TrackingData `json:"tracking_data"`
	}
	if err := c.do(ctx, "track_awb", http.MethodGet, "/courier/track/awb/"+url.PathEscape(awb), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.TrackingData, nil
}

func (c *Client) TrackByShipment(ctx context.Context, shipmentID string) (*TrackingData, error) {
	var resp struct {
		TrackingData TrackingData `json:"tracking_data"`
	}
	if err := c.do(ctx, "track_shipment", http.MethodGet, "/courier/track/shipment/"+url.PathEscape(shipmentID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.TrackingData, nil
}

// CancelShipment cancels the carrier order and its shipment.
func (c *Client) CancelShipment(ctx context.Context, carrierOrderID string) error {
	body := map[string]interface{}{"ids": []FlexString{FlexString(carrierOrderID)}}
	return c.do(ctx, "cancel_shipment", http.MethodPost, "/orders/cancel", body, nil)
}

// PrintLabel generates the shipping label and returns its URL.
func (c *Client) PrintLabel(ctx context.Context, shipmentID string) (string, error) {
	body := map[string]interface{}{"shipment_id": []FlexString{FlexString(shipmentID)}}
	var resp struct {
		LabelCreated int    `json:"label_created"`
		LabelURL     string `json:"label_url"`
		Response     string `json:"response"`
	}
	if err := c.do(ctx, "print_label", http.MethodPost, "/courier/generate/label", body, &resp); err != nil {
		return "", err
	}
	if resp.LabelURL == "" {
		return "", apperr.Carrier(fmt.Errorf("label not created: %s", resp.Response), "carrier print_label")
	}
	return resp.LabelURL, nil
}

// GenerateManifest builds one pickup manifest for several shipments and returns its URL.
func (c *Client) GenerateManifest(ctx context.Context, shipmentIDs []string) (string, error) {
	ids := make([]FlexString, 0, len(shipmentIDs))
	for _, id := range shipmentIDs {
		ids = append(ids, FlexString(id))
	}
	var resp struct {
		Status      int    `json:"status"`
		ManifestURL string `json:"manifest_url"`
	}
	if err := c.do(ctx, "generate_manifest", http.MethodPost, "/manifests/generate", map[string]interface{}{"shipment_id": ids}, &resp); err != nil {
		return "", err
	}
	if resp.ManifestURL == "" {
		return "", apperr.Carrier(fmt.Errorf("manifest not generated"), "carrier generate_manifest")
	}
	return resp.ManifestURL, nil
}

// do sends an authenticated request. A rejected token is refreshed once.
func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	token, err := c.tokens.Get(ctx, c.Authenticate)
	if err != nil {
		return err
	}

	err = c.send(ctx, op, method, path, token, in, out)
	var apiErr *APIError
	if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		if token, err = c.tokens.Get(ctx, c.Authenticate); err != nil {
			return err
		}
		err = c.send(ctx, op, method, path, token, in, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, op, method, path, token string, in, out interface{}) (err error) {
	ctx, span := util.StartSpan(ctx, "carrier."+op)
	defer span.End()

	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			util.RecordError(span, err)
		}
		util.ExternalCallLatency.WithLabelValues("carrier", op, result).Observe(time.Since(start).Seconds())
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
		return apperr.Carrier(err, "carrier %s", op)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Carrier(err, "carrier %s", op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Carrier(err, "carrier %s", op)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{}
		_ = json.Unmarshal(raw, apiErr)
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apperr.Carrier(apiErr, "carrier %s", op)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Carrier(err, "carrier %s: decode response", op)
		}
	}
	return nil
}
