package carrier

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// FlexString accepts both JSON numbers and strings. The carrier is inconsistent about ids.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers.
func (f FlexString) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return []byte(f), nil
	}
	return json.Marshal(string(f))
}

func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// ShipmentRequest creates a carrier order with one shipment.
type ShipmentRequest struct {
	OrderID              string         `json:"order_id"`
	OrderDate            string         `json:"order_date"`
	PickupLocation       string         `json:"pickup_location"`
	BillingCustomerName  string         `json:"billing_customer_name"`
	BillingLastName      string         `json:"billing_last_name"`
	BillingAddress       string         `json:"billing_address"`
	BillingAddress2      string         `json:"billing_address_2"`
	BillingCity          string         `json:"billing_city"`
	BillingPincode       string         `json:"billing_pincode"`
	BillingState         string         `json:"billing_state"`
	BillingCountry       string         `json:"billing_country"`
	BillingEmail         string         `json:"billing_email"`
	BillingPhone         string         `json:"billing_phone"`
	ShippingIsBilling    bool           `json:"shipping_is_billing"`
	ShippingCustomerName string         `json:"shipping_customer_name,omitempty"`
	ShippingAddress      string         `json:"shipping_address,omitempty"`
	ShippingAddress2     string         `json:"shipping_address_2,omitempty"`
	ShippingCity         string         `json:"shipping_city,omitempty"`
	ShippingPincode      string         `json:"shipping_pincode,omitempty"`
	ShippingState        string         `json:"shipping_state,omitempty"`
	ShippingCountry      string         `json:"shipping_country,omitempty"`
	ShippingEmail        string         `json:"shipping_email,omitempty"`
	ShippingPhone        string         `json:"shipping_phone,omitempty"`
	OrderItems           []ShipmentItem `json:"order_items"`
	PaymentMethod        string         `json:"payment_method"`
	SubTotal             float64        `json:"sub_total"`
	Length               float64        `json:"length"`
	Breadth              float64        `json:"breadth"`
	Height               float64        `json:"height"`
	Weight               float64        `json:"weight"`
}

type ShipmentItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

// Payment methods understood by the carrier
const (
	PaymentCOD     = "COD"
	PaymentPrepaid = "Prepaid"
)

type ShipmentResponse struct {
	OrderID     FlexString `json:"order_id"`
	ShipmentID  FlexString `json:"shipment_id"`
	Status      string     `json:"status"`
	StatusCode  int        `json:"status_code"`
	AWBCode     string     `json:"awb_code"`
	CourierName string     `json:"courier_name"`
}

// ServiceabilityQuery asks which couriers serve a lane.
type ServiceabilityQuery struct {
	PickupPostcode   string
	DeliveryPostcode string
	WeightKg         float64
	COD              bool
}

type Courier struct {
	CourierCompanyID      int        `json:"courier_company_id"`
	CourierName           string     `json:"courier_name"`
	Rate                  float64    `json:"rate"`
	ETD                   string     `json:"etd"`
	EstimatedDeliveryDays FlexString `json:"estimated_delivery_days"`
}

// CheapestCourier returns the lowest-rate courier. The first one wins ties.
func CheapestCourier(couriers []Courier) (Courier, bool) {
	if len(couriers) == 0 {
		return Courier{}, false
	}
	best := couriers[0]
	for _, c := range couriers[1:] {
		if c.Rate < best.Rate {
			best = c
		}
	}
	return best, true
}

type AWBAssignment struct {
	AWBCode          string `json:"awb_code"`
	CourierCompanyID int    `json:"courier_company_id"`
	CourierName      string `json:"courier_name"`
}

type PickupResponse struct {
	PickupStatus int `json:"pickup_status"`
	Response     struct {
		PickupScheduledDate string     `json:"pickup_scheduled_date"`
		PickupTokenNumber   FlexString `json:"pickup_token_number"`
	} `json:"response"`
}

type TrackingData struct {
	TrackStatus    int    `json:"track_status"`
	ShipmentStatus int    `json:"shipment_status"`
	TrackURL       string `json:"track_url"`
	ETD            string `json:"etd"`
	ShipmentTrack  []struct {
		AWBCode       string `json:"awb_code"`
		CurrentStatus string `json:"current_status"`
		EDD           string `json:"edd"`
		DeliveredDate string `json:"delivered_date"`
	} `json:"shipment_track"`
	Activities []struct {
		Date     string `json:"date"`
		Status   string `json:"status"`
		Activity string `json:"activity"`
		Location string `json:"location"`
	} `json:"shipment_track_activities"`
}

// WebhookEvent is the carrier's tracking push payload.
type WebhookEvent struct {
	AWB              FlexString `json:"awb"`
	OrderID          FlexString `json:"order_id"`
	ShipmentID       FlexString `json:"shipment_id"`
	CourierName      string     `json:"courier_name"`
	CurrentStatus    string     `json:"current_status"`
	CurrentStatusID  int        `json:"current_status_id"`
	ShipmentStatus   string     `json:"shipment_status"`
	ShipmentStatusID int        `json:"shipment_status_id"`
	CurrentTimestamp string     `json:"current_timestamp"`
	ETD              string     `json:"etd"`
}

// StatusCode returns the most specific status code present in the event.
func (e *WebhookEvent) StatusCode() int {
	if e.CurrentStatusID != 0 {
		return e.CurrentStatusID
	}
	return e.ShipmentStatusID
}

// APIError is an unsuccessful carrier response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return "carrier returned " + strconv.Itoa(e.StatusCode) + ": " + e.Message
}

func asAPIError(err error, target **APIError) bool {
	return err != nil && errors.As(err, target)
}

// ParseWebhook decodes a tracking push.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	if event.StatusCode() == 0 && event.CurrentStatus == "" {
		return nil, errors.New("carrier webhook has no status")
	}
	return &event, nil
}
