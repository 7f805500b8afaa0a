package carrier

import (
	"time"

	"fulfillment-service/internal/models"
)

// Carrier status codes
const (
	StatusAWBAssigned             = 1
	StatusLabelGenerated          = 2
	StatusPickupScheduled         = 3
	StatusPickupQueued            = 4
	StatusManifestGenerated       = 5
	StatusShipped                 = 6
	StatusDelivered               = 7
	StatusCancelled               = 8
	StatusRTOInitiated            = 9
	StatusRTODelivered            = 10
	StatusPickupError             = 13
	StatusRTOAcknowledged         = 14
	StatusPickupRescheduled       = 15
	StatusOutForDelivery          = 17
	StatusInTransit               = 18
	StatusOutForPickup            = 19
	StatusPickupException         = 20
	StatusUndelivered             = 21
	StatusDelayed                 = 22
	StatusReachedDestination      = 38
	StatusPickedUp                = 42
	StatusCancelledBeforeDispatch = 45
)

// MapStatus maps a carrier status code onto the shipping status axis.
// ok is false for codes that leave the shipping status unchanged.
func MapStatus(code int) (status models.ShippingStatus, ok bool) {
	switch code {
	case StatusAWBAssigned:
		return models.ShippingStatusConfirmed, true
	case StatusLabelGenerated, StatusPickupScheduled, StatusPickupQueued, StatusManifestGenerated,
		StatusPickupError, StatusPickupRescheduled, StatusOutForPickup, StatusPickupException:
		return models.ShippingStatusProcessing, true
	case StatusShipped, StatusInTransit, StatusUndelivered, StatusDelayed,
		StatusReachedDestination, StatusPickedUp:
		return models.ShippingStatusShipped, true
	case StatusOutForDelivery:
		return models.ShippingStatusOutForDelivery, true
	case StatusDelivered:
		return models.ShippingStatusDelivered, true
	case StatusCancelled, StatusCancelledBeforeDispatch:
		return models.ShippingStatusCancelled, true
	case StatusRTOInitiated, StatusRTODelivered, StatusRTOAcknowledged:
		return models.ShippingStatusReturned, true
	default:
		return "", false
	}
}

var timestampLayouts = []string{
	"02 01 2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
}

// ParseTimestamp parses the timestamp formats the carrier uses in webhooks. Timestamps
// without an offset are read in loc; a nil loc means UTC.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
