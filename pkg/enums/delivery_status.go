package enums

import "fmt"

// DeliveryStatus tracks the physical progress of a shipment.
type DeliveryStatus string

const (
	DeliveryStatusAssigned       DeliveryStatus = "assigned"
	DeliveryStatusPickedUp       DeliveryStatus = "picked_up"
	DeliveryStatusInTransit      DeliveryStatus = "in_transit"
	DeliveryStatusOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
	DeliveryStatusFailed         DeliveryStatus = "delivery_failed"
	DeliveryStatusReturned       DeliveryStatus = "returned"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusAssigned,
	DeliveryStatusPickedUp,
	DeliveryStatusInTransit,
	DeliveryStatusOutForDelivery,
	DeliveryStatusDelivered,
	DeliveryStatusFailed,
	DeliveryStatusReturned,
}

// String implements fmt.Stringer.
func (s DeliveryStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (s DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusReturned
}

// TerminalDeliveryStatuses lists statuses that close a delivery.
func TerminalDeliveryStatuses() []DeliveryStatus {
	return []DeliveryStatus{DeliveryStatusDelivered, DeliveryStatusReturned}
}

// ActiveDeliveryStatuses lists statuses a shipper still has work on.
func ActiveDeliveryStatuses() []DeliveryStatus {
	out := make([]DeliveryStatus, 0, len(validDeliveryStatuses))
	for _, s := range validDeliveryStatuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
