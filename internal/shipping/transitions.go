package shipping

import "github.com/angelmondragon/fulfillment-backend/pkg/enums"

var transitions = map[enums.DeliveryStatus][]enums.DeliveryStatus{
	enums.DeliveryStatusAssigned:       {enums.DeliveryStatusPickedUp},
	enums.DeliveryStatusPickedUp:       {enums.DeliveryStatusInTransit},
	enums.DeliveryStatusInTransit:      {enums.DeliveryStatusOutForDelivery},
	enums.DeliveryStatusOutForDelivery: {enums.DeliveryStatusDelivered, enums.DeliveryStatusFailed},
	enums.DeliveryStatusFailed:         {enums.DeliveryStatusOutForDelivery, enums.DeliveryStatusReturned},
}

// AllowedNext lists the statuses reachable from current in one step.
// Terminal statuses return an empty slice.
func AllowedNext(current enums.DeliveryStatus) []enums.DeliveryStatus {
	next := transitions[current]
	out := make([]enums.DeliveryStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is an edge of the delivery graph.
func CanTransition(from, to enums.DeliveryStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
