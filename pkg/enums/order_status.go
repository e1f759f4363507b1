package enums

// OrderStatus is the order aggregate's status vocabulary. Only the values this
// service pushes are modelled.
type OrderStatus string

const (
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusDeliveryFailed OrderStatus = "DELIVERY_FAILED"
	OrderStatusReturned       OrderStatus = "RETURNED"
)

var orderStatusByDelivery = map[DeliveryStatus]OrderStatus{
	DeliveryStatusOutForDelivery: OrderStatusOutForDelivery,
	DeliveryStatusDelivered:      OrderStatusDelivered,
	DeliveryStatusFailed:         OrderStatusDeliveryFailed,
	DeliveryStatusReturned:       OrderStatusReturned,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// OrderStatusFor maps a delivery status to its order-level counterpart. The
// second return is false for statuses the order aggregate does not track.
func OrderStatusFor(status DeliveryStatus) (OrderStatus, bool) {
	mapped, ok := orderStatusByDelivery[status]
	return mapped, ok
}
