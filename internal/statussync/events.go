// Package statussync pushes delivery progress to the order aggregate. Every
// notification is first written to the sync outbox in the mutation's
// transaction, then attempted inline and, failing that, by the relay.
package statussync

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/orderclient"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

const payloadVersion = 1

// OrderStatusData is stored in order_status outbox rows. DeliveryStatus is
// the tracking status that produced Status; the dispatcher drops the row when
// the tracking has since moved on.
type OrderStatusData struct {
	OrderID        uuid.UUID            `json:"orderId"`
	Status         enums.OrderStatus    `json:"status"`
	DeliveryStatus enums.DeliveryStatus `json:"deliveryStatus"`
}

// StatusEvent builds the order-status notification for a tracking that just
// entered status. ok is false when status has no order-level counterpart.
func StatusEvent(orderID uuid.UUID, status enums.DeliveryStatus, actor *outbox.ActorRef) (outbox.Event, bool) {
	mapped, ok := enums.OrderStatusFor(status)
	if !ok {
		return outbox.Event{}, false
	}
	return outbox.Event{
		Kind:    enums.SyncEventOrderStatus,
		OrderID: orderID,
		Actor:   actor,
		Version: payloadVersion,
		Data: OrderStatusData{
			OrderID:        orderID,
			Status:         mapped,
			DeliveryStatus: status,
		},
	}, true
}

// AuditEvent wraps an audit-log entry for the outbox.
func AuditEvent(entry orderclient.AuditLogEntry, actor *outbox.ActorRef) outbox.Event {
	return outbox.Event{
		Kind:    enums.SyncEventAuditLog,
		OrderID: entry.OrderID,
		Actor:   actor,
		Version: payloadVersion,
		Data:    entry,
	}
}

// AuditMetadata describes the tracking after an accepted update: proof images,
// location, failure reason and the reporting service.
func AuditMetadata(source string, tracking *models.DeliveryTracking) map[string]any {
	meta := map[string]any{
		"source":         source,
		"deliveryStatus": tracking.Status,
		"shipperId":      tracking.ShipperID,
	}
	if len(tracking.ProofOfDeliveryImages) > 0 {
		meta["proofOfDeliveryImages"] = tracking.ProofOfDeliveryImages
	}
	if len(tracking.DeliveryFailedProofs) > 0 {
		meta["deliveryFailedProofs"] = tracking.DeliveryFailedProofs
	}
	if tracking.CurrentLocation != nil {
		meta["location"] = *tracking.CurrentLocation
	}
	if tracking.DeliveryFailedReason != nil && tracking.Status == enums.DeliveryStatusFailed {
		meta["deliveryFailedReason"] = *tracking.DeliveryFailedReason
	}
	if tracking.CustomerSignature != nil {
		meta["hasCustomerSignature"] = true
	}
	return meta
}

// NewDecoderRegistry registers the payload decoders for every sync event kind.
func NewDecoderRegistry() *outbox.DecoderRegistry {
	reg := outbox.NewDecoderRegistry()
	reg.Register(enums.SyncEventOrderStatus, payloadVersion, func(payload json.RawMessage) (interface{}, error) {
		var data OrderStatusData
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("decode order status payload: %w", err)
		}
		if data.OrderID == uuid.Nil || data.Status == "" {
			return nil, fmt.Errorf("order status payload incomplete")
		}
		return &data, nil
	})
	reg.Register(enums.SyncEventAuditLog, payloadVersion, func(payload json.RawMessage) (interface{}, error) {
		var entry orderclient.AuditLogEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("decode audit log payload: %w", err)
		}
		if entry.OrderID == uuid.Nil || entry.Action == "" {
			return nil, fmt.Errorf("audit log payload incomplete")
		}
		return &entry, nil
	})
	return reg
}
