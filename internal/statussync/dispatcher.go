package statussync

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/orderclient"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

// OrderService is the subset of the order-service client the dispatcher calls.
type OrderService interface {
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error
	PostAuditLog(ctx context.Context, entry orderclient.AuditLogEntry) error
}

type syncStore interface {
	CurrentStatus(ctx context.Context, orderID uuid.UUID) (enums.DeliveryStatus, error)
	MarkSynced(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error
}

// Dispatcher replays one outbox row against the order service. The inline
// notifier and the relay share it.
type Dispatcher struct {
	client   OrderService
	registry *outbox.DecoderRegistry
	store    syncStore
}

func NewDispatcher(client OrderService, registry *outbox.DecoderRegistry, store syncStore) (*Dispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("order service client required")
	}
	if registry == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if store == nil {
		return nil, fmt.Errorf("sync store required")
	}
	return &Dispatcher{client: client, registry: registry, store: store}, nil
}

// Deliver sends the row's notification. Undecodable rows fail with a
// validation error, which orderclient.Retryable treats as permanent.
func (d *Dispatcher) Deliver(ctx context.Context, row models.SyncOutboxEvent) error {
	envelope, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode outbox envelope")
	}
	decoded, err := d.registry.Decode(row.Kind, envelope.Version, envelope.Data)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode outbox payload")
	}

	switch data := decoded.(type) {
	case *OrderStatusData:
		return d.deliverStatus(ctx, data)
	case *orderclient.AuditLogEntry:
		return d.client.PostAuditLog(ctx, *data)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payload %T for %s", decoded, row.Kind))
	}
}

// deliverStatus skips pushes the tracking has already moved past so a late
// retry cannot regress the order.
func (d *Dispatcher) deliverStatus(ctx context.Context, data *OrderStatusData) error {
	current, err := d.store.CurrentStatus(ctx, data.OrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeValidation, "tracking for order status push no longer exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tracking status")
	}
	if data.DeliveryStatus != "" && current != data.DeliveryStatus {
		return nil
	}
	if err := d.client.UpdateOrderStatus(ctx, data.OrderID, data.Status); err != nil {
		return err
	}
	if err := d.store.MarkSynced(ctx, data.OrderID, data.Status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record synced order status")
	}
	return nil
}
