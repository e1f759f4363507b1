package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// DeliveryTracking is the 1:1 shipment record for an order.
type DeliveryTracking struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID               uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:delivery_trackings_order_id_key"`
	ShipperID             uuid.UUID            `gorm:"column:shipper_id;type:uuid;not null;index"`
	Status                enums.DeliveryStatus `gorm:"column:status;type:varchar(32);not null"`
	CurrentLocation       *string              `gorm:"column:current_location"`
	EstimatedDelivery     *time.Time           `gorm:"column:estimated_delivery"`
	ProofOfDeliveryImages []string             `gorm:"column:proof_of_delivery_images;type:jsonb;serializer:json"`
	CustomerSignature     *string              `gorm:"column:customer_signature"`
	DeliveryNote          *string              `gorm:"column:delivery_note"`
	DeliveryFailedReason  *string              `gorm:"column:delivery_failed_reason"`
	DeliveryFailedProofs  []string             `gorm:"column:delivery_failed_proofs;type:jsonb;serializer:json"`
	// SyncedOrderStatus is the last status the order service acknowledged.
	SyncedOrderStatus *enums.OrderStatus     `gorm:"column:synced_order_status;type:varchar(32)"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
	History           []TrackingHistoryEntry `gorm:"foreignKey:TrackingID"`
}

func (DeliveryTracking) TableName() string { return "delivery_trackings" }

func (d *DeliveryTracking) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}

// TrackingHistoryEntry is one append-only step in a tracking's history.
type TrackingHistoryEntry struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TrackingID  uuid.UUID            `gorm:"column:tracking_id;type:uuid;not null;index"`
	Status      enums.DeliveryStatus `gorm:"column:status;type:varchar(32);not null"`
	Location    *string              `gorm:"column:location"`
	Note        *string              `gorm:"column:note"`
	PerformedBy uuid.UUID            `gorm:"column:performed_by;type:uuid;not null"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (TrackingHistoryEntry) TableName() string { return "delivery_tracking_history" }

func (h *TrackingHistoryEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&h.ID)
	return nil
}
