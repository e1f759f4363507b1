package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// StockReservation logs every reserve/release applied to a record. The
// optional operation key makes a replayed call a no-op.
type StockReservation struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	StockRecordID   uuid.UUID             `gorm:"column:stock_record_id;type:uuid;not null;index"`
	Kind            enums.ReservationKind `gorm:"column:kind;type:varchar(16);not null"`
	Quantity        int                   `gorm:"column:quantity;not null"`
	AppliedQuantity int                   `gorm:"column:applied_quantity;not null"`
	OrderID         *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	OperationKey    *string               `gorm:"column:operation_key;uniqueIndex:stock_reservations_operation_key_key"`
	UserID          uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (StockReservation) TableName() string { return "stock_reservations" }

func (r *StockReservation) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
